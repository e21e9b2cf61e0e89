package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/taskcore/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "no rows", err: sql.ErrNoRows, wantErr: store.ErrNotFound},
		{
			name:    "unique violation",
			err:     &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "recurring_jobs_tenant_name_key"},
			wantErr: store.ErrDuplicate,
		},
		{
			name:    "foreign key violation",
			err:     &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "tasks_parent_task_id_fkey"},
			wantErr: store.ErrInvalidEntity,
		},
		{
			name:    "check violation",
			err:     &pgconn.PgError{Code: checkViolationCode, ConstraintName: "tasks_payload_present"},
			wantErr: store.ErrInvalidEntity,
		},
		{
			name:    "not null violation",
			err:     fmt.Errorf("insert: %w", &pgconn.PgError{Code: notNullViolationCode, ColumnName: "tenant_id"}),
			wantErr: store.ErrInvalidEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			assert.ErrorIs(t, got, tt.wantErr)
			assert.ErrorIs(t, got, tt.err, "original error stays in the chain")
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, MapError(nil))
	})

	t.Run("unmapped errors pass through", func(t *testing.T) {
		orig := errors.New("connection refused")
		assert.Same(t, orig, MapError(orig))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: uniqueViolationCode})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: checkViolationCode}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestMapNotFound(t *testing.T) {
	assert.ErrorIs(t, mapNotFound(sql.ErrNoRows, store.ErrJobNotFound), store.ErrJobNotFound)
	assert.ErrorIs(t, mapNotFound(&pgconn.PgError{Code: uniqueViolationCode}, store.ErrJobNotFound), store.ErrDuplicate)
}
