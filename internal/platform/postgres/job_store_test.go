package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/taskcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresJobStore_SetEnabled(t *testing.T) {
	newStore := func(t *testing.T) (*PostgresJobStore, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return NewPostgresJobStore(db, nil), mock
	}

	t.Run("disable without a reason is rejected before touching the database", func(t *testing.T) {
		s, mock := newStore(t)
		err := s.SetEnabled(context.Background(), 4, false, " ", mockNow)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disable with a reason", func(t *testing.T) {
		s, mock := newStore(t)
		mock.ExpectExec(`UPDATE recurring_jobs\s+SET enabled = \$2`).
			WithArgs(int64(4), false, "paused by operator", mockNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.SetEnabled(context.Background(), 4, false, "paused by operator", mockNow))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job", func(t *testing.T) {
		s, mock := newStore(t)
		mock.ExpectExec(`UPDATE recurring_jobs`).
			WithArgs(int64(9), true, "", mockNow).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.SetEnabled(context.Background(), 9, true, "", mockNow)
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})
}
