package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/taskcore/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	traced := SetTraceID(ctx)
	id := GetTraceID(traced)
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, GetTraceID(SetTraceID(ctx)))

	assert.Empty(t, GetTraceID(context.WithValue(ctx, TraceIDKey, 42)))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"name":"alice"}`},
		{name: "malformed", body: `{"name":`, wantErr: true},
		{name: "unknown field", body: `{"name":"alice","admin":true}`, wantErr: true},
		{name: "trailing data", body: `{"name":"a"}{"name":"b"}`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(httptest.NewRecorder(), r, &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", p.Name)
		})
	}
}

type selfValidating struct{ ok bool }

func (s selfValidating) Validate() error {
	if !s.ok {
		return errors.New("not ok")
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()
	type tagged struct {
		Tenant string `validate:"required"`
	}
	assert.Error(t, ValidateRequest(tagged{}))
	assert.NoError(t, ValidateRequest(tagged{Tenant: "alice"}))
	assert.Error(t, ValidateRequest(selfValidating{}))
	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := logger.WithLogger(context.WithValue(context.Background(), TraceIDKey, "trace-1"), log)
	r := httptest.NewRequest(http.MethodGet, "/api/tasks/1", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "An unexpected error occurred",
		errors.New("dial postgres://svc:topsecret@db:5432/taskcore: refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "An unexpected error occurred", body.Error)
	assert.Equal(t, "trace-1", body.TraceID)
	assert.NotContains(t, w.Body.String(), "postgres")

	logged := buf.String()
	assert.Contains(t, logged, `"level":"ERROR"`)
	assert.Contains(t, logged, `"trace_id":"trace-1"`)
	assert.NotContains(t, logged, "topsecret")
}
