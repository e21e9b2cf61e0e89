package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskcore/internal/api/shared"
	"github.com/phrazzld/taskcore/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()
	log, rec := logger.NewTestLogger(t)

	var seenTrace string
	var hasLogger bool
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(NewTraceMiddleware(log))
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		seenTrace = shared.GetTraceID(r.Context())
		hasLogger = logger.FromContextOrDefault(r.Context(), nil) != nil
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Len(t, seenTrace, 32)
	assert.Equal(t, seenTrace, w.Header().Get("X-Trace-Id"))
	assert.True(t, hasLogger)

	entry := rec.Find(t, "request completed")
	require.NotNil(t, entry)
	assert.Equal(t, seenTrace, entry["trace_id"])
	assert.NotEmpty(t, entry["request_id"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.Equal(t, "/ping", entry["path"])
}
