// Package shared holds request plumbing used by the api package and its middleware.
package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ContextKey namespaces values stored in request contexts.
type ContextKey string

// TraceIDKey carries the per-request trace id.
const TraceIDKey ContextKey = "traceID"

// SetTraceID stores a fresh trace id in ctx.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, NewTraceID())
}

// GetTraceID returns the trace id in ctx, or "" when there is none.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// NewTraceID returns a random 32 character hex id.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
