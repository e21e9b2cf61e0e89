package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
)

// RecurringJobStore defines the interface for recurring job definition persistence.
type RecurringJobStore interface {
	// ListEnabled returns every enabled definition across tenants.
	ListEnabled(ctx context.Context) ([]*domain.RecurringJob, error)

	// List returns the definitions of one tenant ordered by name.
	List(ctx context.Context, tenantID string) ([]*domain.RecurringJob, error)

	// Get retrieves a definition by ID.
	// Returns ErrJobNotFound if it does not exist.
	Get(ctx context.Context, id int64) (*domain.RecurringJob, error)

	// MarkRun sets LastRunAt to runAt only if LastRunAt still equals prev
	// (nil meaning never run). It reports whether this caller won the update.
	MarkRun(ctx context.Context, id int64, prev *time.Time, runAt time.Time) (bool, error)

	// RecordOutcome resets ConsecutiveFailures on success, increments it on
	// failure and disables the definition once failures exceed failureCap.
	// It reports whether this call disabled the definition.
	RecordOutcome(ctx context.Context, id int64, success bool, failureCap int, now time.Time) (disabled bool, err error)

	// Sync replaces a tenant's definitions with defs in one transaction:
	// upsert by name preserving LastRunAt, ConsecutiveFailures and a forced
	// disable, and delete definitions missing from defs.
	Sync(ctx context.Context, tenantID string, defs []domain.RecurringJob, now time.Time) error

	// SetEnabled enables or disables a definition. Enabling clears the
	// failure count and DisabledReason. Disabling requires a reason, which is
	// what keeps the definition off across later syncs.
	SetEnabled(ctx context.Context, id int64, enabled bool, reason string, now time.Time) error
}

// CheckDisableReason returns an error wrapping ErrInvalidEntity when a
// definition is being disabled without a reason.
func CheckDisableReason(enabled bool, reason string) error {
	if !enabled && strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: disabling a recurring job requires a reason", ErrInvalidEntity)
	}
	return nil
}
