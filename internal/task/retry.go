package task

import (
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
)

// BackoffDelay returns the wait before the retry that follows attempt
// number attemptCount: 2^(attemptCount*2) minutes, so 1m, 4m, 16m, ...
func BackoffDelay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	if attemptCount > domain.MaxAllowedAttempts {
		attemptCount = domain.MaxAllowedAttempts
	}
	return time.Duration(1<<(2*attemptCount)) * time.Minute
}

// ShouldRetry reports whether a failed attempt of t is rescheduled rather than
// failed permanently.
func ShouldRetry(t *domain.Task, err error) bool {
	if NonRetryable(err) {
		return false
	}
	return t.AttemptCount < t.MaxAttempts-1
}
