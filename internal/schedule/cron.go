package schedule

import (
	"fmt"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/robfig/cron/v3"
)

// ParseCron parses a standard five-field expression or a descriptor such as @daily.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// loadLocation resolves a definition's time zone. An empty name is UTC.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// baseTime is the instant after which the next fire is computed: the last
// run, else the definition's creation, else the start of today in loc.
func baseTime(job *domain.RecurringJob, now time.Time, loc *time.Location) time.Time {
	switch {
	case job.LastRunAt != nil:
		return job.LastRunAt.In(loc)
	case !job.CreatedAt.IsZero():
		return job.CreatedAt.In(loc)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
