package schedule

import (
	"fmt"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
)

// PayloadBuilder fills the prompt or command of the task a definition fires.
// The evaluator sets tenant, queue class, source and job linkage afterwards.
type PayloadBuilder func(job *domain.RecurringJob, now time.Time) (domain.CreateTaskSpec, error)

// CopyPayload copies the definition's prompt and command verbatim.
func CopyPayload(job *domain.RecurringJob, now time.Time) (domain.CreateTaskSpec, error) {
	return domain.CreateTaskSpec{Prompt: job.Prompt, Command: job.Command}, nil
}

// DigestPayload asks for a summary of activity since the previous run.
func DigestPayload(job *domain.RecurringJob, now time.Time) (domain.CreateTaskSpec, error) {
	if job.Prompt != "" || job.Command != "" {
		return CopyPayload(job, now)
	}
	since := "the beginning"
	if job.LastRunAt != nil {
		since = job.LastRunAt.UTC().Format(time.RFC3339)
	}
	return domain.CreateTaskSpec{
		Prompt: fmt.Sprintf("Prepare the %q digest covering activity since %s.", job.Name, since),
	}, nil
}

// ConsolidationPayload asks for stored notes to be merged and pruned.
func ConsolidationPayload(job *domain.RecurringJob, now time.Time) (domain.CreateTaskSpec, error) {
	if job.Prompt != "" || job.Command != "" {
		return CopyPayload(job, now)
	}
	return domain.CreateTaskSpec{
		Prompt: fmt.Sprintf("Consolidate notes for %q as of %s: merge duplicates and drop stale entries.",
			job.Name, now.UTC().Format(time.RFC3339)),
	}, nil
}

func defaultBuilders() map[domain.JobKind]PayloadBuilder {
	return map[domain.JobKind]PayloadBuilder{
		domain.JobKindJob:           CopyPayload,
		domain.JobKindDigest:        DigestPayload,
		domain.JobKindConsolidation: ConsolidationPayload,
	}
}
