// Package schedule turns recurring job definitions into tasks.
//
// An Evaluator ticks periodically, computes each enabled definition's next
// fire time from its cron expression and time zone, and materializes a
// background task when it is due. LastRunAt is advanced with a
// compare-and-set before the task is created, so concurrent evaluators and
// repeated ticks fire a definition at most once per scheduled time.
//
// The evaluator also applies the failure policy: consecutive failed runs past
// the configured cap disable the definition until it is re-enabled.
package schedule
