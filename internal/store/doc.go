// Package store defines the persistence contracts of the task-processing core.
// TaskStore and RecurringJobStore abstract the underlying storage so the claim
// protocol, worker pool and evaluator stay independent of a specific database.
// Every mutation is expected to be a single atomic operation.
package store
