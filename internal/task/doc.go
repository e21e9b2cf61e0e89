// Package task runs durable tasks: it claims them from the task store, executes
// them on a pool of per-tenant workers, applies the retry and confirmation
// policies to each outcome, and sweeps the store for tasks that stalled.
// Work survives process restarts because every state change is persisted
// before the next step begins.
package task
