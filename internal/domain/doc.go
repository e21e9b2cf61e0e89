// Package domain contains the core entities of the task-processing core:
// tasks with their lifecycle state machine, queue classes and sources, and
// the recurring job definitions that periodically materialize new tasks.
// It is independent of any specific storage or delivery mechanism.
package domain
