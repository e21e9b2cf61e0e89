// Package logger sets up the JSON slog logger and carries request- and
// task-scoped loggers through a context.
package logger
