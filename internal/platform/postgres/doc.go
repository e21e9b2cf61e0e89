// Package postgres implements the store interfaces on PostgreSQL through the
// pgx database/sql driver. Every TaskStore mutation is a single conditional
// statement so concurrent workers and evaluators can share one database; the
// claim uses FOR UPDATE SKIP LOCKED. The schema is embedded and applied by goose.
package postgres
