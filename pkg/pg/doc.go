// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool with
// startup retries, goose-driven schema migrations, a health check closure for
// readiness probes, and small helpers for classifying driver errors.
package pg
