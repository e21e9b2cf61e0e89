package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/taskcore/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// Environment variables consulted for the test database, in order.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvTestDBURL   = "TASKCORE_TEST_DB_URL"
)

// IsIntegrationTestEnvironment reports whether a test database URL is configured.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDatabaseURL returns the first non-empty of DATABASE_URL and TASKCORE_TEST_DB_URL.
func GetTestDatabaseURL() string {
	for _, key := range []string{EnvDatabaseURL, EnvTestDBURL} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// GetTestDBWithT returns a database connection for testing.
// It skips the test if no database URL is configured and closes the
// connection when the test completes.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("DATABASE_URL or TASKCORE_TEST_DB_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "Failed to open database connection")

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Database ping failed for %s", maskDatabaseURL(dbURL))

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close database connection: %v", err)
		}
	})
	return db
}

// SetupTestDatabaseSchema applies the embedded migrations to db.
func SetupTestDatabaseSchema(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, postgres.Migrate(ctx, db, nil), "Failed to run migrations")
}

// WithTx executes fn within a transaction that is always rolled back afterwards.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "Failed to begin transaction")

	defer func() {
		err := tx.Rollback()
		// sql.ErrTxDone is expected if tx is already committed or rolled back
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	fn(t, tx)
}

// ResetTables empties the task tables. Tests that need committed data,
// such as concurrent claim tests, use it instead of WithTx.
func ResetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `TRUNCATE tasks, recurring_jobs RESTART IDENTITY CASCADE`)
	require.NoError(t, err, "Failed to truncate tables")
}

// maskDatabaseURL hides the password in a database URL for safe logging.
func maskDatabaseURL(dbURL string) string {
	if dbURL == "" {
		return ""
	}
	u, err := url.Parse(dbURL)
	if err != nil || u.User == nil {
		return dbURL
	}
	password, ok := u.User.Password()
	if !ok {
		return dbURL
	}
	return strings.Replace(dbURL, ":"+password+"@", ":****@", 1)
}

// FormatDSNError describes a connection failure without leaking credentials.
func FormatDSNError(err error, dbURL string) error {
	return fmt.Errorf("database %s: %w", maskDatabaseURL(dbURL), err)
}
