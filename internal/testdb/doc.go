// Package testdb provides utilities for database integration tests.
//
// Each test runs in its own transaction, which is rolled back when the test
// completes, so tests can share one database and run in parallel without
// seeing each other's rows.
//
// # Basic Usage
//
//	func TestSomething(t *testing.T) {
//		db := testdb.GetTestDBWithT(t)
//		testdb.SetupTestDatabaseSchema(t, db)
//
//		testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//			s := postgres.NewPostgresTaskStore(tx, nil)
//			// ...
//		})
//	}
//
// Tests are skipped when neither DATABASE_URL nor TASKCORE_TEST_DB_URL is set.
package testdb
