package testutil

import (
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/academia/storage/database"
)

// TestDatabaseURLEnv names the postgres DSN of the repository tests.
const TestDatabaseURLEnv = "ACADEMIA_TEST_DATABASE_URL"

var tables = []string{
	"cart_item", "cart",
	"notification_preference", "notification",
	"question_tag", "tag", "vote_notice", "vote", "comment", "answer", "question",
	"course_progress", "payment", "coupon_usage", "enrollment", "coupon",
	"course", `"user"`,
}

// PrepareDB connects to the test database, migrates it and empties it after the test.
// The test is skipped when no database is configured or reachable.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv(TestDatabaseURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", TestDatabaseURLEnv)
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("test database unreachable: %v", err)
	}
	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		t.Fatalf("prepareDB() failed: %v", err)
	}

	t.Cleanup(func() {
		for _, table := range tables {
			if _, err := db.Exec("TRUNCATE " + table + " CASCADE"); err != nil {
				t.Errorf("truncating %s: %v", table, err)
			}
		}
		_ = db.Close()
	})
	return db
}
