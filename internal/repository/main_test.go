package repository

import (
	"errors"
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestDB connects to the database named by TEST_DATABASE_URL, applies the
// migrations and empties the tables. Tests that need a live PostgreSQL are
// skipped when the variable is unset.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set, skipping database test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	require.NoError(t, err)
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "helpline", driver)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	_, err = db.Exec(`TRUNCATE reflected_messages, conversations, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
