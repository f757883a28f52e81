package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // Required for file source
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// NewPostgresDB establishes a new connection to the PostgreSQL database.
func NewPostgresDB(dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to the database!")
	return db, nil
}

// MigrateDB runs database migrations.
func MigrateDB(db *sqlx.DB, logger *zap.Logger) {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		logger.Fatal("Couldn't get database instance for running migrations", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "helpline", driver)
	if err != nil {
		logger.Fatal("Couldn't create migrate instance", zap.Error(err))
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Couldn't run database migration", zap.Error(err))
	}

	logger.Info("Database migration was run successfully")
}

// maxTxAttempts bounds the internal retry on serialization conflicts. The
// exclusivity checks span several rows, so every mutating operation runs at
// serializable isolation; PostgreSQL may abort either of two racing
// transactions with SQLSTATE 40001, which is safe to re-run.
const maxTxAttempts = 3

const txRetryBackoff = 10 * time.Millisecond

// inSerializableTx runs fn inside a serializable transaction, retrying on
// serialization conflicts up to maxTxAttempts, then failing with ErrBusy.
// fn must not perform any slow external I/O: row locks are held until commit.
func inSerializableTx(ctx context.Context, db *sqlx.DB, logger *zap.Logger, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		} else {
			_ = tx.Rollback()
		}

		if !isSerializationFailure(err) {
			return err
		}

		lastErr = err
		logger.Debug("Serialization conflict, retrying transaction",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryBackoff):
		}
	}

	logger.Warn("Transaction retry budget exhausted", zap.Error(lastErr))
	return ErrBusy
}
