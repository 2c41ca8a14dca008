// Package postgres provides a PostgreSQL-backed implementation of the
// storage.Store interface using GORM. It is semantically interchangeable
// with the sqlite store; deployments pick a driver through configuration.
package postgres

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/storage"
)

// Ensure PostgresStore implements storage.Store
var _ storage.Store = (*PostgresStore)(nil)

// PostgresStore implements storage.Store using PostgreSQL.
type PostgresStore struct {
	db *gorm.DB
}

// New connects to PostgreSQL and migrates the schema. TranslateError turns
// driver unique violations into gorm.ErrDuplicatedKey so conflict detection
// does not depend on driver error strings.
func New(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	err = db.AutoMigrate(
		&memberRow{},
		&paymentRow{},
		&settlementRow{},
		&payoutRow{},
		&transferRow{},
		&callbackRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Ping verifies the database answers queries.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errs.E(errs.KindSystem, "storage.ping", "postgres handle unavailable", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.E(errs.KindSystem, "storage.ping", "postgres unreachable", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
