package store

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNoDatabase is returned when migrations are requested without a database URL.
var ErrNoDatabase = errors.New("store: database url is empty")

// MigrationURL rewrites a postgres connection string to the scheme the pgx/v5 migrate driver expects.
func MigrationURL(databaseURL string) (string, error) {
	u := strings.TrimSpace(databaseURL)
	if u == "" {
		return "", ErrNoDatabase
	}
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(u, prefix) {
			return "pgx5://" + strings.TrimPrefix(u, prefix), nil
		}
	}
	if strings.HasPrefix(u, "pgx5://") {
		return u, nil
	}
	return "", fmt.Errorf("store: unsupported database url scheme")
}

// NewMigrator builds a migrator over the embedded SQL files.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	target, err := MigrationURL(databaseURL)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

// RunMigrations applies pending migrations. An up-to-date schema is not an error.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Migrate opens the database, applies the embedded migrations and releases the migrator.
func Migrate(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return RunMigrations(m)
}
