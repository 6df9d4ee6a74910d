// Package migration creates and upgrades the sink's PostgreSQL schema.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// RunMigrations applies every pending migration. Migrations are read from
// dir when it is set, otherwise from the copies built into the binary.
func RunMigrations(ctx context.Context, dsn, dir string, logger *zap.SugaredLogger) error {
	logger.Info("Running database migrations...")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := newMigrate(dir, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warnf("Failed to get current migration version: %v", err)
	} else {
		logger.Infof("Current migration version: %d, dirty: %t", version, dirty)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No new migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations applied successfully")
	return nil
}

func newMigrate(dir string, driver database.Driver) (*migrate.Migrate, error) {
	if dir != "" {
		return migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	}
	source, err := iofs.New(embedded, "sql")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}
