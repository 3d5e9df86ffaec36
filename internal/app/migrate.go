package app

import (
	"errors"

	"budgetwatch/internal/config"
	"budgetwatch/internal/storage"
	"budgetwatch/internal/storage/sqlite"
)

// Migrate applies the embedded schema of the configured backend.
func (a *App) Migrate() error {
	db := a.Config.Database
	switch {
	case db.Driver == config.DriverSQLite:
		if err := sqlite.RunMigrations(db.SQLitePath); err != nil {
			return err
		}
	case db.DSN != "":
		if err := storage.RunMigrations(db.DSN); err != nil {
			return err
		}
	default:
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	a.Logger.Info().Str("driver", db.Driver).Msg("migrations applied")
	return nil
}
