package app

import (
	"fmt"

	"sati-chat/internal/config"
	"sati-chat/internal/repository/db"
	"sati-chat/internal/repository/postgres"
	"sati-chat/internal/repository/sqlite"
)

// OpenDatabase connects to the configured conversation store
func OpenDatabase(cfg config.DatabaseConfig) (db.Database, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := postgres.NewPostgresDB(cfg)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite:
		lite, err := sqlite.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
