package app

import (
	"fmt"
	"strings"

	"github.com/shrimpsizemoose/taslim/internal/store"
	"github.com/shrimpsizemoose/taslim/internal/store/postgres"
	"github.com/shrimpsizemoose/taslim/internal/store/sqlite"
)

func DetectDBType(dsn string) store.DatabaseType {
	if strings.HasPrefix(dsn, "postgres") {
		return store.DBTypePostgres
	}
	return store.DBTypeSQLite
}

func NewStore(config *Config) (store.Store, error) {
	dbConfig := &store.DBConfig{
		DSN:              config.Database.DSN,
		Type:             DetectDBType(config.Database.DSN),
		MigrationsDir:    config.Database.MigrationsDir,
		StatementTimeout: config.Database.StatementTimeout.Duration,
	}

	switch dbConfig.Type {
	case store.DBTypePostgres:
		return postgres.NewPostgresStore(dbConfig)
	case store.DBTypeSQLite:
		return sqlite.NewSQLiteStore(dbConfig)
	default:
		return nil, fmt.Errorf("unable to determine database type from DSN: %s", config.Database.DSN)
	}
}
