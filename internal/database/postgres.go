package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/config"
)

// InitDB opens and verifies the Postgres connection pool.
func InitDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info().Str("module", "database").Str("host", cfg.Host).Str("name", cfg.Name).Msg("database connection established")
	return db, nil
}

// InitDatabase opens the pool and applies the schema, exiting on failure.
func InitDatabase(ctx context.Context, cfg config.DatabaseConfig) *sql.DB {
	db, err := InitDB(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("module", "database").Msg("failed to initialize database")
	}
	if cfg.Migrate {
		if err := Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Str("module", "database").Msg("failed to migrate database")
		}
	}
	return db
}
