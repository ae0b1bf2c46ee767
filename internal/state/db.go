// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS reserve_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			exchange VARCHAR(128) NOT NULL,
			block_number BIGINT NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL,
			quote_asset_reserve DECIMAL(40, 18) NOT NULL,
			base_asset_reserve DECIMAL(40, 18) NOT NULL,
			cumulative_notional DECIMAL(40, 18) NOT NULL,
			CONSTRAINT uq_reserve_snapshots_exchange_block UNIQUE (exchange, block_number)
		);
		CREATE INDEX IF NOT EXISTS idx_reserve_snapshots_exchange_timestamp ON reserve_snapshots(exchange, snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS engine_events (
			event_id UUID PRIMARY KEY,
			exchange VARCHAR(128) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			event_timestamp TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_engine_events_exchange_timestamp ON engine_events(exchange, event_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_engine_events_type ON engine_events(event_type);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
