package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"reddot-watch/rssfetcher/internal/database/migrations"
)

// DB represents the database connection
type DB struct {
	*sqlx.DB
	cfg *Config
}

// NewDB creates a new database connection with optimized settings.
// Read-write connections run the embedded migrations.
func NewDB(cfg *Config) (*DB, error) {
	if !cfg.ReadOnly {
		dir := filepath.Dir(cfg.DBPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for database: %w", err)
			}
		}
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if !cfg.ReadOnly {
		// A single writer connection keeps every batch on one transaction.
		cfg.MaxOpenConns = defaultWriteConns
		cfg.MaxIdleConns = defaultWriteConns
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("path", cfg.DBPath).
		Str("driver", cfg.Driver).
		Str("mode", modeStr(cfg.ReadOnly)).
		Msg("Opening database")

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Journal/Sync/Timeout set via DSN
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	if cfg.ReadOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON;")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Str("mode", modeStr(cfg.ReadOnly)).Msg("Failed to set PRAGMA")
		}
	}

	if !cfg.ReadOnly {
		log.Debug().Msg("Running database migrations...")
		migrationFiles, err := migrations.Embedded()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load migrations: %w", err)
		}

		if err := migrations.RunMigrations(db.DB, migrationFiles); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db (%s): %w", modeStr(cfg.ReadOnly), err)
	}

	log.Info().Str("mode", modeStr(cfg.ReadOnly)).Msg("Database connection successful")
	return &DB{DB: db, cfg: cfg}, nil
}

// Config returns the configuration the connection was opened with.
func (db *DB) Config() *Config {
	return db.cfg
}

// buildDSN renders the connection string for the configured driver.
// WAL mode allows concurrent reads while writing.
func buildDSN(cfg *Config) (string, error) {
	switch cfg.Driver {
	case "sqlite3":
		dsn := fmt.Sprintf("file:%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d",
			cfg.DBPath, cfg.BusyTimeoutMS)
		if cfg.ReadOnly {
			dsn += "&mode=ro"
		} else {
			dsn += "&_txlock=immediate"
		}
		return dsn, nil
	case "sqlite":
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
			cfg.DBPath, cfg.BusyTimeoutMS)
		if cfg.ReadOnly {
			dsn += "&mode=ro"
		} else {
			dsn += "&_txlock=immediate"
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Helper for logging
func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}
