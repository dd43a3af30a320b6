package database

import "time"

const (
	defaultWriteConns      = 1
	defaultMaxIdleConns    = 4
	defaultMaxOpenConns    = 4
	defaultConnMaxLifetime = time.Hour
)

// Config holds database configuration settings
type Config struct {
	// Required settings
	Driver string // "sqlite3" (mattn) or "sqlite" (modernc)
	DBPath string

	// Optional settings (will use defaults if not set)
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
	ReadOnly        bool
}

// NewConfig creates a new database configuration with default values
func NewConfig(driver, dbPath string) *Config {
	return &Config{
		Driver:          driver,
		DBPath:          dbPath,
		MaxIdleConns:    0, // Will be set to default if not specified
		MaxOpenConns:    0, // Will be set to default if not specified
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     -64000, // 64MB
		BusyTimeoutMS:   5000,
	}
}

// ReadOnlyCopy returns a copy of the configuration for an independent
// read-only handle on the same database.
func (c *Config) ReadOnlyCopy() *Config {
	ro := *c
	ro.ReadOnly = true
	ro.MaxIdleConns = 0
	ro.MaxOpenConns = 0
	return &ro
}

// sameTarget reports whether both configurations point at the same database.
func (c *Config) sameTarget(o *Config) bool {
	return c.Driver == o.Driver && c.DBPath == o.DBPath && c.ReadOnly == o.ReadOnly
}
