package config

import "time"

// EnvPrefix is prepended to every environment variable the application reads.
const EnvPrefix = "RSSFETCHER_"

// Constants defining default values for application configuration
const (
	DefaultConfigPath   = "./rssfetcher.yaml"
	DefaultFeedsCSVPath = "./feeds.csv"
	DefaultDBPath       = "rss.sqlite3"
	DefaultDriver       = DriverSQLite3

	DefaultServerPort = 5000
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultDebounceWindow = 10 * time.Second

	DefaultLogLevel = "info"
)

// Feed defaults and hard limits.
const (
	DefaultIntervalMinutes = 15
	MinIntervalMinutes     = 5  // remote servers are never polled more often
	MaxIntervalMinutes     = 60 * 24 * 365
	MinKeptCount           = 10 // smaller kept_count values disable retention

	ParserRaw        = "raw"
	ParserNormalized = "normalized"
)

// Supported database/sql driver names.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3
	DriverSQLite  = "sqlite"  // modernc.org/sqlite
)
