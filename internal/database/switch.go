package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Switch.Use after Close.
var ErrClosed = errors.New("database: switch closed")

// Switch holds the current connection of one role (writer or reader)
// and replaces it when the storage target changes. Use holds the
// connection for the duration of fn, so Reopen never closes a
// connection in the middle of a batch.
type Switch struct {
	mu sync.RWMutex
	db *DB
}

// OpenSwitch opens cfg and wraps the connection in a Switch.
func OpenSwitch(cfg *Config) (*Switch, error) {
	db, err := NewDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Switch{db: db}, nil
}

// Use calls fn with the current connection.
func (s *Switch) Use(fn func(db *DB) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return fn(s.db)
}

// Reopen switches to the database described by cfg. It is a no-op when
// cfg points at the current database.
func (s *Switch) Reopen(cfg *Config) error {
	if s.on(cfg) {
		return nil
	}

	next, err := NewDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}
	s.swap(next)
	return nil
}

// ReopenPair moves writer to cfg and reader to a read-only handle on the
// same database. Both new connections are opened before either switch
// changes, so a failure leaves both on their previous database.
func ReopenPair(writer, reader *Switch, cfg *Config) error {
	return reopenPair(writer, cfg, reader, cfg.ReadOnlyCopy())
}

func reopenPair(writer *Switch, wcfg *Config, reader *Switch, rcfg *Config) error {
	if writer.on(wcfg) && reader.on(rcfg) {
		return nil
	}

	// The writer opens first: it creates and migrates the file the
	// reader attaches to.
	nextWriter, err := NewDB(wcfg)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}
	nextReader, err := NewDB(rcfg)
	if err != nil {
		if cerr := nextWriter.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("path", wcfg.DBPath).Msg("Failed to close unused database")
		}
		return fmt.Errorf("failed to reopen read-only database: %w", err)
	}

	writer.swap(nextWriter)
	reader.swap(nextReader)
	return nil
}

func (s *Switch) on(cfg *Config) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil && s.db.cfg.sameTarget(cfg)
}

func (s *Switch) swap(next *DB) {
	s.mu.Lock()
	old := s.db
	s.db = next
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str("path", old.cfg.DBPath).Msg("Failed to close previous database")
		}
	}
	log.Info().Str("path", next.cfg.DBPath).Str("mode", modeStr(next.cfg.ReadOnly)).Msg("Switched database")
}

// Close closes the current connection; later calls to Use fail.
func (s *Switch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
