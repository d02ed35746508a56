// Package badgerstore is the embedded key-value persistence layer:
// alarms, the append-only run log, the notification-chain index and the
// dismissed-occurrence registry, all on one BadgerDB instance.
//
// Key layout:
//
//	alarm:{alarmID}                      alarm JSON
//	run:{alarmID}:{runID}                run JSON
//	chain:ids:{alarmID}                  identifier array JSON
//	chain:meta:{alarmID}                 chain metadata JSON
//	chain:union                          derived global identifier union
//	dismissed:{alarmID}|{occurrenceKey}  dismissal marker, TTL-expiring
package badgerstore

import (
	"errors"
	"fmt"
	"log"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// Config holds the database configuration.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything off disk. Test use.
	InMemory bool

	// SyncWrites flushes every write to stable storage before the call
	// returns. Required in production: the dismissed-registry write
	// ordering is a crash-safety guarantee and must be durable, not
	// buffered.
	SyncWrites bool
}

// DefaultConfig returns the production configuration for a path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// badgerLogger adapts the injected logger to badger's interface.
type badgerLogger struct {
	logger *log.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Printf("badger error: "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Printf("badger warning: "+format, args...)
}

func (l *badgerLogger) Infof(string, ...interface{})  {}
func (l *badgerLogger) Debugf(string, ...interface{}) {}

// Open opens the database. The caller owns Close.
func Open(cfg Config, logger *log.Logger) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return db, nil
}

// OpenInMemory opens a throwaway in-memory database for tests.
func OpenInMemory() (*badger.DB, error) {
	return Open(Config{InMemory: true}, nil)
}
