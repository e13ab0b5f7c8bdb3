package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Badger stores the artifact under a single key in a BadgerDB database.
//
// Key format: roomcast:{name}
type Badger struct {
	db  *badger.DB
	key []byte
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without touching disk. Useful for tests.
	InMemory bool

	// Name is the artifact name; it becomes part of the key.
	Name string

	// Logger receives BadgerDB warnings and errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// OpenBadger opens (or creates) a BadgerDB database and returns a backend
// bound to opts.Name. Close releases the database.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("storage: badger dir is required for on-disk mode")
	}
	if opts.Name == "" {
		return nil, errors.New("storage: badger artifact name is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger})
	// Snapshots are rewritten whole, so only the newest version matters.
	dbOpts.NumVersionsToKeep = 1
	if !opts.InMemory {
		dbOpts.SyncWrites = true
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return NewBadger(db, opts.Name), nil
}

// NewBadger returns a backend on an already open database.
func NewBadger(db *badger.DB, name string) *Badger {
	return &Badger{db: db, key: []byte("roomcast:" + name)}
}

func (b *Badger) Read(_ context.Context) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("storage: read badger key %s: %w", b.key, ErrNotExist)
	}
	return val, err
}

func (b *Badger) Write(_ context.Context, data []byte) error {
	return b.set(b.key, data)
}

func (b *Badger) Delete(_ context.Context) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) Archive(_ context.Context, data []byte) error {
	return b.set(append(append([]byte(nil), b.key...), CorruptSuffix...), data)
}

func (b *Badger) set(key, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes BadgerDB output to slog, dropping info and debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...), slog.String("component", "badger"))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...), slog.String("component", "badger"))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}

var (
	_ Backend  = (*Badger)(nil)
	_ Archiver = (*Badger)(nil)
)
