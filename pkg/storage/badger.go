package storage

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Features:
//   - One badger.Txn per Transaction (serializable snapshot isolation)
//   - Conflicting concurrent commits fail with ErrConflict
//   - Secondary indexes for class scans and edge adjacency
//   - In-memory mode for tests
//
// Key Structure:
//   - Records: 0x01 + id -> gob(wireRecord)
//   - Class Index: 0x02 + lower(class) + 0x00 + id -> empty
//   - Outgoing Index: 0x03 + recordID + 0x00 + edgeID -> empty
//   - Incoming Index: 0x04 + recordID + 0x00 + edgeID -> empty
//   - Schema: 0x05 + lower(class) -> gob(ClassDef)
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db       *badger.DB
	mu       sync.RWMutex
	closed   bool
	inMemory bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each commit.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is disabled.
	Logger badger.Logger
}

// NewBadgerEngine creates a persistent engine in dataDir with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	// A nil logger keeps BadgerDB quiet.
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB")
	}
	return &BadgerEngine{db: db, inMemory: opts.InMemory}, nil
}

// Name implements Engine.
func (b *BadgerEngine) Name() string { return "badger" }

// IsInMemory returns true if the engine is running in memory-only mode.
func (b *BadgerEngine) IsInMemory() bool { return b.inMemory }

// Begin opens a read-write badger transaction.
func (b *BadgerEngine) Begin(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStorageClosed
	}
	return newKVTransaction(&badgerStore{txn: b.db.NewTransaction(true)}), nil
}

// Close closes the underlying database. Safe to call twice.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

type badgerStore struct {
	txn *badger.Txn
}

func (s *badgerStore) get(key []byte) ([]byte, error) {
	item, err := s.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.WithStack(ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *badgerStore) set(key, value []byte) error {
	return s.txn.Set(key, value)
}

func (s *badgerStore) delete(key []byte) error {
	return s.txn.Delete(key)
}

func (s *badgerStore) scan(prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := s.txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func (s *badgerStore) commit() error {
	err := s.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return errors.WithSecondaryError(errors.Wrap(ErrConflict, "badger commit"), err)
	}
	return err
}

func (s *badgerStore) discard() {
	s.txn.Discard()
}
