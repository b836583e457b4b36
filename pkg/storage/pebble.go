package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleEngine stores records in a Pebble database. Each Transaction reads
// from a snapshot taken at Begin, with its own buffered writes layered on top,
// and Rollback simply drops the buffer. Pebble has no conflict detection of
// its own: commits are serialized and fail with ErrConflict when a key or
// prefix the transaction read has changed since its snapshot.
type PebbleEngine struct {
	db         *pebble.DB
	commitMu   sync.Mutex
	mu         sync.RWMutex
	closed     bool
	syncWrites bool
}

// PebbleOptions configures the Pebble engine.
type PebbleOptions struct {
	// DataDir is the directory for storing data files.
	DataDir string
	// InMemory keeps everything in a memory filesystem.
	InMemory bool
	// SyncWrites fsyncs the WAL on every commit.
	SyncWrites bool
}

// NewPebbleEngine opens (or creates) a Pebble database in dataDir.
func NewPebbleEngine(dataDir string) (*PebbleEngine, error) {
	return NewPebbleEngineWithOptions(PebbleOptions{DataDir: dataDir, SyncWrites: true})
}

// NewPebbleEngineInMemory creates a Pebble engine on a memory filesystem for tests.
func NewPebbleEngineInMemory() (*PebbleEngine, error) {
	return NewPebbleEngineWithOptions(PebbleOptions{InMemory: true})
}

// NewPebbleEngineWithOptions opens a Pebble engine with custom configuration.
func NewPebbleEngineWithOptions(opts PebbleOptions) (*PebbleEngine, error) {
	popts := &pebble.Options{}
	path := opts.DataDir
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		path = ""
	}
	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Pebble")
	}
	return &PebbleEngine{db: db, syncWrites: opts.SyncWrites}, nil
}

// Name implements Engine.
func (p *PebbleEngine) Name() string { return "pebble" }

// Begin creates a transaction over a fresh snapshot.
func (p *PebbleEngine) Begin(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrStorageClosed
	}
	return newKVTransaction(&pebbleStore{
		engine:  p,
		snap:    p.db.NewSnapshot(),
		writes:  make(map[string][]byte),
		reads:   make(map[string][]byte),
		scanned: make(map[string][]string),
	}), nil
}

// Close the engine and underlying Pebble database.
func (p *PebbleEngine) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// pebbleStore buffers writes in memory (a nil value marks a delete) and
// remembers what it read from the snapshot so commit can validate it.
type pebbleStore struct {
	engine  *PebbleEngine
	snap    *pebble.Snapshot
	writes  map[string][]byte
	reads   map[string][]byte   // key -> value seen; nil when missing
	scanned map[string][]string // prefix -> snapshot keys seen
	closed  bool
}

func (s *pebbleStore) get(key []byte) ([]byte, error) {
	if value, ok := s.writes[string(key)]; ok {
		if value == nil {
			return nil, errors.WithStack(ErrNotFound)
		}
		return bytes.Clone(value), nil
	}
	value, err := pebbleGet(s.snap, key)
	if _, seen := s.reads[string(key)]; !seen {
		switch {
		case err == nil:
			s.reads[string(key)] = value
		case errors.Is(err, ErrNotFound):
			s.reads[string(key)] = nil
		}
	}
	if err != nil {
		return nil, err
	}
	return bytes.Clone(value), nil
}

func (s *pebbleStore) set(key, value []byte) error {
	s.writes[string(key)] = bytes.Clone(value)
	return nil
}

func (s *pebbleStore) delete(key []byte) error {
	s.writes[string(key)] = nil
	return nil
}

func (s *pebbleStore) scan(prefix []byte) ([][]byte, error) {
	base, err := pebbleKeys(s.snap, prefix)
	if err != nil {
		return nil, err
	}
	if _, seen := s.scanned[string(prefix)]; !seen {
		s.scanned[string(prefix)] = base
	}

	present := make(map[string]bool, len(base))
	for _, k := range base {
		present[k] = true
	}
	for k, v := range s.writes {
		if strings.HasPrefix(k, string(prefix)) {
			present[k] = v != nil
		}
	}
	merged := make([]string, 0, len(present))
	for k, ok := range present {
		if ok {
			merged = append(merged, k)
		}
	}
	sort.Strings(merged)

	keys := make([][]byte, len(merged))
	for i, k := range merged {
		keys[i] = []byte(k)
	}
	return keys, nil
}

// validate reports ErrConflict when anything read through the snapshot has
// since changed in the live database. Callers hold commitMu.
func (s *pebbleStore) validate() error {
	db := s.engine.db
	for key, seen := range s.reads {
		current, err := pebbleGet(db, []byte(key))
		if errors.Is(err, ErrNotFound) {
			current, err = nil, nil
		}
		if err != nil {
			return err
		}
		if (seen == nil) != (current == nil) || !bytes.Equal(seen, current) {
			return errors.Wrap(ErrConflict, "pebble commit: record changed")
		}
	}
	for prefix, seen := range s.scanned {
		current, err := pebbleKeys(db, []byte(prefix))
		if err != nil {
			return err
		}
		if len(seen) != len(current) {
			return errors.Wrap(ErrConflict, "pebble commit: range changed")
		}
		for i := range seen {
			if seen[i] != current[i] {
				return errors.Wrap(ErrConflict, "pebble commit: range changed")
			}
		}
	}
	return nil
}

func (s *pebbleStore) commit() error {
	s.engine.commitMu.Lock()
	defer s.engine.commitMu.Unlock()
	defer s.close()

	// A read-only transaction saw one consistent snapshot; nothing to check.
	if len(s.writes) == 0 {
		return nil
	}
	if err := s.validate(); err != nil {
		return err
	}

	keys := make([]string, 0, len(s.writes))
	for k := range s.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := s.engine.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		var err error
		if v := s.writes[k]; v == nil {
			err = batch.Delete([]byte(k), nil)
		} else {
			err = batch.Set([]byte(k), v, nil)
		}
		if err != nil {
			return err
		}
	}

	opts := pebble.NoSync
	if s.engine.syncWrites {
		opts = pebble.Sync
	}
	return batch.Commit(opts)
}

func (s *pebbleStore) discard() {
	s.close()
}

func (s *pebbleStore) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.writes = nil
	_ = s.snap.Close()
}

func pebbleGet(r pebbleReader, key []byte) ([]byte, error) {
	value, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.WithStack(ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	cp := bytes.Clone(value)
	if cp == nil {
		cp = []byte{}
	}
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return cp, nil
}

// pebbleKeys lists the keys under prefix in ascending order.
func pebbleKeys(r pebbleReader, prefix []byte) ([]string, error) {
	it, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}

	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		_ = it.Close()
		return nil, err
	}
	return keys, it.Close()
}
