// Package storage provides the record stores that batch scripts execute against.
//
// A store holds records: plain documents, vertices, and edges. Edges are records
// whose Out and In fields link two existing records. Every read and write goes
// through a Transaction obtained from an Engine; nothing a transaction writes is
// visible to other transactions until Commit succeeds, and Rollback discards
// every buffered write.
//
// Three engines are provided:
//   - MemoryEngine: maps with a buffered write-set, for tests and small datasets
//   - BadgerEngine: persistent storage on BadgerDB with SSI conflict detection
//   - PebbleEngine: persistent storage on Pebble indexed batches
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	tx, err := engine.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	defer tx.Rollback()
//
//	rec := storage.NewRecord("V", map[string]any{"email": "123"})
//	if err := tx.Insert(rec); err != nil {
//		return err
//	}
//	return tx.Commit()
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Common errors returned by all engines.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidID     = errors.New("invalid record id")
	ErrInvalidData   = errors.New("invalid record data")
	ErrStorageClosed = errors.New("storage closed")
	ErrTxDone        = errors.New("transaction already finished")
	ErrConflict      = errors.New("transaction conflict")
	ErrSchema        = errors.New("schema violation")
)

// RecordID identifies a record. IDs are "#" followed by a time-ordered UUID, so
// sorting IDs approximates insertion order.
type RecordID string

// NewRecordID returns a fresh, time-ordered record ID.
func NewRecordID() RecordID {
	return RecordID("#" + uuid.Must(uuid.NewV7()).String())
}

// Valid reports whether id has the "#..." shape.
func (id RecordID) Valid() bool {
	return len(id) > 1 && id[0] == '#'
}

func (id RecordID) String() string { return string(id) }

// RecordRef renders the ID as a bare record literal.
func (id RecordID) RecordRef() string { return string(id) }

// Record is a document, vertex, or edge.
type Record struct {
	ID      RecordID
	Class   string
	Fields  map[string]any
	Out     RecordID // edges only: source record
	In      RecordID // edges only: target record
	Version uint64
}

// NewRecord creates a record with a fresh ID.
func NewRecord(class string, fields map[string]any) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Record{ID: NewRecordID(), Class: class, Fields: fields}
}

// NewEdge creates an edge record linking out to in.
func NewEdge(class string, out, in RecordID, fields map[string]any) *Record {
	r := NewRecord(class, fields)
	r.Out = out
	r.In = in
	return r
}

// IsEdge reports whether the record links two other records.
func (r *Record) IsEdge() bool {
	return r.Out != "" && r.In != ""
}

// Field returns a field value. The pseudo fields @rid, @class, @version, out and
// in (for edges) are resolved from the record header.
func (r *Record) Field(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "@rid":
		return r.ID, true
	case "@class":
		return r.Class, true
	case "@version":
		return int64(r.Version), true
	}
	if v, ok := r.Fields[name]; ok {
		return v, true
	}
	if r.IsEdge() {
		switch name {
		case "out":
			return r.Out, true
		case "in":
			return r.In, true
		}
	}
	return nil, false
}

// Copy returns a deep copy of the record.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Fields = CopyValue(r.Fields).(map[string]any)
	return &cp
}

// CopyValue deep-copies lists and maps so stored records never alias caller data.
func CopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any{}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CopyValue(item)
		}
		return out
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CopyValue(item)
		}
		return out
	default:
		return v
	}
}

// Engine opens transactions against a store.
type Engine interface {
	// Name identifies the engine kind ("memory", "badger", "pebble").
	Name() string
	// Begin opens a read-write transaction.
	Begin(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction is a read-write view of the store. Reads observe the
// transaction's own writes. After Commit or Rollback every method returns
// ErrTxDone.
type Transaction interface {
	ID() string
	StartTime() time.Time

	Get(id RecordID) (*Record, error)
	Insert(r *Record) error
	Update(r *Record) error
	Delete(id RecordID) error

	// Scan visits records whose class is exactly class, in ID order.
	Scan(class string, fn func(*Record) error) error
	// Edges returns the edges whose Out or In is id, in ID order.
	Edges(id RecordID) ([]*Record, error)

	Class(name string) (*ClassDef, error)
	Classes() ([]*ClassDef, error)
	CreateClass(def *ClassDef) error
	UpdateClass(def *ClassDef) error

	// OperationCount is the number of writes buffered so far.
	OperationCount() int

	Commit() error
	Rollback() error
}

// TxStatus tracks a transaction's lifecycle.
type TxStatus string

const (
	TxStatusActive     TxStatus = "active"
	TxStatusCommitted  TxStatus = "committed"
	TxStatusRolledBack TxStatus = "rolled_back"
)

// newTxID returns a transaction identifier.
func newTxID() string {
	return "tx-" + uuid.NewString()
}
