package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// MemoryEngine is an in-memory implementation of Engine.
// It's useful for:
//   - Unit testing (no disk I/O)
//   - Short-lived scratch databases in the CLI
//
// Transactions buffer their writes and apply them under the engine lock at
// commit. Every record carries a version; a commit fails with ErrConflict if a
// record the transaction read or wrote was changed by another commit since.
type MemoryEngine struct {
	mu      sync.RWMutex
	records map[RecordID]*Record
	classes map[string]*ClassDef

	// Indexes for efficient lookups
	byClass       map[string]map[RecordID]struct{}
	outgoingEdges map[RecordID]map[RecordID]struct{}
	incomingEdges map[RecordID]map[RecordID]struct{}

	closed bool
}

// NewMemoryEngine creates a new in-memory storage engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		records:       make(map[RecordID]*Record),
		classes:       make(map[string]*ClassDef),
		byClass:       make(map[string]map[RecordID]struct{}),
		outgoingEdges: make(map[RecordID]map[RecordID]struct{}),
		incomingEdges: make(map[RecordID]map[RecordID]struct{}),
	}
}

// Name implements Engine.
func (m *MemoryEngine) Name() string { return "memory" }

// Begin opens a buffered transaction.
func (m *MemoryEngine) Begin(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	return &MemoryTransaction{
		id:       newTxID(),
		engine:   m,
		started:  time.Now(),
		status:   TxStatusActive,
		writes:   make(map[RecordID]*Record),
		observed: make(map[RecordID]uint64),
		classes:  make(map[string]*ClassDef),
		created:  make(map[string]bool),
	}, nil
}

// Close marks the engine closed and drops all data.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = make(map[RecordID]*Record)
	return nil
}

// Count returns the number of committed records.
func (m *MemoryEngine) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryEngine) committed(id RecordID) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, false
	}
	return r.Copy(), true
}

func addIndex(idx map[string]map[RecordID]struct{}, key string, id RecordID) {
	if idx[key] == nil {
		idx[key] = make(map[RecordID]struct{})
	}
	idx[key][id] = struct{}{}
}

func addAdjacency(idx map[RecordID]map[RecordID]struct{}, key, id RecordID) {
	if idx[key] == nil {
		idx[key] = make(map[RecordID]struct{})
	}
	idx[key][id] = struct{}{}
}

// apply installs one committed write; caller holds m.mu.
func (m *MemoryEngine) apply(id RecordID, r *Record) {
	if old, ok := m.records[id]; ok {
		delete(m.byClass[strings.ToLower(old.Class)], id)
		if old.IsEdge() {
			delete(m.outgoingEdges[old.Out], id)
			delete(m.incomingEdges[old.In], id)
		}
	}
	if r == nil {
		delete(m.records, id)
		return
	}
	m.records[id] = r
	addIndex(m.byClass, strings.ToLower(r.Class), id)
	if r.IsEdge() {
		addAdjacency(m.outgoingEdges, r.Out, id)
		addAdjacency(m.incomingEdges, r.In, id)
	}
}

// MemoryTransaction buffers writes until Commit.
type MemoryTransaction struct {
	id      string
	engine  *MemoryEngine
	started time.Time
	status  TxStatus

	// writes maps id to the pending record; a nil value is a pending delete.
	writes map[RecordID]*Record
	// observed holds the committed version seen when a record was first
	// touched (0 when it did not exist).
	observed map[RecordID]uint64
	classes  map[string]*ClassDef
	created  map[string]bool
	ops      int
}

func (t *MemoryTransaction) ID() string           { return t.id }
func (t *MemoryTransaction) StartTime() time.Time { return t.started }
func (t *MemoryTransaction) OperationCount() int  { return t.ops }

// Status returns the transaction's lifecycle state.
func (t *MemoryTransaction) Status() TxStatus { return t.status }

func (t *MemoryTransaction) ensureActive() error {
	if t.status != TxStatusActive {
		return ErrTxDone
	}
	t.engine.mu.RLock()
	closed := t.engine.closed
	t.engine.mu.RUnlock()
	if closed {
		return ErrStorageClosed
	}
	return nil
}

// lookup resolves id through the write-set, recording the observed version.
func (t *MemoryTransaction) lookup(id RecordID) (*Record, bool) {
	if r, ok := t.writes[id]; ok {
		if r == nil {
			return nil, false
		}
		return r.Copy(), true
	}
	r, ok := t.engine.committed(id)
	if _, seen := t.observed[id]; !seen {
		if ok {
			t.observed[id] = r.Version
		} else {
			t.observed[id] = 0
		}
	}
	return r, ok
}

// Get retrieves a record by ID (read-your-writes).
func (t *MemoryTransaction) Get(id RecordID) (*Record, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	if !id.Valid() {
		return nil, ErrInvalidID
	}
	r, ok := t.lookup(id)
	if !ok {
		return nil, errors.WithStack(ErrNotFound)
	}
	return r, nil
}

// Insert buffers a new record.
func (t *MemoryTransaction) Insert(r *Record) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateRecord(t, r); err != nil {
		return err
	}
	if _, ok := t.lookup(r.ID); ok {
		return errors.Wrapf(ErrAlreadyExists, "%s", r.ID)
	}
	if r.IsEdge() {
		for _, end := range []RecordID{r.Out, r.In} {
			if _, ok := t.lookup(end); !ok {
				return errors.Wrapf(ErrNotFound, "edge endpoint %s", end)
			}
		}
	}
	stored := r.Copy()
	stored.Version = 1
	t.writes[r.ID] = stored
	r.Version = 1
	t.ops++
	return nil
}

// Update buffers a replacement of an existing record.
func (t *MemoryTransaction) Update(r *Record) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateRecord(t, r); err != nil {
		return err
	}
	existing, ok := t.lookup(r.ID)
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s", r.ID)
	}
	if !strings.EqualFold(existing.Class, r.Class) || existing.Out != r.Out || existing.In != r.In {
		return errors.Wrapf(ErrInvalidData, "cannot change class or endpoints of %s", r.ID)
	}
	stored := r.Copy()
	stored.Class = existing.Class
	stored.Version = existing.Version + 1
	t.writes[r.ID] = stored
	r.Version = stored.Version
	t.ops++
	return nil
}

// Delete buffers the removal of a record.
func (t *MemoryTransaction) Delete(id RecordID) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if _, ok := t.lookup(id); !ok {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	t.writes[id] = nil
	t.ops++
	return nil
}

// Scan visits the records of exactly one class in ID order.
func (t *MemoryTransaction) Scan(class string, fn func(*Record) error) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	key := strings.ToLower(class)
	ids := make(map[RecordID]struct{})

	t.engine.mu.RLock()
	for id := range t.engine.byClass[key] {
		ids[id] = struct{}{}
	}
	t.engine.mu.RUnlock()
	for id, r := range t.writes {
		if r != nil && strings.ToLower(r.Class) == key {
			ids[id] = struct{}{}
		}
	}

	for _, id := range sortedIDs(ids) {
		r, ok := t.lookup(id)
		if !ok || strings.ToLower(r.Class) != key {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Edges returns every edge leaving or entering id.
func (t *MemoryTransaction) Edges(id RecordID) ([]*Record, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	ids := make(map[RecordID]struct{})
	t.engine.mu.RLock()
	for edgeID := range t.engine.outgoingEdges[id] {
		ids[edgeID] = struct{}{}
	}
	for edgeID := range t.engine.incomingEdges[id] {
		ids[edgeID] = struct{}{}
	}
	t.engine.mu.RUnlock()
	for edgeID, r := range t.writes {
		if r != nil && r.IsEdge() {
			ids[edgeID] = struct{}{}
		}
	}

	var edges []*Record
	for _, edgeID := range sortedIDs(ids) {
		r, ok := t.lookup(edgeID)
		if !ok || !r.IsEdge() || (r.Out != id && r.In != id) {
			continue
		}
		edges = append(edges, r)
	}
	return edges, nil
}

// Class returns a class definition.
func (t *MemoryTransaction) Class(name string) (*ClassDef, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	if def, ok := builtinClass(name); ok {
		return def, nil
	}
	key := strings.ToLower(name)
	if def, ok := t.classes[key]; ok {
		return def.copy(), nil
	}
	t.engine.mu.RLock()
	defer t.engine.mu.RUnlock()
	if def, ok := t.engine.classes[key]; ok {
		return def.copy(), nil
	}
	return nil, errors.Wrapf(ErrNotFound, "class %s", name)
}

// Classes returns the declared classes, built-ins first.
func (t *MemoryTransaction) Classes() ([]*ClassDef, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	merged := make(map[string]*ClassDef)
	t.engine.mu.RLock()
	for k, def := range t.engine.classes {
		merged[k] = def.copy()
	}
	t.engine.mu.RUnlock()
	for k, def := range t.classes {
		merged[k] = def.copy()
	}
	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)

	defs := []*ClassDef{builtinClasses["v"].copy(), builtinClasses["e"].copy()}
	for _, k := range names {
		defs = append(defs, merged[k])
	}
	return defs, nil
}

// CreateClass declares a new class.
func (t *MemoryTransaction) CreateClass(def *ClassDef) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateClass(t, def); err != nil {
		return err
	}
	if _, err := t.Class(def.Name); err == nil {
		return errors.Wrapf(ErrAlreadyExists, "class %s", def.Name)
	}
	t.classes[strings.ToLower(def.Name)] = def.copy()
	t.created[strings.ToLower(def.Name)] = true
	t.ops++
	return nil
}

// UpdateClass replaces an existing class definition.
func (t *MemoryTransaction) UpdateClass(def *ClassDef) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateClass(t, def); err != nil {
		return err
	}
	if _, err := t.Class(def.Name); err != nil {
		return err
	}
	t.classes[strings.ToLower(def.Name)] = def.copy()
	t.ops++
	return nil
}

// Commit validates observed versions and applies the write-set atomically.
func (t *MemoryTransaction) Commit() error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	m := t.engine
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, version := range t.observed {
		current := uint64(0)
		if r, ok := m.records[id]; ok {
			current = r.Version
		}
		if current != version {
			t.status = TxStatusRolledBack
			return errors.Wrapf(ErrConflict, "record %s changed concurrently", id)
		}
	}
	for key := range t.created {
		if _, ok := m.classes[key]; ok {
			t.status = TxStatusRolledBack
			return errors.Wrapf(ErrConflict, "class %s created concurrently", key)
		}
	}

	for key, def := range t.classes {
		m.classes[key] = def
	}
	for id, r := range t.writes {
		m.apply(id, r)
	}
	t.status = TxStatusCommitted
	return nil
}

// Rollback discards the write-set.
func (t *MemoryTransaction) Rollback() error {
	if t.status != TxStatusActive {
		return ErrTxDone
	}
	t.writes = nil
	t.classes = nil
	t.status = TxStatusRolledBack
	return nil
}

func sortedIDs(set map[RecordID]struct{}) []RecordID {
	ids := make([]RecordID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
