package storage

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Key prefixes for key-value storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixRecord        = byte(0x01) // record:id -> wireRecord
	prefixClassIndex    = byte(0x02) // class:lower(name):id -> []byte{}
	prefixOutgoingIndex = byte(0x03) // outgoing:recordID:edgeID -> []byte{}
	prefixIncomingIndex = byte(0x04) // incoming:recordID:edgeID -> []byte{}
	prefixSchema        = byte(0x05) // schema:lower(name) -> ClassDef
)

func recordKey(id RecordID) []byte {
	return append([]byte{prefixRecord}, []byte(id)...)
}

// classIndexPrefix returns prefix + lower(class) + 0x00.
func classIndexPrefix(class string) []byte {
	normalized := strings.ToLower(class)
	key := make([]byte, 0, 2+len(normalized))
	key = append(key, prefixClassIndex)
	key = append(key, normalized...)
	return append(key, 0x00)
}

func classIndexKey(class string, id RecordID) []byte {
	return append(classIndexPrefix(class), []byte(id)...)
}

func adjacencyPrefix(prefix byte, id RecordID) []byte {
	key := make([]byte, 0, 2+len(id))
	key = append(key, prefix)
	key = append(key, id...)
	return append(key, 0x00)
}

func adjacencyKey(prefix byte, id, edgeID RecordID) []byte {
	return append(adjacencyPrefix(prefix, id), []byte(edgeID)...)
}

func schemaKey(name string) []byte {
	return append([]byte{prefixSchema}, []byte(strings.ToLower(name))...)
}

// idFromIndexKey extracts the trailing record ID from an index key.
func idFromIndexKey(key []byte) RecordID {
	i := bytes.LastIndexByte(key, 0x00)
	return RecordID(key[i+1:])
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// kvStore is the minimal key-value surface a persistent engine exposes for one
// transaction. get returns ErrNotFound for missing keys; scan returns the keys
// under prefix in ascending order, including the transaction's own writes.
type kvStore interface {
	get(key []byte) ([]byte, error)
	set(key, value []byte) error
	delete(key []byte) error
	scan(prefix []byte) ([][]byte, error)
	commit() error
	discard()
}

// kvTransaction implements Transaction over a kvStore. BadgerEngine and
// PebbleEngine share it.
type kvTransaction struct {
	id      string
	store   kvStore
	started time.Time
	ops     int
	status  TxStatus
}

func newKVTransaction(store kvStore) *kvTransaction {
	return &kvTransaction{
		id:      newTxID(),
		store:   store,
		started: time.Now(),
		status:  TxStatusActive,
	}
}

func (t *kvTransaction) ID() string           { return t.id }
func (t *kvTransaction) StartTime() time.Time { return t.started }
func (t *kvTransaction) OperationCount() int  { return t.ops }

func (t *kvTransaction) ensureActive() error {
	if t.status != TxStatusActive {
		return ErrTxDone
	}
	return nil
}

// Get retrieves a record by ID.
func (t *kvTransaction) Get(id RecordID) (*Record, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	if !id.Valid() {
		return nil, ErrInvalidID
	}
	data, err := t.store.get(recordKey(id))
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (t *kvTransaction) exists(id RecordID) (bool, error) {
	_, err := t.store.get(recordKey(id))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Insert stores a new record and its index entries. Edges require both
// endpoints to exist.
func (t *kvTransaction) Insert(r *Record) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateRecord(t, r); err != nil {
		return err
	}
	found, err := t.exists(r.ID)
	if err != nil {
		return err
	}
	if found {
		return errors.Wrapf(ErrAlreadyExists, "%s", r.ID)
	}
	if r.IsEdge() {
		for _, end := range []RecordID{r.Out, r.In} {
			ok, err := t.exists(end)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrapf(ErrNotFound, "edge endpoint %s", end)
			}
		}
	}

	stored := r.Copy()
	stored.Version = 1
	if err := t.put(stored); err != nil {
		return err
	}
	if err := t.store.set(classIndexKey(stored.Class, stored.ID), []byte{}); err != nil {
		return err
	}
	if stored.IsEdge() {
		if err := t.store.set(adjacencyKey(prefixOutgoingIndex, stored.Out, stored.ID), []byte{}); err != nil {
			return err
		}
		if err := t.store.set(adjacencyKey(prefixIncomingIndex, stored.In, stored.ID), []byte{}); err != nil {
			return err
		}
	}
	r.Version = stored.Version
	t.ops++
	return nil
}

func (t *kvTransaction) put(r *Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode record")
	}
	return t.store.set(recordKey(r.ID), data)
}

// Update replaces an existing record's fields. Class and endpoints are immutable.
func (t *kvTransaction) Update(r *Record) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateRecord(t, r); err != nil {
		return err
	}
	existing, err := t.Get(r.ID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(existing.Class, r.Class) || existing.Out != r.Out || existing.In != r.In {
		return errors.Wrapf(ErrInvalidData, "cannot change class or endpoints of %s", r.ID)
	}
	stored := r.Copy()
	stored.Class = existing.Class
	stored.Version = existing.Version + 1
	if err := t.put(stored); err != nil {
		return err
	}
	r.Version = stored.Version
	t.ops++
	return nil
}

// Delete removes a record and its index entries. Edges attached to a deleted
// vertex are not removed here; callers cascade explicitly.
func (t *kvTransaction) Delete(id RecordID) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	existing, err := t.Get(id)
	if err != nil {
		return err
	}
	if err := t.store.delete(recordKey(id)); err != nil {
		return err
	}
	if err := t.store.delete(classIndexKey(existing.Class, id)); err != nil {
		return err
	}
	if existing.IsEdge() {
		if err := t.store.delete(adjacencyKey(prefixOutgoingIndex, existing.Out, id)); err != nil {
			return err
		}
		if err := t.store.delete(adjacencyKey(prefixIncomingIndex, existing.In, id)); err != nil {
			return err
		}
	}
	t.ops++
	return nil
}

// Scan visits the records of exactly one class in ID order.
func (t *kvTransaction) Scan(class string, fn func(*Record) error) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	keys, err := t.store.scan(classIndexPrefix(class))
	if err != nil {
		return err
	}
	for _, key := range keys {
		rec, err := t.Get(idFromIndexKey(key))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Edges returns every edge leaving or entering id.
func (t *kvTransaction) Edges(id RecordID) ([]*Record, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	seen := make(map[RecordID]bool)
	var edges []*Record
	for _, prefix := range []byte{prefixOutgoingIndex, prefixIncomingIndex} {
		keys, err := t.store.scan(adjacencyPrefix(prefix, id))
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			edgeID := idFromIndexKey(key)
			if seen[edgeID] {
				continue
			}
			seen[edgeID] = true
			edge, err := t.Get(edgeID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			edges = append(edges, edge)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

// Class returns a class definition; built-in classes are always present.
func (t *kvTransaction) Class(name string) (*ClassDef, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	if def, ok := builtinClass(name); ok {
		return def, nil
	}
	data, err := t.store.get(schemaKey(name))
	if err != nil {
		return nil, errors.Wrapf(err, "class %s", name)
	}
	return decodeClass(data)
}

// Classes returns the declared classes, built-ins first.
func (t *kvTransaction) Classes() ([]*ClassDef, error) {
	if err := t.ensureActive(); err != nil {
		return nil, err
	}
	defs := []*ClassDef{builtinClasses["v"].copy(), builtinClasses["e"].copy()}
	keys, err := t.store.scan([]byte{prefixSchema})
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		data, err := t.store.get(key)
		if err != nil {
			return nil, err
		}
		def, err := decodeClass(data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// CreateClass declares a new class.
func (t *kvTransaction) CreateClass(def *ClassDef) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateClass(t, def); err != nil {
		return err
	}
	if _, err := t.store.get(schemaKey(def.Name)); err == nil {
		return errors.Wrapf(ErrAlreadyExists, "class %s", def.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return t.putClass(def)
}

// UpdateClass replaces an existing class definition.
func (t *kvTransaction) UpdateClass(def *ClassDef) error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := validateClass(t, def); err != nil {
		return err
	}
	if _, err := t.store.get(schemaKey(def.Name)); err != nil {
		return errors.Wrapf(err, "class %s", def.Name)
	}
	return t.putClass(def)
}

func (t *kvTransaction) putClass(def *ClassDef) error {
	data, err := encodeClass(def.copy())
	if err != nil {
		return err
	}
	if err := t.store.set(schemaKey(def.Name), data); err != nil {
		return err
	}
	t.ops++
	return nil
}

// Commit makes the transaction's writes durable and visible.
func (t *kvTransaction) Commit() error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	if err := t.store.commit(); err != nil {
		t.status = TxStatusRolledBack
		return err
	}
	t.status = TxStatusCommitted
	return nil
}

// Rollback discards every buffered write.
func (t *kvTransaction) Rollback() error {
	if err := t.ensureActive(); err != nil {
		return err
	}
	t.store.discard()
	t.status = TxStatusRolledBack
	return nil
}
