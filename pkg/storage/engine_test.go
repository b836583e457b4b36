package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFactory struct {
	name string
	open func(t *testing.T) Engine
}

func engineFactories() []engineFactory {
	return []engineFactory{
		{"memory", func(t *testing.T) Engine {
			return NewMemoryEngine()
		}},
		{"badger", func(t *testing.T) Engine {
			e, err := NewBadgerEngineInMemory()
			require.NoError(t, err)
			return e
		}},
		{"pebble", func(t *testing.T) Engine {
			e, err := NewPebbleEngineInMemory()
			require.NoError(t, err)
			return e
		}},
	}
}

// forEachEngine runs fn once per engine implementation.
func forEachEngine(t *testing.T, fn func(t *testing.T, engine Engine)) {
	for _, f := range engineFactories() {
		t.Run(f.name, func(t *testing.T) {
			engine := f.open(t)
			t.Cleanup(func() { _ = engine.Close() })
			fn(t, engine)
		})
	}
}

func begin(t *testing.T, engine Engine) Transaction {
	t.Helper()
	tx, err := engine.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func TestEngine_InsertCommitVisibility(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		tx := begin(t, engine)
		rec := NewRecord("V", map[string]any{"email": "123", "tags": []any{}})
		require.NoError(t, tx.Insert(rec))
		assert.Equal(t, uint64(1), rec.Version)

		// Read-your-writes inside the transaction.
		got, err := tx.Get(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "123", got.Fields["email"])

		// Not visible to a concurrent reader before commit.
		other := begin(t, engine)
		_, err = other.Get(rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, other.Rollback())

		require.NoError(t, tx.Commit())

		reader := begin(t, engine)
		defer reader.Rollback()
		got, err = reader.Get(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "V", got.Class)
		assert.Equal(t, "123", got.Fields["email"])
		assert.Equal(t, []any{}, got.Fields["tags"])
	})
}

func TestEngine_RollbackDiscardsWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		tx := begin(t, engine)
		a := NewRecord("V", nil)
		require.NoError(t, tx.Insert(a))
		require.NoError(t, tx.CreateClass(&ClassDef{Name: "Person", Super: "V"}))
		require.NoError(t, tx.Rollback())

		assert.ErrorIs(t, tx.Insert(NewRecord("V", nil)), ErrTxDone)
		assert.ErrorIs(t, tx.Commit(), ErrTxDone)
		assert.ErrorIs(t, tx.Rollback(), ErrTxDone)

		reader := begin(t, engine)
		defer reader.Rollback()
		_, err := reader.Get(a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reader.Class("Person")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEngine_EdgeEndpointsMustExist(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		tx := begin(t, engine)
		defer tx.Rollback()

		a := NewRecord("V", nil)
		require.NoError(t, tx.Insert(a))

		err := tx.Insert(NewEdge("E", a.ID, NewRecordID(), nil))
		assert.ErrorIs(t, err, ErrNotFound)

		b := NewRecord("V", nil)
		require.NoError(t, tx.Insert(b))
		edge := NewEdge("E", a.ID, b.ID, map[string]any{"crazyName": "yes"})
		require.NoError(t, tx.Insert(edge))

		for _, id := range []RecordID{a.ID, b.ID} {
			edges, err := tx.Edges(id)
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, edge.ID, edges[0].ID)
			assert.Equal(t, a.ID, edges[0].Out)
			assert.Equal(t, b.ID, edges[0].In)
		}

		require.NoError(t, tx.Delete(edge.ID))
		edges, err := tx.Edges(a.ID)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})
}

func TestEngine_UpdateAndDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		tx := begin(t, engine)
		rec := NewRecord("Doc", map[string]any{"names": []any{}})
		require.NoError(t, tx.Insert(rec))
		require.NoError(t, tx.Commit())

		tx = begin(t, engine)
		got, err := tx.Get(rec.ID)
		require.NoError(t, err)
		got.Fields["names"] = []any{`foo"bar`}
		require.NoError(t, tx.Update(got))
		assert.Equal(t, uint64(2), got.Version)

		moved := got.Copy()
		moved.Class = "Other"
		assert.ErrorIs(t, tx.Update(moved), ErrInvalidData)
		require.NoError(t, tx.Commit())

		tx = begin(t, engine)
		got, err = tx.Get(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, []any{`foo"bar`}, got.Fields["names"])
		require.NoError(t, tx.Delete(rec.ID))
		assert.ErrorIs(t, tx.Delete(rec.ID), ErrNotFound)
		require.NoError(t, tx.Commit())

		tx = begin(t, engine)
		defer tx.Rollback()
		_, err = tx.Get(rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEngine_ScanIsExactClassInIDOrder(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		tx := begin(t, engine)
		var want []RecordID
		for i := 0; i < 5; i++ {
			r := NewRecord("Person", map[string]any{"n": int64(i)})
			require.NoError(t, tx.Insert(r))
			want = append(want, r.ID)
		}
		require.NoError(t, tx.Insert(NewRecord("Animal", nil)))
		require.NoError(t, tx.Commit())

		tx = begin(t, engine)
		defer tx.Rollback()
		// An uncommitted insert is visible to its own scan.
		extra := NewRecord("Person", nil)
		require.NoError(t, tx.Insert(extra))
		want = append(want, extra.ID)

		var got []RecordID
		require.NoError(t, tx.Scan("person", func(r *Record) error {
			got = append(got, r.ID)
			return nil
		}))
		assert.Equal(t, want, got)
	})
}

func TestEngine_SchemaEnforcement(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		tx := begin(t, engine)
		defer tx.Rollback()

		require.NoError(t, tx.CreateClass(&ClassDef{Name: "Person", Super: "V"}))
		assert.ErrorIs(t, tx.CreateClass(&ClassDef{Name: "Person"}), ErrAlreadyExists)
		assert.ErrorIs(t, tx.CreateClass(&ClassDef{Name: "V"}), ErrSchema)
		assert.ErrorIs(t, tx.CreateClass(&ClassDef{Name: "Child", Super: "Missing"}), ErrNotFound)

		def, err := tx.Class("person")
		require.NoError(t, err)
		def.Properties["age"] = TypeInteger
		require.NoError(t, tx.UpdateClass(def))
		require.NoError(t, tx.CreateClass(&ClassDef{Name: "Employee", Super: "Person"}))

		assert.ErrorIs(t, tx.Insert(NewRecord("Employee", map[string]any{"age": "old"})), ErrSchema)
		require.NoError(t, tx.Insert(NewRecord("Employee", map[string]any{"age": int64(40)})))

		ok, err := IsSubclassOf(tx, "Employee", "V")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = IsSubclassOf(tx, "Undeclared", "V")
		require.NoError(t, err)
		assert.False(t, ok)

		subs, err := Subclasses(tx, "V")
		require.NoError(t, err)
		assert.Equal(t, []string{"V", "Employee", "Person"}, subs)
	})
}

func TestEngine_ClosedEngine(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.Close())
		require.NoError(t, engine.Close())
		_, err := engine.Begin(context.Background())
		assert.ErrorIs(t, err, ErrStorageClosed)
	})
}

func TestEngine_BeginHonorsContext(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := engine.Begin(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryEngine_WriteConflict(t *testing.T) {
	engine := NewMemoryEngine()
	tx := begin(t, engine)
	rec := NewRecord("V", map[string]any{"n": int64(0)})
	require.NoError(t, tx.Insert(rec))
	require.NoError(t, tx.Commit())

	first := begin(t, engine)
	second := begin(t, engine)
	for i, tx := range []Transaction{first, second} {
		r, err := tx.Get(rec.ID)
		require.NoError(t, err)
		r.Fields["n"] = int64(i + 1)
		require.NoError(t, tx.Update(r))
	}
	require.NoError(t, first.Commit())
	assert.ErrorIs(t, second.Commit(), ErrConflict)
	assert.Equal(t, 1, engine.Count())
}

func TestBadgerEngine_WriteConflict(t *testing.T) {
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	defer engine.Close()

	tx := begin(t, engine)
	rec := NewRecord("V", map[string]any{"n": int64(0)})
	require.NoError(t, tx.Insert(rec))
	require.NoError(t, tx.Commit())

	first := begin(t, engine)
	second := begin(t, engine)
	for i, tx := range []Transaction{first, second} {
		r, err := tx.Get(rec.ID)
		require.NoError(t, err)
		r.Fields["n"] = int64(i + 1)
		require.NoError(t, tx.Update(r))
	}
	require.NoError(t, first.Commit())
	assert.ErrorIs(t, second.Commit(), ErrConflict)
}

func TestPebbleEngine_SnapshotReadsAndWriteConflict(t *testing.T) {
	engine, err := NewPebbleEngineInMemory()
	require.NoError(t, err)
	defer engine.Close()

	tx := begin(t, engine)
	rec := NewRecord("V", map[string]any{"n": int64(0)})
	require.NoError(t, tx.Insert(rec))
	require.NoError(t, tx.Commit())

	first := begin(t, engine)
	r1, err := first.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r1.Fields["n"])

	second := begin(t, engine)
	r2, err := second.Get(rec.ID)
	require.NoError(t, err)
	r2.Fields["n"] = int64(2)
	require.NoError(t, second.Update(r2))
	require.NoError(t, second.Commit())

	// first keeps reading the state it started from.
	again, err := first.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Fields["n"])

	again.Fields["n"] = int64(1)
	require.NoError(t, first.Update(again))
	assert.ErrorIs(t, first.Commit(), ErrConflict)

	reader := begin(t, engine)
	defer reader.Rollback()
	got, err := reader.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Fields["n"], "second update survives")
}

func TestPebbleEngine_ScanConflict(t *testing.T) {
	engine, err := NewPebbleEngineInMemory()
	require.NoError(t, err)
	defer engine.Close()

	first := begin(t, engine)
	seen := 0
	require.NoError(t, first.Scan("V", func(*Record) error { seen++; return nil }))
	assert.Zero(t, seen)

	second := begin(t, engine)
	require.NoError(t, second.Insert(NewRecord("V", nil)))
	require.NoError(t, second.Commit())

	// The snapshot hides the new record, and committing a write that depends
	// on the scan fails.
	require.NoError(t, first.Scan("V", func(*Record) error { seen++; return nil }))
	assert.Zero(t, seen)
	require.NoError(t, first.Insert(NewRecord("V", map[string]any{"first": true})))
	assert.ErrorIs(t, first.Commit(), ErrConflict)

	// Read-only transactions always commit.
	readOnly := begin(t, engine)
	require.NoError(t, readOnly.Scan("V", func(*Record) error { return nil }))
	other := begin(t, engine)
	require.NoError(t, other.Insert(NewRecord("V", nil)))
	require.NoError(t, other.Commit())
	assert.NoError(t, readOnly.Commit())
}

func TestEngine_FinishedTransactionRejectsSchemaLookups(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		tx := begin(t, engine)
		require.NoError(t, tx.CreateClass(&ClassDef{Name: "Person", Super: "V"}))
		require.NoError(t, tx.Commit())

		_, err := tx.Class("Person")
		assert.ErrorIs(t, err, ErrTxDone)
		_, err = tx.Class("V")
		assert.ErrorIs(t, err, ErrTxDone)
		_, err = tx.Classes()
		assert.ErrorIs(t, err, ErrTxDone)
	})
}

func TestOpen(t *testing.T) {
	for _, kind := range []string{"", EngineMemory, "Badger", EnginePebble} {
		engine, err := Open(OpenOptions{Engine: kind, Logger: NopLogger{}})
		require.NoError(t, err, kind)
		want := strings.ToLower(kind)
		if want == "" {
			want = EngineMemory
		}
		assert.Equal(t, want, engine.Name())
		require.NoError(t, engine.Close())
	}

	_, err := Open(OpenOptions{Engine: "sqlite"})
	assert.Error(t, err)
}

func TestOpenPersistentReopen(t *testing.T) {
	for _, kind := range []string{EngineBadger, EnginePebble} {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			engine, err := Open(OpenOptions{Engine: kind, DataDir: dir})
			require.NoError(t, err)

			tx := begin(t, engine)
			rec := NewRecord("Doc", map[string]any{"body": `say \"hi\"`})
			require.NoError(t, tx.Insert(rec))
			require.NoError(t, tx.Commit())
			require.NoError(t, engine.Close())

			engine, err = Open(OpenOptions{Engine: kind, DataDir: dir})
			require.NoError(t, err)
			defer engine.Close()

			tx = begin(t, engine)
			defer tx.Rollback()
			got, err := tx.Get(rec.ID)
			require.NoError(t, err)
			assert.Equal(t, `say \"hi\"`, got.Fields["body"])
		})
	}
}
