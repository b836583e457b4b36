package batch

import (
	"fmt"

	"github.com/orneryd/nornicbatch/pkg/storage"
)

// ValueKind discriminates Value.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueRecord
	ValueRecords
	ValueScalar
)

func (k ValueKind) String() string {
	switch k {
	case ValueNone:
		return "none"
	case ValueRecord:
		return "record"
	case ValueRecords:
		return "records"
	case ValueScalar:
		return "scalar"
	}
	return fmt.Sprintf("ValueKind(%d)", int(k))
}

// Value is what a statement produces and what a variable holds: nothing, one
// record, an ordered list of records, or a scalar (which may itself be a list
// or map).
type Value struct {
	kind    ValueKind
	record  *storage.Record
	records []*storage.Record
	scalar  any
}

// None is the empty value.
func None() Value { return Value{} }

// RecordValue wraps a single record.
func RecordValue(r *storage.Record) Value {
	if r == nil {
		return None()
	}
	return Value{kind: ValueRecord, record: r}
}

// RecordsValue wraps an ordered record list. A nil list becomes an empty one.
func RecordsValue(rs []*storage.Record) Value {
	if rs == nil {
		rs = []*storage.Record{}
	}
	return Value{kind: ValueRecords, records: rs}
}

// Scalar wraps any non-record value.
func Scalar(v any) Value { return Value{kind: ValueScalar, scalar: v} }

// Kind reports which variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsNone reports whether v holds nothing.
func (v Value) IsNone() bool { return v.kind == ValueNone }

// Record returns the record of a ValueRecord, or nil.
func (v Value) Record() *storage.Record { return v.record }

// Records returns the records of v: the list for ValueRecords, a one-element
// list for ValueRecord, and nil otherwise.
func (v Value) Records() []*storage.Record {
	switch v.kind {
	case ValueRecords:
		return v.records
	case ValueRecord:
		return []*storage.Record{v.record}
	}
	return nil
}

// Scalar returns the scalar of a ValueScalar, or nil.
func (v Value) Scalar() any { return v.scalar }

// Interface returns v as a plain Go value: *storage.Record,
// []*storage.Record, the scalar, or nil.
func (v Value) Interface() any {
	switch v.kind {
	case ValueRecord:
		return v.record
	case ValueRecords:
		return v.records
	case ValueScalar:
		return v.scalar
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case ValueRecord:
		return v.record.ID.String()
	case ValueRecords:
		return fmt.Sprintf("%d records", len(v.records))
	case ValueScalar:
		return fmt.Sprintf("%v", v.scalar)
	}
	return "none"
}

// valueOf converts an evaluated expression back into a Value.
func valueOf(x any) Value {
	switch val := x.(type) {
	case nil:
		return None()
	case Value:
		return val
	case *storage.Record:
		return RecordValue(val)
	case []*storage.Record:
		return RecordsValue(val)
	case []any:
		if len(val) == 0 {
			return Scalar(val)
		}
		recs := make([]*storage.Record, 0, len(val))
		for _, item := range val {
			r, ok := item.(*storage.Record)
			if !ok {
				return Scalar(val)
			}
			recs = append(recs, r)
		}
		return RecordsValue(recs)
	}
	return Scalar(x)
}
