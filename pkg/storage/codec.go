package storage

import (
	"bytes"
	"encoding/gob"
	"math"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Field values are converted to a tagged tree before gob encoding so that
// value kinds survive the round trip exactly: empty lists stay empty lists,
// integers stay int64, and links stay RecordID.

type wireKind uint8

const (
	wireNull wireKind = iota
	wireBool
	wireInt
	wireFloat
	wireString
	wireLink
	wireList
	wireMap
)

type wireValue struct {
	Kind  wireKind
	B     bool
	I     int64
	F     float64
	S     string
	List  []wireValue
	Keys  []string
	Items []wireValue
}

type wireRecord struct {
	ID      string
	Class   string
	Out     string
	In      string
	Version uint64
	Fields  wireValue
}

func toWire(v any) (wireValue, error) {
	switch val := v.(type) {
	case nil:
		return wireValue{Kind: wireNull}, nil
	case bool:
		return wireValue{Kind: wireBool, B: val}, nil
	case int:
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case int8:
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case int16:
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case int32:
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case int64:
		return wireValue{Kind: wireInt, I: val}, nil
	case uint8:
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case uint16:
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case uint32:
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case uint64:
		if val > math.MaxInt64 {
			return wireValue{}, errors.Wrapf(ErrInvalidData, "integer %d overflows int64", val)
		}
		return wireValue{Kind: wireInt, I: int64(val)}, nil
	case float32:
		return wireValue{Kind: wireFloat, F: float64(val)}, nil
	case float64:
		return wireValue{Kind: wireFloat, F: val}, nil
	case string:
		return wireValue{Kind: wireString, S: val}, nil
	case RecordID:
		return wireValue{Kind: wireLink, S: string(val)}, nil
	case []any:
		w := wireValue{Kind: wireList, List: make([]wireValue, len(val))}
		for i, item := range val {
			iw, err := toWire(item)
			if err != nil {
				return wireValue{}, err
			}
			w.List[i] = iw
		}
		return w, nil
	case map[string]any:
		w := wireValue{Kind: wireMap, Keys: make([]string, 0, len(val)), Items: make([]wireValue, 0, len(val))}
		for _, k := range sortedKeys(val) {
			iw, err := toWire(val[k])
			if err != nil {
				return wireValue{}, err
			}
			w.Keys = append(w.Keys, k)
			w.Items = append(w.Items, iw)
		}
		return w, nil
	default:
		return wireValue{}, errors.Wrapf(ErrInvalidData, "unsupported field type %T", v)
	}
}

func fromWire(w wireValue) any {
	switch w.Kind {
	case wireBool:
		return w.B
	case wireInt:
		return w.I
	case wireFloat:
		return w.F
	case wireString:
		return w.S
	case wireLink:
		return RecordID(w.S)
	case wireList:
		out := make([]any, len(w.List))
		for i, item := range w.List {
			out[i] = fromWire(item)
		}
		return out
	case wireMap:
		out := make(map[string]any, len(w.Keys))
		for i, k := range w.Keys {
			out[k] = fromWire(w.Items[i])
		}
		return out
	default:
		return nil
	}
}

// encodeRecord serializes a Record using gob over the tagged value tree.
func encodeRecord(r *Record) ([]byte, error) {
	fields, err := toWire(r.Fields)
	if err != nil {
		return nil, err
	}
	wr := wireRecord{
		ID:      string(r.ID),
		Class:   r.Class,
		Out:     string(r.Out),
		In:      string(r.In),
		Version: r.Version,
		Fields:  fields,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord deserializes a Record from gob.
func decodeRecord(data []byte) (*Record, error) {
	var wr wireRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wr); err != nil {
		return nil, err
	}
	fields, _ := fromWire(wr.Fields).(map[string]any)
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Record{
		ID:      RecordID(wr.ID),
		Class:   wr.Class,
		Out:     RecordID(wr.Out),
		In:      RecordID(wr.In),
		Version: wr.Version,
		Fields:  fields,
	}, nil
}

func encodeClass(def *ClassDef) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(def); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeClass(data []byte) (*ClassDef, error) {
	var def ClassDef
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&def); err != nil {
		return nil, err
	}
	if def.Properties == nil {
		def.Properties = make(map[string]PropertyType)
	}
	return &def, nil
}

func sortedKeys(m map[string]any) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
