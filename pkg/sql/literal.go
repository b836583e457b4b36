package sql

import (
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnsupportedValue is returned by FormatLiteral for values that have no
// literal form.
var ErrUnsupportedValue = errors.New("value has no literal form")

// RecordRef is implemented by record identifiers that format as bare #rid
// literals instead of strings.
type RecordRef interface {
	RecordRef() string
}

// FormatLiteral renders v as statement-language literal text. Lexing and
// evaluating the result yields a value equal to v: strings keep every byte,
// including quotes and backslashes; integers come back as int64 and floats as
// float64; map keys are emitted in sorted order.
func FormatLiteral(v any) (string, error) {
	var b strings.Builder
	if err := writeLiteral(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeLiteral(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		QuoteString(b, val)
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint:
		return writeUint(b, uint64(val))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		return writeUint(b, val)
	case float32:
		return writeFloat(b, float64(val))
	case float64:
		return writeFloat(b, val)
	case time.Time:
		QuoteString(b, val.Format(time.RFC3339Nano))
	case RecordRef:
		b.WriteString(val.RecordRef())
	case []any:
		return writeList(b, len(val), func(i int) any { return val[i] })
	case []string:
		return writeList(b, len(val), func(i int) any { return val[i] })
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		return writeMap(b, keys, func(k string) any { return val[k] })
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		return writeMap(b, keys, func(k string) any { return val[k] })
	default:
		return writeReflect(b, v)
	}
	return nil
}

// writeReflect handles other slice and string-keyed map types.
func writeReflect(b *strings.Builder, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		return writeList(b, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		return writeMap(b, keys, func(k string) any {
			return rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()
		})
	case reflect.Pointer:
		if rv.IsNil() {
			b.WriteString("null")
			return nil
		}
		return writeLiteral(b, rv.Elem().Interface())
	}
	return errors.Wrapf(ErrUnsupportedValue, "%T", v)
}

func writeUint(b *strings.Builder, n uint64) error {
	if n > math.MaxInt64 {
		return errors.Wrapf(ErrUnsupportedValue, "integer %d overflows int64", n)
	}
	b.WriteString(strconv.FormatUint(n, 10))
	return nil
}

func writeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.Wrapf(ErrUnsupportedValue, "float %v", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		// Keep the value a float when read back.
		s += ".0"
	}
	b.WriteString(s)
	return nil
}

func writeList(b *strings.Builder, n int, item func(int) any) error {
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := writeLiteral(b, item(i)); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writeMap(b *strings.Builder, keys []string, value func(string) any) error {
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		QuoteString(b, k)
		b.WriteString(": ")
		if err := writeLiteral(b, value(k)); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// QuoteString writes s as a double-quoted literal. Only the backslash, the
// double quote and control characters are escaped, so the lexer's decoding
// is its exact inverse.
func QuoteString(b *strings.Builder, s string) {
	const hex = "0123456789abcdef"
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hex[c>>4])
				b.WriteByte(hex[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}
