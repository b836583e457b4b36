package sql

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRID string

func (r testRID) RecordRef() string { return string(r) }

// constValue folds a literal expression tree back into a Go value.
func constValue(t *testing.T, e Expr) any {
	t.Helper()
	switch x := e.(type) {
	case *Literal:
		return x.Value
	case *RIDLiteral:
		return testRID(x.ID)
	case *ListExpr:
		out := make([]any, len(x.Items))
		for i, item := range x.Items {
			out[i] = constValue(t, item)
		}
		return out
	case *MapExpr:
		out := make(map[string]any, len(x.Keys))
		for i, k := range x.Keys {
			out[k] = constValue(t, x.Values[i])
		}
		return out
	}
	t.Fatalf("not a constant: %T", e)
	return nil
}

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	text, err := FormatLiteral(v)
	require.NoError(t, err)
	expr, err := ParseExpr(text)
	require.NoError(t, err, "literal %s", text)
	return constValue(t, expr)
}

func TestFormatLiteral_StringFidelity(t *testing.T) {
	cases := []string{
		"",
		`foo"bar`,
		`foo\"bar`,
		`it's`,
		`<span class="foo">bar</span>`,
		`<span class=\"foo\">bar<\/span>`,
		`back\slash\`,
		"tab\tnew\nline\rcr",
		"\x00\x01\x1f",
		"unicode ☃ 日本",
		`A is not decoded twice`,
		"-- not a comment",
		"/* nor this */",
		"semi;colon",
		":param and ? markers",
		"$variable #rid",
	}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			assert.Equal(t, s, roundTrip(t, s))
		})
	}
}

func TestFormatLiteral_Numbers(t *testing.T) {
	assert.Equal(t, int64(42), roundTrip(t, 42))
	assert.Equal(t, int64(-7), roundTrip(t, int32(-7)))
	assert.Equal(t, int64(math.MinInt64), roundTrip(t, int64(math.MinInt64)))
	assert.Equal(t, int64(math.MaxInt64), roundTrip(t, uint64(math.MaxInt64)))
	assert.Equal(t, 3.0, roundTrip(t, 3.0))
	assert.Equal(t, -0.5, roundTrip(t, -0.5))
	assert.Equal(t, 1e21, roundTrip(t, 1e21))
	assert.Equal(t, 1e-9, roundTrip(t, 1e-9))

	_, err := FormatLiteral(math.NaN())
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	_, err = FormatLiteral(uint64(math.MaxUint64))
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestFormatLiteral_Collections(t *testing.T) {
	nested := map[string]any{
		"one":   `<span class="foo">bar</span>`,
		"two":   `<span class=\"foo\">bar<\/span>`,
		"empty": map[string]any{},
		"list":  []any{int64(1), "x", nil, true, []any{}},
		"link":  testRID("#abc-1"),
		`k"ey`:  "v",
	}
	if diff := cmp.Diff(nested, roundTrip(t, nested)); diff != "" {
		t.Fatalf("map mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []any{"a", "b"}, roundTrip(t, []string{"a", "b"}))
	assert.Equal(t, []any{int64(1), int64(2)}, roundTrip(t, []int{1, 2}))
	assert.Equal(t, map[string]any{"a": "b"}, roundTrip(t, map[string]string{"a": "b"}))
	assert.Equal(t, []any{}, roundTrip(t, []any{}))
}

func TestFormatLiteral_SortedKeys(t *testing.T) {
	text, err := FormatLiteral(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"a": 2, "b": 1, "c": {"y": 2, "z": 1}}`, text)
}

func TestFormatLiteral_Unsupported(t *testing.T) {
	_, err := FormatLiteral(make(chan int))
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	_, err = FormatLiteral(map[int]string{1: "a"})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	_, err = FormatLiteral([]any{func() {}})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}
