package storage

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecord_PreservesValueShapes(t *testing.T) {
	rec := &Record{
		ID:      NewRecordID(),
		Class:   "Doc",
		Version: 3,
		Fields: map[string]any{
			"empty":  []any{},
			"small":  int(7),
			"big":    int64(1) << 60,
			"ratio":  0.25,
			"flag":   true,
			"none":   nil,
			"link":   RecordID("#abc"),
			"quoted": `foo"bar`,
			"themap": map[string]any{
				"one":   `<span class="foo">bar</span>`,
				"two":   `<span class=\"foo\">bar<\/span>`,
				"inner": map[string]any{"list": []any{int64(1), "x", []any{}}},
			},
		},
	}

	data, err := encodeRecord(rec)
	require.NoError(t, err)
	got, err := decodeRecord(data)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Version, got.Version)

	want := rec.Copy().Fields
	want["small"] = int64(7)
	if diff := cmp.Diff(want, got.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRecord_RejectsUnsupportedTypes(t *testing.T) {
	rec := NewRecord("Doc", map[string]any{"ch": make(chan int)})
	_, err := encodeRecord(rec)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte{0x02, 'b'}, prefixUpperBound([]byte{0x02, 'a'}))
	assert.Equal(t, []byte{0x03}, prefixUpperBound([]byte{0x02, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}

func TestParsePropertyType(t *testing.T) {
	typ, err := ParsePropertyType("long")
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, typ)
	assert.True(t, typ.Accepts(int64(3)))
	assert.False(t, typ.Accepts("3"))
	assert.True(t, typ.Accepts(nil))

	_, err = ParsePropertyType("blob")
	assert.ErrorIs(t, err, ErrSchema)
}
