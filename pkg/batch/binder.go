package batch

import (
	"strconv"
	"strings"

	"github.com/orneryd/nornicbatch/pkg/sql"
)

// ParameterBinder substitutes caller parameters into statement text.
//
// Named markers (:name) are replaced by the literal form of params[name].
// Positional markers (?) take params["0"], params["1"], ... in the order they
// appear across the whole batch. Markers inside string literals, backtick
// identifiers and comments are left alone.
//
// Substitution is textual but lossless: sql.FormatLiteral produces exactly
// the text that the statement lexer decodes back into the original value, so
// a string such as `foo\"bar` is stored byte for byte, at any nesting depth.
type ParameterBinder struct {
	params     map[string]any
	positional int
}

// NewParameterBinder returns a binder over params. params is never modified.
func NewParameterBinder(params map[string]any) *ParameterBinder {
	return &ParameterBinder{params: params}
}

// Bind returns text with every parameter marker substituted.
func (b *ParameterBinder) Bind(text string) (string, error) {
	if !strings.ContainsAny(text, ":?") {
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))
	sc := &scanner{s: text}
	for {
		kind, start, end, ok := sc.next()
		if !ok {
			break
		}
		if kind != spanCode {
			out.WriteString(text[start:end])
			continue
		}

		var name string
		switch c := text[start]; {
		case c == ':' && sql.IsParamMarkerAt(text, start):
			j := start + 1
			for j < len(text) && sql.IsIdentByte(text[j]) {
				j++
			}
			name = text[start+1 : j]
			sc.skipTo(j)
		case c == '?':
			name = strconv.Itoa(b.positional)
			b.positional++
		default:
			out.WriteByte(c)
			continue
		}

		value, found := b.params[name]
		if !found {
			return "", &UnboundParameterError{Name: name}
		}
		literal, err := sql.FormatLiteral(value)
		if err != nil {
			return "", &InvalidParameterError{Name: name, Err: err}
		}
		out.WriteString(literal)
	}
	return out.String(), nil
}

// mark returns the positional cursor so a retried block can rewind it.
func (b *ParameterBinder) mark() int { return b.positional }

func (b *ParameterBinder) rewind(pos int) { b.positional = pos }
