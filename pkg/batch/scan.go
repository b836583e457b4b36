package batch

import "strings"

// spanKind classifies a run of script text.
type spanKind uint8

const (
	spanCode    spanKind = iota // one byte of statement text
	spanString                  // a whole '...' or "..." literal, or a `...` identifier
	spanComment                 // a whole --, // or /* */ comment
)

// scanner walks script text in spans so that separators, parameter markers
// and brackets inside string literals, backtick identifiers and comments are
// never mistaken for code. Strings use backslash escapes; an unterminated
// string or comment runs to the end of the text and is left for the parser
// to reject.
type scanner struct {
	s   string
	pos int
}

func (sc *scanner) next() (kind spanKind, start, end int, ok bool) {
	s, i := sc.s, sc.pos
	if i >= len(s) {
		return 0, 0, 0, false
	}
	kind, end = spanCode, i+1
	switch c := s[i]; {
	case c == '\'' || c == '"':
		kind, end = spanString, skipQuoted(s, i)
	case c == '`':
		kind, end = spanString, len(s)
		if j := strings.IndexByte(s[i+1:], '`'); j >= 0 {
			end = i + j + 2
		}
	case (c == '-' || c == '/') && i+1 < len(s) && s[i+1] == c:
		kind, end = spanComment, len(s)
		if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
			end = i + j
		}
	case c == '/' && i+1 < len(s) && s[i+1] == '*':
		kind, end = spanComment, len(s)
		if j := strings.Index(s[i+2:], "*/"); j >= 0 {
			end = i + j + 4
		}
	}
	sc.pos = end
	return kind, i, end, true
}

// skipTo moves the scanner forward to pos.
func (sc *scanner) skipTo(pos int) {
	if pos > sc.pos {
		sc.pos = pos
	}
}

// skipQuoted returns the index just past the literal that opens at s[i].
func skipQuoted(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(s)
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}
