// Package sql parses the statement language used inside batch scripts.
//
// The language is a small record-oriented SQL dialect:
//
//	INSERT INTO Person SET name = 'Ada', tags = ['a', 'b']
//	CREATE EDGE Knows FROM $a TO (SELECT FROM Person WHERE name = 'Bob')
//	UPDATE Person ADD tags = 'c' WHERE name = 'Ada'
//	SELECT FROM Person WHERE age >= 18 ORDER BY name LIMIT 10
//
// Literal strings may be single- or double-quoted and use backslash escapes.
// FormatLiteral produces text that the lexer decodes back to exactly the
// original value, which is what makes textual parameter substitution lossless.
package sql

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// ErrSyntax marks every lexing and parsing failure.
var ErrSyntax = errors.New("syntax error")

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokString
	TokInt
	TokFloat
	TokParam    // :name or ?
	TokVariable // $name
	TokRID      // #id
	TokComma
	TokDot
	TokColon
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokLBrace
	TokRBrace
	TokStar
	TokMinus
	TokPlus
	TokEq
	TokNeq
	TokLt
	TokLte
	TokGt
	TokGte
)

var tokenNames = map[TokenKind]string{
	TokEOF: "end of statement", TokIdent: "identifier", TokString: "string", TokInt: "integer",
	TokFloat: "number", TokParam: "parameter", TokVariable: "variable", TokRID: "record id",
	TokComma: "','", TokDot: "'.'", TokColon: "':'", TokLParen: "'('", TokRParen: "')'",
	TokLBracket: "'['", TokRBracket: "']'", TokLBrace: "'{'", TokRBrace: "'}'", TokStar: "'*'",
	TokMinus: "'-'", TokPlus: "'+'", TokEq: "'='", TokNeq: "'!='", TokLt: "'<'", TokLte: "'<='",
	TokGt: "'>'", TokGte: "'>='",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return "token(" + strconv.Itoa(int(k)) + ")"
}

// Token is one lexical unit. For strings Text holds the decoded value; for
// parameters, variables and record IDs it holds the name without its sigil.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// Lex splits a statement into tokens.
func Lex(src string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case isSpace(c):
			i++
			continue
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			i = skipLine(src, i)
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			i = skipLine(src, i)
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, syntaxErrorf(i, "unterminated comment")
			}
			i += end + 4
			continue
		}

		start := i
		switch {
		case c == '\'' || c == '"':
			val, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokString, Text: val, Pos: start})
			i = next
		case c == '`':
			end := strings.IndexByte(src[i+1:], '`')
			if end < 0 {
				return nil, syntaxErrorf(i, "unterminated quoted identifier")
			}
			toks = append(toks, Token{Kind: TokIdent, Text: src[i+1 : i+1+end], Pos: start})
			i += end + 2
		case isDigit(c):
			tok, next := lexNumber(src, i)
			toks = append(toks, tok)
			i = next
		case isIdentStart(c) || (c == '@' && i+1 < len(src) && isIdentStart(src[i+1])):
			j := i + 1
			for j < len(src) && IsIdentByte(src[j]) {
				j++
			}
			toks = append(toks, Token{Kind: TokIdent, Text: src[i:j], Pos: start})
			i = j
		case c == '$':
			j := i + 1
			for j < len(src) && IsIdentByte(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, syntaxErrorf(i, "expected variable name after '$'")
			}
			toks = append(toks, Token{Kind: TokVariable, Text: src[i+1 : j], Pos: start})
			i = j
		case c == '#':
			j := i + 1
			for j < len(src) && isRIDByte(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, syntaxErrorf(i, "expected record id after '#'")
			}
			toks = append(toks, Token{Kind: TokRID, Text: src[i:j], Pos: start})
			i = j
		case c == ':' && IsParamMarkerAt(src, i):
			j := i + 1
			for j < len(src) && IsIdentByte(src[j]) {
				j++
			}
			toks = append(toks, Token{Kind: TokParam, Text: src[i+1 : j], Pos: start})
			i = j
		case c == '?':
			toks = append(toks, Token{Kind: TokParam, Text: "", Pos: start})
			i++
		default:
			kind, width := lexPunct(src, i)
			if width == 0 {
				r, _ := utf8.DecodeRuneInString(src[i:])
				return nil, syntaxErrorf(i, "unexpected character %q", r)
			}
			toks = append(toks, Token{Kind: kind, Text: src[i : i+width], Pos: start})
			i += width
		}
	}
	toks = append(toks, Token{Kind: TokEOF, Pos: len(src)})
	return toks, nil
}

func lexPunct(src string, i int) (TokenKind, int) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}
	switch two {
	case "!=", "<>":
		return TokNeq, 2
	case "<=":
		return TokLte, 2
	case ">=":
		return TokGte, 2
	case "==":
		return TokEq, 2
	}
	switch src[i] {
	case ',':
		return TokComma, 1
	case '.':
		return TokDot, 1
	case ':':
		return TokColon, 1
	case '(':
		return TokLParen, 1
	case ')':
		return TokRParen, 1
	case '[':
		return TokLBracket, 1
	case ']':
		return TokRBracket, 1
	case '{':
		return TokLBrace, 1
	case '}':
		return TokRBrace, 1
	case '*':
		return TokStar, 1
	case '-':
		return TokMinus, 1
	case '+':
		return TokPlus, 1
	case '=':
		return TokEq, 1
	case '<':
		return TokLt, 1
	case '>':
		return TokGt, 1
	}
	return TokEOF, 0
}

func lexNumber(src string, i int) (Token, int) {
	start := i
	kind := TokInt
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
		kind = TokFloat
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			kind = TokFloat
			i = j
			for i < len(src) && isDigit(src[i]) {
				i++
			}
		}
	}
	return Token{Kind: kind, Text: src[start:i], Pos: start}, i
}

// lexString decodes a quoted literal starting at src[i]. Recognised escapes
// are \\ \' \" \/ \n \r \t \b \f and \uXXXX; any other backslash sequence is
// kept verbatim.
func lexString(src string, i int) (string, int, error) {
	quote := src[i]
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		c := src[j]
		if c == quote {
			return b.String(), j + 1, nil
		}
		if c != '\\' || j+1 >= len(src) {
			b.WriteByte(c)
			j++
			continue
		}
		next := src[j+1]
		switch next {
		case '\\', '\'', '"', '/':
			b.WriteByte(next)
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if j+6 <= len(src) {
				if n, err := strconv.ParseUint(src[j+2:j+6], 16, 32); err == nil {
					b.WriteRune(rune(n))
					j += 6
					continue
				}
			}
			b.WriteString(`\u`)
		default:
			b.WriteByte('\\')
			b.WriteByte(next)
		}
		j += 2
	}
	return "", 0, syntaxErrorf(i, "unterminated string literal")
}

func skipLine(src string, i int) int {
	for i < len(src) && src[i] != '\n' {
		i++
	}
	return i
}

// IsParamMarkerAt reports whether the ':' at src[i] starts a named parameter.
// A marker must be followed by a letter or '_' and must not directly follow an
// identifier, a closing bracket, a quote, '.' or another ':', so map entries
// such as {a:b} or {"a":"b"} are never mistaken for parameters.
func IsParamMarkerAt(src string, i int) bool {
	if i >= len(src) || src[i] != ':' {
		return false
	}
	if i+1 >= len(src) || !isIdentStart(src[i+1]) {
		return false
	}
	if i == 0 {
		return true
	}
	switch prev := src[i-1]; {
	case IsIdentByte(prev):
		return false
	case prev == ':' || prev == '.' || prev == '"' || prev == '\'' || prev == '`':
		return false
	case prev == ')' || prev == ']' || prev == '}':
		return false
	}
	return true
}

// IsIdentByte reports whether b may appear inside an identifier.
func IsIdentByte(b byte) bool {
	return b >= 0x80 || isIdentStart(b) || isDigit(b)
}

func isIdentStart(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_' || b >= 0x80
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isRIDByte(b byte) bool {
	return IsIdentByte(b) || b == '-' || b == ':'
}

// SyntaxError describes a lexing or parsing failure at a byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return "syntax error at offset " + strconv.Itoa(e.Pos) + ": " + e.Msg
}

// Unwrap lets errors.Is match ErrSyntax.
func (e *SyntaxError) Unwrap() error { return ErrSyntax }

func syntaxErrorf(pos int, format string, args ...any) error {
	return errors.WithStack(&SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}
