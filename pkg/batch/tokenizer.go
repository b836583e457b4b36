package batch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// StatementKind is the closed set of statement classes.
type StatementKind int

const (
	StmtPlain StatementKind = iota
	StmtControl
	StmtLet
	StmtReturn
)

func (k StatementKind) String() string {
	switch k {
	case StmtPlain:
		return "Plain"
	case StmtControl:
		return "Control"
	case StmtLet:
		return "Let"
	case StmtReturn:
		return "Return"
	}
	return fmt.Sprintf("StatementKind(%d)", int(k))
}

// Control identifies a transaction-control statement.
type Control int

const (
	ControlNone Control = iota
	ControlBegin
	ControlCommit
	ControlRollback
)

func (c Control) String() string {
	switch c {
	case ControlBegin:
		return "BEGIN"
	case ControlCommit:
		return "COMMIT"
	case ControlRollback:
		return "ROLLBACK"
	}
	return ""
}

// Statement is one classified statement of a script.
type Statement struct {
	Index   int    // 0-based position in the script
	Line    int    // 1-based line where the statement starts
	Text    string // trimmed source text, comments removed
	Kind    StatementKind
	Control Control // Kind == StmtControl
	Name    string  // Kind == StmtLet, without the '$'
	Body    string  // LET right-hand side, RETURN expression, or the whole Plain text
	Retry   int     // COMMIT RETRY n
}

// String renders the statement in canonical form.
func (s Statement) String() string {
	switch s.Kind {
	case StmtControl:
		if s.Control == ControlCommit && s.Retry > 0 {
			return "COMMIT RETRY " + strconv.Itoa(s.Retry)
		}
		return s.Control.String()
	case StmtLet:
		return "LET $" + s.Name + " = " + s.Body
	case StmtReturn:
		return "RETURN " + s.Body
	}
	return s.Body
}

// Format renders statements back into script text. Tokenize(Format(stmts))
// yields the same classification sequence as stmts.
func Format(stmts []Statement) string {
	parts := make([]string, len(stmts))
	for i, s := range stmts {
		parts[i] = s.String()
	}
	return strings.Join(parts, ";\n")
}

type fragment struct {
	text string
	line int
}

// Tokenize splits a script into classified statements and validates its
// transaction structure.
//
// Statements are separated by newlines and ';'. Separators inside string
// literals, backtick identifiers, comments and (), [] or {} groups do not
// split, so a map or subquery may span several lines.
func Tokenize(script string) ([]Statement, error) {
	frags := splitScript(script)
	stmts := make([]Statement, 0, len(frags))
	for i, f := range frags {
		st, err := classify(f, i)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	if err := validateStructure(stmts); err != nil {
		return nil, err
	}
	return stmts, nil
}

func splitScript(script string) []fragment {
	var (
		frags     []fragment
		buf       strings.Builder
		depth     int
		line      = 1
		startLine int
	)
	flush := func() {
		if text := strings.TrimSpace(buf.String()); text != "" {
			frags = append(frags, fragment{text: text, line: startLine})
		}
		buf.Reset()
		startLine = 0
	}

	sc := &scanner{s: script}
	for {
		kind, start, end, ok := sc.next()
		if !ok {
			break
		}
		span := script[start:end]
		switch kind {
		case spanComment:
			line += strings.Count(span, "\n")
			buf.WriteByte(' ')
		case spanString:
			if startLine == 0 {
				startLine = line
			}
			buf.WriteString(span)
			line += strings.Count(span, "\n")
		case spanCode:
			c := span[0]
			if depth == 0 && (c == ';' || c == '\n') {
				flush()
				if c == '\n' {
					line++
				}
				continue
			}
			switch c {
			case '\n':
				line++
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				if depth > 0 {
					depth--
				}
			}
			if startLine == 0 && !isASCIISpace(c) {
				startLine = line
			}
			buf.WriteByte(c)
		}
	}
	flush()
	return frags
}

// leadingWord splits text into its first word and the remainder.
func leadingWord(text string) (word, rest string) {
	i := 0
	for i < len(text) && isWordByte(text[i]) {
		i++
	}
	return text[:i], text[i:]
}

func classify(f fragment, index int) (Statement, error) {
	st := Statement{Index: index, Line: f.line, Text: f.text, Kind: StmtPlain, Body: f.text}
	word, rest := leadingWord(f.text)
	rest = strings.TrimSpace(rest)

	syntaxErr := func(format string, args ...any) error {
		return &SyntaxError{Line: f.line, Msg: fmt.Sprintf(format, args...)}
	}

	switch strings.ToUpper(word) {
	case "BEGIN", "ROLLBACK":
		st.Kind, st.Body = StmtControl, ""
		st.Control = ControlBegin
		if strings.EqualFold(word, "ROLLBACK") {
			st.Control = ControlRollback
		}
		if rest != "" && !strings.EqualFold(rest, "TRANSACTION") {
			return st, syntaxErr("unexpected %q after %s", rest, st.Control)
		}
	case "COMMIT":
		st.Kind, st.Control, st.Body = StmtControl, ControlCommit, ""
		fields := strings.Fields(rest)
		if len(fields) > 0 && strings.EqualFold(fields[0], "TRANSACTION") {
			fields = fields[1:]
		}
		switch {
		case len(fields) == 0:
		case len(fields) == 2 && strings.EqualFold(fields[0], "RETRY"):
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				return st, syntaxErr("COMMIT RETRY needs a positive integer, got %q", fields[1])
			}
			st.Retry = n
		default:
			return st, syntaxErr("unexpected %q after COMMIT", rest)
		}
	case "RETURN":
		st.Kind, st.Body = StmtReturn, rest
		if rest == "" {
			return st, syntaxErr("RETURN without an expression")
		}
	case "LET":
		st.Kind = StmtLet
		name, body, err := parseLet(rest)
		if err != nil {
			return st, syntaxErr("%s", err.Error())
		}
		st.Name, st.Body = name, body
	}
	return st, nil
}

// parseLet splits "$name = statement".
func parseLet(rest string) (name, body string, err error) {
	s := strings.TrimPrefix(rest, "$")
	i := 0
	for i < len(s) && isWordByte(s[i]) {
		i++
	}
	name = s[:i]
	if name == "" {
		return "", "", errors.Newf("LET without a variable name")
	}
	if c := name[0]; c >= '0' && c <= '9' {
		return "", "", errors.Newf("invalid variable name %q", name)
	}
	s = strings.TrimSpace(s[i:])
	if !strings.HasPrefix(s, "=") {
		return "", "", errors.Newf("LET $%s without '='", name)
	}
	body = strings.TrimSpace(s[1:])
	if body == "" {
		return "", "", errors.Newf("LET $%s without a right-hand statement", name)
	}
	return name, body, nil
}

// validateStructure enforces the BEGIN/COMMIT/ROLLBACK/RETURN layout.
func validateStructure(stmts []Statement) error {
	begin, end := -1, -1
	for i, st := range stmts {
		bad := func(msg string) error {
			return &SyntaxError{Line: st.Line, Msg: msg}
		}
		if st.Kind == StmtReturn && i != len(stmts)-1 {
			return bad("RETURN must be the last statement")
		}
		if end >= 0 && st.Kind != StmtReturn {
			return bad(fmt.Sprintf("statement after %s", stmts[end].Control))
		}
		if st.Kind != StmtControl {
			continue
		}
		switch st.Control {
		case ControlBegin:
			if begin >= 0 {
				return bad("nested BEGIN")
			}
			begin = i
		case ControlCommit, ControlRollback:
			if begin < 0 {
				return bad(st.Control.String() + " without BEGIN")
			}
			end = i
		}
	}
	if begin >= 0 && end < 0 {
		return &SyntaxError{Line: stmts[begin].Line, Msg: "BEGIN without COMMIT or ROLLBACK"}
	}
	return nil
}
