package batch

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shape is the part of a Statement that survives Format.
type shape struct {
	Kind    StatementKind
	Control Control
	Name    string
	Body    string
	Retry   int
}

func shapes(stmts []Statement) []shape {
	out := make([]shape, len(stmts))
	for i, s := range stmts {
		out[i] = shape{Kind: s.Kind, Control: s.Control, Name: s.Name, Body: s.Body, Retry: s.Retry}
	}
	return out
}

func TestTokenizeClassifies(t *testing.T) {
	script := "begin transaction\n" +
		"let $a = INSERT INTO P SET n = 1; LET b = SELECT FROM P\n" +
		"\n" +
		"UPDATE P SET n = 2\n" +
		"commit retry 3\n" +
		"return $a"

	stmts, err := Tokenize(script)
	require.NoError(t, err)

	want := []shape{
		{Kind: StmtControl, Control: ControlBegin},
		{Kind: StmtLet, Name: "a", Body: "INSERT INTO P SET n = 1"},
		{Kind: StmtLet, Name: "b", Body: "SELECT FROM P"},
		{Kind: StmtPlain, Body: "UPDATE P SET n = 2"},
		{Kind: StmtControl, Control: ControlCommit, Retry: 3},
		{Kind: StmtReturn, Body: "$a"},
	}
	if diff := cmp.Diff(want, shapes(stmts)); diff != "" {
		t.Fatalf("statements mismatch (-want +got):\n%s", diff)
	}

	var lines, indexes []int
	for _, s := range stmts {
		lines = append(lines, s.Line)
		indexes = append(indexes, s.Index)
	}
	assert.Equal(t, []int{1, 2, 2, 4, 5, 6}, lines)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, indexes)
}

func TestTokenizeIgnoresSeparatorsInLiteralsAndGroups(t *testing.T) {
	script := "INSERT INTO P SET s = 'a;b\nc', m = {\"k\": [1,\n2]} /* x;\ny */\n" +
		"SELECT FROM P -- tail; comment\n"

	stmts, err := Tokenize(script)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.Equal(t, "INSERT INTO P SET s = 'a;b\nc', m = {\"k\": [1,\n2]}", stmts[0].Body)
	assert.Equal(t, 1, stmts[0].Line)
	assert.Equal(t, "SELECT FROM P", stmts[1].Body)
	assert.Equal(t, 5, stmts[1].Line)
}

func TestTokenizeEmpty(t *testing.T) {
	stmts, err := Tokenize(" \n;\n  ;; -- nothing here\n")
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

func TestTokenizeStructureErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"begin without end", "BEGIN\nINSERT INTO P SET a = 1"},
		{"commit without begin", "INSERT INTO P SET a = 1\nCOMMIT"},
		{"rollback without begin", "ROLLBACK"},
		{"nested begin", "BEGIN\nBEGIN\nCOMMIT"},
		{"let without name", "LET = SELECT FROM P"},
		{"let without equals", "LET $a SELECT FROM P"},
		{"let without statement", "LET $a ="},
		{"let with numeric name", "LET $1a = SELECT FROM P"},
		{"return without expression", "RETURN"},
		{"return not last", "RETURN $a\nSELECT FROM P"},
		{"statement after commit", "BEGIN\nCOMMIT\nSELECT FROM P"},
		{"zero retry", "BEGIN\nCOMMIT RETRY 0"},
		{"non numeric retry", "BEGIN\nCOMMIT RETRY x"},
		{"junk after begin", "BEGIN foo\nCOMMIT"},
		{"junk after commit", "BEGIN\nCOMMIT now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.script)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax), "got %v", err)

			var se *SyntaxError
			require.True(t, errors.As(err, &se))
			assert.Positive(t, se.Line)
		})
	}
}

func TestTokenizeFormatIdempotent(t *testing.T) {
	scripts := []string{
		"BEGIN\nLET $a = INSERT INTO P SET email = '123' -- first\nLET b = SELECT FROM P WHERE x = 'y;z'\nCREATE EDGE E FROM $a TO $b\nCOMMIT RETRY 2\nRETURN [$a, $b]",
		"INSERT INTO P CONTENT {\n  \"a\": [1, 2],\n  \"b\": {\"c\": 'd'}\n}; UPDATE P SET a = 1 /* inline */ WHERE b IS NULL",
		"LET $x = 5\nRETURN $x",
		"begin; update P set n = 1; rollback",
	}
	for _, script := range scripts {
		first, err := Tokenize(script)
		require.NoError(t, err, script)

		second, err := Tokenize(Format(first))
		require.NoError(t, err, Format(first))

		if diff := cmp.Diff(shapes(first), shapes(second)); diff != "" {
			t.Errorf("re-tokenized script differs (-first +second):\n%s\nformatted:\n%s", diff, Format(first))
		}
	}
}

func TestStatementString(t *testing.T) {
	assert.Equal(t, "COMMIT RETRY 4", Statement{Kind: StmtControl, Control: ControlCommit, Retry: 4}.String())
	assert.Equal(t, "ROLLBACK", Statement{Kind: StmtControl, Control: ControlRollback}.String())
	assert.Equal(t, "LET $v = SELECT FROM P", Statement{Kind: StmtLet, Name: "v", Body: "SELECT FROM P"}.String())
	assert.Equal(t, "RETURN $v", Statement{Kind: StmtReturn, Body: "$v"}.String())
	assert.Equal(t, "Let", StmtLet.String())
}
