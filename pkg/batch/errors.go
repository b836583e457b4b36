package batch

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error kinds. Every error returned by a batch matches exactly one of these
// with errors.Is, or a context error when the caller cancelled.
var (
	ErrSyntax               = errors.New("syntax error")
	ErrUnboundParameter     = errors.New("unbound parameter")
	ErrInvalidParameter     = errors.New("invalid parameter value")
	ErrUnboundVariable      = errors.New("unbound variable")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrEngineExecution      = errors.New("engine execution failed")
)

// SyntaxError reports a malformed script or statement. Err holds the parser
// error, if any.
type SyntaxError struct {
	Line int
	Msg  string
	Err  error
}

func (e *SyntaxError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("syntax error at line %d: %s", e.Line, msg)
	}
	return "syntax error: " + msg
}

func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }
func (e *SyntaxError) Unwrap() error        { return e.Err }

// UnboundParameterError names a parameter marker with no supplied value.
// Positional markers are named by their index ("0", "1", ...).
type UnboundParameterError struct {
	Name string
}

func (e *UnboundParameterError) Error() string {
	return fmt.Sprintf("unbound parameter :%s", e.Name)
}

func (e *UnboundParameterError) Is(target error) bool { return target == ErrUnboundParameter }

// InvalidParameterError reports a parameter value with no literal form.
type InvalidParameterError struct {
	Name string
	Err  error
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("parameter :%s: %v", e.Name, e.Err)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }
func (e *InvalidParameterError) Unwrap() error        { return e.Err }

// UnboundVariableError names a $variable that no LET has bound.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable $%s", e.Name)
}

func (e *UnboundVariableError) Is(target error) bool { return target == ErrUnboundVariable }

// ReferentialIntegrityError is raised when an edge endpoint resolves to no record.
type ReferentialIntegrityError struct {
	Endpoint string // "FROM" or "TO"
	Target   string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("edge %s endpoint %s resolved to no records", e.Endpoint, e.Target)
}

func (e *ReferentialIntegrityError) Is(target error) bool { return target == ErrReferentialIntegrity }

// EngineExecutionError wraps a storage failure for one operation.
type EngineExecutionError struct {
	Op  string
	Err error
}

func (e *EngineExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineExecutionError) Is(target error) bool { return target == ErrEngineExecution }
func (e *EngineExecutionError) Unwrap() error        { return e.Err }

func engineError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineExecutionError{Op: op, Err: err}
}

// StatementError is the terminal error of a failed batch. It identifies the
// failing statement and wraps the original error unchanged. Index is the
// statement's position in the script, or -1 for the implicit commit.
type StatementError struct {
	Index     int
	Line      int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("batch failed at %s: %v", e.Statement, e.Err)
	}
	return fmt.Sprintf("batch failed at statement %d (line %d) %q: %v", e.Index+1, e.Line, e.Statement, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Kind returns the error kind of the wrapped error.
func (e *StatementError) Kind() string { return KindOf(e.Err) }

// KindOf names the error kind of err: "SyntaxError", "UnboundParameterError",
// "InvalidParameterError", "UnboundVariableError", "ReferentialIntegrityError",
// "EngineExecutionError", "Canceled", or "" when err matches none of them.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSyntax):
		return "SyntaxError"
	case errors.Is(err, ErrUnboundParameter):
		return "UnboundParameterError"
	case errors.Is(err, ErrInvalidParameter):
		return "InvalidParameterError"
	case errors.Is(err, ErrUnboundVariable):
		return "UnboundVariableError"
	case errors.Is(err, ErrReferentialIntegrity):
		return "ReferentialIntegrityError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	case errors.Is(err, ErrEngineExecution):
		return "EngineExecutionError"
	}
	return ""
}
