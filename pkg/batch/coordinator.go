// Package batch runs scripts of statements as atomic transactional units.
//
// A script is a sequence of statements separated by newlines or ';':
//
//	BEGIN
//	LET $a = INSERT INTO Person SET email = :email
//	LET $b = SELECT FROM Person WHERE name = 'nobody'
//	CREATE EDGE Knows FROM $a TO $b
//	COMMIT RETRY 3
//	RETURN $a
//
// :name markers are replaced by caller parameters before a statement is
// parsed, $name references read variables bound by earlier LET statements,
// and the first failure anywhere rolls back every mutation since BEGIN. The
// edge above has an empty TO set, so the whole batch fails with a
// ReferentialIntegrityError and the inserted Person never becomes visible.
//
// Example:
//
//	c := batch.NewCoordinator(storage.NewMemoryEngine())
//	res, err := c.Run(ctx, script, map[string]any{"email": "123"})
//	if err != nil {
//		var se *batch.StatementError
//		if errors.As(err, &se) {
//			log.Printf("statement %d failed: %s", se.Index, se.Kind())
//		}
//		return err
//	}
//	fmt.Println(res.Value)
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/nornicbatch/pkg/storage"
)

// Logger receives structured diagnostics.
type Logger = storage.Logger

// TxState is the transaction state of a batch. It only moves forward:
// NotStarted, then Active, then Committed or RolledBack.
type TxState int

const (
	NotStarted TxState = iota
	Active
	Committed
	RolledBack
)

func (s TxState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Active:
		return "Active"
	case Committed:
		return "Committed"
	case RolledBack:
		return "RolledBack"
	}
	return fmt.Sprintf("TxState(%d)", int(s))
}

// Result is the outcome of a batch.
type Result struct {
	Value    Value
	State    TxState
	Executed int    // statements completed, control statements included
	Retries  int    // COMMIT RETRY re-executions
	TxID     string // last transaction opened, if any
}

// Coordinator drives batches against an engine. It is safe for concurrent
// use; every Run gets its own variables, binder and transaction.
type Coordinator struct {
	engine        storage.Engine
	exec          *StatementExecutor
	logger        Logger
	cache         *ScriptCache
	defaultRetry  int
	maxStatements int
	timeout       time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCache caches tokenized scripts.
func WithCache(cache *ScriptCache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

// WithDefaultRetry sets the commit retry count used when a transaction
// does not give its own COMMIT RETRY.
func WithDefaultRetry(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.defaultRetry = n
		}
	}
}

// WithMaxStatements rejects scripts longer than n statements. 0 means no limit.
func WithMaxStatements(n int) Option {
	return func(c *Coordinator) { c.maxStatements = n }
}

// WithTimeout bounds every Run. 0 means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// NewCoordinator returns a coordinator over engine.
func NewCoordinator(engine storage.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine: engine,
		exec:   NewStatementExecutor(),
		logger: storage.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run tokenizes script and executes it with params.
//
// A malformed script fails before any transaction is opened and returns the
// *SyntaxError. Every later failure is a *StatementError naming the failing
// statement; by then the transaction has been rolled back.
func (c *Coordinator) Run(ctx context.Context, script string, params map[string]any) (*Result, error) {
	var (
		stmts []Statement
		err   error
	)
	if c.cache != nil {
		stmts, err = c.cache.Tokenize(script)
	} else {
		stmts, err = Tokenize(script)
	}
	if err != nil {
		return &Result{State: NotStarted}, err
	}
	return c.Execute(ctx, stmts, params)
}

// Execute runs already tokenized statements.
func (c *Coordinator) Execute(ctx context.Context, stmts []Statement, params map[string]any) (*Result, error) {
	if err := validateStructure(stmts); err != nil {
		return &Result{State: NotStarted}, err
	}
	if c.maxStatements > 0 && len(stmts) > c.maxStatements {
		return &Result{State: NotStarted}, &SyntaxError{
			Msg: fmt.Sprintf("batch has %d statements, limit is %d", len(stmts), c.maxStatements),
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	vars := NewVariableBindingContext()
	r := &batchRun{
		c:        c,
		ctx:      ctx,
		binder:   NewParameterBinder(params),
		vars:     vars,
		resolver: NewReturnValueResolver(vars),
		result:   &Result{State: NotStarted},
	}
	// Variables never outlive the batch, whatever the outcome.
	defer vars.Reset()

	start := time.Now()
	err := r.run(stmts)
	fields := map[string]any{
		"statements": len(stmts),
		"executed":   r.result.Executed,
		"state":      r.result.State.String(),
		"retries":    r.result.Retries,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["kind"] = KindOf(err)
		c.logger.Log(storage.LevelWarn, "batch failed", fields)
		return r.result, err
	}
	c.logger.Log(storage.LevelDebug, "batch finished", fields)
	return r.result, nil
}

// batchRun is the state of one Execute call.
type batchRun struct {
	c        *Coordinator
	ctx      context.Context
	binder   *ParameterBinder
	vars     *VariableBindingContext
	resolver *ReturnValueResolver
	result   *Result
}

// run executes the script as one transaction. Statements before BEGIN join
// the BEGIN block, so a failure anywhere leaves none of the batch's writes
// behind; without BEGIN the whole script is one implicit transaction.
func (r *batchRun) run(stmts []Statement) error {
	body := stmts
	var ret *Statement
	if n := len(stmts); n > 0 && stmts[n-1].Kind == StmtReturn {
		body, ret = stmts[:n-1], &stmts[n-1]
	}

	end := -1
	for i, st := range body {
		if st.Kind == StmtControl && st.Control != ControlBegin {
			end = i
		}
	}

	if end < 0 {
		if len(body) > 0 {
			if err := r.transact(body, nil, r.c.defaultRetry); err != nil {
				return err
			}
		}
	} else {
		endStmt := &body[end]
		retry := endStmt.Retry
		if retry == 0 {
			retry = r.c.defaultRetry
		}
		// BEGIN stays in the slice; step counts it without doing anything.
		if err := r.transact(body[:end], endStmt, retry); err != nil {
			return err
		}
		r.result.Executed++ // COMMIT or ROLLBACK
	}

	if ret == nil {
		r.result.Value = r.resolver.Last()
		return nil
	}
	text, err := r.binder.Bind(ret.Body)
	if err != nil {
		return r.stmtErr(ret, err)
	}
	v, err := r.resolver.Resolve(r.ctx, text)
	if err != nil {
		return r.stmtErr(ret, err)
	}
	r.result.Value = v
	r.result.Executed++
	return nil
}

// transact runs body in one transaction and finishes it with end: COMMIT,
// ROLLBACK, or an implicit commit when end is nil. A commit that loses a
// write conflict re-runs body from the same starting variables up to retry
// more times.
func (r *batchRun) transact(body []Statement, end *Statement, retry int) error {
	saved := r.vars.snapshot()
	mark := r.binder.mark()
	last := r.resolver.Last()
	executed := r.result.Executed

	for attempt := 0; ; attempt++ {
		conflict, err := r.attempt(body, end)
		if err == nil {
			return nil
		}
		if !conflict || attempt >= retry || r.ctx.Err() != nil {
			return err
		}
		r.c.logger.Log(storage.LevelInfo, "retrying batch transaction after write conflict", map[string]any{
			"attempt": attempt + 1,
			"retry":   retry,
			"tx":      r.result.TxID,
		})
		r.vars.restore(saved)
		r.binder.rewind(mark)
		r.resolver.Observe(last)
		r.result.Executed = executed
		r.result.Retries++
	}
}

// attempt opens a transaction, runs body and finishes the transaction.
// conflict reports a commit that failed with storage.ErrConflict.
func (r *batchRun) attempt(body []Statement, end *Statement) (conflict bool, err error) {
	if err := r.ctx.Err(); err != nil {
		return false, r.stmtErr(first(body, end), err)
	}
	tx, err := r.c.engine.Begin(r.ctx)
	if err != nil {
		return false, r.stmtErr(first(body, end), engineError("begin", err))
	}
	r.result.TxID = tx.ID()
	r.result.State = Active
	r.c.logger.Log(storage.LevelDebug, "batch transaction started", map[string]any{"tx": tx.ID()})

	finished := false
	current := first(body, end)
	defer func() {
		if p := recover(); p != nil {
			conflict = false
			err = r.stmtErr(current, &EngineExecutionError{Op: "execute", Err: errors.Newf("panic: %v", p)})
		}
		// Guard for panics and any path that did not finish the transaction.
		if !finished {
			r.rollback(tx, err)
		}
	}()

	for i := range body {
		st := &body[i]
		current = st
		if err := r.ctx.Err(); err != nil {
			return false, r.fail(tx, &finished, st, err)
		}
		if err := r.step(tx, st); err != nil {
			return false, r.fail(tx, &finished, st, err)
		}
		r.result.Executed++
	}

	if err := r.ctx.Err(); err != nil {
		return false, r.fail(tx, &finished, end, err)
	}
	if end != nil && end.Control == ControlRollback {
		finished = true
		r.rollback(tx, nil)
		return false, nil
	}

	ops := tx.OperationCount()
	current = end
	err = tx.Commit()
	finished = true
	if err != nil {
		// A failed commit releases the transaction; nothing is left to roll back.
		r.result.State = RolledBack
		r.c.logger.Log(storage.LevelWarn, "batch commit failed", map[string]any{"tx": tx.ID(), "error": err.Error()})
		return errors.Is(err, storage.ErrConflict), r.stmtErr(end, engineError("commit", err))
	}
	r.result.State = Committed
	r.c.logger.Log(storage.LevelDebug, "batch transaction committed", map[string]any{"tx": tx.ID(), "operations": ops})
	return false, nil
}

// step binds parameters into one statement and executes it.
func (r *batchRun) step(tx storage.Transaction, st *Statement) error {
	text, err := r.binder.Bind(st.Body)
	if err != nil {
		return err
	}
	switch st.Kind {
	case StmtLet:
		var v Value
		if isStatement(text) {
			v, err = r.c.exec.Execute(r.ctx, tx, r.vars, text)
		} else {
			v, err = r.c.exec.Evaluate(r.ctx, tx, r.vars, text)
		}
		if err != nil {
			return err
		}
		r.vars.Bind(st.Name, v)
		r.resolver.Observe(v)
	case StmtPlain:
		v, err := r.c.exec.Execute(r.ctx, tx, r.vars, text)
		if err != nil {
			return err
		}
		r.resolver.Observe(v)
	case StmtControl:
		if st.Control == ControlBegin {
			return nil
		}
		return &SyntaxError{Line: st.Line, Msg: st.Kind.String() + " statement out of place"}
	case StmtReturn:
		return &SyntaxError{Line: st.Line, Msg: st.Kind.String() + " statement out of place"}
	}
	return nil
}

// fail rolls the transaction back and wraps the cause.
func (r *batchRun) fail(tx storage.Transaction, finished *bool, st *Statement, cause error) error {
	*finished = true
	err := r.stmtErr(st, cause)
	r.rollback(tx, err)
	return err
}

// rollback is the single rollback operation, used both for an explicit
// ROLLBACK (cause nil) and for failures.
func (r *batchRun) rollback(tx storage.Transaction, cause error) {
	fields := map[string]any{"tx": tx.ID(), "operations": tx.OperationCount()}
	if err := tx.Rollback(); err != nil && !errors.Is(err, storage.ErrTxDone) {
		fields["rollback_error"] = err.Error()
	}
	r.result.State = RolledBack
	level := storage.LevelDebug
	if cause != nil {
		level = storage.LevelInfo
		fields["cause"] = cause.Error()
	}
	r.c.logger.Log(level, "batch transaction rolled back", fields)
}

func (r *batchRun) stmtErr(st *Statement, err error) error {
	var se *StatementError
	if errors.As(err, &se) {
		return err
	}
	if st == nil {
		return &StatementError{Index: -1, Statement: "implicit commit", Err: err}
	}
	return &StatementError{Index: st.Index, Line: st.Line, Statement: st.Text, Err: err}
}

// first picks the statement to blame when a transaction fails before any
// statement ran.
func first(body []Statement, end *Statement) *Statement {
	if len(body) > 0 {
		return &body[0]
	}
	return end
}
