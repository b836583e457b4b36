package batch

import (
	"context"

	"github.com/orneryd/nornicbatch/pkg/sql"
)

// ReturnValueResolver computes the final value of a batch.
type ReturnValueResolver struct {
	vars *VariableBindingContext
	last Value
}

// NewReturnValueResolver resolves against vars.
func NewReturnValueResolver(vars *VariableBindingContext) *ReturnValueResolver {
	return &ReturnValueResolver{vars: vars}
}

// Observe records the value of an executed statement. The latest call wins.
func (r *ReturnValueResolver) Observe(v Value) { r.last = v }

// Last is the most recently observed value.
func (r *ReturnValueResolver) Last() Value { return r.last }

// Resolve evaluates a RETURN expression. Only variables, their field paths
// and literals are available: the transaction is closed by the time it runs.
// With an empty expression the last observed value is returned.
func (r *ReturnValueResolver) Resolve(ctx context.Context, expr string) (Value, error) {
	if expr == "" {
		return r.last, nil
	}
	e, err := sql.ParseExpr(expr)
	if err != nil {
		return None(), &SyntaxError{Err: err}
	}
	env := &evalEnv{ctx: ctx, vars: r.vars}
	v, err := env.eval(e, nil)
	if err != nil {
		return None(), err
	}
	return valueOf(v), nil
}
