package batch

import (
	"context"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/orneryd/nornicbatch/pkg/sql"
	"github.com/orneryd/nornicbatch/pkg/storage"
)

// evalEnv evaluates expressions for one statement. tx is nil when no
// transaction is open, which is the case for a RETURN after COMMIT; then only
// variables and literals can be evaluated.
type evalEnv struct {
	ctx  context.Context
	tx   storage.Transaction
	vars *VariableBindingContext
	exec *StatementExecutor
}

// eval evaluates e against rec (nil outside WHERE clauses and UPDATE values).
// Results are nil, bool, int64, float64, string, storage.RecordID, []any,
// map[string]any, *storage.Record or []*storage.Record.
func (env *evalEnv) eval(e sql.Expr, rec *storage.Record) (any, error) {
	switch x := e.(type) {
	case *sql.Literal:
		return x.Value, nil
	case *sql.RIDLiteral:
		return storage.RecordID(x.ID), nil
	case *sql.ListExpr:
		out := make([]any, 0, len(x.Items))
		for _, item := range x.Items {
			v, err := env.eval(item, rec)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *sql.MapExpr:
		out := make(map[string]any, len(x.Keys))
		for i, k := range x.Keys {
			v, err := env.eval(x.Values[i], rec)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case *sql.VarRef:
		v, err := env.vars.Get(x.Name)
		if err != nil {
			return nil, err
		}
		return navigate(v.Interface(), x.Path), nil
	case *sql.FieldRef:
		if rec == nil {
			return nil, &SyntaxError{Msg: "field " + strings.Join(x.Path, ".") + " referenced outside a record context"}
		}
		return navigate(rec, x.Path), nil
	case *sql.ParamRef:
		name := x.Name
		if name == "" {
			name = "?"
		}
		return nil, &UnboundParameterError{Name: name}
	case *sql.BinaryExpr:
		return env.binary(x, rec)
	case *sql.NotExpr:
		v, err := env.eval(x.X, rec)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case *sql.IsNullExpr:
		v, err := env.eval(x.X, rec)
		if err != nil {
			return nil, err
		}
		return (v == nil) != x.Not, nil
	case *sql.InExpr:
		v, err := env.eval(x.X, rec)
		if err != nil {
			return nil, err
		}
		list, err := env.eval(x.List, rec)
		if err != nil {
			return nil, err
		}
		return containsValue(list, v) != x.Not, nil
	case *sql.SubqueryExpr:
		if env.tx == nil {
			return nil, &SyntaxError{Msg: "subquery outside a transaction"}
		}
		v, err := env.exec.runSelect(env, x.Select)
		if err != nil {
			return nil, err
		}
		return v.Interface(), nil
	case *sql.CountExpr:
		return nil, &SyntaxError{Msg: "count(*) is only valid as a projection"}
	}
	return nil, &SyntaxError{Msg: "unsupported expression"}
}

func (env *evalEnv) binary(x *sql.BinaryExpr, rec *storage.Record) (any, error) {
	left, err := env.eval(x.Left, rec)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "AND":
		if !truthy(left) {
			return false, nil
		}
		right, err := env.eval(x.Right, rec)
		return truthy(right), err
	case "OR":
		if truthy(left) {
			return true, nil
		}
		right, err := env.eval(x.Right, rec)
		return truthy(right), err
	}

	right, err := env.eval(x.Right, rec)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "=":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	case "<", "<=", ">", ">=":
		c, ok := compareValues(left, right)
		if !ok {
			return false, nil
		}
		switch x.Op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		}
		return c >= 0, nil
	case "CONTAINS":
		return containsValue(left, right), nil
	case "LIKE":
		s, ok1 := left.(string)
		p, ok2 := right.(string)
		return ok1 && ok2 && likeMatch(s, p), nil
	}
	return nil, &SyntaxError{Msg: "unknown operator " + x.Op}
}

// navigate follows a field path through records, maps and lists. Applied to a
// list it projects every element.
func navigate(x any, path []string) any {
	for _, seg := range path {
		switch v := x.(type) {
		case *storage.Record:
			x, _ = v.Field(seg)
		case []*storage.Record:
			out := make([]any, len(v))
			for i, r := range v {
				out[i], _ = r.Field(seg)
			}
			x = out
		case map[string]any:
			x = v[seg]
		case []any:
			out := make([]any, len(v))
			for i, item := range v {
				out[i] = navigate(item, []string{seg})
			}
			x = out
		default:
			return nil
		}
	}
	return x
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// normalize maps values onto a small set of comparable shapes: records become
// their IDs and all numbers become int64 or float64.
func normalize(v any) any {
	switch x := v.(type) {
	case *storage.Record:
		return x.ID
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []*storage.Record:
		out := make([]any, len(x))
		for i, r := range x {
			out[i] = r.ID
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	}
	return v
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return cmp.Equal(normalize(a), normalize(b))
}

// compareValues orders two scalars of compatible type.
func compareValues(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, float64(y)), true
		case float64:
			return cmpOrdered(x, y), true
		}
	case string:
		switch y := b.(type) {
		case string:
			return strings.Compare(x, y), true
		case storage.RecordID:
			return strings.Compare(x, string(y)), true
		}
	case storage.RecordID:
		switch y := b.(type) {
		case storage.RecordID:
			return strings.Compare(string(x), string(y)), true
		case string:
			return strings.Compare(string(x), y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// containsValue reports whether container (list, record list, map or string)
// holds item.
func containsValue(container, item any) bool {
	switch c := normalize(container).(type) {
	case []any:
		for _, v := range c {
			if equalValues(v, item) {
				return true
			}
		}
	case map[string]any:
		if k, ok := item.(string); ok {
			_, found := c[k]
			return found
		}
	case string:
		if s, ok := item.(string); ok {
			return strings.Contains(c, s)
		}
	}
	return false
}

// likeMatch implements SQL LIKE with % (any run) and _ (any single rune).
func likeMatch(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	var match func(i, j int) bool
	match = func(i, j int) bool {
		for j < len(pr) {
			switch pr[j] {
			case '%':
				for k := i; k <= len(sr); k++ {
					if match(k, j+1) {
						return true
					}
				}
				return false
			case '_':
				if i >= len(sr) {
					return false
				}
			default:
				if i >= len(sr) || sr[i] != pr[j] {
					return false
				}
			}
			i++
			j++
		}
		return i == len(sr)
	}
	return match(0, 0)
}

// toField converts an evaluated value into something a record field can hold:
// records become links.
func toField(v any) any {
	switch x := v.(type) {
	case *storage.Record:
		return x.ID
	case []*storage.Record:
		out := make([]any, len(x))
		for i, r := range x {
			out[i] = r.ID
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = toField(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = toField(item)
		}
		return out
	}
	return v
}
