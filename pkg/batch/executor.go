package batch

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/nornicbatch/pkg/sql"
	"github.com/orneryd/nornicbatch/pkg/storage"
)

// StatementExecutor runs one fully substituted statement on a transaction.
// $variables are resolved through the VariableBindingContext at execution
// time. All writes go through the transaction, so a rollback removes them.
type StatementExecutor struct{}

// NewStatementExecutor returns an executor.
func NewStatementExecutor() *StatementExecutor {
	return &StatementExecutor{}
}

// Execute parses text and runs it.
func (x *StatementExecutor) Execute(ctx context.Context, tx storage.Transaction, vars *VariableBindingContext, text string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return None(), err
	}
	stmt, err := sql.Parse(text)
	if err != nil {
		return None(), &SyntaxError{Err: err}
	}
	env := &evalEnv{ctx: ctx, tx: tx, vars: vars, exec: x}
	return x.run(env, stmt)
}

// Evaluate computes a standalone expression, as used by LET $x = <expr>.
func (x *StatementExecutor) Evaluate(ctx context.Context, tx storage.Transaction, vars *VariableBindingContext, text string) (Value, error) {
	expr, err := sql.ParseExpr(text)
	if err != nil {
		return None(), &SyntaxError{Err: err}
	}
	env := &evalEnv{ctx: ctx, tx: tx, vars: vars, exec: x}
	v, err := env.eval(expr, nil)
	if err != nil {
		return None(), err
	}
	return valueOf(v), nil
}

var statementKeywords = map[string]bool{
	"INSERT": true, "CREATE": true, "UPDATE": true, "DELETE": true, "SELECT": true,
}

// isStatement reports whether text starts with a statement keyword rather
// than being a bare expression.
func isStatement(text string) bool {
	word, _ := leadingWord(text)
	return statementKeywords[strings.ToUpper(word)]
}

func (x *StatementExecutor) run(env *evalEnv, stmt sql.Statement) (Value, error) {
	switch s := stmt.(type) {
	case *sql.InsertStmt:
		return x.insert(env, s)
	case *sql.CreateVertexStmt:
		return x.createVertex(env, s)
	case *sql.CreateEdgeStmt:
		return x.createEdge(env, s)
	case *sql.UpdateStmt:
		return x.update(env, s)
	case *sql.DeleteStmt:
		return x.delete(env, s)
	case *sql.SelectStmt:
		return x.runSelect(env, s)
	case *sql.CreateClassStmt:
		return x.createClass(env, s)
	case *sql.CreatePropertyStmt:
		return x.createProperty(env, s)
	}
	return None(), &SyntaxError{Msg: "unsupported statement"}
}

// recordFields builds a field map from SET assignments or a CONTENT map.
func (x *StatementExecutor) recordFields(env *evalEnv, set []sql.Assignment, content sql.Expr) (map[string]any, error) {
	fields := make(map[string]any)
	if content != nil {
		v, err := env.eval(content, nil)
		if err != nil {
			return nil, err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, &SyntaxError{Msg: "CONTENT must be a map"}
		}
		for k, item := range m {
			fields[k] = toField(item)
		}
		return fields, nil
	}
	for _, a := range set {
		v, err := env.eval(a.Value, nil)
		if err != nil {
			return nil, err
		}
		fields[a.Field] = toField(v)
	}
	return fields, nil
}

func (x *StatementExecutor) insert(env *evalEnv, s *sql.InsertStmt) (Value, error) {
	isEdge, err := storage.IsSubclassOf(env.tx, s.Class, storage.ClassEdge)
	if err != nil {
		return None(), engineError("insert", err)
	}
	if isEdge {
		return None(), &SyntaxError{Msg: "use CREATE EDGE to insert into edge class " + s.Class}
	}
	fields, err := x.recordFields(env, s.Set, s.Content)
	if err != nil {
		return None(), err
	}
	rec := storage.NewRecord(s.Class, fields)
	if err := env.tx.Insert(rec); err != nil {
		return None(), engineError("insert", err)
	}
	return RecordValue(rec), nil
}

// requireClass checks that class is base or inherits from it.
func requireClass(tx storage.Transaction, class, base string) error {
	ok, err := storage.IsSubclassOf(tx, class, base)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(storage.ErrSchema, "class %s does not extend %s", class, base)
	}
	return nil
}

func (x *StatementExecutor) createVertex(env *evalEnv, s *sql.CreateVertexStmt) (Value, error) {
	if err := requireClass(env.tx, s.Class, storage.ClassVertex); err != nil {
		return None(), engineError("create vertex", err)
	}
	fields, err := x.recordFields(env, s.Set, s.Content)
	if err != nil {
		return None(), err
	}
	rec := storage.NewRecord(s.Class, fields)
	if err := env.tx.Insert(rec); err != nil {
		return None(), engineError("create vertex", err)
	}
	return RecordValue(rec), nil
}

// createEdge links every FROM record to every TO record. An endpoint that
// resolves to no records is a ReferentialIntegrityError, never a no-op.
func (x *StatementExecutor) createEdge(env *evalEnv, s *sql.CreateEdgeStmt) (Value, error) {
	if err := requireClass(env.tx, s.Class, storage.ClassEdge); err != nil {
		return None(), engineError("create edge", err)
	}
	from, err := x.resolveTarget(env, s.From)
	if err != nil {
		return None(), err
	}
	if len(from) == 0 {
		return None(), &ReferentialIntegrityError{Endpoint: "FROM", Target: describeTarget(s.From)}
	}
	to, err := x.resolveTarget(env, s.To)
	if err != nil {
		return None(), err
	}
	if len(to) == 0 {
		return None(), &ReferentialIntegrityError{Endpoint: "TO", Target: describeTarget(s.To)}
	}
	fields, err := x.recordFields(env, s.Set, s.Content)
	if err != nil {
		return None(), err
	}

	edges := make([]*storage.Record, 0, len(from)*len(to))
	for _, f := range from {
		for _, t := range to {
			edge := storage.NewEdge(s.Class, f.ID, t.ID, storage.CopyValue(fields).(map[string]any))
			if err := env.tx.Insert(edge); err != nil {
				return None(), engineError("create edge", err)
			}
			edges = append(edges, edge)
		}
	}
	if len(edges) == 1 {
		return RecordValue(edges[0]), nil
	}
	return RecordsValue(edges), nil
}

func (x *StatementExecutor) update(env *evalEnv, s *sql.UpdateStmt) (Value, error) {
	recs, err := x.selectTargets(env, s.Target, s.Where, s.Limit)
	if err != nil {
		return None(), err
	}
	for _, rec := range recs {
		if err := x.applyOps(env, rec, s.Ops); err != nil {
			return None(), err
		}
		if err := env.tx.Update(rec); err != nil {
			return None(), engineError("update", err)
		}
	}
	if s.ReturnAfter {
		return RecordsValue(recs), nil
	}
	return Scalar(int64(len(recs))), nil
}

func (x *StatementExecutor) applyOps(env *evalEnv, rec *storage.Record, ops []sql.UpdateOp) error {
	for _, op := range ops {
		var value any
		if op.Value != nil {
			v, err := env.eval(op.Value, rec)
			if err != nil {
				return err
			}
			value = toField(v)
		}
		switch op.Kind {
		case sql.UpdateSet:
			// Whole-value replacement; maps are not merged.
			rec.Fields[op.Field] = value
		case sql.UpdateAdd:
			switch cur := rec.Fields[op.Field].(type) {
			case nil:
				rec.Fields[op.Field] = []any{value}
			case []any:
				rec.Fields[op.Field] = append(cur, value)
			default:
				return engineError("update", errors.Wrapf(storage.ErrInvalidData, "ADD to non-list field %s", op.Field))
			}
		case sql.UpdateRemove:
			if op.Value == nil {
				delete(rec.Fields, op.Field)
				continue
			}
			switch cur := rec.Fields[op.Field].(type) {
			case []any:
				kept := make([]any, 0, len(cur))
				for _, item := range cur {
					if !equalValues(item, value) {
						kept = append(kept, item)
					}
				}
				rec.Fields[op.Field] = kept
			case map[string]any:
				if k, ok := value.(string); ok {
					delete(cur, k)
				}
			}
		case sql.UpdateMerge, sql.UpdateContent:
			m, ok := value.(map[string]any)
			if !ok {
				return &SyntaxError{Msg: "MERGE and CONTENT need a map"}
			}
			if op.Kind == sql.UpdateContent {
				rec.Fields = make(map[string]any, len(m))
			}
			for k, v := range m {
				rec.Fields[k] = v
			}
		}
	}
	return nil
}

func (x *StatementExecutor) delete(env *evalEnv, s *sql.DeleteStmt) (Value, error) {
	recs, err := x.selectTargets(env, s.Target, s.Where, s.Limit)
	if err != nil {
		return None(), err
	}
	deleted := int64(0)
	for _, rec := range recs {
		switch s.Kind {
		case sql.DeleteVertex:
			if rec.IsEdge() {
				return None(), engineError("delete vertex", errors.Wrapf(storage.ErrInvalidData, "%s is an edge", rec.ID))
			}
			edges, err := env.tx.Edges(rec.ID)
			if err != nil {
				return None(), engineError("delete vertex", err)
			}
			for _, e := range edges {
				if err := env.tx.Delete(e.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
					return None(), engineError("delete vertex", err)
				}
			}
		case sql.DeleteEdge:
			if !rec.IsEdge() {
				return None(), engineError("delete edge", errors.Wrapf(storage.ErrInvalidData, "%s is not an edge", rec.ID))
			}
		default:
			if !rec.IsEdge() {
				edges, err := env.tx.Edges(rec.ID)
				if err != nil {
					return None(), engineError("delete", err)
				}
				if len(edges) > 0 {
					return None(), engineError("delete", errors.Wrapf(storage.ErrInvalidData, "%s has edges, use DELETE VERTEX", rec.ID))
				}
			}
		}
		if err := env.tx.Delete(rec.ID); err != nil {
			return None(), engineError("delete", err)
		}
		deleted++
	}
	return Scalar(deleted), nil
}

// runSelect evaluates a SELECT: whole records, a count, or projection rows.
func (x *StatementExecutor) runSelect(env *evalEnv, s *sql.SelectStmt) (Value, error) {
	recs, err := x.resolveTarget(env, s.Target)
	if err != nil {
		return None(), err
	}
	if recs, err = filterRecords(env, recs, s.Where, -1); err != nil {
		return None(), err
	}
	if s.OrderBy != "" {
		path := strings.Split(s.OrderBy, ".")
		sort.SliceStable(recs, func(i, j int) bool {
			a, b := navigate(recs[i], path), navigate(recs[j], path)
			if s.Desc {
				a, b = b, a
			}
			return lessForOrder(a, b)
		})
	}
	if s.Skip > 0 {
		if s.Skip >= len(recs) {
			recs = recs[:0]
		} else {
			recs = recs[s.Skip:]
		}
	}
	if s.Limit >= 0 && s.Limit < len(recs) {
		recs = recs[:s.Limit]
	}

	if s.Count {
		return Scalar(int64(len(recs))), nil
	}
	if len(s.Projections) == 0 {
		return RecordsValue(recs), nil
	}
	rows := make([]any, 0, len(recs))
	for _, rec := range recs {
		row := make(map[string]any, len(s.Projections))
		for _, p := range s.Projections {
			v, err := env.eval(p.Expr, rec)
			if err != nil {
				return None(), err
			}
			row[p.Alias] = v
		}
		rows = append(rows, row)
	}
	return Scalar(rows), nil
}

// lessForOrder sorts nil first, then comparable values; incomparable pairs keep order.
func lessForOrder(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	c, ok := compareValues(a, b)
	return ok && c < 0
}

func (x *StatementExecutor) createClass(env *evalEnv, s *sql.CreateClassStmt) (Value, error) {
	if s.IfNotExists {
		if _, err := env.tx.Class(s.Name); err == nil {
			return None(), nil
		}
	}
	def := &storage.ClassDef{Name: s.Name, Super: s.Super, Properties: map[string]storage.PropertyType{}}
	if err := env.tx.CreateClass(def); err != nil {
		return None(), engineError("create class", err)
	}
	return None(), nil
}

func (x *StatementExecutor) createProperty(env *evalEnv, s *sql.CreatePropertyStmt) (Value, error) {
	typ, err := storage.ParsePropertyType(s.Type)
	if err != nil {
		return None(), engineError("create property", err)
	}
	def, err := env.tx.Class(s.Class)
	if err != nil {
		return None(), engineError("create property", err)
	}
	if def.Properties == nil {
		def.Properties = map[string]storage.PropertyType{}
	}
	def.Properties[s.Property] = typ
	if err := env.tx.UpdateClass(def); err != nil {
		return None(), engineError("create property", err)
	}
	return None(), nil
}

// selectTargets resolves a target, applies WHERE and LIMIT.
func (x *StatementExecutor) selectTargets(env *evalEnv, t sql.Target, where sql.Expr, limit int) ([]*storage.Record, error) {
	recs, err := x.resolveTarget(env, t)
	if err != nil {
		return nil, err
	}
	return filterRecords(env, recs, where, limit)
}

func filterRecords(env *evalEnv, recs []*storage.Record, where sql.Expr, limit int) ([]*storage.Record, error) {
	out := make([]*storage.Record, 0, len(recs))
	for _, rec := range recs {
		if limit >= 0 && len(out) >= limit {
			break
		}
		if where != nil {
			ok, err := env.eval(where, rec)
			if err != nil {
				return nil, err
			}
			if !truthy(ok) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// resolveTarget returns the current state of every record a target names,
// in a deterministic order. Missing record IDs resolve to nothing.
func (x *StatementExecutor) resolveTarget(env *evalEnv, t sql.Target) ([]*storage.Record, error) {
	if err := env.ctx.Err(); err != nil {
		return nil, err
	}
	switch t.Kind {
	case sql.TargetClass:
		classes, err := storage.Subclasses(env.tx, t.Class)
		if err != nil {
			return nil, engineError("scan", err)
		}
		var recs []*storage.Record
		for _, class := range classes {
			err := env.tx.Scan(class, func(r *storage.Record) error {
				recs = append(recs, r)
				return nil
			})
			if err != nil {
				return nil, engineError("scan", err)
			}
		}
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
		return recs, nil
	case sql.TargetVariable:
		v, err := env.vars.Get(t.Var.Name)
		if err != nil {
			return nil, err
		}
		return x.fetch(env, collectIDs(navigate(v.Interface(), t.Var.Path)))
	case sql.TargetRIDs:
		ids := make([]storage.RecordID, len(t.RIDs))
		for i, id := range t.RIDs {
			ids[i] = storage.RecordID(id)
		}
		return x.fetch(env, ids)
	case sql.TargetSubquery:
		if len(t.Subquery.Projections) > 0 {
			return nil, &SyntaxError{Msg: "a subquery target must select whole records"}
		}
		v, err := x.runSelect(env, t.Subquery)
		if err != nil {
			return nil, err
		}
		return v.Records(), nil
	}
	return nil, &SyntaxError{Msg: "unsupported target"}
}

// collectIDs extracts record IDs from a variable's value; other scalars are ignored.
func collectIDs(v any) []storage.RecordID {
	switch x := v.(type) {
	case *storage.Record:
		return []storage.RecordID{x.ID}
	case storage.RecordID:
		return []storage.RecordID{x}
	case string:
		if id := storage.RecordID(x); id.Valid() {
			return []storage.RecordID{id}
		}
	case []*storage.Record:
		ids := make([]storage.RecordID, len(x))
		for i, r := range x {
			ids[i] = r.ID
		}
		return ids
	case []any:
		var ids []storage.RecordID
		for _, item := range x {
			ids = append(ids, collectIDs(item)...)
		}
		return ids
	}
	return nil
}

// fetch loads records by ID through the transaction, skipping missing and
// duplicate IDs.
func (x *StatementExecutor) fetch(env *evalEnv, ids []storage.RecordID) ([]*storage.Record, error) {
	seen := make(map[storage.RecordID]bool, len(ids))
	recs := make([]*storage.Record, 0, len(ids))
	for _, id := range ids {
		if seen[id] || !id.Valid() {
			continue
		}
		seen[id] = true
		rec, err := env.tx.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, engineError("get", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func describeTarget(t sql.Target) string {
	switch t.Kind {
	case sql.TargetClass:
		return t.Class
	case sql.TargetVariable:
		return "$" + strings.Join(append([]string{t.Var.Name}, t.Var.Path...), ".")
	case sql.TargetRIDs:
		return "[" + strings.Join(t.RIDs, ", ") + "]"
	case sql.TargetSubquery:
		return "(SELECT ...)"
	}
	return "?"
}
