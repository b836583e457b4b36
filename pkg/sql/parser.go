package sql

import (
	"strconv"
	"strings"
)

// Parse parses a single statement.
func Parse(src string) (Statement, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	if !p.at(TokEOF) {
		return nil, p.unexpected()
	}
	return stmt, nil
}

// ParseExpr parses a standalone expression, as used by RETURN and LET.
func ParseExpr(src string) (Expr, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	expr, err := p.expr()
	if err != nil {
		return nil, err
	}
	if !p.at(TokEOF) {
		return nil, p.unexpected()
	}
	return expr, nil
}

type parser struct {
	toks []Token
	pos  int
}

func newParser(src string) (*parser, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) next() Token {
	tok := p.toks[p.pos]
	if tok.Kind != TokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) at(kind TokenKind) bool { return p.peek().Kind == kind }

// atKeyword reports whether the next token is the (case-insensitive) keyword.
func (p *parser) atKeyword(kw string) bool {
	tok := p.peek()
	return tok.Kind == TokIdent && strings.EqualFold(tok.Text, kw)
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) accept(kind TokenKind) bool {
	if p.at(kind) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	if !p.at(kind) {
		return Token{}, syntaxErrorf(p.peek().Pos, "expected %s, found %s", kind, describe(p.peek()))
	}
	return p.next(), nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return syntaxErrorf(p.peek().Pos, "expected %s, found %s", strings.ToUpper(kw), describe(p.peek()))
	}
	return nil
}

func (p *parser) ident() (string, error) {
	tok, err := p.expect(TokIdent)
	return tok.Text, err
}

func (p *parser) unexpected() error {
	return syntaxErrorf(p.peek().Pos, "unexpected %s", describe(p.peek()))
}

func describe(tok Token) string {
	switch tok.Kind {
	case TokEOF:
		return tok.Kind.String()
	case TokString:
		return "string " + strconv.Quote(tok.Text)
	default:
		return strconv.Quote(tok.Text)
	}
}

func (p *parser) statement() (Statement, error) {
	switch {
	case p.acceptKeyword("INSERT"):
		return p.insert()
	case p.acceptKeyword("CREATE"):
		return p.create()
	case p.acceptKeyword("UPDATE"):
		return p.update()
	case p.acceptKeyword("DELETE"):
		return p.delete()
	case p.acceptKeyword("SELECT"):
		return p.selectBody()
	}
	return nil, syntaxErrorf(p.peek().Pos, "unknown statement %s", describe(p.peek()))
}

func (p *parser) insert() (Statement, error) {
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	class, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Class: class}
	if p.at(TokLParen) {
		stmt.Set, err = p.columnsValues()
		return stmt, err
	}
	stmt.Set, stmt.Content, err = p.recordBody()
	return stmt, err
}

// columnsValues parses "(a, b) VALUES (1, 2)" into assignments.
func (p *parser) columnsValues() ([]Assignment, error) {
	p.next()
	var cols []string
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if !p.accept(TokComma) {
			break
		}
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	var set []Assignment
	for i, col := range cols {
		if i > 0 {
			if _, err := p.expect(TokComma); err != nil {
				return nil, err
			}
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		set = append(set, Assignment{Field: col, Value: v})
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return set, nil
}

// recordBody parses an optional "SET a = 1, ..." or "CONTENT {...}" tail.
func (p *parser) recordBody() ([]Assignment, Expr, error) {
	switch {
	case p.acceptKeyword("SET"):
		set, err := p.assignments()
		return set, nil, err
	case p.acceptKeyword("CONTENT"):
		content, err := p.primary()
		return nil, content, err
	}
	return nil, nil, nil
}

func (p *parser) assignments() ([]Assignment, error) {
	var out []Assignment
	for {
		field, err := p.fieldName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokEq); err != nil {
			return nil, err
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, Assignment{Field: field, Value: v})
		if !p.accept(TokComma) {
			return out, nil
		}
	}
}

// fieldName accepts an identifier or a quoted string as a field name.
func (p *parser) fieldName() (string, error) {
	if p.at(TokString) {
		return p.next().Text, nil
	}
	return p.ident()
}

func (p *parser) create() (Statement, error) {
	switch {
	case p.acceptKeyword("VERTEX"):
		stmt := &CreateVertexStmt{Class: "V"}
		if p.at(TokIdent) && !p.atKeyword("SET") && !p.atKeyword("CONTENT") {
			stmt.Class = p.next().Text
		}
		var err error
		stmt.Set, stmt.Content, err = p.recordBody()
		return stmt, err
	case p.acceptKeyword("EDGE"):
		return p.createEdge()
	case p.acceptKeyword("CLASS"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt := &CreateClassStmt{Name: name}
		if p.acceptKeyword("IF") {
			if err := p.expectKeyword("NOT"); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("EXISTS"); err != nil {
				return nil, err
			}
			stmt.IfNotExists = true
		}
		if p.acceptKeyword("EXTENDS") {
			if stmt.Super, err = p.ident(); err != nil {
				return nil, err
			}
		}
		return stmt, nil
	case p.acceptKeyword("PROPERTY"):
		class, err := p.ident()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokDot); err != nil {
			return nil, err
		}
		prop, err := p.ident()
		if err != nil {
			return nil, err
		}
		typ, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &CreatePropertyStmt{Class: class, Property: prop, Type: strings.ToUpper(typ)}, nil
	}
	return nil, syntaxErrorf(p.peek().Pos, "expected VERTEX, EDGE, CLASS or PROPERTY after CREATE")
}

func (p *parser) createEdge() (Statement, error) {
	stmt := &CreateEdgeStmt{Class: "E"}
	if p.at(TokIdent) && !p.atKeyword("FROM") {
		stmt.Class = p.next().Text
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	var err error
	if stmt.From, err = p.target(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	if stmt.To, err = p.target(); err != nil {
		return nil, err
	}
	stmt.Set, stmt.Content, err = p.recordBody()
	return stmt, err
}

func (p *parser) update() (Statement, error) {
	target, err := p.target()
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Target: target}
	for {
		switch {
		case p.acceptKeyword("SET"):
			set, err := p.assignments()
			if err != nil {
				return nil, err
			}
			for _, a := range set {
				stmt.Ops = append(stmt.Ops, UpdateOp{Kind: UpdateSet, Field: a.Field, Value: a.Value})
			}
			continue
		case p.acceptKeyword("ADD"):
			set, err := p.assignments()
			if err != nil {
				return nil, err
			}
			for _, a := range set {
				stmt.Ops = append(stmt.Ops, UpdateOp{Kind: UpdateAdd, Field: a.Field, Value: a.Value})
			}
			continue
		case p.acceptKeyword("REMOVE"):
			if err := p.removeOps(stmt); err != nil {
				return nil, err
			}
			continue
		case p.acceptKeyword("MERGE"):
			v, err := p.primary()
			if err != nil {
				return nil, err
			}
			stmt.Ops = append(stmt.Ops, UpdateOp{Kind: UpdateMerge, Value: v})
			continue
		case p.acceptKeyword("CONTENT"):
			v, err := p.primary()
			if err != nil {
				return nil, err
			}
			stmt.Ops = append(stmt.Ops, UpdateOp{Kind: UpdateContent, Value: v})
			continue
		}
		break
	}
	if len(stmt.Ops) == 0 {
		return nil, syntaxErrorf(p.peek().Pos, "UPDATE requires SET, ADD, REMOVE, MERGE or CONTENT")
	}
	if p.acceptKeyword("RETURN") {
		if err := p.expectKeyword("AFTER"); err != nil {
			return nil, err
		}
		stmt.ReturnAfter = true
	}
	if stmt.Where, err = p.optionalWhere(); err != nil {
		return nil, err
	}
	stmt.Limit, err = p.optionalLimit()
	return stmt, err
}

// removeOps parses "REMOVE field [= value], ...".
func (p *parser) removeOps(stmt *UpdateStmt) error {
	for {
		field, err := p.fieldName()
		if err != nil {
			return err
		}
		op := UpdateOp{Kind: UpdateRemove, Field: field}
		if p.accept(TokEq) {
			if op.Value, err = p.expr(); err != nil {
				return err
			}
		}
		stmt.Ops = append(stmt.Ops, op)
		if !p.accept(TokComma) {
			return nil
		}
	}
}

func (p *parser) delete() (Statement, error) {
	stmt := &DeleteStmt{Kind: DeleteRecords}
	switch {
	case p.acceptKeyword("FROM"):
	case p.acceptKeyword("VERTEX"):
		stmt.Kind = DeleteVertex
	case p.acceptKeyword("EDGE"):
		stmt.Kind = DeleteEdge
	default:
		return nil, syntaxErrorf(p.peek().Pos, "expected FROM, VERTEX or EDGE after DELETE")
	}
	var err error
	if stmt.Target, err = p.target(); err != nil {
		return nil, err
	}
	if stmt.Where, err = p.optionalWhere(); err != nil {
		return nil, err
	}
	stmt.Limit, err = p.optionalLimit()
	return stmt, err
}

// selectBody parses everything after the SELECT keyword.
func (p *parser) selectBody() (*SelectStmt, error) {
	stmt := &SelectStmt{Limit: -1}
	if !p.atKeyword("FROM") {
		if !p.accept(TokStar) {
			for {
				proj, err := p.projection()
				if err != nil {
					return nil, err
				}
				if _, ok := proj.Expr.(*CountExpr); ok {
					stmt.Count = true
				}
				stmt.Projections = append(stmt.Projections, proj)
				if !p.accept(TokComma) {
					break
				}
			}
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	var err error
	if stmt.Target, err = p.target(); err != nil {
		return nil, err
	}
	if stmt.Where, err = p.optionalWhere(); err != nil {
		return nil, err
	}
	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if stmt.OrderBy, err = p.dottedName(); err != nil {
			return nil, err
		}
		if p.acceptKeyword("DESC") {
			stmt.Desc = true
		} else {
			p.acceptKeyword("ASC")
		}
	}
	if p.acceptKeyword("SKIP") {
		if stmt.Skip, err = p.integer(); err != nil {
			return nil, err
		}
	}
	if p.atKeyword("LIMIT") {
		if stmt.Limit, err = p.optionalLimit(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) projection() (Projection, error) {
	if p.atKeyword("count") && p.toks[p.pos+1].Kind == TokLParen {
		p.pos += 2
		if _, err := p.expect(TokStar); err != nil {
			return Projection{}, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return Projection{}, err
		}
		proj := Projection{Expr: &CountExpr{}, Alias: "count"}
		if p.acceptKeyword("AS") {
			alias, err := p.ident()
			if err != nil {
				return Projection{}, err
			}
			proj.Alias = alias
		}
		return proj, nil
	}
	e, err := p.primary()
	if err != nil {
		return Projection{}, err
	}
	proj := Projection{Expr: e}
	if p.acceptKeyword("AS") {
		if proj.Alias, err = p.ident(); err != nil {
			return Projection{}, err
		}
	} else if f, ok := e.(*FieldRef); ok {
		proj.Alias = f.Path[len(f.Path)-1]
	}
	if proj.Alias == "" {
		return Projection{}, syntaxErrorf(p.peek().Pos, "projection needs an alias (AS name)")
	}
	return proj, nil
}

func (p *parser) dottedName() (string, error) {
	name, err := p.ident()
	if err != nil {
		return "", err
	}
	for p.accept(TokDot) {
		part, err := p.ident()
		if err != nil {
			return "", err
		}
		name += "." + part
	}
	return name, nil
}

func (p *parser) optionalWhere() (Expr, error) {
	if !p.acceptKeyword("WHERE") {
		return nil, nil
	}
	return p.expr()
}

// optionalLimit returns -1 when no LIMIT clause is present.
func (p *parser) optionalLimit() (int, error) {
	if !p.acceptKeyword("LIMIT") {
		return -1, nil
	}
	return p.integer()
}

func (p *parser) integer() (int, error) {
	tok, err := p.expect(TokInt)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok.Text)
	if err != nil {
		return 0, syntaxErrorf(tok.Pos, "invalid integer %s", tok.Text)
	}
	return n, nil
}

// target parses a class name, $variable, #rid, [#rid, ...] or (SELECT ...).
func (p *parser) target() (Target, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokIdent:
		p.next()
		return Target{Kind: TargetClass, Class: tok.Text}, nil
	case TokVariable:
		ref, err := p.varRef()
		if err != nil {
			return Target{}, err
		}
		return Target{Kind: TargetVariable, Var: ref}, nil
	case TokRID:
		p.next()
		return Target{Kind: TargetRIDs, RIDs: []string{tok.Text}}, nil
	case TokLBracket:
		p.next()
		var ids []string
		for !p.at(TokRBracket) {
			rid, err := p.expect(TokRID)
			if err != nil {
				return Target{}, err
			}
			ids = append(ids, rid.Text)
			if !p.accept(TokComma) {
				break
			}
		}
		if _, err := p.expect(TokRBracket); err != nil {
			return Target{}, err
		}
		return Target{Kind: TargetRIDs, RIDs: ids}, nil
	case TokLParen:
		p.next()
		if err := p.expectKeyword("SELECT"); err != nil {
			return Target{}, err
		}
		sub, err := p.selectBody()
		if err != nil {
			return Target{}, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return Target{}, err
		}
		return Target{Kind: TargetSubquery, Subquery: sub}, nil
	}
	return Target{}, syntaxErrorf(tok.Pos, "expected target, found %s", describe(tok))
}

func (p *parser) varRef() (*VarRef, error) {
	tok, err := p.expect(TokVariable)
	if err != nil {
		return nil, err
	}
	ref := &VarRef{Name: tok.Text}
	for p.accept(TokDot) {
		part, err := p.ident()
		if err != nil {
			return nil, err
		}
		ref.Path = append(ref.Path, part)
	}
	return ref, nil
}

func (p *parser) expr() (Expr, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) andExpr() (Expr, error) {
	left, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) notExpr() (Expr, error) {
	if p.acceptKeyword("NOT") {
		x, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x}, nil
	}
	return p.comparison()
}

var comparisonOps = map[TokenKind]string{
	TokEq: "=", TokNeq: "!=", TokLt: "<", TokLte: "<=", TokGt: ">", TokGte: ">=",
}

func (p *parser) comparison() (Expr, error) {
	left, err := p.primary()
	if err != nil {
		return nil, err
	}
	if op, ok := comparisonOps[p.peek().Kind]; ok {
		p.next()
		right, err := p.primary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	switch {
	case p.acceptKeyword("IS"):
		not := p.acceptKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{X: left, Not: not}, nil
	case p.atKeyword("NOT") && p.toks[p.pos+1].Kind == TokIdent && strings.EqualFold(p.toks[p.pos+1].Text, "IN"):
		p.pos += 2
		list, err := p.primary()
		if err != nil {
			return nil, err
		}
		return &InExpr{X: left, List: list, Not: true}, nil
	case p.acceptKeyword("IN"):
		list, err := p.primary()
		if err != nil {
			return nil, err
		}
		return &InExpr{X: left, List: list}, nil
	case p.acceptKeyword("CONTAINS"):
		right, err := p.primary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "CONTAINS", Left: left, Right: right}, nil
	case p.acceptKeyword("LIKE"):
		right, err := p.primary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "LIKE", Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) primary() (Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokString:
		p.next()
		return &Literal{Value: tok.Text}, nil
	case TokInt, TokFloat:
		p.next()
		return numberLiteral(tok, "")
	case TokMinus:
		p.next()
		num := p.peek()
		if num.Kind != TokInt && num.Kind != TokFloat {
			return nil, syntaxErrorf(num.Pos, "expected number after '-'")
		}
		p.next()
		return numberLiteral(num, "-")
	case TokVariable:
		return p.varRef()
	case TokRID:
		p.next()
		return &RIDLiteral{ID: tok.Text}, nil
	case TokParam:
		p.next()
		return &ParamRef{Name: tok.Text}, nil
	case TokLBracket:
		return p.list()
	case TokLBrace:
		return p.mapLiteral()
	case TokLParen:
		p.next()
		if p.acceptKeyword("SELECT") {
			sub, err := p.selectBody()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokRParen); err != nil {
				return nil, err
			}
			return &SubqueryExpr{Select: sub}, nil
		}
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TokIdent:
		switch strings.ToUpper(tok.Text) {
		case "NULL":
			p.next()
			return &Literal{Value: nil}, nil
		case "TRUE":
			p.next()
			return &Literal{Value: true}, nil
		case "FALSE":
			p.next()
			return &Literal{Value: false}, nil
		}
		name, err := p.dottedName()
		if err != nil {
			return nil, err
		}
		return &FieldRef{Path: strings.Split(name, ".")}, nil
	}
	if tok.Kind == TokEOF {
		return nil, syntaxErrorf(tok.Pos, "unexpected end of statement, expected a value")
	}
	return nil, p.unexpected()
}

func numberLiteral(tok Token, sign string) (Expr, error) {
	text := sign + tok.Text
	if tok.Kind == TokInt {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return &Literal{Value: n}, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, syntaxErrorf(tok.Pos, "invalid number %s", text)
	}
	return &Literal{Value: f}, nil
}

func (p *parser) list() (Expr, error) {
	p.next()
	out := &ListExpr{Items: []Expr{}}
	for !p.at(TokRBracket) {
		item, err := p.expr()
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
		if !p.accept(TokComma) {
			break
		}
	}
	if _, err := p.expect(TokRBracket); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) mapLiteral() (Expr, error) {
	p.next()
	out := &MapExpr{Keys: []string{}, Values: []Expr{}}
	for !p.at(TokRBrace) {
		key, err := p.fieldName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokColon); err != nil {
			return nil, err
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		out.Keys = append(out.Keys, key)
		out.Values = append(out.Values, v)
		if !p.accept(TokComma) {
			break
		}
	}
	if _, err := p.expect(TokRBrace); err != nil {
		return nil, err
	}
	return out, nil
}
