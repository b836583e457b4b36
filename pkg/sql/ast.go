package sql

// Statement is a parsed statement. The set of implementations is closed.
type Statement interface {
	statementNode()
}

// Expr is a parsed expression. The set of implementations is closed.
type Expr interface {
	exprNode()
}

// Assignment is one "field = value" pair.
type Assignment struct {
	Field string
	Value Expr
}

// InsertStmt is INSERT INTO class (SET ... | CONTENT {...} | (cols) VALUES (...)).
type InsertStmt struct {
	Class   string
	Set     []Assignment
	Content Expr
}

// CreateVertexStmt is CREATE VERTEX [class] [SET ... | CONTENT {...}].
type CreateVertexStmt struct {
	Class   string
	Set     []Assignment
	Content Expr
}

// CreateEdgeStmt is CREATE EDGE [class] FROM target TO target [SET ... | CONTENT {...}].
type CreateEdgeStmt struct {
	Class   string
	From    Target
	To      Target
	Set     []Assignment
	Content Expr
}

// UpdateOpKind selects how an UpdateOp changes a record.
type UpdateOpKind int

const (
	UpdateSet UpdateOpKind = iota
	UpdateAdd
	UpdateRemove
	UpdateMerge
	UpdateContent
)

// UpdateOp is one clause of an UPDATE. Field is empty for MERGE and CONTENT;
// Value is nil for REMOVE of a whole field.
type UpdateOp struct {
	Kind  UpdateOpKind
	Field string
	Value Expr
}

// UpdateStmt is UPDATE target ops [RETURN AFTER] [WHERE cond] [LIMIT n].
type UpdateStmt struct {
	Target      Target
	Ops         []UpdateOp
	ReturnAfter bool
	Where       Expr
	Limit       int
}

// DeleteKind distinguishes DELETE FROM, DELETE VERTEX and DELETE EDGE.
type DeleteKind int

const (
	DeleteRecords DeleteKind = iota
	DeleteVertex
	DeleteEdge
)

// DeleteStmt removes the records selected by Target and Where.
type DeleteStmt struct {
	Kind   DeleteKind
	Target Target
	Where  Expr
	Limit  int
}

// Projection is one SELECT output column.
type Projection struct {
	Expr  Expr
	Alias string
}

// SelectStmt is SELECT [projections] FROM target [WHERE] [ORDER BY] [SKIP] [LIMIT].
// An empty projection list or "*" returns whole records.
type SelectStmt struct {
	Projections []Projection
	Count       bool
	Target      Target
	Where       Expr
	OrderBy     string
	Desc        bool
	Skip        int
	Limit       int
}

// CreateClassStmt is CREATE CLASS name [EXTENDS super].
type CreateClassStmt struct {
	Name        string
	Super       string
	IfNotExists bool
}

// CreatePropertyStmt is CREATE PROPERTY class.name type.
type CreatePropertyStmt struct {
	Class    string
	Property string
	Type     string
}

func (*InsertStmt) statementNode()         {}
func (*CreateVertexStmt) statementNode()   {}
func (*CreateEdgeStmt) statementNode()     {}
func (*UpdateStmt) statementNode()         {}
func (*DeleteStmt) statementNode()         {}
func (*SelectStmt) statementNode()         {}
func (*CreateClassStmt) statementNode()    {}
func (*CreatePropertyStmt) statementNode() {}

// TargetKind says where a statement finds its records.
type TargetKind int

const (
	TargetClass TargetKind = iota
	TargetVariable
	TargetRIDs
	TargetSubquery
)

// Target names the records a statement reads or modifies.
type Target struct {
	Kind     TargetKind
	Class    string
	Var      *VarRef
	RIDs     []string
	Subquery *SelectStmt
}

// Literal is a constant: nil, bool, int64, float64 or string.
type Literal struct {
	Value any
}

// ListExpr is [a, b, ...].
type ListExpr struct {
	Items []Expr
}

// MapExpr is {"k": v, ...}. Keys keep their source order.
type MapExpr struct {
	Keys   []string
	Values []Expr
}

// VarRef is $name optionally followed by .field path segments.
type VarRef struct {
	Name string
	Path []string
}

// FieldRef names a field of the current record, possibly nested (a.b.c).
type FieldRef struct {
	Path []string
}

// RIDLiteral is a record ID such as #9f1c...
type RIDLiteral struct {
	ID string
}

// ParamRef is a parameter marker that was never substituted. Positional
// markers have an empty Name.
type ParamRef struct {
	Name string
}

// BinaryExpr is a comparison or boolean connective. Op is one of
// = != < <= > >= AND OR CONTAINS LIKE.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// NotExpr negates X.
type NotExpr struct {
	X Expr
}

// IsNullExpr is X IS [NOT] NULL.
type IsNullExpr struct {
	X   Expr
	Not bool
}

// InExpr is X [NOT] IN list.
type InExpr struct {
	X    Expr
	List Expr
	Not  bool
}

// SubqueryExpr is a parenthesised SELECT used as a value.
type SubqueryExpr struct {
	Select *SelectStmt
}

// CountExpr is count(*) in a projection.
type CountExpr struct{}

func (*Literal) exprNode()      {}
func (*ListExpr) exprNode()     {}
func (*MapExpr) exprNode()      {}
func (*VarRef) exprNode()       {}
func (*FieldRef) exprNode()     {}
func (*RIDLiteral) exprNode()   {}
func (*ParamRef) exprNode()     {}
func (*BinaryExpr) exprNode()   {}
func (*NotExpr) exprNode()      {}
func (*IsNullExpr) exprNode()   {}
func (*InExpr) exprNode()       {}
func (*SubqueryExpr) exprNode() {}
func (*CountExpr) exprNode()    {}
