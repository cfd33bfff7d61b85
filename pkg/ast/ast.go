// Package ast defines the minimal typed statement/expression tree the
// executor (pkg/dbs) consumes. The SQL lexer/parser is an external
// collaborator (it consumes bytes and emits typed statements); this package
// is the stand-in for that parser's output type, shaped to carry exactly
// the vocabulary the SQL surface needs. No lexer or parser is implemented here
// — callers (tests, an embedding caller's own parser) construct *Stmt
// values directly.
package ast

import (
	"time"

	"github.com/cuemby/nexus/pkg/value"
)

// Expr is any computable expression node. Concrete node types below all
// implement it as a marker; the executor type-switches on the concrete
// type (mirroring fsm.go's switch over Command.Kind).
type Expr interface{ exprNode() }

// Lit wraps a constant value.Value.
type Lit struct{ Value value.Value }

func (Lit) exprNode() {}

// Param references a session/LET variable, e.g. $name.
type Param struct{ Name string }

func (Param) exprNode() {}

// Ident is a bareword reference (table name, field name at the top of an
// idiom).
type Ident struct{ Name string }

func (Ident) exprNode() {}

// IdiomExpr resolves a path against a base
// expression (commonly $this / $value) or, if Base is nil, against the
// currently-scoped document.
type IdiomExpr struct {
	Base  Expr // nil means "current document"
	Path  value.Idiom
}

func (IdiomExpr) exprNode() {}

// BinaryOp enumerates infix operators used by WHERE/ASSERT/computed
// expressions.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpContains
	OpInside
)

type Binary struct {
	Op          BinaryOp
	Left, Right Expr
}

func (Binary) exprNode() {}

type Unary struct {
	Not  bool
	Expr Expr
}

func (Unary) exprNode() {}

// FuncCall invokes a builtin or user-defined function by name.
type FuncCall struct {
	Name string
	Args []Expr
}

func (FuncCall) exprNode() {}

// ArrayExpr/ObjectExpr build composite literals from sub-expressions
// (as opposed to Lit, which wraps an already-resolved value.Value).
type ArrayExpr struct{ Items []Expr }

func (ArrayExpr) exprNode() {}

type ObjectExpr struct{ Fields map[string]Expr }

func (ObjectExpr) exprNode() {}

// ClosureExpr is a function literal; evaluating it captures the current
// scope into a value.Closure.
type ClosureExpr struct {
	Params []string
	Body   Expr
}

func (ClosureExpr) exprNode() {}

// If / For / Block / Return / Break / Continue / Throw are the control
// flow expressions the executor evaluates alongside the CRUD kinds.
type IfBranch struct {
	Cond Expr
	Then Expr
}

type If struct {
	Branches []IfBranch
	Else     Expr // nil if no ELSE
}

func (If) exprNode() {}

type For struct {
	Param string
	Iter  Expr
	Body  Expr
}

func (For) exprNode() {}

type Block struct{ Exprs []Expr }

func (Block) exprNode() {}

type Return struct{ Value Expr }

func (Return) exprNode() {}

type Break struct{}

func (Break) exprNode() {}

type Continue struct{}

func (Continue) exprNode() {}

type Throw struct{ Value Expr }

func (Throw) exprNode() {}

type Let struct {
	Name string
	Kind *value.Kind
	Expr Expr
}

func (Let) exprNode() {}

// --- data sources ---------------------------------

type DataKind int

const (
	DataNone DataKind = iota
	DataContent
	DataMerge
	DataPatch
	DataSet
	DataReplace
	DataValues
)

// Assignment is one `field = expr` clause of a SET data source.
type Assignment struct {
	Path value.Idiom
	Expr Expr
}

// PatchOp is one RFC 6902 JSON-patch operation.
type PatchOp struct {
	Op    string // add, remove, replace, copy, move, test
	Path  string
	Value Expr
}

type Data struct {
	Kind        DataKind
	Expr        Expr         // CONTENT / MERGE / REPLACE
	Assignments []Assignment // SET
	Patches     []PatchOp    // PATCH
	Columns     []string     // VALUES(...) column list
	Rows        [][]Expr     // VALUES(...) row list
}

// --- What (the record source of CREATE/SELECT/UPDATE/DELETE/...) -------

type WhatKind int

const (
	WhatTable WhatKind = iota
	WhatThing
	WhatParam
	WhatSubquery
)

type What struct {
	Kind    WhatKind
	Table   string
	Thing   *value.RecordID
	Param   string
	Sub     *Select
}

// --- Output / fetch / fields --------------------------------------------

type OutputKind int

const (
	OutputAfter OutputKind = iota // default: RETURN AFTER (the record post-write)
	OutputBefore
	OutputDiff
	OutputNone
	OutputFields // RETURN field, field, ... / RETURN VALUE expr
)

type Output struct {
	Kind   OutputKind
	Fields []SelectField
}

type SelectField struct {
	Expr  Expr
	Alias string
}

// --- Statements ----------------------------------------------------------

// Stmt is a top-level expression: Begin/Commit/Cancel/
// Option/Use/Let/Kill/Live/Show/Analyze/Access/Expr(Expr).
type Stmt interface{ stmtNode() }

type Begin struct{}

func (Begin) stmtNode() {}

type Commit struct{}

func (Commit) stmtNode() {}

type Cancel struct{}

func (Cancel) stmtNode() {}

type Option struct {
	Name  string
	Value bool
}

func (Option) stmtNode() {}

type Use struct {
	NS *string
	DB *string
}

func (Use) stmtNode() {}

type LetStmt struct{ Let Let }

func (LetStmt) stmtNode() {}

type Kill struct{ LiveID Expr }

func (Kill) stmtNode() {}

type Live struct {
	Select *Select
}

func (Live) stmtNode() {}

type ShowSince int

const (
	ShowSinceVersion ShowSince = iota
	ShowSinceTimestamp
)

type Show struct {
	Table    *string // nil means DATABASE-scoped
	Database bool
	Since    ShowSince
	SinceVer uint64
	SinceAt  time.Time
	Limit    int
}

func (Show) stmtNode() {}

// Analyze inspects the named index on a table (ANALYZE INDEX ix ON tb).
type Analyze struct {
	Target string // index name
	Table  string
}

func (Analyze) stmtNode() {}

// AccessStmt manages grants under a DEFINE ACCESS method: GRANT issues
// one for Subject, SHOW lists them, REVOKE invalidates Subject's.
type AccessStmt struct {
	Name    string
	Op      string // GRANT/SHOW/REVOKE
	Subject string
}

func (AccessStmt) stmtNode() {}

// --- DDL statements ------------------------------------------------------

// DefineTable declares (or redeclares) a table.
type DefineTable struct {
	Name       string
	Schemafull bool
	Drop       bool
}

func (DefineTable) stmtNode() {}

// DefaultSpec carries a DEFINE FIELD's DEFAULT clause: Set(expr)
// applies at create time only, Always(expr) unconditionally.
type DefaultSpec struct {
	Always bool
	Expr   Expr
}

// DefineField declares (or redeclares) one field on a table.
type DefineField struct {
	Table     string
	Path      value.Idiom
	Kind      value.Kind
	Flexible  bool
	Readonly  bool
	Computed  bool
	Reference bool
	Default   *DefaultSpec
	Value     Expr // nil if no VALUE clause
	Assert    Expr // nil if no ASSERT clause
}

func (DefineField) stmtNode() {}

// HNSWIndexSpec carries DEFINE INDEX ... HNSW construction parameters.
type HNSWIndexSpec struct {
	Dimension      int
	M              int
	M0             int
	EfConstruction int
	EfSearch       int
	ML             float64
	Distance       string // euclidean | manhattan | cosine | dot
}

// DefineIndex declares an index: HNSW when the vector spec is present,
// UNIQUE when Unique is set, FULLTEXT otherwise.
type DefineIndex struct {
	Table  string
	Name   string
	Unique bool
	Fields []value.Idiom
	HNSW   *HNSWIndexSpec
}

func (DefineIndex) stmtNode() {}

// RemoveKind names what a REMOVE statement drops.
type RemoveKind int

const (
	RemoveTable RemoveKind = iota
	RemoveField
	RemoveIndex
)

type Remove struct {
	Kind  RemoveKind
	Table string
	Name  string // field path / index name; unused for RemoveTable
}

func (Remove) stmtNode() {}

// InfoLevel selects what an INFO statement describes.
type InfoLevel int

const (
	InfoNS InfoLevel = iota
	InfoDB
	InfoTable
)

type Info struct {
	Level InfoLevel
	Table string // InfoTable only
}

func (Info) stmtNode() {}

// ExprStmt wraps any Expr (Select/Create/Update/.../If/For/Return/...) as
// a top-level statement.
type ExprStmt struct{ Expr Expr }

func (ExprStmt) stmtNode() {}

// --- CRUD expressions (also satisfy Expr, since they can nest, e.g. a
// subquery in FROM, or CREATE inside a FOR body) -------------------------

type Select struct {
	Only    bool
	Fields  []SelectField
	Omit    []value.Idiom
	What    []What
	With    []string // WITH INDEX names; empty = planner's choice
	NoIndex bool
	Where   Expr
	GroupBy []Expr
	OrderBy []OrderField
	Start   Expr
	Limit   Expr
	Fetch   []value.Idiom
	Version Expr
	Explain bool
	ExplainFull bool
}

func (Select) exprNode() {}

type OrderField struct {
	Expr    Expr
	Desc    bool
	Collate bool
	Numeric bool
}

type Create struct {
	Only    bool
	What    []What
	Data    *Data
	Output  *Output
	Timeout time.Duration
	Version Expr
}

func (Create) exprNode() {}

type UpdateKind int

const (
	UpdateRegular UpdateKind = iota
	UpdateUpsert
)

type Update struct {
	Kind    UpdateKind
	Only    bool
	What    []What
	Data    *Data
	Where   Expr
	Output  *Output
	Timeout time.Duration
}

func (Update) exprNode() {}

type Delete struct {
	Only    bool
	What    []What
	Where   Expr
	Output  *Output
	Timeout time.Duration
}

func (Delete) exprNode() {}

type Relate struct {
	Only bool
	From Expr
	Via  string
	To   Expr
	Data *Data
	Output *Output
}

func (Relate) exprNode() {}

type InsertKind int

const (
	InsertRegular InsertKind = iota
	InsertIgnore
	InsertRelation
)

type Insert struct {
	Kind       InsertKind
	Into       What
	Data       *Data
	OnDupUpdate []Assignment
	Output     *Output
}

func (Insert) exprNode() {}
