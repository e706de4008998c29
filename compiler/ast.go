package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Prose
// ---------------------------------------------------------------------------

// Position represents a source location. The zero value means unknown.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
	node() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Stmt is the interface for statement and definition nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is the root of a parsed file.
type Program struct {
	Statements []Stmt
	Metadata   []MetadataAnnotation

	// IncludedModules lists the include statements in source order.
	// It is nil when the file has none.
	IncludedModules []*IncludeStatement
}

// MetadataAnnotation is an "@key value" line at statement level.
type MetadataAnnotation struct {
	PosVal Position
	Key    string
	Value  string
}

// ---------------------------------------------------------------------------
// Literals and identifiers
// ---------------------------------------------------------------------------

// IntegerLiteral is a number literal without a fractional part.
type IntegerLiteral struct {
	PosVal Position
	Value  int64
}

func (n *IntegerLiteral) Pos() Position { return n.PosVal }
func (n *IntegerLiteral) node()         {}
func (n *IntegerLiteral) expr()         {}

// FloatLiteral is a number literal with a fractional part.
type FloatLiteral struct {
	PosVal Position
	Value  float64
}

func (n *FloatLiteral) Pos() Position { return n.PosVal }
func (n *FloatLiteral) node()         {}
func (n *FloatLiteral) expr()         {}

// StringLiteral is a string without interpolation.
type StringLiteral struct {
	PosVal Position
	Value  string
}

func (n *StringLiteral) Pos() Position { return n.PosVal }
func (n *StringLiteral) node()         {}
func (n *StringLiteral) expr()         {}

// BooleanLiteral is true or false.
type BooleanLiteral struct {
	PosVal Position
	Value  bool
}

func (n *BooleanLiteral) Pos() Position { return n.PosVal }
func (n *BooleanLiteral) node()         {}
func (n *BooleanLiteral) expr()         {}

// NullLiteral is null or nothing.
type NullLiteral struct {
	PosVal Position
}

func (n *NullLiteral) Pos() Position { return n.PosVal }
func (n *NullLiteral) node()         {}
func (n *NullLiteral) expr()         {}

// Identifier is a variable reference.
type Identifier struct {
	PosVal Position
	Name   string
}

func (n *Identifier) Pos() Position { return n.PosVal }
func (n *Identifier) node()         {}
func (n *Identifier) expr()         {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// BinaryOp is a comparison or logical operation. Operator keeps the
// surface spelling, e.g. ">" or "is greater than".
type BinaryOp struct {
	PosVal   Position
	Left     Expr
	Operator string
	Right    Expr
}

func (n *BinaryOp) Pos() Position { return n.PosVal }
func (n *BinaryOp) node()         {}
func (n *BinaryOp) expr()         {}

// ArithmeticOp is an arithmetic operation such as "+" or "divided by".
type ArithmeticOp struct {
	PosVal   Position
	Left     Expr
	Operator string
	Right    Expr
}

func (n *ArithmeticOp) Pos() Position { return n.PosVal }
func (n *ArithmeticOp) node()         {}
func (n *ArithmeticOp) expr()         {}

// UnaryOp is "not x" or "-x".
type UnaryOp struct {
	PosVal   Position
	Operator string
	Operand  Expr
}

func (n *UnaryOp) Pos() Position { return n.PosVal }
func (n *UnaryOp) node()         {}
func (n *UnaryOp) expr()         {}

// PropertyAccess is "object.property".
type PropertyAccess struct {
	PosVal   Position
	Object   Expr
	Property string
}

func (n *PropertyAccess) Pos() Position { return n.PosVal }
func (n *PropertyAccess) node()         {}
func (n *PropertyAccess) expr()         {}

// IndexExpression is "object[index]".
type IndexExpression struct {
	PosVal Position
	Object Expr
	Index  Expr
}

func (n *IndexExpression) Pos() Position { return n.PosVal }
func (n *IndexExpression) node()         {}
func (n *IndexExpression) expr()         {}

// ArrayLiteral is "[a, b, c]".
type ArrayLiteral struct {
	PosVal   Position
	Elements []Expr
}

func (n *ArrayLiteral) Pos() Position { return n.PosVal }
func (n *ArrayLiteral) node()         {}
func (n *ArrayLiteral) expr()         {}

// InterpolationPart is one segment of an interpolated string. Exactly one
// of Literal or Name is meaningful, selected by IsName.
type InterpolationPart struct {
	IsName  bool
	Literal string
	Name    string
}

// StringInterpolation is a string literal with "[name]" segments.
type StringInterpolation struct {
	PosVal Position
	Parts  []InterpolationPart
}

func (n *StringInterpolation) Pos() Position { return n.PosVal }
func (n *StringInterpolation) node()         {}
func (n *StringInterpolation) expr()         {}

// FormatExpression is the built-in Format(value, "pattern").
type FormatExpression struct {
	PosVal  Position
	Value   Expr
	Pattern string
}

func (n *FormatExpression) Pos() Position { return n.PosVal }
func (n *FormatExpression) node()         {}
func (n *FormatExpression) expr()         {}

// ActionCall invokes an action or task and yields its result.
type ActionCall struct {
	PosVal Position
	Name   string
	Args   []Expr
}

func (n *ActionCall) Pos() Position { return n.PosVal }
func (n *ActionCall) node()         {}
func (n *ActionCall) expr()         {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// DisplayStatement prints a value.
type DisplayStatement struct {
	PosVal Position
	Value  Expr
}

func (n *DisplayStatement) Pos() Position { return n.PosVal }
func (n *DisplayStatement) node()         {}
func (n *DisplayStatement) stmt()         {}

// Assignment is "set x to v", "set x which is T to v" or "x is v".
type Assignment struct {
	PosVal       Position
	Name         string
	DeclaredType string // empty when no "which is" clause
	Value        Expr
}

func (n *Assignment) Pos() Position { return n.PosVal }
func (n *Assignment) node()         {}
func (n *Assignment) stmt()         {}

// ElseIfClause is one "otherwise when" branch.
type ElseIfClause struct {
	PosVal    Position
	Condition Expr
	Body      []Stmt
}

// IfStatement is a when/otherwise chain. Else-if branches are kept flat in
// encounter order.
type IfStatement struct {
	PosVal        Position
	Condition     Expr
	ThenBody      []Stmt
	ElseIfClauses []ElseIfClause
	ElseBody      []Stmt // nil when there is no bare otherwise
}

func (n *IfStatement) Pos() Position { return n.PosVal }
func (n *IfStatement) node()         {}
func (n *IfStatement) stmt()         {}

// WhileLoop repeats its body while the condition holds.
type WhileLoop struct {
	PosVal    Position
	Condition Expr
	Body      []Stmt
}

func (n *WhileLoop) Pos() Position { return n.PosVal }
func (n *WhileLoop) node()         {}
func (n *WhileLoop) stmt()         {}

// ForEachLoop iterates over the elements of a collection.
type ForEachLoop struct {
	PosVal   Position
	Variable string
	Iterable Expr
	Body     []Stmt
}

func (n *ForEachLoop) Pos() Position { return n.PosVal }
func (n *ForEachLoop) node()         {}
func (n *ForEachLoop) stmt()         {}

// ForEachCharLoop iterates over the characters of a string.
type ForEachCharLoop struct {
	PosVal   Position
	Variable string
	Source   Expr
	Body     []Stmt
}

func (n *ForEachCharLoop) Pos() Position { return n.PosVal }
func (n *ForEachCharLoop) node()         {}
func (n *ForEachCharLoop) stmt()         {}

// ReturnStatement is "return v" or "give back v". Value may be nil.
type ReturnStatement struct {
	PosVal Position
	Value  Expr
}

func (n *ReturnStatement) Pos() Position { return n.PosVal }
func (n *ReturnStatement) node()         {}
func (n *ReturnStatement) stmt()         {}

// IncludeStatement is `include "path"`.
type IncludeStatement struct {
	PosVal Position
	Path   string
}

func (n *IncludeStatement) Pos() Position { return n.PosVal }
func (n *IncludeStatement) node()         {}
func (n *IncludeStatement) stmt()         {}

// CallStatement is an action call whose result is discarded.
type CallStatement struct {
	PosVal Position
	Call   *ActionCall
}

func (n *CallStatement) Pos() Position { return n.PosVal }
func (n *CallStatement) node()         {}
func (n *CallStatement) stmt()         {}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// ModuleDefinition groups statements under a name.
type ModuleDefinition struct {
	PosVal Position
	Name   string
	Body   []Stmt
}

func (n *ModuleDefinition) Pos() Position { return n.PosVal }
func (n *ModuleDefinition) node()         {}
func (n *ModuleDefinition) stmt()         {}

// DataField is one field of a data definition.
type DataField struct {
	Name string
	Type string // empty when untyped
}

// DataDefinition declares a record type.
type DataDefinition struct {
	PosVal Position
	Name   string
	Fields []DataField
}

func (n *DataDefinition) Pos() Position { return n.PosVal }
func (n *DataDefinition) node()         {}
func (n *DataDefinition) stmt()         {}

// ActionDefinition is an action without parameters.
type ActionDefinition struct {
	PosVal Position
	Name   string
	Body   []Stmt
}

func (n *ActionDefinition) Pos() Position { return n.PosVal }
func (n *ActionDefinition) node()         {}
func (n *ActionDefinition) stmt()         {}

// TaskAction is an action declared "with" parameters.
type TaskAction struct {
	PosVal Position
	Name   string
	Params []string
	Body   []Stmt
}

func (n *TaskAction) Pos() Position { return n.PosVal }
func (n *TaskAction) node()         {}
func (n *TaskAction) stmt()         {}

// TaskDefinition is a "task" block, optionally with parameters.
type TaskDefinition struct {
	PosVal Position
	Name   string
	Params []string
	Body   []Stmt
}

func (n *TaskDefinition) Pos() Position { return n.PosVal }
func (n *TaskDefinition) node()         {}
func (n *TaskDefinition) stmt()         {}

// ---------------------------------------------------------------------------
// Domain statements (opaque to the bytecode core)
// ---------------------------------------------------------------------------

// ServeStatement is "serve on port N".
type ServeStatement struct {
	PosVal Position
	Port   Expr
}

func (n *ServeStatement) Pos() Position { return n.PosVal }
func (n *ServeStatement) node()         {}
func (n *ServeStatement) stmt()         {}

// DatabaseStatement is `database <operation> "query"`.
type DatabaseStatement struct {
	PosVal    Position
	Operation string
	Query     string
}

func (n *DatabaseStatement) Pos() Position { return n.PosVal }
func (n *DatabaseStatement) node()         {}
func (n *DatabaseStatement) stmt()         {}

// ApiCall is call/fetch/update/delete against a URL.
type ApiCall struct {
	PosVal Position
	Method string // GET, PUT, DELETE
	URL    Expr
	Body   Expr // update payload, may be nil
}

func (n *ApiCall) Pos() Position { return n.PosVal }
func (n *ApiCall) node()         {}
func (n *ApiCall) stmt()         {}
