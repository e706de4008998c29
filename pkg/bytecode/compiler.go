package bytecode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/prose/compiler"
)

var compileLog = commonlog.GetLogger("prose.bytecode.compiler")

// CompileError is a fatal code generation error.
type CompileError struct {
	Message string
	Line    int // 0 if unknown
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Options control code generation.
type Options struct {
	// SourceFile is recorded in the metadata. Empty means null.
	SourceFile string

	// Debug emits a DebugInfo table with one source line per instruction.
	Debug bool

	// BuildID overrides the generated UUID. Empty generates a fresh one.
	BuildID string

	// Now supplies the creation time. Nil means time.Now.
	Now func() time.Time
}

// ---------------------------------------------------------------------------
// Operator lowering
// ---------------------------------------------------------------------------

// binaryOps maps every surface spelling of a comparison or logical
// operator to its opcode.
var binaryOps = map[string]Opcode{
	">":                           OpGt,
	"is greater than":             OpGt,
	"<":                           OpLt,
	"is less than":                OpLt,
	">=":                          OpGte,
	"is greater than or equal to": OpGte,
	"is at least":                 OpGte,
	"<=":                          OpLte,
	"is less than or equal to":    OpLte,
	"is at most":                  OpLte,
	"==":                          OpEq,
	"=":                           OpEq,
	"equals":                      OpEq,
	"is equal to":                 OpEq,
	"is":                          OpEq,
	"!=":                          OpNeq,
	"does not equal":              OpNeq,
	"is not equal to":             OpNeq,
	"is not":                      OpNeq,
	"and":                         OpAnd,
	"or":                          OpOr,
}

var arithmeticOps = map[string]Opcode{
	"+":          OpAdd,
	"plus":       OpAdd,
	"-":          OpSub,
	"minus":      OpSub,
	"*":          OpMul,
	"times":      OpMul,
	"/":          OpDiv,
	"divided by": OpDiv,
	"%":          OpMod,
	"mod":        OpMod,
}

var unaryOps = map[string]Opcode{
	"not": OpNot,
	"-":   OpNeg,
}

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

// fixup records an instruction whose address argument names a label.
type fixup struct {
	index int
	label string
}

type constKey struct {
	kind ValueKind
	str  string
	num  float64
}

// Generator lowers a Program to a flat instruction list in one walk.
type Generator struct {
	opts Options

	instructions []Instruction
	constants    []Value
	constIndex   map[constKey]int

	labelCounter int
	labels       map[string]int // label -> instruction index
	fixups       []fixup

	// currentLoopEnd is the exit label of the innermost loop. No statement
	// reads it yet; it is saved and restored around nested loops.
	currentLoopEnd string

	hiddenCounter int
	line          int
}

// NewGenerator creates a generator with the given options.
func NewGenerator(opts Options) *Generator {
	return &Generator{
		opts:         opts,
		instructions: make([]Instruction, 0, 64),
		constants:    make([]Value, 0, 16),
		constIndex:   make(map[constKey]int),
		labels:       make(map[string]int),
	}
}

// Generate compiles prog into a bytecode file.
func Generate(prog *compiler.Program, opts Options) (*File, error) {
	return NewGenerator(opts).Generate(prog)
}

// GenerateJSON compiles prog and encodes the result as JSON.
func GenerateJSON(prog *compiler.Program, opts Options) ([]byte, error) {
	f, err := Generate(prog, opts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Generate compiles prog. A generator is single-use.
func (g *Generator) Generate(prog *compiler.Program) (*File, error) {
	for _, stmt := range prog.Statements {
		if err := g.visitStmt(stmt); err != nil {
			return nil, err
		}
	}
	g.emit(OpHalt)

	if err := g.resolveLabels(); err != nil {
		return nil, err
	}

	f := &File{
		Version:      FormatVersion,
		Metadata:     g.metadata(prog),
		Constants:    g.constants,
		Instructions: g.instructions,
	}
	if g.opts.Debug {
		lines := make([]int, len(g.instructions))
		for i, in := range g.instructions {
			lines[i] = in.Line
		}
		f.DebugInfo = &DebugInfo{Lines: lines}
	}
	compileLog.Debugf("generated %d instructions, %d constants, %d labels",
		len(f.Instructions), len(f.Constants), g.labelCounter)
	return f, nil
}

func (g *Generator) metadata(prog *compiler.Program) Metadata {
	now := time.Now
	if g.opts.Now != nil {
		now = g.opts.Now
	}
	md := Metadata{
		CreatedAt:       now().Unix(),
		CompilerVersion: CompilerVersion,
		BuildID:         g.opts.BuildID,
	}
	if md.BuildID == "" {
		md.BuildID = uuid.New().String()
	}
	if g.opts.SourceFile != "" {
		src := g.opts.SourceFile
		md.SourceFile = &src
	}
	if len(prog.Metadata) > 0 {
		md.Annotations = make(map[string]string, len(prog.Metadata))
		for _, ann := range prog.Metadata {
			md.Annotations[ann.Key] = ann.Value
		}
	}
	return md
}

// ---------------------------------------------------------------------------
// Emission and labels
// ---------------------------------------------------------------------------

// emit appends an instruction and returns its index.
func (g *Generator) emit(op Opcode, args ...Value) int {
	g.instructions = append(g.instructions, Instruction{Op: op, Args: args, Line: g.line})
	return len(g.instructions) - 1
}

// createLabel allocates a fresh label name. Labels are never reused.
func (g *Generator) createLabel() string {
	label := "L" + strconv.Itoa(g.labelCounter)
	g.labelCounter++
	return label
}

// emitJump appends a jump with a placeholder address to be patched once
// label is marked.
func (g *Generator) emitJump(op Opcode, label string) int {
	idx := g.emit(op, Int(0))
	g.fixups = append(g.fixups, fixup{index: idx, label: label})
	return idx
}

// markLabel binds label to the next instruction index.
func (g *Generator) markLabel(label string) {
	g.labels[label] = len(g.instructions)
}

// resolveLabels patches every placeholder address. A label that was
// referenced but never marked is an error.
func (g *Generator) resolveLabels() error {
	for _, fx := range g.fixups {
		addr, ok := g.labels[fx.label]
		if !ok {
			return &CompileError{Message: "Undefined label: " + fx.label}
		}
		g.instructions[fx.index].SetAddress(addr)
	}
	return nil
}

// addConstant registers a literal in the constant pool once.
func (g *Generator) addConstant(v Value) int {
	key := constKey{kind: v.Kind, str: v.Str, num: v.Num}
	if idx, ok := g.constIndex[key]; ok {
		return idx
	}
	idx := len(g.constants)
	g.constants = append(g.constants, v)
	g.constIndex[key] = idx
	return idx
}

// pushConst emits Push for a string or number literal.
func (g *Generator) pushConst(v Value) {
	g.addConstant(v)
	g.emit(OpPush, v)
}

func (g *Generator) at(pos compiler.Position) {
	if pos.Line > 0 {
		g.line = pos.Line
	}
}

func (g *Generator) errorf(format string, args ...interface{}) *CompileError {
	return &CompileError{Message: fmt.Sprintf(format, args...), Line: g.line}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *Generator) visitBody(body []compiler.Stmt) error {
	for _, stmt := range body {
		if err := g.visitStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) visitStmt(stmt compiler.Stmt) error {
	g.at(stmt.Pos())

	switch n := stmt.(type) {
	case *compiler.DisplayStatement:
		if err := g.visitExpr(n.Value); err != nil {
			return err
		}
		g.emit(OpDisplay)

	case *compiler.Assignment:
		if err := g.visitExpr(n.Value); err != nil {
			return err
		}
		g.at(n.PosVal)
		g.emit(OpStoreVar, String(n.Name))

	case *compiler.IfStatement:
		return g.visitIf(n)

	case *compiler.WhileLoop:
		return g.visitWhile(n)

	case *compiler.ForEachLoop:
		return g.errorf("ForEach loops not yet implemented in bytecode")

	case *compiler.ForEachCharLoop:
		return g.visitForEachChar(n)

	case *compiler.ReturnStatement:
		if n.Value != nil {
			if err := g.visitExpr(n.Value); err != nil {
				return err
			}
		} else {
			g.emit(OpPush, Null())
		}
		g.emit(OpReturn)

	case *compiler.IncludeStatement:
		// Resolved by the front end before generation.

	case *compiler.CallStatement:
		if err := g.visitExpr(n.Call); err != nil {
			return err
		}
		g.emit(OpPop)

	case *compiler.ModuleDefinition:
		return g.visitBody(n.Body)

	case *compiler.DataDefinition:
		names := make([]string, len(n.Fields))
		types := make([]string, len(n.Fields))
		for i, f := range n.Fields {
			names[i], types[i] = f.Name, f.Type
		}
		g.emit(OpDefineData, String(n.Name), Strings(names), Strings(types))

	case *compiler.ActionDefinition:
		// A parameterless action lowers exactly like a task action.
		return g.visitStmt(&compiler.TaskAction{PosVal: n.PosVal, Name: n.Name, Body: n.Body})

	case *compiler.TaskAction:
		return g.visitTask(n.Name, n.Params, n.Body)

	case *compiler.TaskDefinition:
		return g.visitTask(n.Name, n.Params, n.Body)

	case *compiler.ServeStatement:
		g.emit(OpServiceOp, String("serve"), String(staticTarget(n.Port)))

	case *compiler.ApiCall:
		g.emit(OpServiceOp, String(n.Method), String(staticTarget(n.URL)))

	case *compiler.DatabaseStatement:
		g.emit(OpDatabaseOp, String(n.Operation), String(n.Query))

	default:
		return g.errorf("cannot compile statement %T", stmt)
	}
	return nil
}

// visitIf lowers a flat when/otherwise chain. Each failed condition jumps
// to the next clause's label; each taken body jumps to the shared end. The
// chain uses 2 + len(ElseIfClauses) labels.
func (g *Generator) visitIf(n *compiler.IfStatement) error {
	end := g.createLabel()
	next := g.createLabel()

	if err := g.visitExpr(n.Condition); err != nil {
		return err
	}
	g.emitJump(OpJumpIfFalse, next)
	if err := g.visitBody(n.ThenBody); err != nil {
		return err
	}
	g.emitJump(OpJump, end)

	for _, clause := range n.ElseIfClauses {
		g.markLabel(next)
		next = g.createLabel()
		g.at(clause.PosVal)
		if err := g.visitExpr(clause.Condition); err != nil {
			return err
		}
		g.emitJump(OpJumpIfFalse, next)
		if err := g.visitBody(clause.Body); err != nil {
			return err
		}
		g.emitJump(OpJump, end)
	}

	g.markLabel(next)
	if err := g.visitBody(n.ElseBody); err != nil {
		return err
	}
	g.markLabel(end)
	return nil
}

func (g *Generator) visitWhile(n *compiler.WhileLoop) error {
	start := g.createLabel()
	end := g.createLabel()
	saved := g.currentLoopEnd
	g.currentLoopEnd = end
	defer func() { g.currentLoopEnd = saved }()

	g.markLabel(start)
	if err := g.visitExpr(n.Condition); err != nil {
		return err
	}
	g.emitJump(OpJumpIfFalse, end)
	if err := g.visitBody(n.Body); err != nil {
		return err
	}
	g.emitJump(OpJump, start)
	g.markLabel(end)
	return nil
}

// visitForEachChar lowers character iteration with a hidden source copy
// and a hidden index variable.
func (g *Generator) visitForEachChar(n *compiler.ForEachCharLoop) error {
	id := g.hiddenCounter
	g.hiddenCounter++
	src := String(fmt.Sprintf("__s_%d", id))
	idx := String(fmt.Sprintf("__i_%d", id))

	if err := g.visitExpr(n.Source); err != nil {
		return err
	}
	g.emit(OpStoreVar, src)
	g.pushConst(Int(0))
	g.emit(OpStoreVar, idx)

	start := g.createLabel()
	end := g.createLabel()
	saved := g.currentLoopEnd
	g.currentLoopEnd = end
	defer func() { g.currentLoopEnd = saved }()

	g.markLabel(start)
	g.emit(OpLoadVar, idx)
	g.emit(OpLoadVar, src)
	g.emit(OpGetProperty, String("length"))
	g.emit(OpLt)
	g.emitJump(OpJumpIfFalse, end)

	g.emit(OpLoadVar, src)
	g.emit(OpLoadVar, idx)
	g.emit(OpIndex)
	g.emit(OpStoreVar, String(n.Variable))

	if err := g.visitBody(n.Body); err != nil {
		return err
	}

	g.emit(OpLoadVar, idx)
	g.pushConst(Int(1))
	g.emit(OpAdd)
	g.emit(OpStoreVar, idx)
	g.emitJump(OpJump, start)
	g.markLabel(end)
	return nil
}

// visitTask emits DefineTask, whose end address skips the body during
// straight-line execution. Bodies always end by returning null.
func (g *Generator) visitTask(name string, params []string, body []compiler.Stmt) error {
	end := g.createLabel()
	if params == nil {
		params = []string{}
	}
	idx := g.emit(OpDefineTask, String(name), Strings(params), Int(0))
	g.fixups = append(g.fixups, fixup{index: idx, label: end})

	if err := g.visitBody(body); err != nil {
		return err
	}
	g.emit(OpPush, Null())
	g.emit(OpReturn)
	g.markLabel(end)
	return nil
}

// staticTarget renders a literal service target, or "" for anything
// computed at run time.
func staticTarget(e compiler.Expr) string {
	switch n := e.(type) {
	case *compiler.StringLiteral:
		return n.Value
	case *compiler.IntegerLiteral:
		return strconv.FormatInt(n.Value, 10)
	case *compiler.FloatLiteral:
		return strconv.FormatFloat(n.Value, 'g', -1, 64)
	}
	return ""
}

// ---------------------------------------------------------------------------
// Expressions: each pushes exactly one value
// ---------------------------------------------------------------------------

func (g *Generator) visitExpr(expr compiler.Expr) error {
	g.at(expr.Pos())

	switch n := expr.(type) {
	case *compiler.IntegerLiteral:
		g.pushConst(Number(float64(n.Value)))

	case *compiler.FloatLiteral:
		g.pushConst(Number(n.Value))

	case *compiler.StringLiteral:
		g.pushConst(String(n.Value))

	case *compiler.BooleanLiteral:
		g.emit(OpPush, Bool(n.Value))

	case *compiler.NullLiteral:
		g.emit(OpPush, Null())

	case *compiler.Identifier:
		g.emit(OpLoadVar, String(n.Name))

	case *compiler.BinaryOp:
		op, ok := binaryOps[n.Operator]
		if !ok {
			return g.errorf("Unknown operator: %s", n.Operator)
		}
		return g.visitOperands(n.Left, n.Right, op)

	case *compiler.ArithmeticOp:
		op, ok := arithmeticOps[n.Operator]
		if !ok {
			return g.errorf("Unknown operator: %s", n.Operator)
		}
		return g.visitOperands(n.Left, n.Right, op)

	case *compiler.UnaryOp:
		op, ok := unaryOps[n.Operator]
		if !ok {
			return g.errorf("Unknown operator: %s", n.Operator)
		}
		if err := g.visitExpr(n.Operand); err != nil {
			return err
		}
		g.emit(op)

	case *compiler.PropertyAccess:
		if err := g.visitExpr(n.Object); err != nil {
			return err
		}
		g.emit(OpGetProperty, String(n.Property))

	case *compiler.IndexExpression:
		if err := g.visitExpr(n.Object); err != nil {
			return err
		}
		if err := g.visitExpr(n.Index); err != nil {
			return err
		}
		g.emit(OpIndex)

	case *compiler.ArrayLiteral:
		for _, elem := range n.Elements {
			if err := g.visitExpr(elem); err != nil {
				return err
			}
		}
		g.emit(OpCreateArray, Int(len(n.Elements)))

	case *compiler.StringInterpolation:
		g.visitInterpolation(n)

	case *compiler.FormatExpression:
		if err := g.visitExpr(n.Value); err != nil {
			return err
		}
		g.pushConst(String(n.Pattern))
		g.emit(OpFormat)

	case *compiler.ActionCall:
		for _, arg := range n.Args {
			if err := g.visitExpr(arg); err != nil {
				return err
			}
		}
		g.emit(OpRunTask, String(n.Name), Int(len(n.Args)))

	default:
		return g.errorf("cannot compile expression %T", expr)
	}
	return nil
}

// visitOperands evaluates left then right, then applies op.
func (g *Generator) visitOperands(left, right compiler.Expr, op Opcode) error {
	if err := g.visitExpr(left); err != nil {
		return err
	}
	if err := g.visitExpr(right); err != nil {
		return err
	}
	g.emit(op)
	return nil
}

// visitInterpolation emits the first part, then part/Concat pairs. Name
// parts are converted with ToString.
func (g *Generator) visitInterpolation(n *compiler.StringInterpolation) {
	for i, part := range n.Parts {
		if part.IsName {
			g.emit(OpLoadVar, String(part.Name))
			g.emit(OpToString)
		} else {
			g.pushConst(String(part.Literal))
		}
		if i > 0 {
			g.emit(OpConcat)
		}
	}
	if len(n.Parts) == 0 {
		g.pushConst(String(""))
	}
}
