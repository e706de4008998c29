package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: non-fatal checks run after parsing
// ---------------------------------------------------------------------------

// Diagnostic is a semantic warning. Diagnostics never block compilation.
type Diagnostic struct {
	Pos     Position
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("warning: line %d, column %d: %s", d.Pos.Line, d.Pos.Column, d.Message)
}

// SymbolKind classifies a program symbol.
type SymbolKind int

const (
	SymbolAction SymbolKind = iota
	SymbolData
	SymbolVariable
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolAction:
		return "action"
	case SymbolData:
		return "data"
	case SymbolVariable:
		return "variable"
	}
	return "unknown"
}

// Symbol is a name defined somewhere in a program.
type Symbol struct {
	Kind   SymbolKind
	Name   string
	Pos    Position
	Params []string    // actions
	Fields []DataField // data
	Type   string      // variables with a "which is" clause
}

// Signature renders the symbol for editor hovers.
func (s Symbol) Signature() string {
	switch s.Kind {
	case SymbolAction:
		if len(s.Params) == 0 {
			return "action " + s.Name
		}
		sig := "action " + s.Name + " with "
		for i, p := range s.Params {
			if i > 0 {
				sig += ", "
			}
			sig += p
		}
		return sig
	case SymbolData:
		sig := "data " + s.Name + ":"
		for _, f := range s.Fields {
			sig += "\n  " + f.Name
			if f.Type != "" {
				sig += " as " + f.Type
			}
		}
		return sig
	}
	if s.Type != "" {
		return s.Name + " which is " + s.Type
	}
	return s.Name
}

// SemanticAnalyzer walks a program and records diagnostics.
type SemanticAnalyzer struct {
	diags []Diagnostic

	actions map[string]Symbol
	data    map[string]Symbol

	// globals holds every name assigned outside an action body. Action
	// bodies run when called, so any of them may be set by then.
	globals map[string]bool

	assigned map[string]bool
	inAction bool

	// reached holds actions whose definition top-level execution has
	// passed. A definition registers its action only when it runs.
	reached map[string]bool
}

// NewSemanticAnalyzer creates an analyzer with empty tables.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{
		actions:  make(map[string]Symbol),
		data:     make(map[string]Symbol),
		globals:  make(map[string]bool),
		assigned: make(map[string]bool),
		reached:  make(map[string]bool),
	}
}

// Check runs all semantic checks on prog.
func Check(prog *Program) []Diagnostic {
	s := NewSemanticAnalyzer()
	s.Analyze(prog)
	return s.Diagnostics()
}

// Diagnostics returns the findings sorted by position.
func (s *SemanticAnalyzer) Diagnostics() []Diagnostic {
	sort.SliceStable(s.diags, func(i, j int) bool {
		a, b := s.diags[i].Pos, s.diags[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return s.diags
}

func (s *SemanticAnalyzer) warnAt(pos Position, format string, args ...interface{}) {
	s.diags = append(s.diags, Diagnostic{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// Analyze collects definitions and then checks every statement.
func (s *SemanticAnalyzer) Analyze(prog *Program) {
	s.collect(prog.Statements, false)
	for _, stmt := range prog.Statements {
		s.checkStmt(stmt)
	}
}

// collect records definitions and global assignments without diagnosing uses.
func (s *SemanticAnalyzer) collect(stmts []Stmt, inAction bool) {
	for _, stmt := range stmts {
		switch n := stmt.(type) {
		case *ModuleDefinition:
			s.collect(n.Body, inAction)
		case *ActionDefinition:
			s.defineAction(n.Name, nil, n.PosVal)
			s.collect(n.Body, true)
		case *TaskAction:
			s.defineAction(n.Name, n.Params, n.PosVal)
			s.collect(n.Body, true)
		case *TaskDefinition:
			s.defineAction(n.Name, n.Params, n.PosVal)
			s.collect(n.Body, true)
		case *DataDefinition:
			if prev, ok := s.data[n.Name]; ok {
				s.warnAt(n.PosVal, "duplicate definition of data %q (first defined at line %d)", n.Name, prev.Pos.Line)
				continue
			}
			s.data[n.Name] = Symbol{Kind: SymbolData, Name: n.Name, Pos: n.PosVal, Fields: n.Fields}
		case *Assignment:
			if !inAction {
				s.globals[n.Name] = true
			}
		case *IfStatement:
			s.collect(n.ThenBody, inAction)
			for _, c := range n.ElseIfClauses {
				s.collect(c.Body, inAction)
			}
			s.collect(n.ElseBody, inAction)
		case *WhileLoop:
			s.collect(n.Body, inAction)
		case *ForEachLoop:
			if !inAction {
				s.globals[n.Variable] = true
			}
			s.collect(n.Body, inAction)
		case *ForEachCharLoop:
			if !inAction {
				s.globals[n.Variable] = true
			}
			s.collect(n.Body, inAction)
		}
	}
}

func (s *SemanticAnalyzer) defineAction(name string, params []string, pos Position) {
	if prev, ok := s.actions[name]; ok {
		s.warnAt(pos, "duplicate definition of action %q (first defined at line %d)", name, prev.Pos.Line)
		return
	}
	s.actions[name] = Symbol{Kind: SymbolAction, Name: name, Pos: pos, Params: params}
}

// checkBody analyzes an action body with its parameters bound.
func (s *SemanticAnalyzer) checkBody(params []string, body []Stmt) {
	saved, savedIn := s.assigned, s.inAction
	scope := make(map[string]bool, len(saved)+len(params))
	for name := range saved {
		scope[name] = true
	}
	for name := range s.globals {
		scope[name] = true
	}
	for _, p := range params {
		scope[p] = true
	}
	s.assigned, s.inAction = scope, true
	s.checkStmts(body)
	s.assigned, s.inAction = saved, savedIn
}

func (s *SemanticAnalyzer) checkStmts(stmts []Stmt) {
	for _, stmt := range stmts {
		s.checkStmt(stmt)
	}
}

func (s *SemanticAnalyzer) checkStmt(stmt Stmt) {
	switch n := stmt.(type) {
	case *DisplayStatement:
		s.checkExpr(n.Value)
	case *Assignment:
		s.checkExpr(n.Value)
		s.assigned[n.Name] = true
	case *IfStatement:
		s.checkExpr(n.Condition)
		s.checkStmts(n.ThenBody)
		for _, c := range n.ElseIfClauses {
			s.checkExpr(c.Condition)
			s.checkStmts(c.Body)
		}
		s.checkStmts(n.ElseBody)
	case *WhileLoop:
		s.checkExpr(n.Condition)
		s.checkStmts(n.Body)
	case *ForEachLoop:
		s.checkExpr(n.Iterable)
		s.assigned[n.Variable] = true
		s.checkStmts(n.Body)
	case *ForEachCharLoop:
		s.checkExpr(n.Source)
		s.assigned[n.Variable] = true
		s.checkStmts(n.Body)
	case *ReturnStatement:
		if !s.inAction {
			s.warnAt(n.PosVal, "return outside of an action ends the program")
		}
		if n.Value != nil {
			s.checkExpr(n.Value)
		}
	case *CallStatement:
		s.checkExpr(n.Call)
	case *ModuleDefinition:
		s.checkStmts(n.Body)
	case *ActionDefinition:
		s.reached[n.Name] = true
		s.checkBody(nil, n.Body)
	case *TaskAction:
		s.reached[n.Name] = true
		s.checkBody(n.Params, n.Body)
	case *TaskDefinition:
		s.reached[n.Name] = true
		s.checkBody(n.Params, n.Body)
	case *ServeStatement:
		s.checkExpr(n.Port)
	case *ApiCall:
		s.checkExpr(n.URL)
		if n.Body != nil {
			s.checkExpr(n.Body)
		}
	}
}

func (s *SemanticAnalyzer) checkExpr(expr Expr) {
	switch n := expr.(type) {
	case *Identifier:
		s.checkRead(n.Name, n.PosVal)
	case *StringInterpolation:
		for _, part := range n.Parts {
			if part.IsName {
				s.checkRead(part.Name, n.PosVal)
			}
		}
	case *BinaryOp:
		s.checkExpr(n.Left)
		s.checkExpr(n.Right)
	case *ArithmeticOp:
		s.checkExpr(n.Left)
		s.checkExpr(n.Right)
	case *UnaryOp:
		s.checkExpr(n.Operand)
	case *PropertyAccess:
		s.checkExpr(n.Object)
	case *IndexExpression:
		s.checkExpr(n.Object)
		s.checkExpr(n.Index)
	case *ArrayLiteral:
		for _, e := range n.Elements {
			s.checkExpr(e)
		}
	case *FormatExpression:
		s.checkExpr(n.Value)
	case *ActionCall:
		for _, a := range n.Args {
			s.checkExpr(a)
		}
		def, ok := s.actions[n.Name]
		if !ok {
			s.warnAt(n.PosVal, "call to undefined action %q", n.Name)
			return
		}
		if !s.inAction && !s.reached[n.Name] {
			s.warnAt(n.PosVal, "action %q is called before it is defined (line %d)", n.Name, def.Pos.Line)
		}
		if len(def.Params) != len(n.Args) {
			s.warnAt(n.PosVal, "action %q expects %d argument(s), got %d", n.Name, len(def.Params), len(n.Args))
		}
	}
}

func (s *SemanticAnalyzer) checkRead(name string, pos Position) {
	if !s.assigned[name] {
		s.warnAt(pos, "variable %q may be used before it is assigned", name)
	}
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// Symbols lists the actions, data types and variables defined in prog in
// source order. Only the first definition of a name is reported.
func Symbols(prog *Program) []Symbol {
	var out []Symbol
	seen := make(map[string]bool)
	add := func(sym Symbol) {
		key := sym.Kind.String() + ":" + sym.Name
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, sym)
	}

	var walk func(stmts []Stmt)
	walk = func(stmts []Stmt) {
		for _, stmt := range stmts {
			switch n := stmt.(type) {
			case *ModuleDefinition:
				walk(n.Body)
			case *ActionDefinition:
				add(Symbol{Kind: SymbolAction, Name: n.Name, Pos: n.PosVal})
				walk(n.Body)
			case *TaskAction:
				add(Symbol{Kind: SymbolAction, Name: n.Name, Pos: n.PosVal, Params: n.Params})
				for _, p := range n.Params {
					add(Symbol{Kind: SymbolVariable, Name: p, Pos: n.PosVal})
				}
				walk(n.Body)
			case *TaskDefinition:
				add(Symbol{Kind: SymbolAction, Name: n.Name, Pos: n.PosVal, Params: n.Params})
				for _, p := range n.Params {
					add(Symbol{Kind: SymbolVariable, Name: p, Pos: n.PosVal})
				}
				walk(n.Body)
			case *DataDefinition:
				add(Symbol{Kind: SymbolData, Name: n.Name, Pos: n.PosVal, Fields: n.Fields})
			case *Assignment:
				add(Symbol{Kind: SymbolVariable, Name: n.Name, Pos: n.PosVal, Type: n.DeclaredType})
			case *IfStatement:
				walk(n.ThenBody)
				for _, c := range n.ElseIfClauses {
					walk(c.Body)
				}
				walk(n.ElseBody)
			case *WhileLoop:
				walk(n.Body)
			case *ForEachLoop:
				add(Symbol{Kind: SymbolVariable, Name: n.Variable, Pos: n.PosVal})
				walk(n.Body)
			case *ForEachCharLoop:
				add(Symbol{Kind: SymbolVariable, Name: n.Variable, Pos: n.PosVal})
				walk(n.Body)
			}
		}
	}
	walk(prog.Statements)
	return out
}
