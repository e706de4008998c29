package bytecode

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/prose/compiler"
)

var fixedNow = func() time.Time { return time.Unix(1700000000, 0) }

// compileSource parses and compiles src, failing the test on any error.
func compileSource(t testing.TB, src string) *File {
	t.Helper()
	prog, err := compiler.ParseSource(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	f, err := Generate(prog, Options{BuildID: "test", Now: fixedNow})
	if err != nil {
		t.Fatalf("generate %q: %v", src, err)
	}
	return f
}

func opcodes(instrs []Instruction) []Opcode {
	ops := make([]Opcode, len(instrs))
	for i, in := range instrs {
		ops[i] = in.Op
	}
	return ops
}

func countOp(instrs []Instruction, op Opcode) int {
	n := 0
	for _, in := range instrs {
		if in.Op == op {
			n++
		}
	}
	return n
}

func lit(n int64) compiler.Expr { return &compiler.IntegerLiteral{Value: n} }

func program(stmts ...compiler.Stmt) *compiler.Program {
	return &compiler.Program{Statements: stmts}
}

func TestGenerateOperatorEquivalence(t *testing.T) {
	words := compileSource(t, "display 1 is greater than 2")
	symbols := compileSource(t, "display 1 > 2")

	want := []Opcode{OpPush, OpPush, OpGt, OpDisplay, OpHalt}
	for _, f := range []*File{words, symbols} {
		got := opcodes(f.Instructions)
		if len(got) != len(want) {
			t.Fatalf("opcodes = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("opcode %d = %s, want %s", i, got[i], want[i])
			}
		}
	}

	a, _ := MarshalInstructions(words.Instructions)
	b, _ := MarshalInstructions(symbols.Instructions)
	if string(a) != string(b) {
		t.Error("word and symbol forms should compile to identical instructions")
	}
}

func TestGenerateOperatorTable(t *testing.T) {
	tests := []struct {
		operator string
		want     Opcode
	}{
		{">", OpGt},
		{"is greater than", OpGt},
		{"<", OpLt},
		{"is less than", OpLt},
		{">=", OpGte},
		{"is greater than or equal to", OpGte},
		{"is at least", OpGte},
		{"<=", OpLte},
		{"is less than or equal to", OpLte},
		{"is at most", OpLte},
		{"==", OpEq},
		{"=", OpEq},
		{"equals", OpEq},
		{"is equal to", OpEq},
		{"is", OpEq},
		{"!=", OpNeq},
		{"does not equal", OpNeq},
		{"is not equal to", OpNeq},
		{"is not", OpNeq},
		{"and", OpAnd},
		{"or", OpOr},
	}

	for _, tt := range tests {
		t.Run(tt.operator, func(t *testing.T) {
			expr := &compiler.BinaryOp{Left: lit(1), Operator: tt.operator, Right: lit(2)}
			f, err := Generate(program(&compiler.DisplayStatement{Value: expr}), Options{})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if got := f.Instructions[2].Op; got != tt.want {
				t.Errorf("%q lowered to %s, want %s", tt.operator, got, tt.want)
			}
		})
	}

	arith := map[string]Opcode{
		"+": OpAdd, "plus": OpAdd, "-": OpSub, "minus": OpSub,
		"*": OpMul, "times": OpMul, "/": OpDiv, "divided by": OpDiv,
		"%": OpMod, "mod": OpMod,
	}
	for operator, want := range arith {
		expr := &compiler.ArithmeticOp{Left: lit(6), Operator: operator, Right: lit(3)}
		f, err := Generate(program(&compiler.DisplayStatement{Value: expr}), Options{})
		if err != nil {
			t.Fatalf("Generate(%q): %v", operator, err)
		}
		if got := f.Instructions[2].Op; got != want {
			t.Errorf("%q lowered to %s, want %s", operator, got, want)
		}
	}
}

func TestGenerateLeftThenRight(t *testing.T) {
	f := compileSource(t, "display 10 minus 4")
	if f.Instructions[0].Arg(0).Num != 10 || f.Instructions[1].Arg(0).Num != 4 {
		t.Errorf("operands out of order: %s", DisassembleInstructions(f.Instructions))
	}
}

func TestGenerateUnknownOperator(t *testing.T) {
	tests := []compiler.Expr{
		&compiler.BinaryOp{Left: lit(1), Operator: "xor", Right: lit(2)},
		&compiler.ArithmeticOp{Left: lit(1), Operator: "**", Right: lit(2)},
		&compiler.UnaryOp{Operator: "~", Operand: lit(1)},
	}
	for _, expr := range tests {
		_, err := Generate(program(&compiler.DisplayStatement{Value: expr}), Options{})
		if err == nil {
			t.Fatalf("Generate(%T) should fail", expr)
		}
		if !strings.HasPrefix(err.Error(), "Unknown operator: ") {
			t.Errorf("error = %q, want Unknown operator", err)
		}
		if _, ok := err.(*CompileError); !ok {
			t.Errorf("error type = %T, want *CompileError", err)
		}
	}
}

func TestGenerateForEachUnsupported(t *testing.T) {
	prog, err := compiler.ParseSource("for each x in [1, 2]\ndisplay x\nend for")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = Generate(prog, Options{})
	if err == nil || !strings.Contains(err.Error(), "ForEach loops not yet implemented in bytecode") {
		t.Errorf("Generate = %v, want ForEach error", err)
	}
}

func TestResolveLabelsUndefined(t *testing.T) {
	g := NewGenerator(Options{})
	g.emitJump(OpJump, g.createLabel())
	err := g.resolveLabels()
	if err == nil || err.Error() != "Undefined label: L0" {
		t.Errorf("resolveLabels = %v, want Undefined label: L0", err)
	}
}

func TestCreateLabelNeverReuses(t *testing.T) {
	g := NewGenerator(Options{})
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		l := g.createLabel()
		if seen[l] {
			t.Fatalf("label %s reused", l)
		}
		seen[l] = true
	}
}

func TestIfChainLabelCount(t *testing.T) {
	for n := 0; n <= 4; n++ {
		stmt := &compiler.IfStatement{
			Condition: &compiler.BooleanLiteral{Value: true},
			ThenBody:  []compiler.Stmt{&compiler.DisplayStatement{Value: lit(0)}},
		}
		for i := 0; i < n; i++ {
			stmt.ElseIfClauses = append(stmt.ElseIfClauses, compiler.ElseIfClause{
				Condition: &compiler.BooleanLiteral{Value: false},
				Body:      []compiler.Stmt{&compiler.DisplayStatement{Value: lit(int64(i + 1))}},
			})
		}
		stmt.ElseBody = []compiler.Stmt{&compiler.DisplayStatement{Value: lit(99)}}

		g := NewGenerator(Options{})
		f, err := g.Generate(program(stmt))
		if err != nil {
			t.Fatalf("Generate with %d else-if clauses: %v", n, err)
		}
		if g.labelCounter != 2+n {
			t.Errorf("%d else-if clauses used %d labels, want %d", n, g.labelCounter, 2+n)
		}
		// One condition test per clause, never re-evaluated.
		if got := countOp(f.Instructions, OpJumpIfFalse); got != 1+n {
			t.Errorf("%d else-if clauses emitted %d JumpIfFalse, want %d", n, got, 1+n)
		}
	}
}

// Every supported construct resolves all its labels.
func TestLabelResolutionTotality(t *testing.T) {
	sources := []string{
		"when true then\ndisplay 1\nend when",
		"when true then\ndisplay 1\notherwise\ndisplay 2\nend when",
		"when 1 is 2 then display 1 otherwise when 2 is 2 then display 2 otherwise when 3 is 3 then display 3 end when",
		"set x to 3\nwhile x is greater than 0\nset x to x minus 1\nend while",
		"set i to 0\nwhile i < 2\nset j to 0\nwhile j < 2\nset j to j plus 1\nend while\nset i to i plus 1\nend while",
		"for each character c in \"abc\"\ndisplay c\nend for",
		"action hello\ndisplay 1\nend action\nhello",
		"task add with a, b\nreturn a plus b\nend task\ndisplay add(1, 2)",
		"module m\naction inner\nwhen true then\ndisplay 1\nend when\nend action\nend module",
	}
	for _, src := range sources {
		f := compileSource(t, src)
		if err := f.Validate(); err != nil {
			t.Errorf("%q: %v", src, err)
		}
		for i, in := range f.Instructions {
			if (in.Op.IsJump() || in.Op == OpDefineTask) && in.Address() == 0 && i > 0 {
				t.Errorf("%q: instruction %d still has placeholder address", src, i)
			}
		}
	}
}

func TestCurrentLoopEndRestored(t *testing.T) {
	g := NewGenerator(Options{})
	inner := &compiler.WhileLoop{Condition: &compiler.BooleanLiteral{Value: false}}
	outer := &compiler.WhileLoop{Condition: &compiler.BooleanLiteral{Value: false}, Body: []compiler.Stmt{inner}}
	if _, err := g.Generate(program(outer)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if g.currentLoopEnd != "" {
		t.Errorf("currentLoopEnd = %q after loops, want empty", g.currentLoopEnd)
	}
}

// stackEffect sums the static stack effect of straight-line code.
func stackEffect(t *testing.T, instrs []Instruction) int {
	t.Helper()
	depth := 0
	for _, in := range instrs {
		info := GetOpcodeInfo(in.Op)
		pop := info.StackPop
		if pop < 0 {
			pop = in.Count()
		}
		depth -= pop
		if depth < 0 {
			t.Fatalf("stack underflow at %s", in.Op)
		}
		depth += info.StackPush
	}
	return depth
}

func TestStatementStackBalance(t *testing.T) {
	sources := []string{
		"display 1",
		"set x to 1 plus 2 times 3",
		"x is \"a\"",
		"display \"total: [x] of [y]\"",
		"display Format(3.5, \"0.00\")",
		"set xs to [1, 2, [3, 4]]",
		"display xs[0].length",
		"greet with \"Ada\" and 2",
		"greet(1, 2, 3)",
		"display not true",
		"display -x",
		"database query \"SELECT 1\"",
		"serve on port 8080",
		"fetch \"http://example.com\"",
	}
	for _, src := range sources {
		f := compileSource(t, src)
		body := f.Instructions[:len(f.Instructions)-1] // drop Halt
		if got := stackEffect(t, body); got != 0 {
			t.Errorf("%q leaves %d value(s) on the stack:\n%s", src, got, DisassembleInstructions(body))
		}
	}
}

func TestGenerateInterpolation(t *testing.T) {
	f := compileSource(t, "display \"Hi [name]!\"")
	want := []Opcode{OpPush, OpLoadVar, OpToString, OpConcat, OpPush, OpConcat, OpDisplay, OpHalt}
	got := opcodes(f.Instructions)
	if len(got) != len(want) {
		t.Fatalf("opcodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("opcode %d = %s, want %s", i, got[i], want[i])
		}
	}

	single := compileSource(t, "display \"[name]\"")
	if ops := opcodes(single.Instructions); len(ops) != 4 || ops[1] != OpToString {
		t.Errorf("single-name interpolation = %v, want LoadVar ToString Display Halt", ops)
	}
}

func TestGenerateTask(t *testing.T) {
	f := compileSource(t, "action hello\ndisplay \"hi\"\nend action\nhello")
	def := f.Instructions[0]
	if def.Op != OpDefineTask || def.Name() != "hello" || len(def.Params()) != 0 {
		t.Fatalf("first instruction = %s, want DefineTask hello", def)
	}
	end := def.Address()
	if f.Instructions[end-1].Op != OpReturn || f.Instructions[end-2].Op != OpPush {
		t.Errorf("task body should end with Push Null; Return:\n%s", DisassembleInstructions(f.Instructions))
	}
	call := f.Instructions[end]
	if call.Op != OpRunTask || call.Name() != "hello" || call.Count() != 0 {
		t.Errorf("call = %s", call)
	}
	if f.Instructions[end+1].Op != OpPop {
		t.Errorf("statement call should be followed by Pop, got %s", f.Instructions[end+1].Op)
	}

	params := compileSource(t, "task add with a and b\nreturn a plus b\nend task")
	if got := params.Instructions[0].Params(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("params = %v, want [a b]", got)
	}
}

func TestGenerateConstantsDeduplicated(t *testing.T) {
	f := compileSource(t, "display 1\ndisplay 1\ndisplay \"a\"\ndisplay \"a\"\ndisplay true")
	if len(f.Constants) != 2 {
		t.Errorf("constants = %v, want [1 a]", f.Constants)
	}
}

func TestGenerateMarkers(t *testing.T) {
	tests := []struct {
		src  string
		want Instruction
	}{
		{"serve on port 8080", Instr(OpServiceOp, String("serve"), String("8080"))},
		{"serve port p", Instr(OpServiceOp, String("serve"), String(""))},
		{"fetch \"http://x/items\"", Instr(OpServiceOp, String("GET"), String("http://x/items"))},
		{"update \"http://x/1\" with payload", Instr(OpServiceOp, String("PUT"), String("http://x/1"))},
		{"delete \"http://x/1\"", Instr(OpServiceOp, String("DELETE"), String("http://x/1"))},
		{"database query \"SELECT 1\"", Instr(OpDatabaseOp, String("query"), String("SELECT 1"))},
		{"data Point\nx as number\ny\nend data",
			Instr(OpDefineData, String("Point"), Strings([]string{"x", "y"}), Strings([]string{"number", ""}))},
	}
	for _, tt := range tests {
		f := compileSource(t, tt.src)
		if got, want := f.Instructions[0].String(), tt.want.String(); got != want {
			t.Errorf("%q compiled to %s, want %s", tt.src, got, want)
		}
	}
}

func TestGenerateIncludeEmitsNothing(t *testing.T) {
	f := compileSource(t, "include \"lib.prose\"")
	if len(f.Instructions) != 1 || f.Instructions[0].Op != OpHalt {
		t.Errorf("include compiled to %v, want only Halt", opcodes(f.Instructions))
	}
}

func TestGenerateMetadata(t *testing.T) {
	prog, err := compiler.ParseSource("@author Ada Lovelace\ndisplay 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, err := Generate(prog, Options{SourceFile: "main.prose", Now: fixedNow})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	md := f.Metadata
	if md.SourceFile == nil || *md.SourceFile != "main.prose" {
		t.Errorf("SourceFile = %v, want main.prose", md.SourceFile)
	}
	if md.CreatedAt != 1700000000 {
		t.Errorf("CreatedAt = %d, want 1700000000", md.CreatedAt)
	}
	if md.CompilerVersion != CompilerVersion {
		t.Errorf("CompilerVersion = %q", md.CompilerVersion)
	}
	if _, err := uuid.Parse(md.BuildID); err != nil {
		t.Errorf("BuildID %q is not a UUID: %v", md.BuildID, err)
	}
	if md.Annotations["author"] != "Ada Lovelace" {
		t.Errorf("Annotations = %v", md.Annotations)
	}
	if f.DebugInfo != nil {
		t.Error("DebugInfo should be nil without Debug")
	}

	f2, _ := Generate(prog, Options{Now: fixedNow})
	if f2.Metadata.SourceFile != nil {
		t.Error("SourceFile should be nil when not given")
	}
	if f2.Metadata.BuildID == md.BuildID {
		t.Error("each build should get a fresh BuildID")
	}
}

func TestGenerateDebugInfo(t *testing.T) {
	prog, err := compiler.ParseSource("set x to 1\n\ndisplay x")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, err := Generate(prog, Options{Debug: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if f.DebugInfo == nil || len(f.DebugInfo.Lines) != len(f.Instructions) {
		t.Fatalf("DebugInfo = %+v for %d instructions", f.DebugInfo, len(f.Instructions))
	}
	want := []int{1, 1, 3, 3, 3}
	for i, line := range want {
		if f.DebugInfo.Lines[i] != line {
			t.Errorf("line of instruction %d = %d, want %d", i, f.DebugInfo.Lines[i], line)
		}
	}
}

func TestGenerateJSON(t *testing.T) {
	prog, _ := compiler.ParseSource("display \"hi\"")
	data, err := GenerateJSON(prog, Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	for _, key := range []string{"version", "metadata", "constants", "instructions", "debug_info"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if string(raw["instructions"]) != `[{"Push":{"String":"hi"}},"Display","Halt"]` {
		t.Errorf("instructions = %s", raw["instructions"])
	}
}
