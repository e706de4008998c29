package bytecode

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("prose.bytecode")

// DefaultMaxCallDepth bounds task recursion unless overridden.
const DefaultMaxCallDepth = 1000

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrUndefinedTask     = errors.New("undefined task")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrStepLimit         = errors.New("step limit exceeded")
	ErrCallDepth         = errors.New("call depth exceeded")
	ErrUnknownProperty   = errors.New("unknown property")
)

// RuntimeError is a fatal interpreter error. Err is one of the Err*
// sentinels above.
type RuntimeError struct {
	Err    error
	PC     int
	Op     Opcode
	Line   int // source line, 0 if unknown
	Detail string
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	if e.Line > 0 {
		sb.WriteString(fmt.Sprintf("line %d: ", e.Line))
	}
	sb.WriteString(fmt.Sprintf("%s at %04d: %v", e.Op, e.PC, e.Err))
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// runtimeErr builds a partial RuntimeError; the interpreter fills in the
// location when it surfaces.
func runtimeErr(err error, format string, args ...interface{}) error {
	return &RuntimeError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// ---------------------------------------------------------------------------
// Interpreter state
// ---------------------------------------------------------------------------

// DataType is a record type registered by DefineData.
type DataType struct {
	Name   string
	Fields []string
	Types  []string
}

// Marker is a DatabaseOp or ServiceOp the program passed through.
type Marker struct {
	Op     Opcode
	Kind   string
	Target string
}

type taskEntry struct {
	params []string
	entry  int
}

type callFrame struct {
	task      string
	returnPC  int
	stackBase int
}

// Interpreter executes instruction lists on a value stack with one flat
// global variable map.
type Interpreter struct {
	stack     []Value
	variables map[string]Value
	pc        int

	tasks     map[string]taskEntry
	dataTypes map[string]DataType
	markers   []Marker
	frames    []callFrame
	steps     int

	out          io.Writer
	maxSteps     int
	maxCallDepth int
	hook         func(pc int, in Instruction)

	// Trace logs every instruction at debug level.
	Trace bool
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithOutput directs Display output to w. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(vm *Interpreter) { vm.out = w }
}

// WithMaxSteps aborts execution after n instructions. 0 means unlimited.
func WithMaxSteps(n int) Option {
	return func(vm *Interpreter) { vm.maxSteps = n }
}

// WithMaxCallDepth bounds nested task calls. 0 means unlimited.
func WithMaxCallDepth(n int) Option {
	return func(vm *Interpreter) { vm.maxCallDepth = n }
}

// WithStepHook calls fn before each instruction executes.
func WithStepHook(fn func(pc int, in Instruction)) Option {
	return func(vm *Interpreter) { vm.hook = fn }
}

// NewInterpreter creates an interpreter.
func NewInterpreter(opts ...Option) *Interpreter {
	vm := &Interpreter{
		out:          os.Stdout,
		maxCallDepth: DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.reset()
	return vm
}

func (vm *Interpreter) reset() {
	vm.stack = make([]Value, 0, 64)
	vm.variables = make(map[string]Value)
	vm.pc = 0
	vm.tasks = make(map[string]taskEntry)
	vm.dataTypes = make(map[string]DataType)
	vm.markers = nil
	vm.frames = vm.frames[:0]
	vm.steps = 0
}

// Variables returns a copy of the global variable map.
func (vm *Interpreter) Variables() map[string]Value {
	out := make(map[string]Value, len(vm.variables))
	for k, v := range vm.variables {
		out[k] = v
	}
	return out
}

// DataTypes returns the record types registered so far.
func (vm *Interpreter) DataTypes() map[string]DataType {
	out := make(map[string]DataType, len(vm.dataTypes))
	for k, v := range vm.dataTypes {
		out[k] = v
	}
	return out
}

// Markers returns the database and service markers in execution order.
func (vm *Interpreter) Markers() []Marker {
	return append([]Marker(nil), vm.markers...)
}

// StackDepth returns the number of values left on the stack.
func (vm *Interpreter) StackDepth() int {
	return len(vm.stack)
}

// Steps returns the number of instructions executed by the last run.
func (vm *Interpreter) Steps() int {
	return vm.steps
}

// Run validates a file and executes its instructions.
func (vm *Interpreter) Run(f *File) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return vm.Execute(f.Instructions)
}

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

// Execute runs instrs from index 0 until Halt, a top-level Return, or the
// end of the list. Any error aborts the run.
func (vm *Interpreter) Execute(instrs []Instruction) error {
	vm.reset()

	for vm.pc < len(instrs) {
		in := instrs[vm.pc]

		if vm.maxSteps > 0 && vm.steps >= vm.maxSteps {
			return vm.fail(in, runtimeErr(ErrStepLimit, "%d instructions", vm.maxSteps))
		}
		vm.steps++
		if vm.hook != nil {
			vm.hook(vm.pc, in)
		}
		if vm.Trace {
			vmLog.Debugf("[%04d] %-12s sp=%d depth=%d", vm.pc, in.Op, len(vm.stack), len(vm.frames))
		}

		switch in.Op {
		// ============ Stack Operations ============
		case OpNop:

		case OpPop:
			if _, err := vm.pop(); err != nil {
				return vm.fail(in, err)
			}

		case OpDup:
			v, err := vm.peek()
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(v)

		case OpPush:
			vm.push(in.Arg(0))

		// ============ Variables ============
		case OpLoadVar:
			v, ok := vm.variables[in.Name()]
			if !ok {
				return vm.fail(in, runtimeErr(ErrUndefinedVariable, "%q", in.Name()))
			}
			vm.push(v)

		case OpStoreVar:
			v, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			vm.variables[in.Name()] = v

		case OpGetProperty:
			obj, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			v, err := property(obj, in.Name())
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(v)

		case OpIndex:
			obj, idx, err := vm.pop2()
			if err != nil {
				return vm.fail(in, err)
			}
			v, err := index(obj, idx)
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(v)

		// ============ Arithmetic ============
		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			a, b, err := vm.pop2()
			if err != nil {
				return vm.fail(in, err)
			}
			v, err := arithmetic(in.Op, a, b)
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(v)

		case OpNeg:
			v, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			if v.Kind != KindNumber {
				return vm.fail(in, runtimeErr(ErrTypeMismatch, "cannot negate %s", v.Kind))
			}
			vm.push(Number(-v.Num))

		// ============ Comparison ============
		case OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte:
			a, b, err := vm.pop2()
			if err != nil {
				return vm.fail(in, err)
			}
			v, err := compare(in.Op, a, b)
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(v)

		// ============ Logical ============
		case OpNot:
			v, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(Bool(v.IsFalse()))

		case OpAnd, OpOr:
			a, b, err := vm.pop2()
			if err != nil {
				return vm.fail(in, err)
			}
			if in.Op == OpAnd {
				vm.push(Bool(!a.IsFalse() && !b.IsFalse()))
			} else {
				vm.push(Bool(!a.IsFalse() || !b.IsFalse()))
			}

		// ============ Strings and Output ============
		case OpDisplay:
			v, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			if _, err := fmt.Fprintln(vm.out, v.String()); err != nil {
				return fmt.Errorf("display: %w", err)
			}

		case OpToString:
			v, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(String(v.String()))

		case OpConcat:
			a, b, err := vm.pop2()
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(String(a.String() + b.String()))

		case OpFormat:
			v, pattern, err := vm.pop2()
			if err != nil {
				return vm.fail(in, err)
			}
			if pattern.Kind != KindString {
				return vm.fail(in, runtimeErr(ErrTypeMismatch, "format pattern must be a string, got %s", pattern.Kind))
			}
			s, err := formatValue(v, pattern.Str)
			if err != nil {
				return vm.fail(in, err)
			}
			vm.push(String(s))

		// ============ Control Flow ============
		case OpJump:
			if err := vm.jump(in, len(instrs)); err != nil {
				return vm.fail(in, err)
			}
			continue

		case OpJumpIfFalse, OpJumpIfTrue:
			v, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			if v.IsFalse() == (in.Op == OpJumpIfFalse) {
				if err := vm.jump(in, len(instrs)); err != nil {
					return vm.fail(in, err)
				}
				continue
			}

		// ============ Collections ============
		case OpCreateArray:
			n := in.Count()
			if n < 0 || n > len(vm.stack) {
				return vm.fail(in, runtimeErr(ErrStackUnderflow, "array of %d elements with %d on stack", n, len(vm.stack)))
			}
			items := make([]Value, n)
			copy(items, vm.stack[len(vm.stack)-n:])
			vm.stack = vm.stack[:len(vm.stack)-n]
			vm.push(Array(items...))

		// ============ Tasks ============
		case OpDefineTask:
			vm.tasks[in.Name()] = taskEntry{params: in.Params(), entry: vm.pc + 1}
			if err := vm.jump(in, len(instrs)); err != nil {
				return vm.fail(in, err)
			}
			continue

		case OpRunTask:
			if err := vm.call(in); err != nil {
				return vm.fail(in, err)
			}
			continue

		case OpReturn:
			result, err := vm.pop()
			if err != nil {
				return vm.fail(in, err)
			}
			if len(vm.frames) == 0 {
				// Return outside any task ends the program.
				return nil
			}
			frame := vm.frames[len(vm.frames)-1]
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.stack = vm.stack[:frame.stackBase]
			vm.push(result)
			vm.pc = frame.returnPC
			continue

		// ============ Markers ============
		case OpDefineData:
			dt := DataType{Name: in.Name(), Fields: stringItems(in.Arg(1)), Types: stringItems(in.Arg(2))}
			vm.dataTypes[dt.Name] = dt
			vmLog.Infof("data %s defined with %d field(s)", dt.Name, len(dt.Fields))

		case OpDatabaseOp, OpServiceOp:
			m := Marker{Op: in.Op, Kind: in.Arg(0).Str, Target: in.Arg(1).Str}
			vm.markers = append(vm.markers, m)
			vmLog.Infof("%s %s %q (no backend attached)", m.Op, m.Kind, m.Target)

		case OpHalt:
			return nil

		default:
			return vm.fail(in, runtimeErr(ErrUnknownOpcode, "0x%02X", byte(in.Op)))
		}

		vm.pc++
	}
	return nil
}

// call binds arguments to the task's parameters and enters its body.
func (vm *Interpreter) call(in Instruction) error {
	name := in.Name()
	task, ok := vm.tasks[name]
	if !ok {
		return runtimeErr(ErrUndefinedTask, "%q", name)
	}
	argc := in.Count()
	if argc < 0 || argc > len(vm.stack) {
		return runtimeErr(ErrStackUnderflow, "%s needs %d argument(s)", name, argc)
	}
	if vm.maxCallDepth > 0 && len(vm.frames) >= vm.maxCallDepth {
		return runtimeErr(ErrCallDepth, "%s nested %d deep", name, len(vm.frames))
	}

	base := len(vm.stack) - argc
	args := vm.stack[base:]
	for i, param := range task.params {
		if i < len(args) {
			vm.variables[param] = args[i]
		} else {
			vm.variables[param] = Null()
		}
	}
	vm.stack = vm.stack[:base]

	vm.frames = append(vm.frames, callFrame{task: name, returnPC: vm.pc + 1, stackBase: base})
	vm.pc = task.entry
	return nil
}

// jump moves pc to the instruction's address, which may equal n to end
// the program.
func (vm *Interpreter) jump(in Instruction, n int) error {
	addr := in.Address()
	if addr < 0 || addr > n {
		return runtimeErr(ErrIndexOutOfRange, "address %d outside 0..%d", addr, n)
	}
	vm.pc = addr
	return nil
}

// fail attaches the failing instruction's location to err.
func (vm *Interpreter) fail(in Instruction, err error) error {
	var re *RuntimeError
	if !errors.As(err, &re) {
		re = &RuntimeError{Err: err}
	}
	re.PC = vm.pc
	re.Op = in.Op
	re.Line = in.Line
	return re
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vm *Interpreter) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *Interpreter) pop() (Value, error) {
	if len(vm.stack) == 0 {
		return Null(), &RuntimeError{Err: ErrStackUnderflow}
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *Interpreter) peek() (Value, error) {
	if len(vm.stack) == 0 {
		return Null(), &RuntimeError{Err: ErrStackUnderflow}
	}
	return vm.stack[len(vm.stack)-1], nil
}

// pop2 pops b then a, returning them in push order.
func (vm *Interpreter) pop2() (a, b Value, err error) {
	if len(vm.stack) < 2 {
		return Null(), Null(), runtimeErr(ErrStackUnderflow, "need 2 values, have %d", len(vm.stack))
	}
	a = vm.stack[len(vm.stack)-2]
	b = vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-2]
	return a, b, nil
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

var arithmeticVerbs = map[Opcode]string{
	OpAdd: "add",
	OpSub: "subtract",
	OpMul: "multiply",
	OpDiv: "divide",
	OpMod: "take the remainder of",
}

func arithmetic(op Opcode, a, b Value) (Value, error) {
	if op == OpAdd && a.Kind == KindString && b.Kind == KindString {
		return String(a.Str + b.Str), nil
	}
	if a.Kind != KindNumber || b.Kind != KindNumber {
		return Null(), runtimeErr(ErrTypeMismatch, "cannot %s %s and %s", arithmeticVerbs[op], a.Kind, b.Kind)
	}
	switch op {
	case OpAdd:
		return Number(a.Num + b.Num), nil
	case OpSub:
		return Number(a.Num - b.Num), nil
	case OpMul:
		return Number(a.Num * b.Num), nil
	case OpDiv:
		if b.Num == 0 {
			return Null(), runtimeErr(ErrDivisionByZero, "%s / 0", a)
		}
		return Number(a.Num / b.Num), nil
	case OpMod:
		if b.Num == 0 {
			return Null(), runtimeErr(ErrDivisionByZero, "%s mod 0", a)
		}
		return Number(math.Mod(a.Num, b.Num)), nil
	}
	return Null(), runtimeErr(ErrUnknownOpcode, "%s", op)
}

func compare(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpEq:
		return Bool(a.Equal(b)), nil
	case OpNeq:
		return Bool(!a.Equal(b)), nil
	}

	var c int
	switch {
	case a.Kind == KindNumber && b.Kind == KindNumber:
		switch {
		case a.Num < b.Num:
			c = -1
		case a.Num > b.Num:
			c = 1
		}
	case a.Kind == KindString && b.Kind == KindString:
		c = strings.Compare(a.Str, b.Str)
	default:
		return Null(), runtimeErr(ErrTypeMismatch, "cannot compare %s and %s", a.Kind, b.Kind)
	}

	switch op {
	case OpGt:
		return Bool(c > 0), nil
	case OpLt:
		return Bool(c < 0), nil
	case OpGte:
		return Bool(c >= 0), nil
	case OpLte:
		return Bool(c <= 0), nil
	}
	return Null(), runtimeErr(ErrUnknownOpcode, "%s", op)
}

// elements returns the items of an array or the characters of a string.
func elements(v Value) ([]Value, bool) {
	switch v.Kind {
	case KindArray:
		return v.Items, true
	case KindString:
		out := make([]Value, 0, len(v.Str))
		for _, r := range v.Str {
			out = append(out, String(string(r)))
		}
		return out, true
	}
	return nil, false
}

func property(obj Value, name string) (Value, error) {
	switch name {
	case "length", "count", "size":
		switch obj.Kind {
		case KindArray:
			return Int(len(obj.Items)), nil
		case KindString:
			return Int(utf8.RuneCountInString(obj.Str)), nil
		}

	case "first", "last":
		items, ok := elements(obj)
		if !ok {
			break
		}
		if len(items) == 0 {
			return Null(), runtimeErr(ErrIndexOutOfRange, "%s of empty %s", name, obj.Kind)
		}
		if name == "first" {
			return items[0], nil
		}
		return items[len(items)-1], nil

	case "uppercase", "lowercase":
		if obj.Kind != KindString {
			break
		}
		if name == "uppercase" {
			return String(strings.ToUpper(obj.Str)), nil
		}
		return String(strings.ToLower(obj.Str)), nil

	default:
		return Null(), runtimeErr(ErrUnknownProperty, "%q", name)
	}
	return Null(), runtimeErr(ErrTypeMismatch, "%s has no property %q", obj.Kind, name)
}

func index(obj, idx Value) (Value, error) {
	i, ok := idx.AsInt()
	if !ok {
		return Null(), runtimeErr(ErrTypeMismatch, "index must be an integer, got %s", idx)
	}
	switch obj.Kind {
	case KindArray:
		if i < 0 || i >= len(obj.Items) {
			return Null(), runtimeErr(ErrIndexOutOfRange, "index %d of %d", i, len(obj.Items))
		}
		return obj.Items[i], nil
	case KindString:
		runes := []rune(obj.Str)
		if i < 0 || i >= len(runes) {
			return Null(), runtimeErr(ErrIndexOutOfRange, "index %d of %d", i, len(runes))
		}
		return String(string(runes[i])), nil
	}
	return Null(), runtimeErr(ErrTypeMismatch, "cannot index %s", obj.Kind)
}

// ---------------------------------------------------------------------------
// Format
// ---------------------------------------------------------------------------

// formatValue applies a Format pattern. Patterns containing % are Go fmt
// verbs; patterns made of 0 and # placeholders are fixed-decimal with
// optional "," grouping and literal prefix and suffix text.
func formatValue(v Value, pattern string) (string, error) {
	if strings.Contains(pattern, "%") {
		return fmt.Sprintf(pattern, formatArg(v, pattern)), nil
	}

	first := strings.IndexAny(pattern, "0#")
	if first < 0 {
		return v.String(), nil
	}
	if v.Kind != KindNumber {
		return "", runtimeErr(ErrTypeMismatch, "pattern %q needs a number, got %s", pattern, v.Kind)
	}
	last := strings.LastIndexAny(pattern, "0#")
	prefix, body, suffix := pattern[:first], pattern[first:last+1], pattern[last+1:]

	decimals := 0
	if dot := strings.IndexByte(body, '.'); dot >= 0 {
		decimals = len(body) - dot - 1
	}

	s := strconv.FormatFloat(math.Abs(v.Num), 'f', decimals, 64)
	if strings.Contains(body, ",") {
		intPart, frac := s, ""
		if dot := strings.IndexByte(s, '.'); dot >= 0 {
			intPart, frac = s[:dot], s[dot:]
		}
		s = groupThousands(intPart) + frac
	}
	if v.Num < 0 {
		s = "-" + s
	}
	return prefix + s + suffix, nil
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var sb strings.Builder
	head := len(digits) % 3
	if head > 0 {
		sb.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

// formatArg converts v to the Go value a fmt verb expects.
func formatArg(v Value, pattern string) interface{} {
	switch v.Kind {
	case KindNumber:
		if n, ok := v.AsInt(); ok && hasIntegerVerb(pattern) {
			return n
		}
		return v.Num
	case KindString:
		return v.Str
	case KindBoolean:
		return v.Bool
	}
	return v.String()
}

// hasIntegerVerb reports whether the first verb in pattern takes an integer.
func hasIntegerVerb(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' {
			continue
		}
		j := i + 1
		for j < len(pattern) && strings.IndexByte("+-# 0123456789.", pattern[j]) >= 0 {
			j++
		}
		if j < len(pattern) {
			if pattern[j] == '%' {
				i = j
				continue
			}
			return strings.IndexByte("dboxXc", pattern[j]) >= 0
		}
	}
	return false
}
