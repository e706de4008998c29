package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpPush Opcode = 0x03 // Push literal: Push <value>

	// ========================================================================
	// Variables and properties (0x10-0x1F)
	// ========================================================================

	OpLoadVar     Opcode = 0x10 // Push variable: LoadVar <name>
	OpStoreVar    Opcode = 0x11 // Pop and store variable: StoreVar <name>
	OpGetProperty Opcode = 0x12 // Pop object, push property: GetProperty <name>
	OpIndex       Opcode = 0x13 // Pop index and object, push element

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	// ========================================================================

	OpAdd Opcode = 0x20 // Pop two, push sum (or string concatenation)
	OpSub Opcode = 0x21 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x22 // Pop two, push product
	OpDiv Opcode = 0x23 // Pop two, push quotient
	OpMod Opcode = 0x24 // Pop two, push remainder
	OpNeg Opcode = 0x25 // Negate top of stack

	// ========================================================================
	// Comparison (0x30-0x3F)
	// ========================================================================

	OpEq  Opcode = 0x30 // Pop two, push a == b
	OpNeq Opcode = 0x31 // Pop two, push a != b
	OpGt  Opcode = 0x32 // Pop two, push a > b
	OpLt  Opcode = 0x33 // Pop two, push a < b
	OpGte Opcode = 0x34 // Pop two, push a >= b
	OpLte Opcode = 0x35 // Pop two, push a <= b

	// ========================================================================
	// Logical operations (0x38-0x3F)
	// ========================================================================

	OpNot Opcode = 0x38 // Push true if TOS is false or null
	OpAnd Opcode = 0x39 // Both operands are evaluated; no short circuit
	OpOr  Opcode = 0x3A

	// ========================================================================
	// Strings and output (0x40-0x4F)
	// ========================================================================

	OpDisplay  Opcode = 0x40 // Pop and print
	OpToString Opcode = 0x41 // Replace TOS with its display string
	OpConcat   Opcode = 0x42 // Pop two strings, push concatenation
	OpFormat   Opcode = 0x43 // Pop pattern and value, push formatted string

	// ========================================================================
	// Control flow (0x50-0x5F)
	// ========================================================================

	OpJump        Opcode = 0x50 // Unconditional jump: Jump <addr>
	OpJumpIfFalse Opcode = 0x51 // Pop, jump if false or null: JumpIfFalse <addr>
	OpJumpIfTrue  Opcode = 0x52 // Pop, jump unless false or null: JumpIfTrue <addr>

	// ========================================================================
	// Collections (0x60-0x6F)
	// ========================================================================

	OpCreateArray Opcode = 0x60 // Pop n values, push array: CreateArray <n>

	// ========================================================================
	// Tasks (0x70-0x7F)
	// ========================================================================

	OpDefineTask Opcode = 0x70 // Register task, skip body: DefineTask <name> <params> <end>
	OpRunTask    Opcode = 0x71 // Pop argc args, call task: RunTask <name> <argc>
	OpReturn     Opcode = 0x72 // Pop result, return to caller

	// ========================================================================
	// Declarations and service markers (0x80-0x8F)
	// ========================================================================

	OpDefineData Opcode = 0x80 // Record a data type: DefineData <name> <fields> <types>
	OpDatabaseOp Opcode = 0x81 // Database marker: DatabaseOp <operation> <query>
	OpServiceOp  Opcode = 0x82 // Service marker: ServiceOp <kind> <target>

	// ========================================================================
	// Halt (0xFF)
	// ========================================================================

	OpHalt Opcode = 0xFF // Stop execution
)

// ArgShape describes the arguments an instruction carries and how they are
// spelled in the JSON file format.
type ArgShape uint8

const (
	ArgsNone     ArgShape = iota // bare string tag: "Add"
	ArgsValue                    // {"Push": <value>}
	ArgsName                     // {"LoadVar": "x"}
	ArgsAddress                  // {"Jump": 12}
	ArgsCount                    // {"CreateArray": 3}
	ArgsTask                     // {"DefineTask": [name, [params], end]}
	ArgsCall                     // {"RunTask": [name, argc]}
	ArgsData                     // {"DefineData": {"name", "fields", "types"}}
	ArgsDatabase                 // {"DatabaseOp": {"operation", "query"}}
	ArgsService                  // {"ServiceOp": {"kind", "target"}}
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string   // Tag used in the JSON file format
	StackPop  int      // How many values popped from stack (-1 = variable)
	StackPush int      // How many values pushed to stack
	Shape     ArgShape // Argument layout
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"Nop", 0, 0, ArgsNone},
	OpPop:  {"Pop", 1, 0, ArgsNone},
	OpDup:  {"Dup", 1, 2, ArgsNone},
	OpPush: {"Push", 0, 1, ArgsValue},

	// Variables
	OpLoadVar:     {"LoadVar", 0, 1, ArgsName},
	OpStoreVar:    {"StoreVar", 1, 0, ArgsName},
	OpGetProperty: {"GetProperty", 1, 1, ArgsName},
	OpIndex:       {"Index", 2, 1, ArgsNone},

	// Arithmetic
	OpAdd: {"Add", 2, 1, ArgsNone},
	OpSub: {"Sub", 2, 1, ArgsNone},
	OpMul: {"Mul", 2, 1, ArgsNone},
	OpDiv: {"Div", 2, 1, ArgsNone},
	OpMod: {"Mod", 2, 1, ArgsNone},
	OpNeg: {"Neg", 1, 1, ArgsNone},

	// Comparison
	OpEq:  {"Eq", 2, 1, ArgsNone},
	OpNeq: {"Neq", 2, 1, ArgsNone},
	OpGt:  {"Gt", 2, 1, ArgsNone},
	OpLt:  {"Lt", 2, 1, ArgsNone},
	OpGte: {"Gte", 2, 1, ArgsNone},
	OpLte: {"Lte", 2, 1, ArgsNone},

	// Logical
	OpNot: {"Not", 1, 1, ArgsNone},
	OpAnd: {"And", 2, 1, ArgsNone},
	OpOr:  {"Or", 2, 1, ArgsNone},

	// Strings
	OpDisplay:  {"Display", 1, 0, ArgsNone},
	OpToString: {"ToString", 1, 1, ArgsNone},
	OpConcat:   {"Concat", 2, 1, ArgsNone},
	OpFormat:   {"Format", 2, 1, ArgsNone},

	// Control flow
	OpJump:        {"Jump", 0, 0, ArgsAddress},
	OpJumpIfFalse: {"JumpIfFalse", 1, 0, ArgsAddress},
	OpJumpIfTrue:  {"JumpIfTrue", 1, 0, ArgsAddress},

	// Collections
	OpCreateArray: {"CreateArray", -1, 1, ArgsCount},

	// Tasks
	OpDefineTask: {"DefineTask", 0, 0, ArgsTask},
	OpRunTask:    {"RunTask", -1, 1, ArgsCall},
	OpReturn:     {"Return", 1, 0, ArgsNone},

	// Markers
	OpDefineData: {"DefineData", 0, 0, ArgsData},
	OpDatabaseOp: {"DatabaseOp", 0, 0, ArgsDatabase},
	OpServiceOp:  {"ServiceOp", 0, 0, ArgsService},

	OpHalt: {"Halt", 0, 0, ArgsNone},
}

// opcodeByName is the reverse of opcodeInfoTable, used by the JSON decoder.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupOpcode finds an opcode by its JSON tag.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String returns the JSON tag of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfTrue
}

// IsMarker returns true for declaration and service marker opcodes, which
// the interpreter records and steps over.
func (op Opcode) IsMarker() bool {
	return op >= OpDefineData && op <= OpServiceOp
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
