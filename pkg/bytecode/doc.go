// Package bytecode compiles Prose programs to a flat stack-machine
// instruction list and executes it.
//
// # Architecture Overview
//
// The package consists of several components:
//
//   - Opcodes: stack-based instructions covering literals, variables,
//     arithmetic, comparison, string building, control flow, tasks and
//     declaration markers. Each opcode has an OpcodeInfo entry with its
//     JSON tag, stack effect and argument shape.
//
//   - Generator: lowers a parsed compiler.Program in a single walk.
//     Forward branches use symbolic labels that are resolved to absolute
//     instruction indices once the walk completes.
//
//   - File: the versioned artifact holding metadata, the constant pool, the
//     instructions and optional per-instruction source lines. Files encode
//     as tagged JSON (.pbc) or canonical CBOR (.pbcb).
//
//   - Interpreter: a fetch-decode-execute loop with one value stack, one
//     flat global variable map and a call-frame stack for tasks.
//
// # Truthiness
//
// Conditional jumps treat only Boolean(false) and Null as false. The
// number 0 and the empty string are true.
//
// # Tasks
//
// DefineTask registers a task and jumps over its body. RunTask pops its
// arguments, binds them to the task's parameters in the global map, and
// enters the body; Return pops the result, drops the frame, and pushes the
// result for the caller. Every call pushes exactly one value, so a call
// used as a statement is followed by Pop.
package bytecode
