package bytecode

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Instruction is one decoded bytecode instruction. Args are laid out per the
// opcode's ArgShape; jump-class instructions hold exactly one argument, an
// absolute instruction index.
type Instruction struct {
	Op   Opcode  `cbor:"1,keyasint"`
	Args []Value `cbor:"2,keyasint,omitempty"`
	Line int     `cbor:"3,keyasint,omitempty"` // source line, 0 if unknown
}

// Instr builds an instruction.
func Instr(op Opcode, args ...Value) Instruction {
	return Instruction{Op: op, Args: args}
}

// Arg returns argument i, or Null if it is missing.
func (in Instruction) Arg(i int) Value {
	if i < 0 || i >= len(in.Args) {
		return Null()
	}
	return in.Args[i]
}

// Name returns the string argument at position 0.
func (in Instruction) Name() string {
	return in.Arg(0).Str
}

// Address returns the jump target of a jump-class instruction, the end
// address of DefineTask, or -1.
func (in Instruction) Address() int {
	i := 0
	if in.Op == OpDefineTask {
		i = 2
	}
	n, ok := in.Arg(i).AsInt()
	if !ok {
		return -1
	}
	return n
}

// SetAddress overwrites the address argument in place.
func (in *Instruction) SetAddress(addr int) {
	i := 0
	if in.Op == OpDefineTask {
		i = 2
	}
	for len(in.Args) <= i {
		in.Args = append(in.Args, Null())
	}
	in.Args[i] = Int(addr)
}

// Count returns the integer argument of CreateArray (position 0) or the
// argument count of RunTask (position 1).
func (in Instruction) Count() int {
	i := 0
	if in.Op == OpRunTask {
		i = 1
	}
	n, _ := in.Arg(i).AsInt()
	return n
}

// Params returns the parameter names of a DefineTask instruction.
func (in Instruction) Params() []string {
	return stringItems(in.Arg(1))
}

func stringItems(v Value) []string {
	out := make([]string, 0, len(v.Items))
	for _, item := range v.Items {
		out = append(out, item.Str)
	}
	return out
}

func (in Instruction) String() string {
	return string(mustJSON(in))
}

func mustJSON(in Instruction) []byte {
	data, err := in.MarshalJSON()
	if err != nil {
		return []byte(fmt.Sprintf("<%s: %v>", in.Op, err))
	}
	return data
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

type dataPayload struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Types  []string `json:"types"`
}

type databasePayload struct {
	Operation string `json:"operation"`
	Query     string `json:"query"`
}

type servicePayload struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// MarshalJSON encodes the instruction in its tagged form. Zero-argument
// instructions are a bare string; all others are a single-key object.
func (in Instruction) MarshalJSON() ([]byte, error) {
	info, ok := opcodeInfoTable[in.Op]
	if !ok {
		return nil, fmt.Errorf("bytecode: unknown opcode 0x%02X", byte(in.Op))
	}

	var payload interface{}
	switch info.Shape {
	case ArgsNone:
		return json.Marshal(info.Name)
	case ArgsValue:
		payload = in.Arg(0)
	case ArgsName:
		payload = in.Name()
	case ArgsAddress, ArgsCount:
		n, _ := in.Arg(0).AsInt()
		payload = n
	case ArgsTask:
		payload = []interface{}{in.Name(), in.Params(), in.Address()}
	case ArgsCall:
		payload = []interface{}{in.Name(), in.Count()}
	case ArgsData:
		payload = dataPayload{Name: in.Name(), Fields: stringItems(in.Arg(1)), Types: stringItems(in.Arg(2))}
	case ArgsDatabase:
		payload = databasePayload{Operation: in.Arg(0).Str, Query: in.Arg(1).Str}
	case ArgsService:
		payload = servicePayload{Kind: in.Arg(0).Str, Target: in.Arg(1).Str}
	}
	return json.Marshal(map[string]interface{}{info.Name: payload})
}

// UnmarshalJSON decodes the tagged form.
func (in *Instruction) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
		op, ok := LookupOpcode(tag)
		if !ok || opcodeInfoTable[op].Shape != ArgsNone {
			return fmt.Errorf("bytecode: %q is not a zero-argument instruction", tag)
		}
		*in = Instruction{Op: op}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("bytecode: decode instruction: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("bytecode: instruction must have exactly one tag, got %d", len(tagged))
	}

	for tag, raw := range tagged {
		op, ok := LookupOpcode(tag)
		if !ok {
			return fmt.Errorf("bytecode: unknown instruction %q", tag)
		}
		args, err := decodeArgs(opcodeInfoTable[op].Shape, raw)
		if err != nil {
			return fmt.Errorf("bytecode: decode %s: %w", tag, err)
		}
		*in = Instruction{Op: op, Args: args}
	}
	return nil
}

func decodeArgs(shape ArgShape, raw json.RawMessage) ([]Value, error) {
	switch shape {
	case ArgsNone:
		return nil, fmt.Errorf("unexpected arguments")

	case ArgsValue:
		var v Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return []Value{v}, nil

	case ArgsName:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []Value{String(s)}, nil

	case ArgsAddress, ArgsCount:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return []Value{Int(n)}, nil

	case ArgsTask:
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return nil, err
		}
		if len(parts) != 3 {
			return nil, fmt.Errorf("want [name, params, end], got %d elements", len(parts))
		}
		var name string
		var params []string
		var end int
		if err := json.Unmarshal(parts[0], &name); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts[1], &params); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts[2], &end); err != nil {
			return nil, err
		}
		return []Value{String(name), Strings(params), Int(end)}, nil

	case ArgsCall:
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return nil, err
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("want [name, argc], got %d elements", len(parts))
		}
		var name string
		var argc int
		if err := json.Unmarshal(parts[0], &name); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts[1], &argc); err != nil {
			return nil, err
		}
		return []Value{String(name), Int(argc)}, nil

	case ArgsData:
		var p dataPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return []Value{String(p.Name), Strings(p.Fields), Strings(p.Types)}, nil

	case ArgsDatabase:
		var p databasePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return []Value{String(p.Operation), String(p.Query)}, nil

	case ArgsService:
		var p servicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return []Value{String(p.Kind), String(p.Target)}, nil
	}
	return nil, fmt.Errorf("unknown argument shape %d", shape)
}
