package bytecode

import (
	"fmt"
	"sort"
	"strings"
)

// Disassemble returns a human-readable listing of a bytecode file.
func Disassemble(f *File) string {
	return DisassembleWithName(f, "")
}

// DisassembleWithName returns a listing with a name header.
func DisassembleWithName(f *File, name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Prose Bytecode v%d", f.Version))
	if f.DebugInfo != nil {
		sb.WriteString(" [DEBUG]")
	}
	sb.WriteString("\n")

	md := f.Metadata
	if md.SourceFile != nil {
		sb.WriteString(fmt.Sprintf("; Source: %s\n", *md.SourceFile))
	}
	if md.CompilerVersion != "" {
		sb.WriteString(fmt.Sprintf("; Compiler: %s\n", md.CompilerVersion))
	}
	if md.BuildID != "" {
		sb.WriteString(fmt.Sprintf("; Build: %s\n", md.BuildID))
	}
	if len(md.Annotations) > 0 {
		keys := make([]string, 0, len(md.Annotations))
		for k := range md.Annotations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("; @%s %s\n", k, md.Annotations[k]))
		}
	}
	sb.WriteString("\n")

	// Constants
	if len(f.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range f.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, formatOperand(c)))
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	for pc, in := range f.Instructions {
		line := DisassembleInstruction(in)
		if src := f.LineFor(pc); f.DebugInfo != nil && src > 0 {
			sb.WriteString(fmt.Sprintf("%04d  %-30s ; line %d\n", pc, line, src))
		} else {
			sb.WriteString(fmt.Sprintf("%04d  %s\n", pc, line))
		}
	}

	return sb.String()
}

// DisassembleInstructions lists a bare instruction sequence.
func DisassembleInstructions(instrs []Instruction) string {
	var sb strings.Builder
	for pc, in := range instrs {
		sb.WriteString(fmt.Sprintf("%04d  %s\n", pc, DisassembleInstruction(in)))
	}
	return sb.String()
}

// DisassembleInstruction formats a single instruction.
func DisassembleInstruction(in Instruction) string {
	info := GetOpcodeInfo(in.Op)

	switch info.Shape {
	case ArgsNone:
		return info.Name
	case ArgsValue:
		return fmt.Sprintf("%-12s %s", info.Name, formatOperand(in.Arg(0)))
	case ArgsName:
		return fmt.Sprintf("%-12s %s", info.Name, in.Name())
	case ArgsAddress:
		return fmt.Sprintf("%-12s -> %04d", info.Name, in.Address())
	case ArgsCount:
		return fmt.Sprintf("%-12s %d", info.Name, in.Count())
	case ArgsTask:
		return fmt.Sprintf("%-12s %s(%s) end=%04d", info.Name, in.Name(),
			strings.Join(in.Params(), ", "), in.Address())
	case ArgsCall:
		return fmt.Sprintf("%-12s %s argc=%d", info.Name, in.Name(), in.Count())
	case ArgsData:
		fields := stringItems(in.Arg(1))
		types := stringItems(in.Arg(2))
		parts := make([]string, len(fields))
		for i, field := range fields {
			parts[i] = field
			if i < len(types) && types[i] != "" {
				parts[i] += " as " + types[i]
			}
		}
		return fmt.Sprintf("%-12s %s {%s}", info.Name, in.Name(), strings.Join(parts, ", "))
	case ArgsDatabase, ArgsService:
		return fmt.Sprintf("%-12s %s %q", info.Name, in.Arg(0).Str, in.Arg(1).Str)
	}
	return info.Name
}

// formatOperand renders a literal for listings. Long strings are truncated
// and control characters escaped.
func formatOperand(v Value) string {
	if v.Kind != KindString {
		if v.Kind == KindNull {
			return "null"
		}
		return v.String()
	}
	display := v.Str
	if len(display) > 40 {
		display = display[:37] + "..."
	}
	return fmt.Sprintf("%q", display)
}
