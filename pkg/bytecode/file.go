package bytecode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FormatVersion is the current bytecode file format version.
// Increment when making incompatible changes to the format.
const FormatVersion = 1

// CompilerVersion is recorded in every file the generator produces.
const CompilerVersion = "prose 0.1.0"

// File extensions for the two encodings.
const (
	ExtJSON = ".pbc"
	ExtCBOR = ".pbcb"
)

// Metadata describes how and from what a file was built.
type Metadata struct {
	SourceFile      *string           `json:"source_file" cbor:"1,keyasint"`
	CreatedAt       int64             `json:"created_at" cbor:"2,keyasint"`
	CompilerVersion string            `json:"compiler_version" cbor:"3,keyasint"`
	BuildID         string            `json:"build_id,omitempty" cbor:"4,keyasint,omitempty"`
	Annotations     map[string]string `json:"annotations,omitempty" cbor:"5,keyasint,omitempty"`
}

// DebugInfo maps each instruction to its source line (0 if unknown).
type DebugInfo struct {
	Lines []int `json:"lines" cbor:"1,keyasint"`
}

// File is a complete compiled program.
type File struct {
	Version      int           `json:"version" cbor:"1,keyasint"`
	Metadata     Metadata      `json:"metadata" cbor:"2,keyasint"`
	Constants    []Value       `json:"constants" cbor:"3,keyasint"`
	Instructions []Instruction `json:"instructions" cbor:"4,keyasint"`
	DebugInfo    *DebugInfo    `json:"debug_info" cbor:"5,keyasint"`
}

// Validate checks that the file can be executed: the version is supported,
// every opcode is known and every address is in range.
func (f *File) Validate() error {
	if f.Version != FormatVersion {
		return fmt.Errorf("bytecode: unsupported version %d (want %d)", f.Version, FormatVersion)
	}
	n := len(f.Instructions)
	for i, in := range f.Instructions {
		if !in.Op.Valid() {
			return fmt.Errorf("bytecode: instruction %d: unknown opcode 0x%02X", i, byte(in.Op))
		}
		if in.Op.IsJump() || in.Op == OpDefineTask {
			if addr := in.Address(); addr < 0 || addr > n {
				return fmt.Errorf("bytecode: instruction %d: %s address %d out of range", i, in.Op, addr)
			}
		}
	}
	if f.DebugInfo != nil && len(f.DebugInfo.Lines) != n {
		return fmt.Errorf("bytecode: debug info has %d lines for %d instructions", len(f.DebugInfo.Lines), n)
	}
	return nil
}

// LineFor returns the source line of instruction pc, or 0.
func (f *File) LineFor(pc int) int {
	if f.DebugInfo != nil && pc >= 0 && pc < len(f.DebugInfo.Lines) {
		return f.DebugInfo.Lines[pc]
	}
	if pc >= 0 && pc < len(f.Instructions) {
		return f.Instructions[pc].Line
	}
	return 0
}

// ---------------------------------------------------------------------------
// JSON encoding
// ---------------------------------------------------------------------------

// MarshalFileJSON encodes f as indented JSON.
func MarshalFileJSON(f *File) ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

// UnmarshalFileJSON decodes a JSON bytecode file. Debug lines, when present,
// are copied back onto the instructions.
func UnmarshalFileJSON(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal file: %w", err)
	}
	if f.DebugInfo != nil && len(f.DebugInfo.Lines) == len(f.Instructions) {
		for i := range f.Instructions {
			f.Instructions[i].Line = f.DebugInfo.Lines[i]
		}
	}
	return &f, nil
}

// ---------------------------------------------------------------------------
// Files on disk
// ---------------------------------------------------------------------------

// Encoding selects the on-disk representation.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingCBOR
)

// ParseEncoding maps "json" or "cbor" to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return EncodingJSON, nil
	case "cbor":
		return EncodingCBOR, nil
	}
	return 0, fmt.Errorf("bytecode: unknown encoding %q (want json or cbor)", s)
}

// Ext returns the conventional file extension for e.
func (e Encoding) Ext() string {
	if e == EncodingCBOR {
		return ExtCBOR
	}
	return ExtJSON
}

// Encode serializes f with encoding e.
func Encode(f *File, e Encoding) ([]byte, error) {
	if e == EncodingCBOR {
		return MarshalFile(f)
	}
	return MarshalFileJSON(f)
}

// Decode detects the encoding from the first byte: JSON files are objects,
// CBOR files begin with a map header.
func Decode(data []byte) (*File, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return UnmarshalFileJSON(trimmed)
	}
	return UnmarshalFile(data)
}

// WriteFile encodes f and writes it to path.
func WriteFile(path string, f *File, e Encoding) error {
	data, err := Encode(f, e)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("bytecode: create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("bytecode: write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and decodes a bytecode file in either encoding.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: read %s: %w", path, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// IsBytecodePath reports whether path has a bytecode file extension.
func IsBytecodePath(path string) bool {
	ext := filepath.Ext(path)
	return ext == ExtJSON || ext == ExtCBOR
}
