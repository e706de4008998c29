package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so the same file always encodes to the
// same bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalFile serializes a File to CBOR bytes.
func MarshalFile(f *File) ([]byte, error) {
	return cborEncMode.Marshal(f)
}

// UnmarshalFile deserializes a File from CBOR bytes.
func UnmarshalFile(data []byte) (*File, error) {
	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal file: %w", err)
	}
	return &f, nil
}

// MarshalInstructions serializes an instruction list to CBOR bytes.
func MarshalInstructions(instrs []Instruction) ([]byte, error) {
	return cborEncMode.Marshal(instrs)
}

// UnmarshalInstructions deserializes an instruction list from CBOR bytes.
func UnmarshalInstructions(data []byte) ([]Instruction, error) {
	var instrs []Instruction
	if err := cbor.Unmarshal(data, &instrs); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal instructions: %w", err)
	}
	return instrs, nil
}
