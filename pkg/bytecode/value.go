package bytecode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind identifies the dynamic type of a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBoolean
	KindArray
)

// String returns the type name used in error messages.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// Value is a dynamically typed interpreter value. Only the field selected
// by Kind is meaningful.
type Value struct {
	Kind  ValueKind `cbor:"1,keyasint"`
	Str   string    `cbor:"2,keyasint,omitempty"`
	Num   float64   `cbor:"3,keyasint,omitempty"`
	Bool  bool      `cbor:"4,keyasint,omitempty"`
	Items []Value   `cbor:"5,keyasint,omitempty"`
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number returns a number value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Int returns a number value from an integer.
func Int(n int) Value { return Value{Kind: KindNumber, Num: float64(n)} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// Array returns an array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindArray, Items: items}
}

// Strings returns an array of string values.
func Strings(ss []string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = String(s)
	}
	return Array(items...)
}

// IsFalse reports whether v is Boolean(false) or Null. These are the only
// values conditional jumps treat as false; 0 and "" are true.
func (v Value) IsFalse() bool {
	return v.Kind == KindNull || (v.Kind == KindBoolean && !v.Bool)
}

// Equal compares two values structurally. Values of different kinds are
// never equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBoolean:
		return v.Bool == o.Bool
	case KindArray:
		if len(v.Items) != len(o.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v the way Display prints it. Integral numbers print
// without a fractional part.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindString:
		return v.Str
	case KindNumber:
		return formatNumber(v.Num)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindArray:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("<%s>", v.Kind)
}

// maxExactInt is 2^53. Every integer up to it is exact in a float64; the
// parser uses the same bound for integer literals.
const maxExactInt = 1 << 53

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) <= maxExactInt {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// AsInt returns the integral value of a number.
func (v Value) AsInt() (int, bool) {
	if v.Kind != KindNumber || v.Num != math.Trunc(v.Num) {
		return 0, false
	}
	return int(v.Num), true
}

// ---------------------------------------------------------------------------
// JSON: {"String": s}, {"Number": n}, {"Boolean": b}, "Null", {"Array": [...]}
// ---------------------------------------------------------------------------

// MarshalJSON encodes v in its tagged form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte(`"Null"`), nil
	case KindString:
		return json.Marshal(map[string]string{"String": v.Str})
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return nil, fmt.Errorf("bytecode: cannot encode number %v", v.Num)
		}
		return json.Marshal(map[string]float64{"Number": v.Num})
	case KindBoolean:
		return json.Marshal(map[string]bool{"Boolean": v.Bool})
	case KindArray:
		items := v.Items
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(map[string][]Value{"Array": items})
	}
	return nil, fmt.Errorf("bytecode: unknown value kind %d", v.Kind)
}

// UnmarshalJSON decodes the tagged form.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
		if tag != "Null" {
			return fmt.Errorf("bytecode: unknown value tag %q", tag)
		}
		*v = Null()
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("bytecode: decode value: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("bytecode: value must have exactly one tag, got %d", len(tagged))
	}
	for tag, raw := range tagged {
		switch tag {
		case "String":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*v = String(s)
		case "Number":
			var n float64
			if err := json.Unmarshal(raw, &n); err != nil {
				return err
			}
			*v = Number(n)
		case "Boolean":
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return err
			}
			*v = Bool(b)
		case "Array":
			var items []Value
			if err := json.Unmarshal(raw, &items); err != nil {
				return err
			}
			*v = Array(items...)
		default:
			return fmt.Errorf("bytecode: unknown value tag %q", tag)
		}
	}
	return nil
}
