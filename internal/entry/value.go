package entry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Type names one of the four value columns of a data entry.
type Type string

const (
	TypeBinary  Type = "binary"
	TypeBool    Type = "bool"
	TypeInteger Type = "integer"
	TypeString  Type = "string"
)

// Types lists every value type in column order.
var Types = []Type{TypeBinary, TypeBool, TypeInteger, TypeString}

// Valid reports whether t is one of the four known types.
func (t Type) Valid() bool {
	switch t {
	case TypeBinary, TypeBool, TypeInteger, TypeString:
		return true
	}
	return false
}

// Column returns the physical column holding values of type t.
func (t Type) Column() string {
	return "value_" + string(t)
}

// ParseType converts the wire name of a value type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown value type %q", s)
	}
	return t, nil
}

// Value is a sealed interface over the payload of a data entry.
// Only Binary, Bool, Integer and String implement it.
// A nil Value marks a removal (tombstone).
type Value interface {
	value() // Sealed
	Type() Type
}

// Binary is a raw byte payload. Rendered as base64 on the wire.
type Binary []byte

func (Binary) value()     {}
func (Binary) Type() Type { return TypeBinary }

// MarshalJSON renders the payload as a base64 string.
func (b Binary) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

// Bool is a boolean payload.
type Bool bool

func (Bool) value()     {}
func (Bool) Type() Type { return TypeBool }

// Integer is a signed 64-bit payload.
type Integer int64

func (Integer) value()     {}
func (Integer) Type() Type { return TypeInteger }

// String is a text payload.
type String string

func (String) value()     {}
func (String) Type() Type { return TypeString }

// TypeName returns the type of v, or "null" for a nil value.
// Used in diagnostics.
func TypeName(v Value) string {
	if v == nil {
		return "null"
	}
	return string(v.Type())
}
