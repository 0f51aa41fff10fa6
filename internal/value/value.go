// Package value models the loosely-typed field values found in document
// payloads: a field may hold a string, number, boolean, array or nested
// object. Value is a tagged union so that flattening stays exhaustive.
package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	Null Kind = iota
	String
	Number
	Bool
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "null"
	}
}

// Member is one key/value pair of an Object value. Members keep the order
// in which they appeared in the source payload.
type Member struct {
	Key   string
	Value Value
}

// Value is a single field value. The zero Value is Null.
type Value struct {
	kind    Kind
	str     string
	num     float64
	lit     string // integer literal beyond float64 precision
	boolean bool
	items   []Value
	members []Member
}

// Str returns a String value.
func Str(s string) Value { return Value{kind: String, str: s} }

// Num returns a Number value.
func Num(f float64) Value { return Value{kind: Number, num: f} }

// maxExactInt is the largest integer every float64 holds exactly.
const maxExactInt = 1 << 53

// IntLiteral returns a Number value for a decimal integer literal. Integers
// too large for a float64 keep their digits verbatim. It returns false when
// lit is not an integer literal.
func IntLiteral(lit string) (Value, bool) {
	digits := strings.TrimPrefix(lit, "-")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return Value{}, false
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Value{}, false
	}
	if math.Abs(f) <= maxExactInt {
		return Num(f), true
	}
	return Value{kind: Number, num: f, lit: lit}, true
}

// Boolean returns a Bool value.
func Boolean(b bool) Value { return Value{kind: Bool, boolean: b} }

// List returns an Array value.
func List(items ...Value) Value { return Value{kind: Array, items: items} }

// Obj returns an Object value.
func Obj(members ...Member) Value { return Value{kind: Object, members: members} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the Null variant.
func (v Value) IsNull() bool { return v.kind == Null }

// Items returns the elements of an Array value (nil otherwise).
func (v Value) Items() []Value { return v.items }

// Members returns the members of an Object value (nil otherwise).
func (v Value) Members() []Member { return v.members }

// Bool returns the boolean held by v and whether v is a Bool.
func (v Value) Bool() (bool, bool) { return v.boolean, v.kind == Bool }

// Flatten reduces v to its non-empty, trimmed string forms:
//   - strings pass through trimmed
//   - numbers and booleans are stringified
//   - arrays flatten each element in order
//   - objects keep only their string- and number-valued members
func (v Value) Flatten() []string {
	var out []string
	v.flattenInto(&out)
	return out
}

func (v Value) flattenInto(out *[]string) {
	switch v.kind {
	case String, Number, Bool:
		if s := strings.TrimSpace(v.scalarText()); s != "" {
			*out = append(*out, s)
		}
	case Array:
		for _, item := range v.items {
			item.flattenInto(out)
		}
	case Object:
		for _, m := range v.members {
			if m.Value.kind == String || m.Value.kind == Number {
				m.Value.flattenInto(out)
			}
		}
	}
}

// Text returns the display form of v. Scalars are stringified without
// trimming; arrays and objects join their flattened parts with ", ".
func (v Value) Text() string {
	switch v.kind {
	case String, Number, Bool:
		return v.scalarText()
	case Array, Object:
		return strings.Join(v.Flatten(), ", ")
	default:
		return ""
	}
}

func (v Value) scalarText() string {
	switch v.kind {
	case String:
		return v.str
	case Number:
		if v.lit != "" {
			return v.lit
		}
		return cast.ToString(v.num)
	case Bool:
		return cast.ToString(v.boolean)
	}
	return ""
}

// Equal reports whether two values are structurally identical.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case String:
		return v.str == o.str
	case Number:
		return v.num == o.num && v.lit == o.lit
	case Bool:
		return v.boolean == o.boolean
	case Array:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Key != o.members[i].Key || !v.members[i].Value.Equal(o.members[i].Value) {
				return false
			}
		}
		return true
	}
	return true
}

// MarshalJSON encodes v as its natural JSON form, preserving member order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case String:
		return json.Marshal(v.str)
	case Number:
		if v.lit != "" {
			return []byte(v.lit), nil
		}
		return json.Marshal(v.num)
	case Bool:
		return json.Marshal(v.boolean)
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(m.Key)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			b, err := m.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
