package value

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeError reports a payload that could not be parsed (or, when wrapped
// by a host decoder, decrypted). It is recoverable: aggregation skips the
// offending document and carries on.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode payload: %s: %v", e.Reason, e.Err)
	}
	return "decode payload: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Parse decodes a JSON document into a Value. Object member order follows
// the document.
func Parse(raw []byte) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}, &DecodeError{Reason: "empty payload"}
	}
	if !gjson.ValidBytes(raw) {
		return Value{}, &DecodeError{Reason: "invalid JSON"}
	}
	return fromResult(gjson.ParseBytes(raw)), nil
}

// ParseObject decodes a JSON object into its ordered members. Any other
// top-level JSON type is a DecodeError.
func ParseObject(raw []byte) ([]Member, error) {
	v, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if v.kind != Object {
		return nil, &DecodeError{Reason: fmt.Sprintf("expected object, got %s", v.kind)}
	}
	return v.members, nil
}

// ParseMap decodes a JSON object into a key→Value map. Member order is lost;
// callers that need it should use ParseObject.
func ParseMap(raw []byte) (map[string]Value, error) {
	members, err := ParseObject(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(members))
	for _, m := range members {
		if _, dup := out[m.Key]; !dup {
			out[m.Key] = m.Value
		}
	}
	return out, nil
}

func fromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.String:
		return Str(r.Str)
	case gjson.Number:
		if v, ok := IntLiteral(r.Raw); ok {
			return v
		}
		return Num(r.Num)
	case gjson.True:
		return Boolean(true)
	case gjson.False:
		return Boolean(false)
	case gjson.JSON:
		if r.IsArray() {
			items := make([]Value, 0)
			r.ForEach(func(_, elem gjson.Result) bool {
				items = append(items, fromResult(elem))
				return true
			})
			return List(items...)
		}
		members := make([]Member, 0)
		r.ForEach(func(key, elem gjson.Result) bool {
			members = append(members, Member{Key: key.String(), Value: fromResult(elem)})
			return true
		})
		return Obj(members...)
	default:
		return Value{}
	}
}
