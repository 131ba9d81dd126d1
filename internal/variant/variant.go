// Package variant defines the property values carried by instances.
//
// Values arriving from project, meta, and model files are plain JSON shapes;
// values carried in the instance tree are typed. A JSON value is either a
// bare primitive (string, bool, number) or an object `{type, value}` naming
// an explicit type.
package variant

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Value is a typed property value.
type Value interface {
	// Kind names the value's type the way files spell it.
	Kind() string
}

type String string

type Bool bool

type Float float64

// Ref is a reference to another instance by stable id. The empty Ref is the
// nil reference.
type Ref string

// Attributes is a bag of named values stored under a single property.
type Attributes map[string]Value

// StringList carries ordered string sequences (e.g. tags).
type StringList []string

func (String) Kind() string     { return "String" }
func (Bool) Kind() string       { return "Bool" }
func (Float) Kind() string      { return "Float64" }
func (Ref) Kind() string        { return "Ref" }
func (Attributes) Kind() string { return "Attributes" }
func (StringList) Kind() string { return "StringList" }

// IsNone reports whether r is the nil reference.
func (r Ref) IsNone() bool { return r == "" }

// Equal reports deep equality of two values, including nil.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Ref:
		bv, ok := b.(Ref)
		return ok && av == bv
	case StringList:
		bv, ok := b.(StringList)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Attributes:
		bv, ok := b.(Attributes)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// MapsEqual reports whether two property maps hold equal values.
func MapsEqual(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || !Equal(v, other) {
			return false
		}
	}
	return true
}

// FromJSON interprets a decoded JSON value as a Value. Primitives map
// directly; an object must be the `{type, value}` form.
func FromJSON(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case float64:
		return Float(v), nil
	case int:
		return Float(v), nil
	case int64:
		return Float(v), nil
	case map[string]any:
		return typedFromJSON(v)
	case []any:
		list := make(StringList, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("arrays may only contain strings, found %T", item)
			}
			list = append(list, s)
		}
		return list, nil
	}
	return nil, fmt.Errorf("unsupported property value of type %T", raw)
}

func typedFromJSON(obj map[string]any) (Value, error) {
	kind, ok := obj["type"].(string)
	if !ok {
		return nil, fmt.Errorf("typed property object must carry a string `type` field")
	}
	raw, ok := obj["value"]
	if !ok {
		return nil, fmt.Errorf("typed property object of type %q has no `value` field", kind)
	}

	switch kind {
	case "String":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("String value must be a string, found %T", raw)
		}
		return String(s), nil
	case "Bool":
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("Bool value must be a bool, found %T", raw)
		}
		return Bool(b), nil
	case "Float64", "Float32", "Int32", "Int64":
		f, ok := raw.(float64)
		if !ok {
			if i, isInt := raw.(int); isInt {
				f, ok = float64(i), true
			}
		}
		if !ok {
			return nil, fmt.Errorf("%s value must be a number, found %T", kind, raw)
		}
		return Float(f), nil
	case "Ref":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("Ref value must be a string id, found %T", raw)
		}
		return Ref(s), nil
	case "Attributes":
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("Attributes value must be an object, found %T", raw)
		}
		attrs := make(Attributes, len(m))
		for k, item := range m {
			val, err := FromJSON(item)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", k, err)
			}
			attrs[k] = val
		}
		return attrs, nil
	}
	return nil, fmt.Errorf("unknown property type %q", kind)
}

// ToJSON renders a Value into a plain JSON shape. Values whose type is
// implied by the primitive use the bare form; the rest use `{type, value}`.
func ToJSON(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Bool:
		return bool(val)
	case Float:
		return float64(val)
	case Ref:
		return map[string]any{"type": "Ref", "value": string(val)}
	case StringList:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case Attributes:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = ToJSON(item)
		}
		return map[string]any{"type": "Attributes", "value": m}
	}
	return nil
}

// DebugString renders a value compactly for error messages and logs.
func DebugString(v Value) string {
	switch val := v.(type) {
	case String:
		return fmt.Sprintf("%q", string(val))
	case Bool:
		return fmt.Sprintf("%v", bool(val))
	case Float:
		f := float64(val)
		if f == math.Trunc(f) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%v", f)
	case Ref:
		if val.IsNone() {
			return "Ref(nil)"
		}
		return fmt.Sprintf("Ref(%s)", string(val))
	case StringList:
		return "[" + strings.Join(val, ", ") + "]"
	case Attributes:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, k+"="+DebugString(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "<nil>"
}
