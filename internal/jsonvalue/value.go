// Package jsonvalue implements the duck-typed JSON-like value used
// throughout blaze to carry Target options, cache metadata, and resolver
// state without a fixed schema.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the variant stored in a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindArray
	KindObject
)

// Value is a closed-variant JSON-like value: null, bool, signed/unsigned
// integer, float, string, array, or object. It encodes to and decodes
// from JSON via encoding/json. Decoding never produces KindUint (an
// integer that fits an int64 becomes KindInt, any other number
// KindFloat), so a KindUint value does not survive a JSON round trip as
// KindUint.
type Value struct {
	kind Kind

	b   bool
	i   int64
	u   uint64
	f   float64
	s   string
	arr []Value
	obj map[string]Value
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Uint(u uint64) Value         { return Value{kind: KindUint, u: u} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Array(vs ...Value) Value     { return Value{kind: KindArray, arr: vs} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind  { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsUint() (uint64, bool)     { return v.u, v.kind == KindUint }
func (v Value) AsFloat() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Get returns the field named key from an object Value, or Null if v is
// not an object or the key is absent.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Null()
	}
	if val, ok := v.obj[key]; ok {
		return val
	}
	return Null()
}

// Overwrite merges other into v: objects merge recursively key by key;
// any non-object value (including arrays) replaces the prior value whole.
// This is the deterministic merge semantics named in spec.md's Design
// Notes for the JSON-like value type.
func Overwrite(base, other Value) Value {
	if base.kind != KindObject || other.kind != KindObject {
		return other
	}
	merged := make(map[string]Value, len(base.obj)+len(other.obj))
	for k, v := range base.obj {
		merged[k] = v
	}
	for k, v := range other.obj {
		if existing, ok := merged[k]; ok {
			merged[k] = Overwrite(existing, v)
		} else {
			merged[k] = v
		}
	}
	return Object(merged)
}

// MarshalJSON implements json.Marshaler with deterministic key ordering
// for objects, so that any byte-identity checks over serialized metadata
// are stable across map iteration order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindUint:
		return json.Marshal(v.u)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return nil, fmt.Errorf("jsonvalue: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, preferring KindInt when a
// decoded number has no fractional part and fits an int64, otherwise
// KindFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case string:
		return String(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = fromAny(e)
		}
		return Array(vs...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = fromAny(e)
		}
		return Object(m)
	default:
		return Null()
	}
}
