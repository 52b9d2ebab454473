package codec

import (
	"fmt"
	"time"
)

// Kind tags the shape held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindString
	KindBytes
	KindTime
	KindComposite
	KindList
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	case KindComposite:
		return "composite"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a decoded (or to-be-encoded) item tree. It mirrors the shape of
// the Descriptor it was built for; composite fields are positional.
type Value struct {
	kind  Kind
	i     int64
	s     string
	b     []byte
	t     time.Time
	elems []Value
}

// Int returns an integer value.
func Int(n int64) Value { return Value{kind: KindInt, i: n} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Raw returns a raw byte block value.
func Raw(b []byte) Value { return Value{kind: KindBytes, b: b} }

// Time returns a date value.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Tuple returns a composite value with fields in descriptor order.
func Tuple(fields ...Value) Value {
	if len(fields) == 0 {
		fields = nil
	}
	return Value{kind: KindComposite, elems: fields}
}

// ListOf returns a list value.
func ListOf(items ...Value) Value {
	if len(items) == 0 {
		items = nil
	}
	return Value{kind: KindList, elems: items}
}

// Strings is a convenience for a list of string values.
func Strings(ss []string) Value {
	items := make([]Value, 0, len(ss))
	for _, s := range ss {
		items = append(items, Str(s))
	}
	return ListOf(items...)
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) Int() int64 { return v.i }
func (v Value) Str() string { return v.s }
func (v Value) Bytes() []byte { return v.b }
func (v Value) Time() time.Time { return v.t }
func (v Value) Len() int { return len(v.elems) }
func (v Value) Items() []Value { return v.elems }

// At returns the i-th field or item, or the zero Value when out of range.
func (v Value) At(i int) Value {
	if i < 0 || i >= len(v.elems) {
		return Value{}
	}
	return v.elems[i]
}

// StringItems returns the items of a list of strings.
func (v Value) StringItems() []string {
	if len(v.elems) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.elems))
	for _, e := range v.elems {
		out = append(out, e.s)
	}
	return out
}

// GoString renders the tree for test failure messages.
func (v Value) GoString() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("Int(%d)", v.i)
	case KindString:
		return fmt.Sprintf("Str(%q)", v.s)
	case KindBytes:
		return fmt.Sprintf("Raw(%x)", v.b)
	case KindTime:
		return fmt.Sprintf("Time(%s)", v.t.Format(time.RFC3339))
	case KindComposite, KindList:
		name := "Tuple"
		if v.kind == KindList {
			name = "ListOf"
		}
		s := name + "("
		for i, e := range v.elems {
			if i > 0 {
				s += ", "
			}
			s += e.GoString()
		}
		return s + ")"
	default:
		return "Value{}"
	}
}
