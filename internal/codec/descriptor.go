// Package codec implements the binary item codec used on the sync wire.
//
// A Descriptor is an immutable schema node. Encode turns a Value tree into
// bytes; a Parser decodes one Value tree incrementally, asking for exactly
// the number of bytes its current leaf needs. Because the parser never looks
// past the requested count, the caller may receive data in chunks of any
// size as long as it hands them over in the requested amounts.
//
// Integers are signed and big-endian. Length prefixes and list counts are
// int32.
package codec

import (
	"fmt"
	"strings"
)

const (
	// MaxStringLength bounds a length-prefixed string body.
	MaxStringLength = 1 << 20
	// MaxListCount bounds the element count of a List.
	MaxListCount = 1 << 20
	// prefixWidth is the width of string length prefixes and list counts.
	prefixWidth = 4
)

// Descriptor describes how one value shape is laid out on the wire.
type Descriptor interface {
	fmt.Stringer
	descriptor()
}

// Integer is a fixed-width signed big-endian integer.
type Integer struct {
	Width int // 1, 2, 4 or 8
}

// String is either length-prefixed (Fixed == 0) or a fixed-width field
// padded with NUL bytes.
type String struct {
	Fixed int
}

// RawBytes is a block of exactly N bytes.
type RawBytes struct {
	N int
}

// Date is a fixed-width textual date. Layout must only use fixed-width
// elements (2006, 01, 02, 15, 04, 05); the zero time is sent as the layout
// with every digit replaced by '0'.
type Date struct {
	Layout string
}

// Field is one named member of a Composite.
type Field struct {
	Name string
	Desc Descriptor
}

// Composite is an ordered record; every field is present and fields are
// positional on the wire.
type Composite struct {
	Name   string
	Fields []Field
	index  map[string]int
}

// List is a count-prefixed sequence of Elem.
type List struct {
	Elem Descriptor
}

// Common descriptors.
var (
	Int8      = &Integer{Width: 1}
	Int16     = &Integer{Width: 2}
	Int32     = &Integer{Width: 4}
	Int64     = &Integer{Width: 8}
	Text      = &String{}
	Day       = &Date{Layout: "2006-01-02"}
	Timestamp = &Date{Layout: "2006-01-02 15:04:05"}
)

// NewComposite builds a Composite from its fields in wire order.
func NewComposite(name string, fields ...Field) *Composite {
	c := &Composite{Name: name, Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		c.index[f.Name] = i
	}
	return c
}

// NewList builds a List of elem.
func NewList(elem Descriptor) *List { return &List{Elem: elem} }

// Get returns the named field of a composite value built for c, or the
// zero Value when the field is unknown.
func (c *Composite) Get(v Value, name string) Value {
	i, ok := c.index[name]
	if !ok || v.kind != KindComposite || i >= len(v.elems) {
		return Value{}
	}
	return v.elems[i]
}

// Has reports whether c declares a field called name.
func (c *Composite) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

func (d *Integer) String() string { return fmt.Sprintf("int%d", d.Width*8) }
func (d *String) String() string {
	if d.Fixed > 0 {
		return fmt.Sprintf("string[%d]", d.Fixed)
	}
	return "string"
}
func (d *RawBytes) String() string { return fmt.Sprintf("bytes[%d]", d.N) }
func (d *Date) String() string { return fmt.Sprintf("date(%s)", d.Layout) }
func (d *Composite) String() string { return d.Name }
func (d *List) String() string { return "list<" + d.Elem.String() + ">" }

func (*Integer) descriptor() {}
func (*String) descriptor() {}
func (*RawBytes) descriptor() {}
func (*Date) descriptor() {}
func (*Composite) descriptor() {}
func (*List) descriptor() {}

func (d *Date) width() int { return len(d.Layout) }

// zeroText is the wire form of the zero time.
func (d *Date) zeroText() string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '0'
		}
		return r
	}, d.Layout)
}

// Size returns the encoded size of d when it does not depend on the value,
// and false otherwise.
func Size(d Descriptor) (int, bool) {
	switch t := d.(type) {
	case *Integer:
		return t.Width, true
	case *RawBytes:
		return t.N, true
	case *Date:
		return t.width(), true
	case *String:
		return t.Fixed, t.Fixed > 0
	case *Composite:
		total := 0
		for _, f := range t.Fields {
			n, ok := Size(f.Desc)
			if !ok {
				return 0, false
			}
			total += n
		}
		return total, true
	default:
		return 0, false
	}
}
