package codec

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Result is the outcome of one parser step: either Need more bytes, or a
// finished Value.
type Result struct {
	Done  bool
	Need  int
	Value Value
}

// frame is one descriptor in progress on the parser stack.
type frame struct {
	desc  Descriptor
	name  string // field name within the parent, for error paths
	stage int    // strings and lists: 0 reading the prefix, 1 reading the body
	count int    // declared list count
	elems []Value
}

// Parser decodes one Value tree at a time, one leaf per Feed.
//
// The zero Parser is ready for Start.
type Parser struct {
	root  Descriptor
	stack []frame
	need  int
	fed   bool
}

// NewParser returns an idle parser.
func NewParser() *Parser {
	return &Parser{}
}

// Start resets the cursor to the first leaf of d. Items that need no bytes
// at all (an empty composite) complete immediately.
func (p *Parser) Start(d Descriptor) (Result, error) {
	p.root = d
	p.stack = p.stack[:0]
	p.need = 0
	p.fed = false
	res, err := p.enter(d, d.String())
	return p.settle(res, err)
}

// NextExpectation returns the number of bytes the next Feed must carry.
func (p *Parser) NextExpectation() int {
	return p.need
}

// Pending reports whether an item has been partly consumed.
func (p *Parser) Pending() bool {
	return p.root != nil && p.fed
}

// Feed consumes exactly NextExpectation() bytes and advances the cursor by
// one leaf or list-count step.
func (p *Parser) Feed(chunk []byte) (Result, error) {
	if p.root == nil || len(p.stack) == 0 {
		return Result{}, ErrNotStarted
	}
	if len(chunk) != p.need {
		return Result{}, fmt.Errorf("%w: got %d bytes, want %d", ErrChunkSize, len(chunk), p.need)
	}
	p.fed = true
	res, err := p.step(chunk)
	return p.settle(res, err)
}

// settle drops parser state once an item is finished or has failed.
func (p *Parser) settle(res Result, err error) (Result, error) {
	if err != nil || res.Done {
		p.root = nil
		p.stack = p.stack[:0]
		p.need = 0
		p.fed = false
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (p *Parser) step(chunk []byte) (Result, error) {
	top := &p.stack[len(p.stack)-1]
	path := p.path()

	switch t := top.desc.(type) {
	case *Integer:
		p.pop()
		return p.deliver(Int(decodeInt(chunk)))

	case *RawBytes:
		b := make([]byte, len(chunk))
		copy(b, chunk)
		p.pop()
		return p.deliver(Raw(b))

	case *Date:
		text := string(chunk)
		var tm time.Time
		if text != t.zeroText() {
			var err error
			tm, err = time.Parse(t.Layout, text)
			if err != nil {
				return Result{}, &Error{Kind: MalformedDate, Path: path, Msg: fmt.Sprintf("%q", text), Err: err}
			}
		}
		p.pop()
		return p.deliver(Time(tm))

	case *String:
		if t.Fixed > 0 {
			s := strings.TrimRight(string(chunk), "\x00")
			if !utf8.ValidString(s) {
				return Result{}, newError(MalformedString, path, "fixed string is not valid UTF-8")
			}
			p.pop()
			return p.deliver(Str(s))
		}
		if top.stage == 0 {
			n := decodeInt(chunk)
			if n < 0 || n > MaxStringLength {
				return Result{}, newError(SchemaViolation, path, "string length %d outside [0, %d]", n, MaxStringLength)
			}
			if n == 0 {
				p.pop()
				return p.deliver(Str(""))
			}
			top.stage = 1
			p.need = int(n)
			return Result{Need: p.need}, nil
		}
		if !utf8.Valid(chunk) {
			return Result{}, newError(MalformedString, path, "string is not valid UTF-8")
		}
		s := string(chunk)
		p.pop()
		return p.deliver(Str(s))

	case *List:
		n := decodeInt(chunk)
		if n < 0 || n > MaxListCount {
			return Result{}, newError(SchemaViolation, path, "list count %d outside [0, %d]", n, MaxListCount)
		}
		if n == 0 {
			p.pop()
			return p.deliver(ListOf())
		}
		top.stage = 1
		top.count = int(n)
		return p.enter(t.Elem, "[]")

	default:
		return Result{}, newError(SchemaViolation, path, "descriptor %T cannot take bytes", top.desc)
	}
}

// enter pushes d and walks down to its first leaf needing bytes.
func (p *Parser) enter(d Descriptor, name string) (Result, error) {
	for {
		switch t := d.(type) {
		case *Integer:
			switch t.Width {
			case 1, 2, 4, 8:
				return p.leaf(d, name, t.Width)
			}
			return Result{}, newError(SchemaViolation, name, "unsupported integer width %d", t.Width)
		case *RawBytes:
			if t.N == 0 {
				return p.deliver(Raw(nil))
			}
			return p.leaf(d, name, t.N)
		case *Date:
			return p.leaf(d, name, t.width())
		case *String:
			if t.Fixed > 0 {
				return p.leaf(d, name, t.Fixed)
			}
			return p.leaf(d, name, prefixWidth)
		case *List:
			return p.leaf(d, name, prefixWidth)
		case *Composite:
			if len(t.Fields) == 0 {
				return p.deliver(Tuple())
			}
			p.stack = append(p.stack, frame{desc: t, name: name})
			d, name = t.Fields[0].Desc, t.Fields[0].Name
		default:
			return Result{}, newError(SchemaViolation, name, "unknown descriptor %T", d)
		}
	}
}

func (p *Parser) leaf(d Descriptor, name string, need int) (Result, error) {
	p.stack = append(p.stack, frame{desc: d, name: name})
	p.need = need
	return Result{Need: need}, nil
}

// deliver hands a finished value to the enclosing composite or list, and
// continues with the next sibling, or finishes the root item.
func (p *Parser) deliver(v Value) (Result, error) {
	for {
		if len(p.stack) == 0 {
			p.need = 0
			return Result{Done: true, Value: v}, nil
		}
		top := &p.stack[len(p.stack)-1]
		switch t := top.desc.(type) {
		case *Composite:
			top.elems = append(top.elems, v)
			if i := len(top.elems); i < len(t.Fields) {
				return p.enter(t.Fields[i].Desc, t.Fields[i].Name)
			}
			v = Tuple(top.elems...)
			p.pop()
		case *List:
			top.elems = append(top.elems, v)
			if len(top.elems) < top.count {
				return p.enter(t.Elem, "[]")
			}
			v = ListOf(top.elems...)
			p.pop()
		default:
			return Result{}, newError(SchemaViolation, p.path(), "descriptor %T cannot hold children", top.desc)
		}
	}
}

func (p *Parser) pop() {
	p.stack = p.stack[:len(p.stack)-1]
}

func (p *Parser) path() string {
	var b strings.Builder
	if p.root != nil {
		b.WriteString(p.root.String())
	}
	for i, f := range p.stack {
		if i == 0 {
			continue
		}
		if f.name != "[]" {
			b.WriteByte('.')
		}
		b.WriteString(f.name)
	}
	return b.String()
}
