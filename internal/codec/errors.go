package codec

import (
	"errors"
	"fmt"
)

// ErrorKind classifies codec failures.
type ErrorKind int

const (
	// TruncatedInput indicates the stream ended in the middle of an item.
	TruncatedInput ErrorKind = iota + 1
	// SchemaViolation indicates a length or count outside sane bounds.
	SchemaViolation
	// MalformedDate indicates date text that does not match the layout.
	MalformedDate
	// MalformedString indicates a string body that is not valid UTF-8.
	MalformedString
	// EncodingError indicates a value that does not match its descriptor.
	EncodingError
)

// String returns a string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case TruncatedInput:
		return "truncated input"
	case SchemaViolation:
		return "schema violation"
	case MalformedDate:
		return "malformed date"
	case MalformedString:
		return "malformed string"
	case EncodingError:
		return "encoding error"
	default:
		return "unknown"
	}
}

// Error is a codec failure. Path names the descriptor being processed.
type Error struct {
	Kind ErrorKind
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := "codec: " + e.Kind.String()
	if e.Path != "" {
		s += " at " + e.Path
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTruncatedInput  = &Error{Kind: TruncatedInput}
	ErrSchemaViolation = &Error{Kind: SchemaViolation}
	ErrMalformedDate   = &Error{Kind: MalformedDate}
	ErrMalformedString = &Error{Kind: MalformedString}
	ErrEncoding        = &Error{Kind: EncodingError}
)

var (
	// ErrChunkSize is returned when Feed gets a chunk whose length differs
	// from the parser's expectation. It is a caller bug.
	ErrChunkSize = errors.New("codec: chunk size does not match expectation")
	// ErrNotStarted is returned when Feed is called without an item in progress.
	ErrNotStarted = errors.New("codec: parser has no item in progress")
)

func newError(kind ErrorKind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}
