package protocol

import (
	"errors"
	"fmt"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/transport"
)

// Common errors returned by the protocol package.
var (
	ErrVersionAlreadySet  = errors.New("protocol: version already negotiated")
	ErrVersionUnsupported = errors.New("protocol: unsupported version")
	ErrRebind             = errors.New("protocol: remote id already bound to another local id")
	ErrUnexpectedMessage  = errors.New("protocol: unexpected message")
	ErrOrphan             = errors.New("protocol: record references an unknown parent")
	ErrNotArmed           = errors.New("protocol: state did not re-arm its expectation")
	ErrIDMismatch         = errors.New("protocol: acknowledged id does not match")
	ErrAuthRejected       = errors.New("protocol: password rejected")
	ErrNoCredential       = errors.New("protocol: no password available")
	ErrPeerCancelled      = errors.New("protocol: sync cancelled on the desktop")
	ErrCancelled          = errors.New("protocol: sync cancelled")
	ErrDirtySetChanged    = errors.New("protocol: local changes moved during upload")
)

// Reason tags why a session ended.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonTransport     Reason = "transport"
	ReasonCodec         Reason = "codec"
	ReasonVersion       Reason = "version"
	ReasonAuth          Reason = "auth"
	ReasonUnexpected    Reason = "unexpected"
	ReasonStore         Reason = "store"
	ReasonPeerCancelled Reason = "peer-cancelled"
	ReasonCancelled     Reason = "cancelled"
)

// Error is a protocol failure tagged with the reason reported to the
// controller.
type Error struct {
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := "protocol: " + string(e.Reason)
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

func newError(reason Reason, err error, format string, args ...any) *Error {
	return &Error{Reason: reason, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func unexpected(format string, args ...any) *Error {
	return newError(ReasonUnexpected, ErrUnexpectedMessage, format, args...)
}

func orphan(format string, args ...any) *Error {
	return newError(ReasonUnexpected, ErrOrphan, format, args...)
}

func storeError(op string, err error) *Error {
	return &Error{Reason: ReasonStore, Msg: op, Err: err}
}

// reasonOf classifies an error surfaced to the machine.
func reasonOf(err error) Reason {
	var perr *Error
	var cerr *codec.Error
	var terr *transport.Error
	switch {
	case errors.As(err, &perr):
		return perr.Reason
	case errors.As(err, &cerr):
		return ReasonCodec
	case errors.As(err, &terr), errors.Is(err, transport.ErrUnexpectedClose), errors.Is(err, transport.ErrNotConnected):
		return ReasonTransport
	default:
		return ReasonUnexpected
	}
}

// Status is the terminal status of a session.
type Status int

const (
	Succeeded Status = iota + 1
	Failed
	Cancelled
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal notification of a session.
type Outcome struct {
	Status  Status
	Reason  Reason
	Err     error
	Version int
	Mode    SyncMode
	// PeerGUID is the desktop file GUID, empty if identity was never reached.
	PeerGUID string
	Sent     Counts
	Received Counts
}
