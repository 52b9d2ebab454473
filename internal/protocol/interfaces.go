package protocol

import (
	"context"

	"github.com/vkucera/task-coach/internal/model"
)

// Transport is the connection a Machine drives. *transport.Conn implements it.
type Transport interface {
	SetExpectation(n int)
	Buffered() int
	Send(b []byte) error
	Close() error
	CloseWhenDone()
	Post(fn func()) bool
}

// LocalStore is the device-side store the transfer states read and update.
type LocalStore interface {
	// CountDirty returns the number of records of kind k with status s.
	CountDirty(ctx context.Context, k model.Kind, s model.Status) (int, error)
	// EnumerateDirty returns the records of kind k with status s, parents
	// before children. StatusAll selects every live record.
	EnumerateDirty(ctx context.Context, k model.Kind, s model.Status) ([]model.Record, error)
	// ApplyIncoming stores a record received from the desktop and returns
	// its local id. References must already be resolved to local ids. A
	// deleted record carries only its remote id; deleting an unknown record
	// is not an error and returns zero.
	ApplyIncoming(ctx context.Context, rec model.Record, remoteID string) (int64, error)
	// ResolveLocalID maps a remote id to the local id of a stored record.
	ResolveLocalID(ctx context.Context, k model.Kind, remoteID string) (int64, bool, error)
	// MarkSynced records the remote id of a local record and clears its status.
	MarkSynced(ctx context.Context, k model.Kind, localID int64, remoteID string) error
	// Remove purges a local record whose deletion has been sent.
	Remove(ctx context.Context, k model.Kind, localID int64) error
	// Reset deletes every record before a full download.
	Reset(ctx context.Context) error
	// DeviceID returns the device identifier, creating it on first use.
	DeviceID(ctx context.Context) (string, error)
	PairedGUID(ctx context.Context) (string, error)
	SetPairedGUID(ctx context.Context, guid string) error
}

// Controller observes a session.
type Controller interface {
	Progress(p Progress)
	// Finished is called exactly once per session.
	Finished(o Outcome)
	CancelRequested() bool
}

// CredentialPrompter is optionally implemented by a Controller that can ask
// the user for the desktop password.
type CredentialPrompter interface {
	Password(host string, attempt int) (string, error)
}

// CredentialStore keeps desktop passwords between sessions.
// secretstore.Store implements it.
type CredentialStore interface {
	Get(name string) ([]byte, error)
	Put(name string, data []byte) error
	Delete(name string) error
}
