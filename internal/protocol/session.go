package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/model"
)

// SyncMode is the transfer mode chosen by the desktop. Values are the wire
// values.
type SyncMode int

const (
	ModeUnset           SyncMode = -1
	ModeTwoWay          SyncMode = 0
	ModeFullFromDesktop SyncMode = 1
	ModeFullFromDevice  SyncMode = 2
	// modePeerCancelled is sent instead of a mode when the desktop user
	// declines the sync.
	modePeerCancelled SyncMode = 3
)

// String returns a string representation of the sync mode.
func (m SyncMode) String() string {
	switch m {
	case ModeTwoWay:
		return "two-way"
	case ModeFullFromDesktop:
		return "full-from-desktop"
	case ModeFullFromDevice:
		return "full-from-device"
	case modePeerCancelled:
		return "peer-cancelled"
	default:
		return "unset"
	}
}

// Phase names the active state of a Machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNegotiation
	PhaseIdentity
	PhaseAuthentication
	PhaseSyncMode
	PhaseFullFromDesktop
	PhaseFullFromDevice
	PhaseTwoWayUpload
	PhaseTwoWayDownload
	PhaseTrailer
	PhaseEnd
)

// String returns a string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiation:
		return "negotiation"
	case PhaseIdentity:
		return "identity"
	case PhaseAuthentication:
		return "authentication"
	case PhaseSyncMode:
		return "sync-mode"
	case PhaseFullFromDesktop:
		return "full-from-desktop"
	case PhaseFullFromDevice:
		return "full-from-device"
	case PhaseTwoWayUpload:
		return "two-way-upload"
	case PhaseTwoWayDownload:
		return "two-way-download"
	case PhaseTrailer:
		return "trailer"
	case PhaseEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Counts holds one number per entity kind.
type Counts struct {
	Categories int `msgpack:"categories"`
	Tasks      int `msgpack:"tasks"`
	Efforts    int `msgpack:"efforts"`
}

// Get returns the count for k.
func (c Counts) Get(k model.Kind) int {
	switch k {
	case model.KindCategory:
		return c.Categories
	case model.KindTask:
		return c.Tasks
	case model.KindEffort:
		return c.Efforts
	}
	return 0
}

// Add adds n to the count for k.
func (c *Counts) Add(k model.Kind, n int) {
	switch k {
	case model.KindCategory:
		c.Categories += n
	case model.KindTask:
		c.Tasks += n
	case model.KindEffort:
		c.Efforts += n
	}
}

// Total returns the sum over all kinds.
func (c Counts) Total() int {
	return c.Categories + c.Tasks + c.Efforts
}

// Progress is reported to the controller after every transferred record.
type Progress struct {
	Phase   Phase
	Kind    model.Kind
	Current int
	Total   int
}

// Config contains the parameters of one session.
type Config struct {
	// ID names the session; empty generates one.
	ID         string
	Host       string
	Port       int
	DeviceName string
	// MinVersion and MaxVersion bound the accepted protocol versions. Zero
	// selects the full supported range.
	MinVersion int
	MaxVersion int

	Store       LocalStore
	Controller  Controller
	Credentials CredentialStore // optional
}

// Session is the context shared by the states of one sync attempt. It is
// only mutated from the transport event loop, except for the cancellation
// flag.
type Session struct {
	ID string

	cfg      Config
	version  int
	schema   *Schema
	peerGUID string
	mode     SyncMode
	ids      *IDMap
	sent     Counts
	received Counts

	cancelled atomic.Bool
	log       zerolog.Logger
}

// NewSession validates cfg and returns a fresh session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("protocol: session needs a local store")
	}
	if cfg.Controller == nil {
		return nil, errors.New("protocol: session needs a controller")
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = MinVersion
	}
	if cfg.MaxVersion == 0 {
		cfg.MaxVersion = MaxVersion
	}
	if cfg.MinVersion < MinVersion || cfg.MaxVersion > MaxVersion || cfg.MinVersion > cfg.MaxVersion {
		return nil, fmt.Errorf("%w: range %d..%d outside %d..%d",
			ErrVersionUnsupported, cfg.MinVersion, cfg.MaxVersion, MinVersion, MaxVersion)
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:   id,
		cfg:  cfg,
		mode: ModeUnset,
		ids:  NewIDMap(),
		log: log.With().
			Str("session", id).
			Str("peer", cfg.peer()).
			Logger(),
	}, nil
}

func (c Config) peer() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SetVersion fixes the negotiated version. It may only be called once.
func (s *Session) SetVersion(v int) error {
	if s.version != 0 {
		return ErrVersionAlreadySet
	}
	schema, err := SchemaFor(v)
	if err != nil {
		return err
	}
	s.version = v
	s.schema = schema
	return nil
}

// Version returns the negotiated version, zero before negotiation.
func (s *Session) Version() int { return s.version }

// Schema returns the record layout of the negotiated version.
func (s *Session) Schema() *Schema { return s.schema }

// PeerGUID returns the desktop file GUID received during identity exchange.
func (s *Session) PeerGUID() string { return s.peerGUID }

// Mode returns the transfer mode chosen by the desktop.
func (s *Session) Mode() SyncMode { return s.mode }

// IDs returns the session identifier map.
func (s *Session) IDs() *IDMap { return s.ids }

// Sent returns the number of records sent per kind.
func (s *Session) Sent() Counts { return s.sent }

// Received returns the number of records received per kind.
func (s *Session) Received() Counts { return s.received }

// Cancel sets the cancellation flag. It never clears.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested, either through
// Cancel or by the controller.
func (s *Session) Cancelled() bool {
	if s.cancelled.Load() {
		return true
	}
	if s.cfg.Controller.CancelRequested() {
		s.cancelled.Store(true)
		return true
	}
	return false
}

// CredentialKey names the stored password for the session's desktop.
func (s *Session) CredentialKey() string {
	return CredentialKey(s.cfg.Host)
}

// CredentialKey names the stored password of the desktop on host. The port
// is not part of the key.
func CredentialKey(host string) string {
	return "desktop/" + host
}

// Logger returns the session logger.
func (s *Session) Logger() zerolog.Logger { return s.log }
