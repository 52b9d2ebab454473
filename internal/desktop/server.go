// Package desktop implements the desktop side of the task sync protocol
// over an in-memory task file. It serves the tcdesktop daemon and the
// end-to-end tests of the device machine.
package desktop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/crypto"
	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/protocol"
)

// Errors ending a desktop session.
var (
	ErrNoCommonVersion = errors.New("desktop: device declined every version")
	ErrAuthFailed      = errors.New("desktop: device failed authentication")
	ErrRejected        = errors.New("desktop: device rejected")
	ErrProtocol        = errors.New("desktop: protocol violation")
)

// Identity is what a device tells about itself.
type Identity struct {
	Name     string
	DeviceID string
	// GUID is the file the device was last synced with, empty if never.
	GUID string
}

// Result summarizes a finished session.
type Result struct {
	Version  int
	Mode     protocol.SyncMode
	Device   Identity
	Sent     protocol.Counts
	Received protocol.Counts
}

// Server serves sync sessions against a File, one at a time.
type Server struct {
	File *File
	// Password enables the challenge when not empty.
	Password string
	// DefaultMode is used for devices paired with another file. Devices
	// paired with this file always sync two-way.
	DefaultMode protocol.SyncMode
	MinVersion  int
	MaxVersion  int
	// Accept decides whether a device may sync; nil accepts every device.
	Accept func(Identity) bool
	// IdleTimeout bounds each read; zero disables it.
	IdleTimeout time.Duration
}

type session struct {
	s      *Server
	conn   net.Conn
	r      *bufio.Reader
	log    zerolog.Logger
	schema *protocol.Schema
	res    Result
}

// Serve runs one session on conn and closes it.
func (s *Server) Serve(ctx context.Context, conn net.Conn) (Result, error) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	ss := &session{
		s:    s,
		conn: conn,
		r:    bufio.NewReader(conn),
		log:  log.With().Str("device", conn.RemoteAddr().String()).Logger(),
	}
	err := ss.run()
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		ss.log.Warn().Err(err).Msg("Session failed")
		return ss.res, err
	}
	ss.log.Info().
		Int("version", ss.res.Version).
		Str("mode", ss.res.Mode.String()).
		Int("sent", ss.res.Sent.Total()).
		Int("received", ss.res.Received.Total()).
		Msg("Session finished")
	return ss.res, nil
}

// ServeListener accepts connections from ln and serves them one at a time
// until ctx is done. done, when not nil, is called after every session.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener, done func(Result, error)) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Str("guid", s.File.GUID()).Msg("Desktop listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		res, err := s.Serve(ctx, conn)
		if done != nil {
			done(res, err)
		}
	}
}

func (ss *session) read(d codec.Descriptor) (codec.Value, error) {
	if t := ss.s.IdleTimeout; t > 0 {
		if err := ss.conn.SetReadDeadline(time.Now().Add(t)); err != nil {
			return codec.Value{}, err
		}
	}
	return codec.Read(ss.r, d)
}

func (ss *session) readInt() (int, error) {
	v, err := ss.read(codec.Int32)
	return int(v.Int()), err
}

// write sends items as one buffer. Arguments alternate descriptor, value.
func (ss *session) write(items ...any) error {
	var (
		b   []byte
		err error
	)
	for i := 0; i < len(items); i += 2 {
		if b, err = codec.Append(b, items[i].(codec.Descriptor), items[i+1].(codec.Value)); err != nil {
			return err
		}
	}
	_, err = ss.conn.Write(b)
	return err
}

func (ss *session) expectAck(what string) error {
	ack, err := ss.readInt()
	if err != nil {
		return err
	}
	if ack != 1 {
		return fmt.Errorf("%w: %s acknowledged with %d", ErrProtocol, what, ack)
	}
	return nil
}

func (ss *session) run() error {
	if err := ss.negotiate(); err != nil {
		return err
	}
	if err := ss.identify(); err != nil {
		return err
	}
	if err := ss.authenticate(); err != nil {
		return err
	}
	mode, err := ss.chooseMode()
	if err != nil {
		return err
	}

	f := ss.s.File
	f.mu.Lock()
	defer f.mu.Unlock()

	switch mode {
	case protocol.ModeFullFromDesktop:
		err = ss.sendRecords(true)
	case protocol.ModeFullFromDevice:
		f.reset()
		err = ss.receiveRecords(true)
	default:
		if err = ss.receiveRecords(false); err == nil {
			err = ss.sendRecords(false)
		}
	}
	if err != nil {
		return err
	}

	if err := ss.write(protocol.IDDesc, codec.Str(f.GUID())); err != nil {
		return err
	}
	return ss.expectAck("file GUID")
}

// negotiate offers versions from the highest down until the device accepts.
func (ss *session) negotiate() error {
	lo, hi := ss.s.MinVersion, ss.s.MaxVersion
	if lo == 0 {
		lo = protocol.MinVersion
	}
	if hi == 0 {
		hi = protocol.MaxVersion
	}
	for v := hi; v >= lo; v-- {
		if err := ss.write(codec.Int32, codec.Int(int64(v))); err != nil {
			return err
		}
		ack, err := ss.readInt()
		if err != nil {
			return fmt.Errorf("negotiating version %d: %w", v, err)
		}
		if ack == 1 {
			schema, err := protocol.SchemaFor(v)
			if err != nil {
				return err
			}
			ss.schema = schema
			ss.res.Version = v
			ss.log = ss.log.With().Int("version", v).Logger()
			return nil
		}
		ss.log.Debug().Int("version", v).Msg("Device declined version")
	}
	return ErrNoCommonVersion
}

func (ss *session) identify() error {
	v, err := ss.read(protocol.IdentityDesc)
	if err != nil {
		return err
	}
	d := protocol.IdentityDesc
	ss.res.Device = Identity{
		Name:     d.Get(v, "name").Str(),
		DeviceID: d.Get(v, "device").Str(),
		GUID:     d.Get(v, "guid").Str(),
	}
	ss.log = ss.log.With().Str("name", ss.res.Device.Name).Logger()
	return ss.write(protocol.IDDesc, codec.Str(ss.s.File.GUID()))
}

func (ss *session) authenticate() error {
	password := ss.s.Password
	if password == "" {
		return ss.write(protocol.AckDesc, codec.Int(0))
	}
	if err := ss.write(protocol.AckDesc, codec.Int(1)); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		challenge, err := crypto.NewChallenge()
		if err != nil {
			return err
		}
		if err := ss.write(protocol.ChallengeDesc, codec.Raw(challenge)); err != nil {
			return err
		}
		digest, err := ss.read(protocol.DigestDesc)
		if err != nil {
			return err
		}
		if crypto.VerifyDigest(challenge, password, digest.Bytes()) {
			return ss.write(protocol.AckDesc, codec.Int(1))
		}
		ss.log.Warn().Int("attempt", attempt).Msg("Wrong password")
		if err := ss.write(protocol.AckDesc, codec.Int(0)); err != nil {
			return err
		}
		if attempt >= protocol.MaxAuthAttempts {
			return ErrAuthFailed
		}
	}
}

func (ss *session) chooseMode() (protocol.SyncMode, error) {
	if accept := ss.s.Accept; accept != nil && !accept(ss.res.Device) {
		if err := ss.write(codec.Int32, codec.Int(3)); err != nil {
			return 0, err
		}
		return 0, ErrRejected
	}
	mode := ss.s.DefaultMode
	if ss.res.Device.GUID == ss.s.File.GUID() {
		mode = protocol.ModeTwoWay
	}
	ss.res.Mode = mode
	ss.log = ss.log.With().Str("mode", mode.String()).Logger()
	return mode, ss.write(codec.Int32, codec.Int(int64(mode)))
}

// sendRecords sends every live record (full) or every record the device
// has not seen (delta), waiting for an acknowledgement after each.
func (ss *session) sendRecords(full bool) error {
	f := ss.s.File
	statuses := []model.Status{model.StatusNew, model.StatusModified, model.StatusDeleted}
	if full {
		statuses = []model.Status{model.StatusAll}
	}

	var (
		steps []protocol.Step
		batch [][]model.Record
	)
	for _, k := range ss.schema.Kinds() {
		for _, st := range statuses {
			recs := f.byStatus(k, st)
			change := st
			if full {
				change = model.StatusNew
			}
			steps = append(steps, protocol.Step{Kind: k, Status: change, Count: len(recs)})
			batch = append(batch, recs)
		}
	}
	counts := ss.schema.DeltaCounts
	if full {
		counts = ss.schema.FullCounts
	}
	if err := ss.write(counts, protocol.CountsValue(steps)); err != nil {
		return err
	}

	for i, step := range steps {
		for _, rec := range batch[i] {
			out := clone(rec)
			out.Base().Status = step.Status
			v, err := ss.schema.Value(out)
			if err != nil {
				return err
			}
			tag := protocol.TagFor(step.Kind, step.Status)
			if err := ss.write(codec.Int32, codec.Int(int64(tag)), ss.schema.Record(step.Kind, step.Status), v); err != nil {
				return err
			}
			if err := ss.expectAck(tag.String()); err != nil {
				return err
			}
			f.markSent(out)
			ss.res.Sent.Add(step.Kind, 1)
		}
	}
	if full {
		f.dropDeleted()
	}
	return nil
}

// receiveRecords reads the records announced by the device, replying with
// the id each one is stored under.
func (ss *session) receiveRecords(full bool) error {
	counts := ss.schema.DeltaCounts
	if full {
		counts = ss.schema.FullCounts
	}
	v, err := ss.read(counts)
	if err != nil {
		return err
	}
	steps := ss.schema.DeltaSteps(v)
	if full {
		steps = ss.schema.FullSteps(v)
	}

	for _, step := range steps {
		want := protocol.TagFor(step.Kind, step.Status)
		for i := 0; i < step.Count; i++ {
			tag, err := ss.readInt()
			if err != nil {
				return err
			}
			if protocol.Tag(tag) != want {
				return fmt.Errorf("%w: got %s, want %s", ErrProtocol, protocol.Tag(tag), want)
			}
			v, err := ss.read(ss.schema.Record(step.Kind, step.Status))
			if err != nil {
				return err
			}
			rec := ss.schema.Decode(step.Kind, step.Status, v)
			if step.Status != model.StatusNew && rec.Base().RemoteID == "" {
				return fmt.Errorf("%w: %s %s without an id", ErrProtocol, step.Status, step.Kind)
			}
			id := ss.s.File.applyFromDevice(rec)
			if err := ss.write(protocol.IDDesc, codec.Str(id)); err != nil {
				return err
			}
			ss.res.Received.Add(step.Kind, 1)
		}
	}
	return nil
}
