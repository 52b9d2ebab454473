// Package protocol implements the device side of the desktop sync protocol
// as an event-driven state machine.
//
// A Machine is a transport.Listener. Every state arms the byte count of the
// next item it wants with Machine.expect; the machine feeds delivered bytes
// to an incremental codec.Parser, re-arming the transport for each leaf, and
// hands the finished value to the active state. States never block: they
// send replies through the transport queue and return their successor.
//
// A session ends exactly once, with success, failure or cancellation, and
// the controller is told through Controller.Finished.
package protocol

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/transport"
)

// state is one variant of the protocol state machine.
type state interface {
	phase() Phase
	// enter runs when the state becomes active. It either arms an
	// expectation and returns itself, or returns its successor.
	enter(m *Machine) (state, error)
	// receive handles the item armed by the state. Returning the state
	// itself requires a new expectation to have been armed.
	receive(m *Machine, v codec.Value) (state, error)
}

// Machine drives one session over one transport.
type Machine struct {
	sess *Session
	t    Transport
	ctx  context.Context
	stop func() bool
	log  zerolog.Logger

	cur      state
	parser   codec.Parser
	armed    bool
	finished bool
	outcome  Outcome
}

var _ transport.Listener = (*Machine)(nil)

// NewMachine binds sess to t. Cancelling ctx cancels the session. Store
// calls made by the states use ctx.
func NewMachine(ctx context.Context, sess *Session, t Transport) *Machine {
	m := &Machine{
		sess: sess,
		t:    t,
		ctx:  ctx,
		log:  sess.log,
	}
	m.stop = context.AfterFunc(ctx, m.Cancel)
	return m
}

// Session returns the session driven by m.
func (m *Machine) Session() *Session { return m.sess }

// Phase returns the active phase. Call it from the event loop or after the
// session has finished.
func (m *Machine) Phase() Phase {
	if m.cur == nil {
		return PhaseIdle
	}
	return m.cur.phase()
}

// Outcome returns the terminal outcome once the session has finished.
func (m *Machine) Outcome() (Outcome, bool) {
	return m.outcome, m.finished
}

// Cancel requests cancellation. It is safe to call from any goroutine other
// than the transport event loop; the teardown itself runs on the loop.
func (m *Machine) Cancel() {
	m.sess.Cancel()
	m.t.Post(m.cancelNow)
}

// OnConnect starts negotiation.
func (m *Machine) OnConnect() {
	m.log.Debug().Msg("Connected, waiting for version offer")
	m.transition(&negotiation{})
}

// OnData feeds one armed chunk to the parser.
func (m *Machine) OnData(b []byte) {
	if m.finished {
		return
	}
	if m.sess.Cancelled() {
		m.cancelNow()
		return
	}
	if !m.armed {
		m.fail(unexpected("%d bytes arrived without an expectation", len(b)))
		return
	}
	res, err := m.parser.Feed(b)
	if err != nil {
		m.fail(err)
		return
	}
	if !res.Done {
		m.t.SetExpectation(res.Need)
		return
	}
	m.armed = false
	next, err := m.cur.receive(m, res.Value)
	m.advance(next, err)
}

// OnClose ends the session; a close is only expected after the final
// acknowledgement, by which time the session has already finished.
func (m *Machine) OnClose() {
	if m.finished {
		return
	}
	if m.sess.Cancelled() {
		m.cancelNow()
		return
	}
	if m.parser.Pending() || m.t.Buffered() > 0 {
		m.fail(&codec.Error{Kind: codec.TruncatedInput, Path: m.Phase().String(), Msg: "connection closed in the middle of an item"})
		return
	}
	m.fail(transport.ErrUnexpectedClose)
}

// OnError ends the session with a transport failure.
func (m *Machine) OnError(err error) {
	if m.finished {
		return
	}
	if m.sess.Cancelled() {
		m.cancelNow()
		return
	}
	m.fail(err)
}

func (m *Machine) advance(next state, err error) {
	if err != nil {
		m.fail(err)
		return
	}
	if m.finished {
		return
	}
	if next != nil && next != m.cur {
		m.transition(next)
		return
	}
	if !m.armed {
		m.fail(newError(ReasonUnexpected, ErrNotArmed, "in %s", m.Phase()))
	}
}

func (m *Machine) transition(s state) {
	for !m.finished {
		if m.sess.Cancelled() {
			m.cancelNow()
			return
		}
		m.log.Debug().Str("from", m.Phase().String()).Str("to", s.phase().String()).Msg("State transition")
		m.cur = s
		next, err := s.enter(m)
		if err != nil {
			m.fail(err)
			return
		}
		if m.finished {
			return
		}
		if next == nil || next == s {
			if !m.armed {
				m.fail(newError(ReasonUnexpected, ErrNotArmed, "in %s", s.phase()))
			}
			return
		}
		s = next
	}
}

// expect arms the transport for the first leaf of d.
func (m *Machine) expect(d codec.Descriptor) error {
	res, err := m.parser.Start(d)
	if err != nil {
		return err
	}
	if res.Done {
		return fmt.Errorf("protocol: %s carries no bytes", d)
	}
	m.armed = true
	m.t.SetExpectation(res.Need)
	return nil
}

// send encodes v and queues it.
func (m *Machine) send(d codec.Descriptor, v codec.Value) error {
	b, err := codec.Encode(d, v)
	if err != nil {
		return err
	}
	return m.t.Send(b)
}

func (m *Machine) progress(k model.Kind, current, total int) {
	m.sess.cfg.Controller.Progress(Progress{Phase: m.Phase(), Kind: k, Current: current, Total: total})
}

func (m *Machine) cancelNow() {
	if m.finished {
		return
	}
	m.finish(Outcome{Status: Cancelled, Reason: ReasonCancelled, Err: ErrCancelled})
}

func (m *Machine) fail(err error) {
	if m.finished {
		return
	}
	if m.sess.Cancelled() {
		m.cancelNow()
		return
	}
	m.finish(Outcome{Status: Failed, Reason: reasonOf(err), Err: err})
}

func (m *Machine) succeed() {
	m.finish(Outcome{Status: Succeeded})
}

func (m *Machine) finish(o Outcome) {
	at := m.Phase()
	m.finished = true
	m.armed = false
	m.cur = end{}
	m.stop()

	o.Version = m.sess.version
	o.Mode = m.sess.mode
	o.PeerGUID = m.sess.peerGUID
	o.Sent = m.sess.sent
	o.Received = m.sess.received
	m.outcome = o

	if o.Status != Succeeded {
		m.t.Close()
	}

	ev := m.log.Info()
	switch o.Status {
	case Failed:
		ev = m.log.Error().Err(o.Err)
	case Cancelled:
		ev = m.log.Warn()
	}
	ev.Str("status", o.Status.String()).
		Str("reason", string(o.Reason)).
		Str("phase", at.String()).
		Int("version", o.Version).
		Str("mode", o.Mode.String()).
		Int("sent", o.Sent.Total()).
		Int("received", o.Received.Total()).
		Msg("Sync session finished")

	m.sess.cfg.Controller.Finished(o)
}

// end is the terminal state.
type end struct{}

func (end) phase() Phase { return PhaseEnd }

func (e end) enter(*Machine) (state, error) { return e, nil }

func (e end) receive(*Machine, codec.Value) (state, error) { return e, nil }
