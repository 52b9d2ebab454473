package protocol

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/transport"
)

// fakeTransport reassembles fed bytes the way transport.Conn does and
// records everything the machine sends.
type fakeTransport struct {
	l             transport.Listener
	want          int
	inbox         []byte
	out           bytes.Buffer
	closed        bool
	closeWhenDone bool
	// posted receives funneled work when set; otherwise Post runs it inline.
	posted chan func()
}

func (f *fakeTransport) SetExpectation(n int) { f.want = n }
func (f *fakeTransport) Buffered() int { return len(f.inbox) }

func (f *fakeTransport) Send(b []byte) error {
	if f.closed {
		return transport.ErrNotConnected
	}
	f.out.Write(b)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) CloseWhenDone() { f.closeWhenDone = true }

func (f *fakeTransport) Post(fn func()) bool {
	if f.posted != nil {
		f.posted <- fn
		return true
	}
	fn()
	return true
}

// feed delivers b one byte at a time.
func (f *fakeTransport) feed(b []byte) {
	for _, c := range b {
		f.inbox = append(f.inbox, c)
		for f.want > 0 && len(f.inbox) >= f.want && !f.closed {
			n := f.want
			f.want = 0
			chunk := append([]byte(nil), f.inbox[:n]...)
			f.inbox = f.inbox[n:]
			f.l.OnData(chunk)
		}
	}
}

type fakeController struct {
	progress []Progress
	outcomes []Outcome
	cancel   bool
}

func (c *fakeController) Progress(p Progress) { c.progress = append(c.progress, p) }
func (c *fakeController) Finished(o Outcome) { c.outcomes = append(c.outcomes, o) }
func (c *fakeController) CancelRequested() bool { return c.cancel }

type promptingController struct {
	*fakeController
	passwords []string
	prompts   int
}

func (c *promptingController) Password(host string, attempt int) (string, error) {
	c.prompts++
	if len(c.passwords) == 0 {
		return "", errors.New("no more passwords")
	}
	p := c.passwords[0]
	c.passwords = c.passwords[1:]
	return p, nil
}

type memCredentials struct {
	data    map[string][]byte
	deletes int
}

func (c *memCredentials) Get(name string) ([]byte, error) {
	b, ok := c.data[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (c *memCredentials) Put(name string, data []byte) error {
	c.data[name] = data
	return nil
}

func (c *memCredentials) Delete(name string) error {
	c.deletes++
	delete(c.data, name)
	return nil
}

// memStore is an in-memory LocalStore. Mutations counts every write.
type memStore struct {
	recs      map[model.Kind]map[int64]model.Record
	nextID    int64
	deviceID  string
	paired    string
	mutations int
	resets    int
}

func newMemStore() *memStore {
	s := &memStore{}
	s.clear()
	return s
}

func (s *memStore) clear() {
	s.recs = map[model.Kind]map[int64]model.Record{
		model.KindCategory: {},
		model.KindTask:     {},
		model.KindEffort:   {},
	}
}

// add stores a local record as the user would create it.
func (s *memStore) add(rec model.Record) int64 {
	s.nextID++
	rec.Base().LocalID = s.nextID
	s.recs[rec.Kind()][s.nextID] = rec
	return s.nextID
}

func (s *memStore) get(k model.Kind, local int64) model.Record {
	return s.recs[k][local]
}

func (s *memStore) byRemote(k model.Kind, remote string) model.Record {
	for _, r := range s.recs[k] {
		if r.Base().RemoteID == remote {
			return r
		}
	}
	return nil
}

func (s *memStore) remoteOf(k model.Kind, local int64) string {
	if r, ok := s.recs[k][local]; ok {
		return r.Base().RemoteID
	}
	return ""
}

func matches(r model.Record, st model.Status) bool {
	if st == model.StatusAll {
		return r.Base().Status != model.StatusDeleted
	}
	return r.Base().Status == st
}

func (s *memStore) CountDirty(_ context.Context, k model.Kind, st model.Status) (int, error) {
	n := 0
	for _, r := range s.recs[k] {
		if matches(r, st) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) EnumerateDirty(_ context.Context, k model.Kind, st model.Status) ([]model.Record, error) {
	var ids []int64
	for id, r := range s.recs[k] {
		if matches(r, st) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		switch r := s.recs[k][id].(type) {
		case *model.Category:
			c := *r
			c.ParentRemote = s.remoteOf(model.KindCategory, c.ParentLocal)
			out = append(out, &c)
		case *model.Task:
			t := *r
			t.ParentRemote = s.remoteOf(model.KindTask, t.ParentLocal)
			t.CategoryRemotes = nil
			for _, c := range t.CategoryLocals {
				t.CategoryRemotes = append(t.CategoryRemotes, s.remoteOf(model.KindCategory, c))
			}
			out = append(out, &t)
		case *model.Effort:
			e := *r
			e.TaskRemote = s.remoteOf(model.KindTask, e.TaskLocal)
			out = append(out, &e)
		}
	}
	return out, nil
}

func (s *memStore) ApplyIncoming(_ context.Context, rec model.Record, remoteID string) (int64, error) {
	s.mutations++
	k := rec.Kind()
	existing := s.byRemote(k, remoteID)
	if rec.Base().Status == model.StatusDeleted {
		if existing == nil {
			return 0, nil
		}
		id := existing.Base().LocalID
		delete(s.recs[k], id)
		return id, nil
	}
	var id int64
	if existing != nil {
		id = existing.Base().LocalID
	} else {
		s.nextID++
		id = s.nextID
	}
	rec.Base().LocalID = id
	rec.Base().RemoteID = remoteID
	rec.Base().Status = model.StatusSynced
	s.recs[k][id] = rec
	return id, nil
}

func (s *memStore) ResolveLocalID(_ context.Context, k model.Kind, remoteID string) (int64, bool, error) {
	if r := s.byRemote(k, remoteID); r != nil {
		return r.Base().LocalID, true, nil
	}
	return 0, false, nil
}

func (s *memStore) MarkSynced(_ context.Context, k model.Kind, localID int64, remoteID string) error {
	s.mutations++
	r, ok := s.recs[k][localID]
	if !ok {
		return errors.New("no such record")
	}
	r.Base().RemoteID = remoteID
	r.Base().Status = model.StatusSynced
	return nil
}

func (s *memStore) Remove(_ context.Context, k model.Kind, localID int64) error {
	s.mutations++
	delete(s.recs[k], localID)
	return nil
}

func (s *memStore) Reset(context.Context) error {
	s.mutations++
	s.resets++
	s.clear()
	return nil
}

func (s *memStore) DeviceID(context.Context) (string, error) {
	if s.deviceID == "" {
		s.deviceID = "device-1"
	}
	return s.deviceID, nil
}

func (s *memStore) PairedGUID(context.Context) (string, error) { return s.paired, nil }

func (s *memStore) SetPairedGUID(_ context.Context, guid string) error {
	s.paired = guid
	return nil
}

// harness plays the desktop against a machine.
type harness struct {
	t     *testing.T
	tr    *fakeTransport
	store *memStore
	ctrl  *fakeController
	creds *memCredentials
	sess  *Session
	m     *Machine
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		tr:    &fakeTransport{},
		store: newMemStore(),
		ctrl:  &fakeController{},
		creds: &memCredentials{data: map[string][]byte{}},
	}
	cfg := Config{
		Host:        "desktop.local",
		Port:        8001,
		DeviceName:  "Pocket",
		Store:       h.store,
		Controller:  h.ctrl,
		Credentials: h.creds,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	sess, err := NewSession(cfg)
	require.NoError(t, err)
	h.sess = sess
	h.m = NewMachine(context.Background(), sess, h.tr)
	h.tr.l = h.m
	return h
}

func (h *harness) start() { h.m.OnConnect() }

// send plays one desktop item.
func (h *harness) send(d codec.Descriptor, v codec.Value) {
	h.t.Helper()
	b, err := codec.Encode(d, v)
	require.NoError(h.t, err)
	h.tr.feed(b)
}

func (h *harness) sendInt(n int) { h.send(codec.Int32, codec.Int(int64(n))) }

func (h *harness) sendRecord(k model.Kind, st model.Status, rec model.Record) {
	h.t.Helper()
	schema := h.sess.Schema()
	v, err := schema.Value(rec)
	require.NoError(h.t, err)
	h.sendInt(int(TagFor(k, st)))
	h.send(schema.Record(k, st), v)
}

// read decodes the next item the device sent.
func (h *harness) read(d codec.Descriptor) codec.Value {
	h.t.Helper()
	v, err := codec.Read(&h.tr.out, d)
	require.NoError(h.t, err)
	return v
}

func (h *harness) readInt() int { return int(h.read(codec.Int32).Int()) }

func (h *harness) quiet() {
	h.t.Helper()
	require.Zero(h.t, h.tr.out.Len(), "device sent unexpected bytes")
}

// handshake runs negotiation, identity and an unauthenticated login.
func (h *harness) handshake(version int, guid string) {
	h.t.Helper()
	h.start()
	h.sendInt(version)
	require.Equal(h.t, 1, h.readInt())
	h.read(IdentityDesc)
	h.send(IDDesc, codec.Str(guid))
	h.sendInt(0)
}

func (h *harness) outcome() Outcome {
	h.t.Helper()
	require.Len(h.t, h.ctrl.outcomes, 1)
	return h.ctrl.outcomes[0]
}
