package protocol

import (
	"fmt"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/model"
)

type downloadStage int

const (
	downloadCounts downloadStage = iota
	downloadTag
	downloadRecord
)

// download receives records from the desktop: the announced counts, then
// one tagged record per announced item, each applied to the store and
// acknowledged before the next one is read. A full download replaces the
// store contents.
type download struct {
	phaseOf Phase
	full    bool
	then    func() state

	stage   downloadStage
	steps   []Step
	step    int
	done    int
	current int
	total   int
}

func (s *download) phase() Phase { return s.phaseOf }

func (s *download) enter(m *Machine) (state, error) {
	schema := m.sess.schema
	if s.full {
		if err := m.sess.cfg.Store.Reset(m.ctx); err != nil {
			return nil, storeError("reset", err)
		}
		return s, m.expect(schema.FullCounts)
	}
	return s, m.expect(schema.DeltaCounts)
}

func (s *download) receive(m *Machine, v codec.Value) (state, error) {
	schema := m.sess.schema
	switch s.stage {
	case downloadCounts:
		if s.full {
			s.steps = schema.FullSteps(v)
		} else {
			s.steps = schema.DeltaSteps(v)
		}
		for _, st := range s.steps {
			if st.Count < 0 {
				return nil, unexpected("negative count %d for %s", st.Count, TagFor(st.Kind, st.Status))
			}
			s.total += st.Count
		}
		m.log.Debug().Int("records", s.total).Msg("Download announced")
		return s.next(m)

	case downloadTag:
		st := s.steps[s.step]
		got, want := Tag(v.Int()), TagFor(st.Kind, st.Status)
		if got != want {
			return nil, unexpected("got %s, want %s (%d of %d)", got, want, s.done+1, st.Count)
		}
		s.stage = downloadRecord
		return s, m.expect(schema.Record(st.Kind, st.Status))

	default:
		st := s.steps[s.step]
		if err := s.apply(m, schema.Decode(st.Kind, st.Status, v)); err != nil {
			return nil, err
		}
		if err := m.send(AckDesc, codec.Int(1)); err != nil {
			return nil, err
		}
		s.done++
		s.current++
		m.sess.received.Add(st.Kind, 1)
		m.progress(st.Kind, s.current, s.total)
		return s.next(m)
	}
}

// next arms the tag of the next announced record, or hands over once every
// announced record has been received.
func (s *download) next(m *Machine) (state, error) {
	for s.step < len(s.steps) && s.done >= s.steps[s.step].Count {
		s.step++
		s.done = 0
	}
	if s.step == len(s.steps) {
		return s.then(), nil
	}
	s.stage = downloadTag
	return s, m.expect(codec.Int32)
}

func (s *download) apply(m *Machine, rec model.Record) error {
	meta := rec.Base()
	if meta.RemoteID == "" {
		return unexpected("%s %s without an id", meta.Status, rec.Kind())
	}
	if meta.Status != model.StatusDeleted {
		if err := resolveRefs(m, rec); err != nil {
			return err
		}
	}
	local, err := m.sess.cfg.Store.ApplyIncoming(m.ctx, rec, meta.RemoteID)
	if err != nil {
		return storeError("apply "+rec.Kind().String(), err)
	}
	if meta.Status == model.StatusDeleted {
		return nil
	}
	if err := m.sess.ids.Bind(rec.Kind(), meta.RemoteID, local); err != nil {
		return newError(ReasonUnexpected, err, "")
	}
	return nil
}

// resolveRefs fills the local ids of the records rec refers to. A reference
// that is neither bound in this session nor known to the store is an orphan.
func resolveRefs(m *Machine, rec model.Record) error {
	var err error
	switch r := rec.(type) {
	case *model.Category:
		if r.ParentRemote != "" {
			r.ParentLocal, err = resolve(m, model.KindCategory, r.ParentRemote)
		}
	case *model.Task:
		if r.ParentRemote != "" {
			if r.ParentLocal, err = resolve(m, model.KindTask, r.ParentRemote); err != nil {
				return err
			}
		}
		r.CategoryLocals = r.CategoryLocals[:0]
		for _, remote := range r.CategoryRemotes {
			local, err := resolve(m, model.KindCategory, remote)
			if err != nil {
				return err
			}
			r.CategoryLocals = append(r.CategoryLocals, local)
		}
	case *model.Effort:
		if r.TaskRemote == "" {
			return orphan("effort %q has no task", r.RemoteID)
		}
		r.TaskLocal, err = resolve(m, model.KindTask, r.TaskRemote)
	}
	return err
}

func resolve(m *Machine, k model.Kind, remote string) (int64, error) {
	if local, ok := m.sess.ids.Lookup(k, remote); ok {
		return local, nil
	}
	local, ok, err := m.sess.cfg.Store.ResolveLocalID(m.ctx, k, remote)
	if err != nil {
		return 0, storeError("resolve "+k.String(), err)
	}
	if !ok {
		return 0, orphan("%s %q", k, remote)
	}
	return local, nil
}

// upload sends local records to the desktop: the counts, then one tagged
// record at a time, waiting for the id the desktop assigns or confirms
// before sending the next one. A full upload sends every live record.
type upload struct {
	phaseOf Phase
	full    bool
	then    func() state

	steps    []Step
	step     int
	cur      Step
	pending  []model.Record
	inflight model.Record
	current  int
	total    int
}

func (s *upload) phase() Phase { return s.phaseOf }

func (s *upload) enter(m *Machine) (state, error) {
	schema := m.sess.schema
	statuses := changes
	if s.full {
		statuses = []model.Status{model.StatusNew}
	}
	for _, k := range schema.Kinds() {
		for _, st := range statuses {
			query := st
			if s.full {
				query = model.StatusAll
			}
			n, err := m.sess.cfg.Store.CountDirty(m.ctx, k, query)
			if err != nil {
				return nil, storeError("count "+k.String(), err)
			}
			s.steps = append(s.steps, Step{Kind: k, Status: st, Count: n})
			s.total += n
		}
	}

	counts := schema.DeltaCounts
	if s.full {
		counts = schema.FullCounts
	}
	if err := m.send(counts, CountsValue(s.steps)); err != nil {
		return nil, err
	}
	m.log.Debug().Int("records", s.total).Msg("Upload announced")
	return s.next(m)
}

// next sends the next record, or hands over once every announced record
// has been acknowledged.
func (s *upload) next(m *Machine) (state, error) {
	for len(s.pending) == 0 {
		if s.step == len(s.steps) {
			return s.then(), nil
		}
		st := s.steps[s.step]
		s.step++
		if st.Count == 0 {
			continue
		}
		query := st.Status
		if s.full {
			query = model.StatusAll
		}
		recs, err := m.sess.cfg.Store.EnumerateDirty(m.ctx, st.Kind, query)
		if err != nil {
			return nil, storeError("enumerate "+st.Kind.String(), err)
		}
		if len(recs) != st.Count {
			return nil, storeError("enumerate "+st.Kind.String(),
				fmt.Errorf("%w: announced %d %s, found %d", ErrDirtySetChanged, st.Count, TagFor(st.Kind, st.Status), len(recs)))
		}
		s.cur = st
		s.pending = recs
	}

	rec := s.pending[0]
	s.pending = s.pending[1:]
	out, err := s.outgoing(m, rec)
	if err != nil {
		return nil, err
	}
	v, err := m.sess.schema.Value(out)
	if err != nil {
		return nil, err
	}
	b, err := codec.Encode(codec.Int32, codec.Int(int64(TagFor(s.cur.Kind, s.cur.Status))))
	if err != nil {
		return nil, err
	}
	if b, err = codec.Append(b, m.sess.schema.Record(s.cur.Kind, s.cur.Status), v); err != nil {
		return nil, err
	}
	if err := m.t.Send(b); err != nil {
		return nil, err
	}
	s.inflight = rec
	return s, m.expect(IDDesc)
}

func (s *upload) receive(m *Machine, v codec.Value) (state, error) {
	remote := v.Str()
	rec := s.inflight
	meta := rec.Base()
	k := rec.Kind()
	store := m.sess.cfg.Store

	switch s.cur.Status {
	case model.StatusDeleted:
		if remote != meta.RemoteID {
			return nil, newError(ReasonUnexpected, ErrIDMismatch, "deleted %s %q acknowledged as %q", k, meta.RemoteID, remote)
		}
		if err := store.Remove(m.ctx, k, meta.LocalID); err != nil {
			return nil, storeError("remove "+k.String(), err)
		}
	case model.StatusModified:
		if remote != meta.RemoteID {
			return nil, newError(ReasonUnexpected, ErrIDMismatch, "modified %s %q acknowledged as %q", k, meta.RemoteID, remote)
		}
		if err := m.sess.ids.Bind(k, remote, meta.LocalID); err != nil {
			return nil, newError(ReasonUnexpected, err, "")
		}
		if err := store.MarkSynced(m.ctx, k, meta.LocalID, remote); err != nil {
			return nil, storeError("mark synced", err)
		}
	default:
		if remote == "" {
			return nil, unexpected("desktop assigned an empty id to %s %d", k, meta.LocalID)
		}
		if err := m.sess.ids.Bind(k, remote, meta.LocalID); err != nil {
			return nil, newError(ReasonUnexpected, err, "")
		}
		if err := store.MarkSynced(m.ctx, k, meta.LocalID, remote); err != nil {
			return nil, storeError("mark synced", err)
		}
	}

	s.inflight = nil
	s.current++
	m.sess.sent.Add(k, 1)
	m.progress(k, s.current, s.total)
	return s.next(m)
}

// outgoing returns a copy of rec with its references expressed as remote
// ids. New records go out without an id; the desktop assigns one.
func (s *upload) outgoing(m *Machine, rec model.Record) (model.Record, error) {
	change := s.cur.Status
	if change == model.StatusDeleted {
		return model.Deleted(rec.Kind(), rec.Base().RemoteID), nil
	}
	var err error
	switch r := rec.(type) {
	case *model.Category:
		c := *r
		c.Status = change
		if change == model.StatusNew {
			c.RemoteID = ""
		}
		if c.ParentLocal != 0 {
			c.ParentRemote, err = s.remoteRef(m, model.KindCategory, c.ParentLocal, c.ParentRemote)
		}
		return &c, err

	case *model.Task:
		t := *r
		t.Status = change
		if change == model.StatusNew {
			t.RemoteID = ""
		}
		if t.ParentLocal != 0 {
			if t.ParentRemote, err = s.remoteRef(m, model.KindTask, t.ParentLocal, t.ParentRemote); err != nil {
				return nil, err
			}
		}
		t.CategoryRemotes = make([]string, 0, len(t.CategoryLocals))
		for i, local := range t.CategoryLocals {
			known := ""
			if i < len(r.CategoryRemotes) {
				known = r.CategoryRemotes[i]
			}
			remote, err := s.remoteRef(m, model.KindCategory, local, known)
			if err != nil {
				return nil, err
			}
			t.CategoryRemotes = append(t.CategoryRemotes, remote)
		}
		return &t, nil

	case *model.Effort:
		e := *r
		e.Status = change
		if change == model.StatusNew {
			e.RemoteID = ""
		}
		e.TaskRemote, err = s.remoteRef(m, model.KindTask, e.TaskLocal, e.TaskRemote)
		return &e, err
	}
	return nil, fmt.Errorf("protocol: cannot upload %T", rec)
}

// remoteRef returns the remote id of a referenced local record. Ids bound
// in this session win; a full upload cannot use ids from earlier sessions.
func (s *upload) remoteRef(m *Machine, k model.Kind, local int64, known string) (string, error) {
	if remote, ok := m.sess.ids.Remote(k, local); ok {
		return remote, nil
	}
	if known != "" && !s.full {
		return known, nil
	}
	return "", orphan("%s %d has not been sent", k, local)
}
