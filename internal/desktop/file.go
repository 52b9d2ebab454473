package desktop

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vkucera/task-coach/internal/model"
)

// ErrNotFound is returned for an unknown record id.
var ErrNotFound = errors.New("desktop: no such record")

type entry struct {
	rec model.Record
	seq int64
}

// File is an in-memory desktop task file. Records are identified by the
// uuid the file assigns. Their status tracks what the device has not seen
// yet; references are held as ids (ParentRemote, TaskRemote,
// CategoryRemotes).
type File struct {
	mu   sync.Mutex
	guid string
	seq  int64
	recs map[model.Kind]map[string]*entry
}

// NewFile returns an empty file with a fresh GUID.
func NewFile() *File {
	return NewFileWithGUID(uuid.NewString())
}

// NewFileWithGUID returns an empty file with the given GUID.
func NewFileWithGUID(guid string) *File {
	f := &File{guid: guid}
	f.reset()
	return f
}

// GUID returns the file identifier sent to devices.
func (f *File) GUID() string { return f.guid }

func (f *File) reset() {
	f.recs = map[model.Kind]map[string]*entry{
		model.KindCategory: {},
		model.KindTask:     {},
		model.KindEffort:   {},
	}
}

func clone(rec model.Record) model.Record {
	switch r := rec.(type) {
	case *model.Category:
		c := *r
		return &c
	case *model.Task:
		t := *r
		t.CategoryLocals = append([]int64(nil), r.CategoryLocals...)
		t.CategoryRemotes = append([]string(nil), r.CategoryRemotes...)
		return &t
	case *model.Effort:
		e := *r
		return &e
	}
	panic(fmt.Sprintf("desktop: unknown record %T", rec))
}

// put stores a copy of rec under id with status st.
func (f *File) put(rec model.Record, id string, st model.Status) {
	rec = clone(rec)
	meta := rec.Base()
	meta.LocalID, meta.RemoteID, meta.Status = 0, id, st
	if e, ok := f.recs[rec.Kind()][id]; ok {
		e.rec = rec
		return
	}
	f.seq++
	f.recs[rec.Kind()][id] = &entry{rec: rec, seq: f.seq}
}

// Add stores a record created on the desktop and returns its id.
func (f *File) Add(rec model.Record) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.put(rec, id, model.StatusNew)
	return id
}

// Update replaces a record edited on the desktop. The record keeps status
// new until the device has seen it.
func (f *File) Update(rec model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := rec.Base().RemoteID
	e, ok := f.recs[rec.Kind()][id]
	if !ok || e.rec.Base().Status == model.StatusDeleted {
		return fmt.Errorf("%w: %s %s", ErrNotFound, rec.Kind(), id)
	}
	st := model.StatusModified
	if e.rec.Base().Status == model.StatusNew {
		st = model.StatusNew
	}
	f.put(rec, id, st)
	return nil
}

// Delete deletes a record on the desktop. Records the device never saw are
// dropped; others are kept as deleted until the device has been told.
// Deleting a task deletes its efforts.
func (f *File) Delete(k model.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.recs[k][id]
	if !ok || e.rec.Base().Status == model.StatusDeleted {
		return fmt.Errorf("%w: %s %s", ErrNotFound, k, id)
	}
	if k == model.KindTask {
		for eid, ef := range f.recs[model.KindEffort] {
			if ef.rec.(*model.Effort).TaskRemote == id {
				f.markDeleted(model.KindEffort, eid)
			}
		}
	}
	f.markDeleted(k, id)
	return nil
}

func (f *File) markDeleted(k model.Kind, id string) {
	e := f.recs[k][id]
	if e.rec.Base().Status == model.StatusNew {
		delete(f.recs[k], id)
		return
	}
	e.rec.Base().Status = model.StatusDeleted
}

// Get returns a copy of a live record.
func (f *File) Get(k model.Kind, id string) (model.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.recs[k][id]
	if !ok || e.rec.Base().Status == model.StatusDeleted {
		return nil, false
	}
	return clone(e.rec), true
}

// List returns copies of the live records of kind k, parents first.
func (f *File) List(k model.Kind) []model.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.byStatus(k, model.StatusAll)
	for i, r := range recs {
		recs[i] = clone(r)
	}
	return recs
}

// Len returns the number of live records of kind k.
func (f *File) Len(k model.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byStatus(k, model.StatusAll))
}

// byStatus returns the records of kind k with status st (StatusAll: every
// live record) in creation order, parents first. Callers hold mu.
func (f *File) byStatus(k model.Kind, st model.Status) []model.Record {
	var entries []*entry
	for _, e := range f.recs[k] {
		s := e.rec.Base().Status
		if (st == model.StatusAll && s != model.StatusDeleted) || s == st {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.rec.Base().RemoteID] = true
	}
	emitted := make(map[string]bool, len(entries))
	out := make([]model.Record, 0, len(entries))
	for len(out) < len(entries) {
		progress := false
		for _, e := range entries {
			id := e.rec.Base().RemoteID
			if emitted[id] {
				continue
			}
			p := parentOf(e.rec)
			if p == "" || !present[p] || emitted[p] {
				out = append(out, e.rec)
				emitted[id] = true
				progress = true
			}
		}
		if !progress {
			for _, e := range entries {
				if id := e.rec.Base().RemoteID; !emitted[id] {
					out = append(out, e.rec)
					emitted[id] = true
				}
			}
		}
	}
	return out
}

func parentOf(rec model.Record) string {
	switch r := rec.(type) {
	case *model.Category:
		return r.ParentRemote
	case *model.Task:
		return r.ParentRemote
	}
	return ""
}

// applyFromDevice stores a record received from the device and returns the
// id it is known by. Callers hold mu.
func (f *File) applyFromDevice(rec model.Record) string {
	meta := rec.Base()
	switch meta.Status {
	case model.StatusNew:
		id := uuid.NewString()
		f.put(rec, id, model.StatusSynced)
		return id
	case model.StatusDeleted:
		if _, ok := f.recs[rec.Kind()][meta.RemoteID]; ok {
			f.purge(rec.Kind(), meta.RemoteID)
		}
		return meta.RemoteID
	default:
		f.put(rec, meta.RemoteID, model.StatusSynced)
		return meta.RemoteID
	}
}

// purge removes a record for good, with the efforts of a task.
func (f *File) purge(k model.Kind, id string) {
	delete(f.recs[k], id)
	if k != model.KindTask {
		return
	}
	for eid, e := range f.recs[model.KindEffort] {
		if e.rec.(*model.Effort).TaskRemote == id {
			delete(f.recs[model.KindEffort], eid)
		}
	}
}

// markSent records that the device has seen rec.
func (f *File) markSent(rec model.Record) {
	meta := rec.Base()
	if meta.Status == model.StatusDeleted {
		delete(f.recs[rec.Kind()], meta.RemoteID)
		return
	}
	if e, ok := f.recs[rec.Kind()][meta.RemoteID]; ok {
		e.rec.Base().Status = model.StatusSynced
	}
}

// dropDeleted forgets deleted records once the device has been replaced
// with the live ones. Callers hold mu.
func (f *File) dropDeleted() {
	for _, recs := range f.recs {
		for id, e := range recs {
			if e.rec.Base().Status == model.StatusDeleted {
				delete(recs, id)
			}
		}
	}
}
