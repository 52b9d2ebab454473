package journal

import (
	"context"

	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/protocol"
)

type localKey struct {
	kind model.Kind
	id   int64
}

type pending struct {
	remote string
	change model.Status
}

// Tracker is a protocol.LocalStore that journals every record a session
// moves. Journal failures are logged and never fail the sync.
type Tracker struct {
	protocol.LocalStore
	j         *Journal
	sessionID string
	// enumerated remembers what each record was enumerated for, so that
	// acknowledgements can be journaled with their change.
	enumerated map[localKey]pending
}

// Track wraps store so that transfers of session sessionID are journaled.
func (j *Journal) Track(store protocol.LocalStore, sessionID string) *Tracker {
	return &Tracker{
		LocalStore: store,
		j:          j,
		sessionID:  sessionID,
		enumerated: make(map[localKey]pending),
	}
}

func (t *Tracker) EnumerateDirty(ctx context.Context, k model.Kind, st model.Status) ([]model.Record, error) {
	recs, err := t.LocalStore.EnumerateDirty(ctx, k, st)
	if err != nil {
		return nil, err
	}
	change := st
	if st == model.StatusAll {
		change = model.StatusNew
	}
	for _, r := range recs {
		m := r.Base()
		t.enumerated[localKey{k, m.LocalID}] = pending{remote: m.RemoteID, change: change}
	}
	return recs, nil
}

func (t *Tracker) ApplyIncoming(ctx context.Context, rec model.Record, remoteID string) (int64, error) {
	id, err := t.LocalStore.ApplyIncoming(ctx, rec, remoteID)
	if err != nil {
		return id, err
	}
	t.log(ctx, rec.Kind(), remoteID, rec.Base().Status, Received)
	return id, nil
}

func (t *Tracker) MarkSynced(ctx context.Context, k model.Kind, localID int64, remoteID string) error {
	if err := t.LocalStore.MarkSynced(ctx, k, localID, remoteID); err != nil {
		return err
	}
	change := model.StatusModified
	if p, ok := t.enumerated[localKey{k, localID}]; ok {
		change = p.change
	}
	t.log(ctx, k, remoteID, change, Sent)
	return nil
}

func (t *Tracker) Remove(ctx context.Context, k model.Kind, localID int64) error {
	if err := t.LocalStore.Remove(ctx, k, localID); err != nil {
		return err
	}
	t.log(ctx, k, t.enumerated[localKey{k, localID}].remote, model.StatusDeleted, Sent)
	return nil
}

func (t *Tracker) log(ctx context.Context, k model.Kind, remoteID string, change model.Status, dir Direction) {
	if err := t.j.LogTransfer(ctx, t.sessionID, k, remoteID, change, dir); err != nil {
		log.Warn().Err(err).Str("session", t.sessionID).Msg("Failed to journal transfer")
	}
}
