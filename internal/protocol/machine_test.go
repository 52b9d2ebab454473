package protocol

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/crypto"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/transport"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func category(remote, name, parent string) *model.Category {
	return &model.Category{Meta: model.Meta{RemoteID: remote}, Name: name, ParentRemote: parent}
}

func task(remote, subject, parent string, categories ...string) *model.Task {
	return &model.Task{
		Meta:            model.Meta{RemoteID: remote},
		Subject:         subject,
		Due:             date(2024, time.June, 30),
		ParentRemote:    parent,
		CategoryRemotes: categories,
	}
}

func counts(n ...int) codec.Value {
	items := make([]codec.Value, 0, len(n))
	for _, c := range n {
		items = append(items, codec.Int(int64(c)))
	}
	return codec.Tuple(items...)
}

func TestVersionBelowRangeFailsSilently(t *testing.T) {
	for _, offered := range []int{2, 0, -1} {
		h := newHarness(t)
		h.start()
		assert.Equal(t, PhaseNegotiation, h.m.Phase())

		h.sendInt(offered)

		o := h.outcome()
		assert.Equal(t, Failed, o.Status)
		assert.Equal(t, ReasonVersion, o.Reason)
		assert.ErrorIs(t, o.Err, ErrVersionUnsupported)
		assert.True(t, h.tr.closed)
		h.quiet()
		assert.Equal(t, PhaseEnd, h.m.Phase())
	}
}

func TestVersionStepDown(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxVersion = 4 })
	h.start()

	h.sendInt(6)
	assert.Equal(t, 0, h.readInt())
	h.sendInt(5)
	assert.Equal(t, 0, h.readInt())
	assert.Equal(t, PhaseNegotiation, h.m.Phase())

	h.sendInt(4)
	assert.Equal(t, 1, h.readInt())
	assert.Equal(t, 4, h.sess.Version())
	assert.Equal(t, PhaseIdentity, h.m.Phase())
	assert.Empty(t, h.ctrl.outcomes)
}

func TestIdentityExchange(t *testing.T) {
	h := newHarness(t)
	h.store.paired = "abc-123"
	h.start()
	h.sendInt(3)
	require.Equal(t, 1, h.readInt())

	id := h.read(IdentityDesc)
	assert.Equal(t, "Pocket", IdentityDesc.Get(id, "name").Str())
	assert.Equal(t, "device-1", IdentityDesc.Get(id, "device").Str())
	assert.Equal(t, "abc-123", IdentityDesc.Get(id, "guid").Str())

	h.send(IDDesc, codec.Str("abc-123"))
	assert.Equal(t, "abc-123", h.sess.PeerGUID())
	assert.Equal(t, PhaseAuthentication, h.m.Phase())
}

func TestTwoWayAnnouncedCountBoundsThePhase(t *testing.T) {
	h := newHarness(t)
	h.store.paired = "abc-123"
	h.handshake(3, "abc-123")
	h.sendInt(int(ModeTwoWay))

	schema := h.sess.Schema()
	assert.Equal(t, counts(0, 0, 0, 0, 0, 0), h.read(schema.DeltaCounts))
	assert.Equal(t, PhaseTwoWayDownload, h.m.Phase())

	h.send(schema.DeltaCounts, counts(2, 0, 0, 1, 0, 0))
	h.sendRecord(model.KindCategory, model.StatusNew, category("c-1", "Home", ""))
	h.sendRecord(model.KindCategory, model.StatusNew, category("c-2", "Garden", "c-1"))
	assert.Equal(t, 1, h.readInt())
	assert.Equal(t, 1, h.readInt())

	home := h.store.byRemote(model.KindCategory, "c-1")
	garden := h.store.byRemote(model.KindCategory, "c-2")
	require.NotNil(t, home)
	require.NotNil(t, garden)
	assert.Equal(t, home.Base().LocalID, garden.(*model.Category).ParentLocal)
	assert.Empty(t, h.ctrl.outcomes)
	assert.Equal(t, PhaseTwoWayDownload, h.m.Phase())

	h.sendRecord(model.KindCategory, model.StatusNew, category("c-3", "Extra", ""))

	o := h.outcome()
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, ReasonUnexpected, o.Reason)
	assert.ErrorIs(t, o.Err, ErrUnexpectedMessage)
	var perr *Error
	require.True(t, errors.As(o.Err, &perr))
	assert.Nil(t, h.store.byRemote(model.KindCategory, "c-3"))
	assert.Equal(t, 2, o.Received.Categories)
	assert.True(t, h.tr.closed)
	h.quiet()
}

func TestTwoWayRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.store.paired = "guid-1"
	home := h.store.add(&model.Category{Meta: model.Meta{Status: model.StatusNew}, Name: "Home"})
	renamed := h.store.add(&model.Task{Meta: model.Meta{RemoteID: "t-1", Status: model.StatusModified}, Subject: "Paint"})
	gone := h.store.add(&model.Task{Meta: model.Meta{RemoteID: "t-2", Status: model.StatusDeleted}, Subject: "Old"})
	child := h.store.add(&model.Task{
		Meta:           model.Meta{Status: model.StatusNew},
		Subject:        "Buy brushes",
		ParentLocal:    renamed,
		CategoryLocals: []int64{home},
		Priority:       2,
		Recurrence:     model.Recurrence{Unit: model.RecurWeekly, Amount: 1},
	})
	h.store.add(&model.Category{Meta: model.Meta{RemoteID: "c-9"}, Name: "Synced"})

	h.handshake(5, "guid-1")
	h.sendInt(int(ModeTwoWay))
	schema := h.sess.Schema()

	assert.Equal(t, counts(1, 0, 0, 1, 1, 1, 0, 0, 0), h.read(schema.DeltaCounts))
	assert.Equal(t, PhaseTwoWayUpload, h.m.Phase())

	assert.Equal(t, int(TagFor(model.KindCategory, model.StatusNew)), h.readInt())
	cat := h.read(schema.Category)
	assert.Equal(t, "Home", schema.Category.Get(cat, "name").Str())
	assert.Empty(t, schema.Category.Get(cat, "id").Str())
	h.send(IDDesc, codec.Str("c-100"))

	assert.Equal(t, int(TagFor(model.KindTask, model.StatusNew)), h.readInt())
	tv := h.read(schema.Task)
	assert.Equal(t, "Buy brushes", schema.Task.Get(tv, "subject").Str())
	assert.Equal(t, "t-1", schema.Task.Get(tv, "parent").Str())
	assert.Equal(t, []string{"c-100"}, schema.Task.Get(tv, "categories").StringItems())
	assert.Equal(t, int64(2), schema.Task.Get(tv, "priority").Int())
	assert.Equal(t, int64(model.RecurWeekly), schema.Task.Get(tv, "recurrence").At(0).Int())
	h.send(IDDesc, codec.Str("t-3"))

	assert.Equal(t, int(TagFor(model.KindTask, model.StatusModified)), h.readInt())
	assert.Equal(t, "t-1", schema.Task.Get(h.read(schema.Task), "id").Str())
	h.send(IDDesc, codec.Str("t-1"))

	assert.Equal(t, int(TagFor(model.KindTask, model.StatusDeleted)), h.readInt())
	assert.Equal(t, codec.Tuple(codec.Str("t-2")), h.read(schema.Deleted))
	h.send(IDDesc, codec.Str("t-2"))

	assert.Equal(t, PhaseTwoWayDownload, h.m.Phase())
	h.send(schema.DeltaCounts, counts(0, 0, 0, 0, 1, 0, 0, 0, 0))
	h.sendRecord(model.KindTask, model.StatusModified, task("t-1", "Paint the fence", ""))
	assert.Equal(t, 1, h.readInt())

	assert.Equal(t, PhaseTrailer, h.m.Phase())
	h.send(IDDesc, codec.Str("guid-1"))
	assert.Equal(t, 1, h.readInt())
	h.quiet()

	o := h.outcome()
	assert.Equal(t, Succeeded, o.Status)
	assert.Equal(t, ModeTwoWay, o.Mode)
	assert.Equal(t, 5, o.Version)
	assert.Equal(t, Counts{Categories: 1, Tasks: 3}, o.Sent)
	assert.Equal(t, Counts{Tasks: 1}, o.Received)
	assert.True(t, h.tr.closeWhenDone)
	assert.False(t, h.tr.closed)

	assert.Equal(t, "c-100", h.store.get(model.KindCategory, home).Base().RemoteID)
	assert.Equal(t, model.StatusSynced, h.store.get(model.KindCategory, home).Base().Status)
	assert.Equal(t, "t-3", h.store.get(model.KindTask, child).Base().RemoteID)
	assert.Nil(t, h.store.get(model.KindTask, gone))
	assert.Equal(t, "Paint the fence", h.store.get(model.KindTask, renamed).(*model.Task).Subject)
	assert.Equal(t, "guid-1", h.store.paired)
	assert.Len(t, h.ctrl.progress, 5)
	assert.Equal(t, Progress{Phase: PhaseTwoWayDownload, Kind: model.KindTask, Current: 1, Total: 1}, h.ctrl.progress[4])
}

func TestUploadRejectsMismatchedEcho(t *testing.T) {
	h := newHarness(t)
	h.store.add(&model.Task{Meta: model.Meta{RemoteID: "t-1", Status: model.StatusModified}, Subject: "Paint"})
	h.handshake(3, "g")
	h.sendInt(int(ModeTwoWay))
	schema := h.sess.Schema()
	h.read(schema.DeltaCounts)
	h.readInt()
	h.read(schema.Task)

	h.send(IDDesc, codec.Str("t-7"))

	o := h.outcome()
	assert.Equal(t, ReasonUnexpected, o.Reason)
	assert.ErrorIs(t, o.Err, ErrIDMismatch)
	assert.Equal(t, model.StatusModified, h.store.byRemote(model.KindTask, "t-1").Base().Status)
}

func TestFullFromDesktopOrphanIsAProtocolError(t *testing.T) {
	h := newHarness(t)
	h.handshake(3, "g")
	h.sendInt(int(ModeFullFromDesktop))
	assert.Equal(t, 1, h.store.resets)

	schema := h.sess.Schema()
	h.send(schema.FullCounts, counts(1, 2))
	h.sendRecord(model.KindCategory, model.StatusNew, category("c-1", "Home", ""))
	h.sendRecord(model.KindTask, model.StatusNew, task("t-2", "Child", "t-1", "c-1"))

	o := h.outcome()
	assert.Equal(t, Failed, o.Status)
	assert.Equal(t, ReasonUnexpected, o.Reason)
	assert.ErrorIs(t, o.Err, ErrOrphan)
	assert.Nil(t, h.store.byRemote(model.KindTask, "t-2"))
	assert.Equal(t, 1, h.readInt())
	h.quiet()
}

func TestFullFromDesktopAppliesParentsFirst(t *testing.T) {
	h := newHarness(t)
	stale := h.store.add(&model.Task{Subject: "stale"})

	h.handshake(4, "g-2")
	h.sendInt(int(ModeFullFromDesktop))
	schema := h.sess.Schema()

	h.send(schema.FullCounts, counts(2, 2, 1))
	h.sendRecord(model.KindCategory, model.StatusNew, category("c-1", "Work", ""))
	h.sendRecord(model.KindCategory, model.StatusNew, category("c-2", "Reports", "c-1"))
	h.sendRecord(model.KindTask, model.StatusNew, task("t-1", "Quarterly", "", "c-2"))
	h.sendRecord(model.KindTask, model.StatusNew, task("t-2", "Draft", "t-1"))
	h.sendRecord(model.KindEffort, model.StatusNew, &model.Effort{
		Meta:       model.Meta{RemoteID: "e-1"},
		TaskRemote: "t-2",
		Started:    time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		Ended:      time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC),
	})
	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, h.readInt())
	}
	h.send(IDDesc, codec.Str("g-2"))
	assert.Equal(t, 1, h.readInt())

	o := h.outcome()
	require.Equal(t, Succeeded, o.Status, "%v", o.Err)
	assert.Equal(t, Counts{Categories: 2, Tasks: 2, Efforts: 1}, o.Received)
	assert.Nil(t, h.store.get(model.KindTask, stale))

	reports := h.store.byRemote(model.KindCategory, "c-2")
	quarterly := h.store.byRemote(model.KindTask, "t-1").(*model.Task)
	draft := h.store.byRemote(model.KindTask, "t-2").(*model.Task)
	effort := h.store.byRemote(model.KindEffort, "e-1").(*model.Effort)
	assert.Equal(t, []int64{reports.Base().LocalID}, quarterly.CategoryLocals)
	assert.Equal(t, quarterly.LocalID, draft.ParentLocal)
	assert.Equal(t, draft.LocalID, effort.TaskLocal)
	assert.Equal(t, 90*time.Minute, effort.Duration(time.Now()))
	assert.Equal(t, "g-2", h.store.paired)
}

func TestFullFromDeviceUsesIDsAssignedDuringTheSession(t *testing.T) {
	h := newHarness(t)
	parent := h.store.add(&model.Category{Meta: model.Meta{RemoteID: "old-1"}, Name: "Work"})
	child := h.store.add(&model.Category{Meta: model.Meta{Status: model.StatusNew}, Name: "Reports", ParentLocal: parent})
	tk := h.store.add(&model.Task{Meta: model.Meta{RemoteID: "old-2", Status: model.StatusModified}, Subject: "Quarterly", CategoryLocals: []int64{child}})
	h.store.add(&model.Task{Meta: model.Meta{RemoteID: "old-3", Status: model.StatusDeleted}, Subject: "Gone"})
	h.store.add(&model.Effort{Meta: model.Meta{Status: model.StatusNew}, TaskLocal: tk, Started: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)})

	h.handshake(4, "g-3")
	h.sendInt(int(ModeFullFromDevice))
	schema := h.sess.Schema()
	assert.Equal(t, counts(2, 1, 1), h.read(schema.FullCounts))

	newCat := int(TagFor(model.KindCategory, model.StatusNew))
	assert.Equal(t, newCat, h.readInt())
	v := h.read(schema.Category)
	assert.Empty(t, schema.Category.Get(v, "id").Str())
	assert.Empty(t, schema.Category.Get(v, "parent").Str())
	h.send(IDDesc, codec.Str("c-1"))

	assert.Equal(t, newCat, h.readInt())
	assert.Equal(t, "c-1", schema.Category.Get(h.read(schema.Category), "parent").Str())
	h.send(IDDesc, codec.Str("c-2"))

	assert.Equal(t, int(TagFor(model.KindTask, model.StatusNew)), h.readInt())
	v = h.read(schema.Task)
	assert.Empty(t, schema.Task.Get(v, "id").Str())
	assert.Equal(t, []string{"c-2"}, schema.Task.Get(v, "categories").StringItems())
	h.send(IDDesc, codec.Str("t-1"))

	assert.Equal(t, int(TagFor(model.KindEffort, model.StatusNew)), h.readInt())
	assert.Equal(t, "t-1", schema.Effort.Get(h.read(schema.Effort), "task").Str())
	h.send(IDDesc, codec.Str("e-1"))

	assert.Equal(t, PhaseTrailer, h.m.Phase())
	h.send(IDDesc, codec.Str("g-3"))
	assert.Equal(t, 1, h.readInt())

	o := h.outcome()
	require.Equal(t, Succeeded, o.Status, "%v", o.Err)
	assert.Equal(t, Counts{Categories: 2, Tasks: 1, Efforts: 1}, o.Sent)
	assert.Equal(t, "c-1", h.store.get(model.KindCategory, parent).Base().RemoteID)
	assert.Equal(t, "t-1", h.store.get(model.KindTask, tk).Base().RemoteID)
	assert.Equal(t, model.StatusSynced, h.store.get(model.KindTask, tk).Base().Status)
}

func TestCancelDuringTwoWay(t *testing.T) {
	h := newHarness(t)
	h.handshake(3, "g")
	h.sendInt(int(ModeTwoWay))
	schema := h.sess.Schema()
	h.read(schema.DeltaCounts)

	h.send(schema.DeltaCounts, counts(2, 0, 0, 0, 0, 0))
	h.sendRecord(model.KindCategory, model.StatusNew, category("c-1", "Home", ""))
	require.Equal(t, 1, h.readInt())
	mutations := h.store.mutations

	h.m.Cancel()

	o := h.outcome()
	assert.Equal(t, Cancelled, o.Status)
	assert.Equal(t, ReasonCancelled, o.Reason)
	assert.ErrorIs(t, o.Err, ErrCancelled)
	assert.True(t, h.tr.closed)

	h.sendRecord(model.KindCategory, model.StatusNew, category("c-2", "Garden", ""))
	h.m.OnData([]byte{0, 0, 0, 1})
	h.m.OnClose()
	h.m.OnError(errors.New("late"))
	h.m.Cancel()

	assert.Len(t, h.ctrl.outcomes, 1)
	assert.Equal(t, mutations, h.store.mutations)
	assert.Nil(t, h.store.byRemote(model.KindCategory, "c-2"))
	h.quiet()
}

func TestControllerCancelIsObservedBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	h.handshake(3, "g")
	h.sendInt(int(ModeTwoWay))
	schema := h.sess.Schema()
	h.read(schema.DeltaCounts)
	h.send(schema.DeltaCounts, counts(1, 0, 0, 0, 0, 0))
	mutations := h.store.mutations

	h.ctrl.cancel = true
	h.sendRecord(model.KindCategory, model.StatusNew, category("c-1", "Home", ""))

	assert.Equal(t, Cancelled, h.outcome().Status)
	assert.Equal(t, mutations, h.store.mutations)
	assert.True(t, h.sess.Cancelled())
}

func TestCancellationWinsOverErrors(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.sess.Cancel()
	h.m.OnError(&transport.Error{Op: "read", Err: errors.New("reset")})

	o := h.outcome()
	assert.Equal(t, Cancelled, o.Status)
	assert.Equal(t, ReasonCancelled, o.Reason)
}

func TestContextCancelIsFunneledThroughPost(t *testing.T) {
	h := newHarness(t)
	h.tr.posted = make(chan func(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	h.m = NewMachine(ctx, h.sess, h.tr)
	h.tr.l = h.m
	h.start()

	cancel()
	select {
	case fn := <-h.tr.posted:
		assert.Empty(t, h.ctrl.outcomes)
		fn()
	case <-time.After(5 * time.Second):
		t.Fatal("cancel was not posted")
	}
	assert.Equal(t, Cancelled, h.outcome().Status)
}

func TestPrematureClose(t *testing.T) {
	t.Run("mid item", func(t *testing.T) {
		h := newHarness(t)
		h.start()
		h.tr.feed([]byte{0, 0})
		h.m.OnClose()

		o := h.outcome()
		assert.Equal(t, ReasonCodec, o.Reason)
		assert.ErrorIs(t, o.Err, codec.ErrTruncatedInput)
	})

	t.Run("mid composite", func(t *testing.T) {
		h := newHarness(t)
		h.handshake(3, "g")
		h.sendInt(int(ModeFullFromDesktop))
		h.tr.feed([]byte{0, 0, 0, 1})
		h.m.OnClose()

		o := h.outcome()
		assert.Equal(t, ReasonCodec, o.Reason)
		assert.ErrorIs(t, o.Err, codec.ErrTruncatedInput)
	})

	t.Run("between items", func(t *testing.T) {
		h := newHarness(t)
		h.start()
		h.m.OnClose()

		o := h.outcome()
		assert.Equal(t, ReasonTransport, o.Reason)
		assert.ErrorIs(t, o.Err, transport.ErrUnexpectedClose)
	})

	t.Run("transport error", func(t *testing.T) {
		h := newHarness(t)
		h.start()
		h.m.OnError(&transport.Error{Op: "read", Err: errors.New("reset")})
		assert.Equal(t, ReasonTransport, h.outcome().Reason)
	})
}

func TestMalformedItemIsACodecFailure(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.sendInt(3)
	h.readInt()
	h.read(IdentityDesc)
	h.tr.feed([]byte{0, 0, 0, 2, 0xc3, 0x28})

	o := h.outcome()
	assert.Equal(t, ReasonCodec, o.Reason)
	assert.ErrorIs(t, o.Err, codec.ErrMalformedString)
}

func TestPeerCancelAndUnknownMode(t *testing.T) {
	h := newHarness(t)
	h.handshake(3, "g")
	h.sendInt(3)
	assert.Equal(t, ReasonPeerCancelled, h.outcome().Reason)

	h = newHarness(t)
	h.handshake(3, "g")
	h.sendInt(9)
	assert.Equal(t, ReasonUnexpected, h.outcome().Reason)
}

func challenge(b byte) []byte {
	return bytes.Repeat([]byte{b}, crypto.ChallengeSize)
}

func withPrompter(pc *promptingController) func(*Config) {
	return func(c *Config) {
		pc.fakeController = c.Controller.(*fakeController)
		c.Controller = pc
	}
}

func TestAuthenticationRetriesWithPrompt(t *testing.T) {
	pc := &promptingController{passwords: []string{"right"}}
	h := newHarness(t, withPrompter(pc))
	key := h.sess.CredentialKey()
	assert.Equal(t, "desktop/desktop.local", key)
	h.creds.data[key] = []byte("wrong")

	h.start()
	h.sendInt(3)
	h.readInt()
	h.read(IdentityDesc)
	h.send(IDDesc, codec.Str("g"))

	h.sendInt(1)
	h.send(ChallengeDesc, codec.Raw(challenge(1)))
	assert.Equal(t, crypto.ChallengeDigest(challenge(1), "wrong"), h.read(DigestDesc).Bytes())
	assert.Zero(t, pc.prompts)

	h.sendInt(0)
	assert.NotContains(t, h.creds.data, key)
	h.send(ChallengeDesc, codec.Raw(challenge(2)))
	assert.Equal(t, crypto.ChallengeDigest(challenge(2), "right"), h.read(DigestDesc).Bytes())
	assert.Equal(t, 1, pc.prompts)

	h.sendInt(1)
	assert.Equal(t, PhaseSyncMode, h.m.Phase())
	assert.Equal(t, []byte("right"), h.creds.data[key])
	assert.Empty(t, pc.outcomes)
}

func TestAuthenticationGivesUp(t *testing.T) {
	pc := &promptingController{passwords: []string{"a", "b", "c", "d"}}
	h := newHarness(t, withPrompter(pc))
	h.start()
	h.sendInt(3)
	h.readInt()
	h.read(IdentityDesc)
	h.send(IDDesc, codec.Str("g"))
	h.sendInt(1)

	for i := 0; i < MaxAuthAttempts; i++ {
		h.send(ChallengeDesc, codec.Raw(challenge(byte(i))))
		h.read(DigestDesc)
		h.sendInt(0)
	}

	o := h.outcome()
	assert.Equal(t, ReasonAuth, o.Reason)
	assert.ErrorIs(t, o.Err, ErrAuthRejected)
	assert.Equal(t, MaxAuthAttempts, pc.prompts)
	assert.Empty(t, h.creds.data)
}

func TestAuthenticationWithoutPassword(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.sendInt(3)
	h.readInt()
	h.read(IdentityDesc)
	h.send(IDDesc, codec.Str("g"))
	h.sendInt(1)
	h.send(ChallengeDesc, codec.Raw(challenge(7)))

	o := h.outcome()
	assert.Equal(t, ReasonAuth, o.Reason)
	assert.ErrorIs(t, o.Err, ErrNoCredential)
	h.quiet()
}

type lazyState struct{}

func (*lazyState) phase() Phase { return PhaseSyncMode }
func (s *lazyState) enter(*Machine) (state, error) { return s, nil }
func (s *lazyState) receive(*Machine, codec.Value) (state, error) { return s, nil }

func TestStateMustRearm(t *testing.T) {
	h := newHarness(t)
	h.m.transition(&lazyState{})

	o := h.outcome()
	assert.Equal(t, ReasonUnexpected, o.Reason)
	assert.ErrorIs(t, o.Err, ErrNotArmed)
}
