package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/model"
)

func TestNewSessionValidation(t *testing.T) {
	store, ctrl := newMemStore(), &fakeController{}

	_, err := NewSession(Config{Controller: ctrl})
	assert.Error(t, err)
	_, err = NewSession(Config{Store: store})
	assert.Error(t, err)
	_, err = NewSession(Config{Store: store, Controller: ctrl, MinVersion: 2})
	assert.ErrorIs(t, err, ErrVersionUnsupported)
	_, err = NewSession(Config{Store: store, Controller: ctrl, MinVersion: 5, MaxVersion: 4})
	assert.ErrorIs(t, err, ErrVersionUnsupported)

	s, err := NewSession(Config{Store: store, Controller: ctrl})
	require.NoError(t, err)
	assert.Equal(t, MinVersion, s.cfg.MinVersion)
	assert.Equal(t, MaxVersion, s.cfg.MaxVersion)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, ModeUnset, s.Mode())
}

func TestSetVersionOnce(t *testing.T) {
	s, err := NewSession(Config{Store: newMemStore(), Controller: &fakeController{}})
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetVersion(9), ErrVersionUnsupported)
	assert.Zero(t, s.Version())
	assert.Nil(t, s.Schema())

	require.NoError(t, s.SetVersion(4))
	assert.ErrorIs(t, s.SetVersion(4), ErrVersionAlreadySet)
	assert.ErrorIs(t, s.SetVersion(5), ErrVersionAlreadySet)
	assert.Equal(t, 4, s.Version())
	assert.Equal(t, 4, s.Schema().Version)
}

func TestCancelIsMonotonic(t *testing.T) {
	ctrl := &fakeController{}
	s, err := NewSession(Config{Store: newMemStore(), Controller: ctrl})
	require.NoError(t, err)
	assert.False(t, s.Cancelled())

	ctrl.cancel = true
	assert.True(t, s.Cancelled())
	ctrl.cancel = false
	assert.True(t, s.Cancelled())
}

func TestCredentialKeyIgnoresPort(t *testing.T) {
	var keys []string
	for _, port := range []int{8001, 9001} {
		s, err := NewSession(Config{Host: "desktop.local", Port: port, Store: newMemStore(), Controller: &fakeController{}})
		require.NoError(t, err)
		keys = append(keys, s.CredentialKey())
	}
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, CredentialKey("desktop.local"), keys[0])
	assert.NotEqual(t, CredentialKey("laptop.local"), keys[0])
}

func TestIDMapIsAppendOnly(t *testing.T) {
	m := NewIDMap()
	require.NoError(t, m.Bind(model.KindTask, "t-1", 7))
	require.NoError(t, m.Bind(model.KindTask, "t-1", 7))
	require.NoError(t, m.Bind(model.KindCategory, "t-1", 3))

	assert.ErrorIs(t, m.Bind(model.KindTask, "t-1", 8), ErrRebind)
	assert.Error(t, m.Bind(model.KindTask, "", 9))

	local, ok := m.Lookup(model.KindTask, "t-1")
	assert.True(t, ok)
	assert.Equal(t, int64(7), local)
	_, ok = m.Lookup(model.KindEffort, "t-1")
	assert.False(t, ok)

	remote, ok := m.Remote(model.KindCategory, 3)
	assert.True(t, ok)
	assert.Equal(t, "t-1", remote)
	assert.Equal(t, 2, m.Len())
}

func TestTags(t *testing.T) {
	seen := map[Tag]bool{}
	for _, k := range model.Kinds {
		for _, st := range changes {
			tag := TagFor(k, st)
			assert.False(t, seen[tag])
			seen[tag] = true

			gotKind, gotStatus, ok := tag.Split()
			require.True(t, ok)
			assert.Equal(t, k, gotKind)
			assert.Equal(t, st, gotStatus)
		}
	}
	assert.Equal(t, Tag(1), TagFor(model.KindCategory, model.StatusNew))
	assert.Equal(t, Tag(9), TagFor(model.KindEffort, model.StatusDeleted))
	_, _, ok := Tag(10).Split()
	assert.False(t, ok)
	assert.Equal(t, "modified task", Tag(5).String())
}

func TestSchemaRegistry(t *testing.T) {
	testCases := []struct {
		version    int
		kinds      int
		taskFields int
		delta      int
	}{
		{version: 3, kinds: 2, taskFields: 8, delta: 6},
		{version: 4, kinds: 3, taskFields: 10, delta: 9},
		{version: 5, kinds: 3, taskFields: 11, delta: 9},
	}
	for _, tc := range testCases {
		s, err := SchemaFor(tc.version)
		require.NoError(t, err)
		assert.Len(t, s.Kinds(), tc.kinds)
		assert.Len(t, s.Task.Fields, tc.taskFields)
		assert.Len(t, s.DeltaCounts.Fields, tc.delta)
		assert.Len(t, s.FullCounts.Fields, tc.kinds)
		assert.Equal(t, tc.version >= 4, s.Effort != nil)
	}
	_, err := SchemaFor(2)
	assert.ErrorIs(t, err, ErrVersionUnsupported)
}

func TestSchemaRecordsSurviveTheWire(t *testing.T) {
	s, err := SchemaFor(5)
	require.NoError(t, err)

	records := []model.Record{
		&model.Category{Meta: model.Meta{RemoteID: "c-1", Status: model.StatusNew}, Name: "Home", ParentRemote: "c-0"},
		&model.Task{
			Meta:            model.Meta{RemoteID: "t-1", Status: model.StatusModified},
			Subject:         "Taxes",
			Description:     "Before the deadline",
			Start:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Due:             time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
			Reminder:        time.Date(2024, 4, 14, 18, 30, 0, 0, time.UTC),
			Priority:        5,
			Recurrence:      model.Recurrence{Unit: model.RecurYearly, Amount: 1, Max: 10},
			ParentRemote:    "t-0",
			CategoryRemotes: []string{"c-1", "c-2"},
		},
		&model.Effort{
			Meta:        model.Meta{RemoteID: "e-1", Status: model.StatusNew},
			TaskRemote:  "t-1",
			Started:     time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC),
			Description: "running",
		},
		model.Deleted(model.KindTask, "t-9"),
	}

	for _, rec := range records {
		st := rec.Base().Status
		desc := s.Record(rec.Kind(), st)
		v, err := s.Value(rec)
		require.NoError(t, err)
		b, err := codec.Encode(desc, v)
		require.NoError(t, err)
		back, err := codec.Read(bytes.NewReader(b), desc)
		require.NoError(t, err)
		assert.Equal(t, rec, s.Decode(rec.Kind(), st, back))
	}
}

func TestSchemaTruncatesDates(t *testing.T) {
	s, err := SchemaFor(4)
	require.NoError(t, err)
	local := time.FixedZone("east", 3*3600)
	v, err := s.Value(&model.Task{
		Due:      time.Date(2024, 4, 15, 1, 30, 0, 0, local),
		Reminder: time.Date(2024, 4, 14, 18, 30, 15, 999, local),
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC), s.Task.Get(v, "due").Time())
	assert.Equal(t, time.Date(2024, 4, 14, 15, 30, 15, 0, time.UTC), s.Task.Get(v, "reminder").Time())

	v3, err := SchemaFor(3)
	require.NoError(t, err)
	_, err = v3.Value(&model.Effort{})
	assert.Error(t, err)
}
