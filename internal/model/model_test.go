package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffortDuration(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := start.Add(3 * time.Hour)

	done := &Effort{Started: start, Ended: start.Add(90 * time.Minute)}
	assert.Equal(t, 90*time.Minute, done.Duration(now))

	running := &Effort{Started: start}
	assert.Equal(t, 3*time.Hour, running.Duration(now))

	backwards := &Effort{Started: start, Ended: start.Add(-time.Minute)}
	assert.Zero(t, backwards.Duration(now))
}

func TestDeletedCarriesOnlyTheRemoteID(t *testing.T) {
	for _, k := range Kinds {
		rec := Deleted(k, "r-1")
		assert.Equal(t, k, rec.Kind())
		assert.Equal(t, Meta{RemoteID: "r-1", Status: StatusDeleted}, *rec.Base())
	}
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "task", KindTask.String())
	assert.Equal(t, "unknown", Kind(0).String())
	assert.Equal(t, "modified", StatusModified.String())
	assert.Equal(t, "all", StatusAll.String())
}
