package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkucera/task-coach/internal/desktop"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/protocol"
)

func TestNewServer(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte("guid: file-1\ntasks:\n  - {subject: Taxes}\n"), 0o600))

	srv, err := newServer(Config{Fixture: fixture, Mode: "two-way", Deny: []string{"Stolen"}, MaxVersion: 4})
	require.NoError(t, err)
	assert.Equal(t, "file-1", srv.File.GUID())
	assert.Equal(t, 1, srv.File.Len(model.KindTask))
	assert.Equal(t, protocol.ModeTwoWay, srv.DefaultMode)
	assert.Equal(t, 4, srv.MaxVersion)
	require.NotNil(t, srv.Accept)
	assert.False(t, srv.Accept(desktop.Identity{Name: "Stolen"}))
	assert.True(t, srv.Accept(desktop.Identity{Name: "Pocket"}))

	srv, err = newServer(Config{Mode: "full-from-device"})
	require.NoError(t, err)
	assert.Nil(t, srv.Accept)
	assert.Zero(t, srv.File.Len(model.KindTask))

	_, err = newServer(Config{Mode: "sideways"})
	assert.ErrorContains(t, err, "unknown mode")
	_, err = newServer(Config{Mode: "two-way", MaxVersion: 9})
	assert.Error(t, err)
	_, err = newServer(Config{Mode: "two-way", Fixture: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "fixture")
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "tcdesktop.pid")
	require.NoError(t, writePIDFile(path))
	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, removePIDFile(path))
	require.NoError(t, removePIDFile(path))
}
