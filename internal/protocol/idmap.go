package protocol

import (
	"fmt"

	"github.com/vkucera/task-coach/internal/model"
)

type idKey struct {
	kind model.Kind
	id   string
}

type localKey struct {
	kind model.Kind
	id   int64
}

// IDMap binds remote ids to local ids for the lifetime of one session.
// Entries are only ever added.
type IDMap struct {
	byRemote map[idKey]int64
	byLocal  map[localKey]string
}

// NewIDMap returns an empty map.
func NewIDMap() *IDMap {
	return &IDMap{
		byRemote: make(map[idKey]int64),
		byLocal:  make(map[localKey]string),
	}
}

// Bind records that remote is local. Binding the same pair twice is a no-op;
// binding remote to a different local id fails with ErrRebind.
func (m *IDMap) Bind(k model.Kind, remote string, local int64) error {
	if remote == "" {
		return fmt.Errorf("protocol: empty remote id for %s %d", k, local)
	}
	key := idKey{k, remote}
	if prev, ok := m.byRemote[key]; ok {
		if prev != local {
			return fmt.Errorf("%w: %s %q is %d, not %d", ErrRebind, k, remote, prev, local)
		}
		return nil
	}
	m.byRemote[key] = local
	if _, ok := m.byLocal[localKey{k, local}]; !ok {
		m.byLocal[localKey{k, local}] = remote
	}
	return nil
}

// Lookup returns the local id bound to remote.
func (m *IDMap) Lookup(k model.Kind, remote string) (int64, bool) {
	local, ok := m.byRemote[idKey{k, remote}]
	return local, ok
}

// Remote returns the remote id bound to local.
func (m *IDMap) Remote(k model.Kind, local int64) (string, bool) {
	remote, ok := m.byLocal[localKey{k, local}]
	return remote, ok
}

// Len returns the number of bindings.
func (m *IDMap) Len() int {
	return len(m.byRemote)
}
