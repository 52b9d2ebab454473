// Package secretstore keeps desktop passwords between sync sessions, either
// in the OS keyring or in encrypted files.
package secretstore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and Delete for an unknown name.
var ErrNotFound = errors.New("secret not found")

// Store keeps named secrets.
type Store interface {
	Put(name string, data []byte) error
	Get(name string) ([]byte, error)
	Delete(name string) error
}

// Backend names.
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
)

// DefaultBackend is the backend used when none is configured; set in init
// of each platform file.
var DefaultBackend string

// Service is the keyring service secrets are stored under.
const Service = "tcsync"

// New returns the store for backend. dir is only used by the file backend.
func New(backend, dir string) (Store, error) {
	if backend == "" {
		backend = DefaultBackend
	}
	switch backend {
	case BackendKeyring:
		return Keyring{Service: Service}, nil
	case BackendFile:
		if dir == "" {
			return nil, errors.New("secretstore: file backend needs a directory")
		}
		return NewFileStore(dir), nil
	}
	return nil, fmt.Errorf("secretstore: unknown backend %q", backend)
}
