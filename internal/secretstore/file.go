package secretstore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vkucera/task-coach/internal/crypto"
)

const (
	masterKeyFile = "master.key"
	masterKeySize = 32
)

// FileStore keeps each secret in its own file under a directory, sealed
// with a key derived from a per-directory master key.
type FileStore struct {
	dir string

	mu     sync.Mutex
	master []byte
}

// NewFileStore returns a store rooted at dir. The directory and master key
// are created on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(name))+".secret")
}

// masterKey loads the master key, creating it when create is set.
func (f *FileStore) masterKey(create bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.master != nil {
		return f.master, nil
	}
	path := filepath.Join(f.dir, masterKeyFile)
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(key) != masterKeySize {
			return nil, fmt.Errorf("secretstore: corrupt master key %s", path)
		}
	case errors.Is(err, os.ErrNotExist) && create:
		if key, err = crypto.Generate(masterKeySize); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(f.dir, 0o700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNotFound
	default:
		return nil, err
	}
	f.master = key
	return key, nil
}

func (f *FileStore) key(name string, create bool) ([]byte, error) {
	master, err := f.masterKey(create)
	if err != nil {
		return nil, err
	}
	return crypto.DeriveHKDF(master, "tcsync secret "+name, 32)
}

func (f *FileStore) Put(n string, d []byte) error {
	key, err := f.key(n, true)
	if err != nil {
		return err
	}
	sealed, err := crypto.Seal(key, d)
	if err != nil {
		return err
	}
	path := f.path(n)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FileStore) Get(n string) ([]byte, error) {
	sealed, err := os.ReadFile(f.path(n))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	key, err := f.key(n, false)
	if err != nil {
		return nil, err
	}
	return crypto.Open(key, sealed)
}

func (f *FileStore) Delete(n string) error {
	err := os.Remove(f.path(n))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
