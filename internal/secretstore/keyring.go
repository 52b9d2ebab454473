package secretstore

import (
	"encoding/base64"
	"errors"

	"github.com/zalando/go-keyring"
)

// Keyring stores secrets in the OS keyring.
type Keyring struct {
	Service string
}

func (k Keyring) Put(n string, d []byte) error {
	return keyring.Set(k.Service, n, base64.StdEncoding.EncodeToString(d))
}

func (k Keyring) Get(n string) ([]byte, error) {
	s, err := keyring.Get(k.Service, n)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(s)
}

func (k Keyring) Delete(n string) error {
	err := keyring.Delete(k.Service, n)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
