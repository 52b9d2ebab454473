// Package crypto holds the primitives used for sync authentication and for
// protecting stored desktop passwords.
package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveHKDF derives n bytes from secret, bound to a context string.
func DeriveHKDF(secret []byte, context string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(context))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
