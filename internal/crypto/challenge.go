package crypto

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
)

const (
	// ChallengeSize is the number of random bytes in a password challenge.
	ChallengeSize = 512
	// DigestSize is the size of a challenge response.
	DigestSize = sha1.Size
)

// Generate returns n random bytes.
func Generate(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NewChallenge returns a fresh password challenge.
func NewChallenge() ([]byte, error) {
	return Generate(ChallengeSize)
}

// ChallengeDigest is the response to a challenge: SHA-1 over the challenge
// followed by the UTF-8 password.
func ChallengeDigest(challenge []byte, password string) []byte {
	h := sha1.New()
	h.Write(challenge)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// VerifyDigest checks a response against the expected password in constant time.
func VerifyDigest(challenge []byte, password string, digest []byte) bool {
	return subtle.ConstantTimeCompare(ChallengeDigest(challenge, password), digest) == 1
}
