package common

import (
	"crypto/rand"
	"fmt"
)

// GenerateRandByteArray returns size bytes from the system random source.
func GenerateRandByteArray(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

// WipeByteArray overwrites b with zeros. Use it on passphrases and key
// material once they are no longer needed. A nil slice is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
