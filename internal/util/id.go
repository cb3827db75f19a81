package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a short random hex identifier, used for request ids, session
// jtis and OAuth state nonces.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
