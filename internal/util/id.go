package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 16 random bytes hex-encoded, optionally tagged with a
// prefix ("rft_ab12..."). Used for refresh tokens and editing-session ids;
// document ids use UUIDs instead.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
