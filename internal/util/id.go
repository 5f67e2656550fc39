// Package util holds small helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idBytes = 16

// NewID returns a random identifier like "item_3f2a...". The prefix names
// the entity kind so ids stay recognizable in logs and query output.
func NewID(prefix string) string {
	buf := make([]byte, idBytes)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
