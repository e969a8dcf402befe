// Package util holds small helpers shared by the server packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns prefix_<32 hex chars>, or just the hex when prefix is empty.
func NewID(prefix string) string {
	value := randomHex(16)
	if prefix == "" {
		return value
	}
	return prefix + "_" + value
}

// ShortID returns 16 hex chars, enough for request correlation.
func ShortID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
