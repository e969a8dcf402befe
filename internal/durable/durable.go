// Package durable provides the persistent, string-keyed storage medium shared by
// the tiered cache and the autosave fallback.
package durable

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrQuotaExceeded is returned by SetItem when the medium has no room left for
// the value. Callers treat it as a silent write failure.
var ErrQuotaExceeded = errors.New("durable store quota exceeded")

// Store is a synchronous, process-local, persistent string store. Keys are
// global to the medium; every caller owns the prefix it writes under.
type Store interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	// Keys lists every stored key that starts with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const (
	DriverMemory = "memory"
	DriverBolt   = "bbolt"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Open builds a store for the named driver. For redis, location is the
// connection URL; for bbolt and sqlite it is a file path.
func Open(driver, location string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverBolt:
		return OpenBolt(location)
	case DriverSQLite:
		return OpenSQLite(location)
	case DriverRedis:
		return NewRedisStore(location)
	case DriverMemory:
		return NewMemoryStore(0), nil
	default:
		return nil, fmt.Errorf("unknown durable store driver %q", driver)
	}
}
