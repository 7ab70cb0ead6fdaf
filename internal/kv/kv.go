// Package kv abstracts the external key-value stores the service depends on.
// The health prober exercises these operations as a synthetic round trip.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound signals that the requested key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal fallible surface required from a key-value store.
type Store interface {
	// Set writes value under key.
	Set(ctx context.Context, key, value string) error
	// Get reads the value under key or returns ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Del removes key; deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
	// Close releases client resources.
	Close() error
}
