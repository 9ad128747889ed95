// Package store provides the key/value persistence used for conversation
// turns and request history snapshots, with in-memory and BadgerDB backends.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a byte-oriented key/value store with optional TTLs.
type Store interface {
	// Get returns a copy of the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl <= 0 never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the live keys starting with prefix, in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
