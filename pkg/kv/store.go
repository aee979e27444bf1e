package kv

import (
	"context"
	"time"
)

// Store is the single logical TTL key-value store the engine runs on.
// Authorization sessions, MFA codes, rate-limit counters and refresh-token
// records all share one store under distinct key namespaces.
//
// A missing key is reported as ErrNotFound by Get, never as an empty value;
// TTL expiry is enforced by the store and is indistinguishable from a
// deleted key.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Put stores value under key. A ttl of zero means no expiry.
	Put(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GetDel atomically reads and removes key, returning ErrNotFound if the
	// key is absent. Two concurrent GetDel calls for the same key observe
	// exactly one success.
	GetDel(ctx context.Context, key string) (string, error)

	// Incr atomically increments the integer counter under key and returns
	// the new value. The ttl applies when the increment creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "kv: key not found" }
