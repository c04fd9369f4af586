// Package store defines the key/value, list and publish contract the core
// depends on for quote caching, status persistence and event broadcast.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired
var ErrNotFound = errors.New("key not found")

// Store is the persistence and broadcast seam used by the aggregator and the
// tracker. Values are opaque bytes; a ttl of zero means no expiry. The
// contract provides no compare-and-swap: callers that read-modify-write the
// same key must serialize those mutations themselves.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// ListPush prepends a value, so index 0 is always the newest entry
	ListPush(ctx context.Context, key string, value []byte) error
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Publish(ctx context.Context, channel string, message []byte) error
}
