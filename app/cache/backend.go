// Package cache holds the key-value backends used for cache-aside reads and
// for the reset token ledger. The relational store stays authoritative; a
// backend only ever holds copies.
package cache

import (
	"context"
	"time"
)

// Backend is a byte-oriented key-value store with per-key expiry.
type Backend interface {
	// Get reports found=false for a missing or expired key.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
