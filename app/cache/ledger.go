package cache

import (
	"context"
	"time"
)

const ledgerKeyPrefix = "reset-token:used:"

// TokenLedger remembers consumed token ids until the tokens themselves would
// have expired.
type TokenLedger struct {
	backend Backend
}

func NewTokenLedger(backend Backend) *TokenLedger {
	return &TokenLedger{backend: backend}
}

// Consume records tokenID and returns false when it was already consumed.
func (l *TokenLedger) Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return l.backend.SetNX(ctx, ledgerKeyPrefix+tokenID, []byte("1"), ttl)
}

// Release forgets tokenID so the token can be presented again.
func (l *TokenLedger) Release(ctx context.Context, tokenID string) error {
	return l.backend.Delete(ctx, ledgerKeyPrefix+tokenID)
}
