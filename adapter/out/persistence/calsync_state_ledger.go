package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"calsync_server/core/port/out"
)

// OAuthStateKey Redis key prefix for consumed OAuth state nonces
const OAuthStateKey = "oauth:state:"

// RedisStateLedger is a Redis-backed out.StateLedger.
type RedisStateLedger struct {
	client *redis.Client
}

// NewRedisStateLedger creates a ledger over client.
func NewRedisStateLedger(client *redis.Client) *RedisStateLedger {
	return &RedisStateLedger{client: client}
}

// MarkUsed records nonce with SETNX; the key expires with the state itself.
func (l *RedisStateLedger) MarkUsed(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if nonce == "" {
		return false, errors.New("nonce cannot be empty")
	}

	ok, err := l.client.SetNX(ctx, OAuthStateKey+nonce, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record OAuth state: %w", err)
	}
	return ok, nil
}

var _ out.StateLedger = (*RedisStateLedger)(nil)
