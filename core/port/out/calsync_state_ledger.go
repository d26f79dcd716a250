package out

import (
	"context"
	"time"
)

// StateLedger records OAuth state nonces so a callback can be consumed once.
type StateLedger interface {
	// MarkUsed returns false when nonce was already recorded within ttl.
	MarkUsed(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}
