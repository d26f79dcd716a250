package memory

import (
	"context"
	"sync"
	"time"
)

// StateLedger is an in-process out.StateLedger used when Redis is not configured.
type StateLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewStateLedger() *StateLedger {
	return &StateLedger{seen: make(map[string]time.Time), now: time.Now}
}

func (l *StateLedger) MarkUsed(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.seen {
		if !now.Before(exp) {
			delete(l.seen, k)
		}
	}

	if _, ok := l.seen[nonce]; ok {
		return false, nil
	}
	l.seen[nonce] = now.Add(ttl)
	return true, nil
}
