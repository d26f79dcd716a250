package metrics

import (
	"database/sql"
	"sync"
	"sync/atomic"
)

// Sync outcomes.
const (
	OutcomeCreated      = "created"
	OutcomeUpdated      = "updated"
	OutcomeDeleted      = "deleted"
	OutcomeNotConnected = "not_connected"
	OutcomeFailed       = "failed"
	OutcomeReauth       = "reauth_required"
	OutcomeRefreshed    = "token_refreshed"
)

// SyncCounters counts sync outcomes.
type SyncCounters struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

func NewSyncCounters() *SyncCounters {
	return &SyncCounters{counters: make(map[string]*atomic.Int64)}
}

// Inc increments the counter for outcome.
func (c *SyncCounters) Inc(outcome string) {
	c.mu.RLock()
	ctr, ok := c.counters[outcome]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if ctr, ok = c.counters[outcome]; !ok {
			ctr = new(atomic.Int64)
			c.counters[outcome] = ctr
		}
		c.mu.Unlock()
	}
	ctr.Add(1)
}

// Get returns the current value for outcome.
func (c *SyncCounters) Get(outcome string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ctr, ok := c.counters[outcome]; ok {
		return ctr.Load()
	}
	return 0
}

// Snapshot copies all counters.
func (c *SyncCounters) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v.Load()
	}
	return out
}

// =============================================================================
// Calendar Metrics
// =============================================================================

// CalendarMetrics bundles latency and outcome tracking for the sync core.
type CalendarMetrics struct {
	Latency  *LatencyRegistry
	Outcomes *SyncCounters
}

func NewCalendarMetrics() *CalendarMetrics {
	return &CalendarMetrics{
		Latency:  NewLatencyRegistry(1000),
		Outcomes: NewSyncCounters(),
	}
}

// Snapshot renders everything for the metrics endpoint.
func (m *CalendarMetrics) Snapshot() map[string]any {
	latency := make(map[string]any)
	for op, s := range m.Latency.AllStats() {
		latency[op] = s.ToMap()
	}
	return map[string]any{
		"latency":  latency,
		"outcomes": m.Outcomes.Snapshot(),
	}
}

// =============================================================================
// Database Pool
// =============================================================================

// DBPoolStats converts sql.DBStats to a JSON friendly map.
func DBPoolStats(db *sql.DB) map[string]any {
	if db == nil {
		return map[string]any{}
	}
	s := db.Stats()
	return map[string]any{
		"open_connections":     s.OpenConnections,
		"in_use":               s.InUse,
		"idle":                 s.Idle,
		"max_open_connections": s.MaxOpenConnections,
		"wait_count":           s.WaitCount,
		"wait_duration_ms":     s.WaitDuration.Milliseconds(),
	}
}
