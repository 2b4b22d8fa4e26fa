package retrieval

import (
	"sync"
	"time"
)

const latencyWindow = 100

// usageTracker keeps the query counter and the most recent response times.
type usageTracker struct {
	mu          sync.Mutex
	now         func() time.Time
	queries     int64
	samples     [latencyWindow]time.Duration
	next        int
	filled      int
	lastUpdated time.Time
}

type usageSnapshot struct {
	queries     int64
	samples     int
	avgMs       float64
	lastUpdated time.Time
}

func newUsageTracker(now func() time.Time) *usageTracker {
	return &usageTracker{now: now}
}

func (u *usageTracker) record(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.queries++
	u.samples[u.next] = d
	u.next = (u.next + 1) % latencyWindow
	if u.filled < latencyWindow {
		u.filled++
	}
	u.lastUpdated = u.now()
}

func (u *usageTracker) touch() {
	u.mu.Lock()
	u.lastUpdated = u.now()
	u.mu.Unlock()
}

func (u *usageTracker) snapshot() usageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	snap := usageSnapshot{queries: u.queries, samples: u.filled, lastUpdated: u.lastUpdated}
	if u.filled == 0 {
		return snap
	}
	var total time.Duration
	for i := 0; i < u.filled; i++ {
		total += u.samples[i]
	}
	snap.avgMs = float64(total) / float64(u.filled) / float64(time.Millisecond)
	return snap
}
