package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsageTracker_WindowIsBounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := newUsageTracker(func() time.Time { return now })

	for i := 1; i <= 250; i++ {
		u.record(time.Duration(i) * time.Millisecond)
	}

	snap := u.snapshot()
	assert.Equal(t, int64(250), snap.queries)
	assert.Equal(t, latencyWindow, snap.samples)
	// only samples 151..250 remain
	assert.InDelta(t, 200.5, snap.avgMs, 1e-9)
	assert.Equal(t, now, snap.lastUpdated)
}

func TestUsageTracker_Empty(t *testing.T) {
	u := newUsageTracker(time.Now)
	snap := u.snapshot()
	assert.Zero(t, snap.queries)
	assert.Zero(t, snap.avgMs)
	assert.True(t, snap.lastUpdated.IsZero())

	u.touch()
	assert.False(t, u.snapshot().lastUpdated.IsZero())
}
