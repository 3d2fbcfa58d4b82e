package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsRecorder_CountsOperations(t *testing.T) {
	stats := NewStatsRecorder([]string{"memory", "redis"})

	stats.RecordHit(OpGet, 2*time.Millisecond)
	stats.RecordHit(OpGet, 4*time.Millisecond)
	stats.RecordMiss(OpGet, time.Millisecond)
	stats.RecordSet(OpSet, time.Millisecond)
	stats.RecordDelete(OpDelete, time.Millisecond)
	stats.RecordError(OpGet)

	snap := stats.Snapshot()
	assert.Equal(t, int64(2), snap.Totals.Hits)
	assert.Equal(t, int64(1), snap.Totals.Misses)
	assert.Equal(t, int64(1), snap.Totals.Sets)
	assert.Equal(t, int64(1), snap.Totals.Deletes)
	assert.Equal(t, int64(1), snap.Totals.Errors)
	assert.InDelta(t, 2.0/3.0, snap.Totals.HitRate, 1e-9)
	assert.False(t, snap.Timestamp.IsZero())

	get := snap.Operations[string(OpGet)]
	assert.Equal(t, int64(2), get.Hits)
	assert.Equal(t, int64(1), get.Misses)
	assert.Equal(t, int64(1), get.Errors)
	assert.InDelta(t, 7.0/3.0, get.AvgLatencyMs, 1e-9)
}

func TestStatsRecorder_TierBreakdown(t *testing.T) {
	stats := NewStatsRecorder([]string{"memory", "redis"})

	stats.RecordTierHit("memory", time.Millisecond)
	stats.RecordTierMiss("memory")
	stats.RecordTierHit("redis", time.Millisecond)
	stats.RecordTierSet("redis", time.Millisecond)
	stats.RecordTierError("redis")

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.Tiers["memory"].Hits)
	assert.Equal(t, int64(1), snap.Tiers["memory"].Misses)
	assert.Equal(t, int64(1), snap.Tiers["redis"].Hits)
	assert.Equal(t, int64(1), snap.Tiers["redis"].Sets)
	assert.Equal(t, int64(1), snap.Tiers["redis"].Errors)

	// Tier counters never leak into the aggregate view.
	assert.Equal(t, int64(0), snap.Totals.Hits)

	// Unknown tier names are ignored rather than panicking.
	stats.RecordTierHit("unknown", time.Millisecond)
	assert.NotContains(t, stats.Snapshot().Tiers, "unknown")
}

func TestStatsRecorder_AsyncWritesStayOutOfTotals(t *testing.T) {
	stats := NewStatsRecorder([]string{"redis"})

	stats.RecordAsyncWrite(OpPromotion, "redis", true, time.Millisecond)
	stats.RecordAsyncWrite(OpWriteBack, "redis", false, time.Millisecond)

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.Totals.Sets)
	assert.Equal(t, int64(0), snap.Totals.Errors)

	assert.Equal(t, int64(1), snap.Operations[string(OpPromotion)].Sets)
	assert.Equal(t, int64(1), snap.Operations[string(OpWriteBack)].Errors)
	assert.Equal(t, int64(1), snap.Tiers["redis"].Sets)
	assert.Equal(t, int64(1), snap.Tiers["redis"].Errors)
}

func TestStatsRecorder_Reset(t *testing.T) {
	stats := NewStatsRecorder([]string{"memory"})

	stats.RecordHit(OpGet, time.Millisecond)
	stats.RecordTierHit("memory", time.Millisecond)
	stats.Reset()

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.Totals.Hits)
	assert.Equal(t, int64(0), snap.Tiers["memory"].Hits)
	assert.Equal(t, float64(0), snap.Totals.HitRate)
	assert.Equal(t, float64(0), snap.Totals.AvgLatencyMs)
}

func TestStatsRecorder_ConcurrentRecording(t *testing.T) {
	stats := NewStatsRecorder([]string{"memory"})

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				stats.RecordHit(OpGet, time.Microsecond)
				stats.RecordMiss(OpGet, time.Microsecond)
				stats.RecordTierHit("memory", time.Microsecond)
			}
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	require.Equal(t, int64(goroutines*perGoroutine), snap.Totals.Hits)
	require.Equal(t, int64(goroutines*perGoroutine), snap.Totals.Misses)
	require.Equal(t, int64(goroutines*perGoroutine), snap.Tiers["memory"].Hits)
	assert.InDelta(t, 0.5, snap.Totals.HitRate, 1e-9)
}
