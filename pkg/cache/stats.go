package cache

import (
	"sync/atomic"
	"time"
)

// Operation identifies an engine operation kind in statistics and events.
type Operation string

// Operations tracked by the stats recorder.
const (
	OpGet           Operation = "get"
	OpSet           Operation = "set"
	OpDelete        Operation = "delete"
	OpExists        Operation = "exists"
	OpClear         Operation = "clear"
	OpDeletePattern Operation = "delete_pattern"
	OpMGet          Operation = "mget"
	OpMSet          Operation = "mset"
	OpMDelete       Operation = "mdelete"
	OpPromotion     Operation = "promotion"
	OpWriteBack     Operation = "write_back"
)

// operations is the closed set used to preallocate counters, so recording
// never mutates a map and needs no lock of its own.
var operations = []Operation{
	OpGet, OpSet, OpDelete, OpExists, OpClear, OpDeletePattern,
	OpMGet, OpMSet, OpMDelete, OpPromotion, OpWriteBack,
}

// counterSet holds one breakdown's counters. All fields are atomics so
// recording from many goroutines never blocks.
type counterSet struct {
	hits         atomic.Int64
	misses       atomic.Int64
	sets         atomic.Int64
	deletes      atomic.Int64
	errors       atomic.Int64
	latencyNanos atomic.Int64
	latencyCount atomic.Int64
}

func (c *counterSet) observeLatency(d time.Duration) {
	c.latencyNanos.Add(int64(d))
	c.latencyCount.Add(1)
}

func (c *counterSet) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.deletes.Store(0)
	c.errors.Store(0)
	c.latencyNanos.Store(0)
	c.latencyCount.Store(0)
}

func (c *counterSet) snapshot() CounterStats {
	stats := CounterStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errors.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if count := c.latencyCount.Load(); count > 0 {
		stats.AvgLatencyMs = float64(c.latencyNanos.Load()) / float64(count) / float64(time.Millisecond)
	}
	return stats
}

// CounterStats is the point-in-time view of one breakdown.
type CounterStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Sets         int64   `json:"sets"`
	Deletes      int64   `json:"deletes"`
	Errors       int64   `json:"errors"`
	HitRate      float64 `json:"hit_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Snapshot is a point-in-time copy of all engine statistics.
type Snapshot struct {
	EngineID   string                  `json:"engine_id"`
	Timestamp  time.Time               `json:"timestamp"`
	Totals     CounterStats            `json:"totals"`
	Tiers      map[string]CounterStats `json:"tiers"`
	Operations map[string]CounterStats `json:"operations"`
}

// StatsRecorder tracks hit/miss/set/delete/error counts and latency in
// aggregate, per tier, and per operation kind. All counter maps are built at
// construction and never mutated, so recording is lock-free.
type StatsRecorder struct {
	totals *counterSet
	tiers  map[string]*counterSet
	ops    map[Operation]*counterSet
}

// NewStatsRecorder preallocates counters for the given tier names.
func NewStatsRecorder(tierNames []string) *StatsRecorder {
	tiers := make(map[string]*counterSet, len(tierNames))
	for _, name := range tierNames {
		tiers[name] = &counterSet{}
	}
	ops := make(map[Operation]*counterSet, len(operations))
	for _, op := range operations {
		ops[op] = &counterSet{}
	}
	return &StatsRecorder{
		totals: &counterSet{},
		tiers:  tiers,
		ops:    ops,
	}
}

// RecordHit counts one served read for the aggregate and operation views.
func (s *StatsRecorder) RecordHit(op Operation, d time.Duration) {
	s.totals.hits.Add(1)
	s.totals.observeLatency(d)
	if c, ok := s.ops[op]; ok {
		c.hits.Add(1)
		c.observeLatency(d)
	}
}

// RecordMiss counts one read that missed every tier.
func (s *StatsRecorder) RecordMiss(op Operation, d time.Duration) {
	s.totals.misses.Add(1)
	s.totals.observeLatency(d)
	if c, ok := s.ops[op]; ok {
		c.misses.Add(1)
		c.observeLatency(d)
	}
}

// RecordSet counts one completed write call.
func (s *StatsRecorder) RecordSet(op Operation, d time.Duration) {
	s.totals.sets.Add(1)
	s.totals.observeLatency(d)
	if c, ok := s.ops[op]; ok {
		c.sets.Add(1)
		c.observeLatency(d)
	}
}

// RecordDelete counts one completed delete call.
func (s *StatsRecorder) RecordDelete(op Operation, d time.Duration) {
	s.totals.deletes.Add(1)
	s.totals.observeLatency(d)
	if c, ok := s.ops[op]; ok {
		c.deletes.Add(1)
		c.observeLatency(d)
	}
}

// RecordError counts one operation-level error.
func (s *StatsRecorder) RecordError(op Operation) {
	s.totals.errors.Add(1)
	if c, ok := s.ops[op]; ok {
		c.errors.Add(1)
	}
}

// RecordTierHit counts a hit served by one tier.
func (s *StatsRecorder) RecordTierHit(tier string, d time.Duration) {
	if c, ok := s.tiers[tier]; ok {
		c.hits.Add(1)
		c.observeLatency(d)
	}
}

// RecordTierMiss counts a probe that found nothing in one tier.
func (s *StatsRecorder) RecordTierMiss(tier string) {
	if c, ok := s.tiers[tier]; ok {
		c.misses.Add(1)
	}
}

// RecordTierSet counts a successful write into one tier.
func (s *StatsRecorder) RecordTierSet(tier string, d time.Duration) {
	if c, ok := s.tiers[tier]; ok {
		c.sets.Add(1)
		c.observeLatency(d)
	}
}

// RecordTierDelete counts a key removed from one tier.
func (s *StatsRecorder) RecordTierDelete(tier string) {
	if c, ok := s.tiers[tier]; ok {
		c.deletes.Add(1)
	}
}

// RecordTierError counts a failed call against one tier.
func (s *StatsRecorder) RecordTierError(tier string) {
	if c, ok := s.tiers[tier]; ok {
		c.errors.Add(1)
	}
}

// RecordAsyncWrite counts a deferred write (promotion or write-back)
// against its operation and target tier, outside the aggregate totals:
// totals reflect caller-issued operations only.
func (s *StatsRecorder) RecordAsyncWrite(op Operation, tier string, ok bool, d time.Duration) {
	opCounters, hasOp := s.ops[op]
	tierCounters, hasTier := s.tiers[tier]
	if ok {
		if hasOp {
			opCounters.sets.Add(1)
			opCounters.observeLatency(d)
		}
		if hasTier {
			tierCounters.sets.Add(1)
			tierCounters.observeLatency(d)
		}
		return
	}
	if hasOp {
		opCounters.errors.Add(1)
	}
	if hasTier {
		tierCounters.errors.Add(1)
	}
}

// Snapshot copies every counter into an immutable view.
func (s *StatsRecorder) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:  time.Now().UTC(),
		Totals:     s.totals.snapshot(),
		Tiers:      make(map[string]CounterStats, len(s.tiers)),
		Operations: make(map[string]CounterStats, len(s.ops)),
	}
	for name, c := range s.tiers {
		snap.Tiers[name] = c.snapshot()
	}
	for op, c := range s.ops {
		snap.Operations[string(op)] = c.snapshot()
	}
	return snap
}

// Reset zeroes every counter. Stored cache entries are unaffected.
func (s *StatsRecorder) Reset() {
	s.totals.reset()
	for _, c := range s.tiers {
		c.reset()
	}
	for _, c := range s.ops {
		c.reset()
	}
}
