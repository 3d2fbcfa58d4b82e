package cache

import (
	"context"
	"fmt"
	"time"
)

// WriteStrategy selects how Set distributes a value across the tier chain.
type WriteStrategy string

const (
	// WriteThrough writes every tier synchronously, in order.
	WriteThrough WriteStrategy = "WRITE_THROUGH"

	// WriteBack writes the first tier synchronously and the rest in the
	// background.
	WriteBack WriteStrategy = "WRITE_BACK"

	// WriteAround skips in-process tiers and write-throughs the rest, so
	// bulk loads do not churn hot memory entries.
	WriteAround WriteStrategy = "WRITE_AROUND"
)

// Valid reports whether s names a known strategy.
func (s WriteStrategy) Valid() bool {
	switch s {
	case WriteThrough, WriteBack, WriteAround:
		return true
	}
	return false
}

// writeThrough writes tiers in order. In strict mode the first failure
// aborts the remaining writes and propagates; otherwise failures are logged
// and counted, and success means the first tier took the write.
func (e *Engine) writeThrough(ctx context.Context, nsKey string, payload []byte, ttl time.Duration, tiers []Tier, strict bool) (bool, error) {
	ok := false
	for i, tier := range tiers {
		start := time.Now()
		if err := tier.Set(ctx, nsKey, payload, ttl); err != nil {
			e.stats.RecordTierError(tier.Name())
			if strict {
				return false, fmt.Errorf("failed to write through: %w", err)
			}
			e.logger.Warn("tier write failed", map[string]interface{}{
				"tier":  tier.Name(),
				"key":   nsKey,
				"error": err.Error(),
			})
			continue
		}
		e.stats.RecordTierSet(tier.Name(), time.Since(start))
		if i == 0 {
			ok = true
		}
	}
	return ok, nil
}

// writeBack writes the first tier synchronously and hands the rest to the
// async writer. Background failures surface only in stats and logs.
func (e *Engine) writeBack(ctx context.Context, nsKey string, payload []byte, ttl time.Duration, tiers []Tier) (bool, error) {
	if len(tiers) == 0 {
		return false, nil
	}

	first := tiers[0]
	ok := true
	start := time.Now()
	if err := first.Set(ctx, nsKey, payload, ttl); err != nil {
		ok = false
		e.stats.RecordTierError(first.Name())
		e.logger.Warn("tier write failed", map[string]interface{}{
			"tier":  first.Name(),
			"key":   nsKey,
			"error": err.Error(),
		})
	} else {
		e.stats.RecordTierSet(first.Name(), time.Since(start))
	}

	for _, tier := range tiers[1:] {
		e.async.enqueue(asyncJob{
			op:      OpWriteBack,
			tier:    tier,
			key:     nsKey,
			value:   payload,
			ttl:     ttl,
			retries: e.cfg.WriteBackMaxRetries,
		})
	}
	return ok, nil
}

// writeAround drops in-process tiers from the chain and write-throughs the
// remainder. With nothing left to write it reports ok=false.
func (e *Engine) writeAround(ctx context.Context, nsKey string, payload []byte, ttl time.Duration, tiers []Tier, strict bool) (bool, error) {
	remaining := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Kind() == KindMemory {
			continue
		}
		remaining = append(remaining, tier)
	}
	if len(remaining) == 0 {
		e.logger.Debug("write-around skipped every tier", map[string]interface{}{
			"key": nsKey,
		})
		return false, nil
	}
	return e.writeThrough(ctx, nsKey, payload, ttl, remaining, strict)
}
