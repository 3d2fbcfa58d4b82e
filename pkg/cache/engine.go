package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/layercache/layercache/pkg/observability"
)

// Engine orchestrates an ordered chain of tiers, fastest first. Reads walk
// the chain and promote hits upward in the background; writes fan out
// according to the configured strategy. A tier that fails transiently is
// treated as missing, so the engine degrades instead of failing.
type Engine struct {
	id  string
	cfg Config

	tiers      []Tier
	serializer Serializer
	stats      *StatsRecorder
	observer   Observer
	logger     observability.Logger
	metrics    observability.MetricsClient
	async      *asyncWriter

	closeOnce sync.Once
	closeErr  error
}

// New builds an engine over tiers, ordered fastest first. The chain must
// not be empty and tier names must be unique.
func New(cfg Config, tiers []Tier, opts ...EngineOption) (*Engine, error) {
	if len(tiers) == 0 {
		return nil, &ConfigurationError{Field: "tiers", Reason: "at least one tier is required"}
	}

	names := make([]string, 0, len(tiers))
	seen := make(map[string]struct{}, len(tiers))
	for _, tier := range tiers {
		if tier == nil {
			return nil, &ConfigurationError{Field: "tiers", Reason: "nil tier"}
		}
		name := tier.Name()
		if name == "" {
			return nil, &ConfigurationError{Field: "tiers", Reason: "tier with empty name"}
		}
		if _, dup := seen[name]; dup {
			return nil, &ConfigurationError{Field: "tiers", Reason: "duplicate tier name " + name}
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	e := &Engine{
		id:         uuid.New().String(),
		cfg:        cfg,
		tiers:      tiers,
		serializer: JSONSerializer{},
		observer:   NoopObserver{},
		logger:     observability.NewNoopLogger(),
		metrics:    observability.NewNoOpMetricsClient(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.stats = NewStatsRecorder(names)
	e.async = newAsyncWriter(cfg.AsyncWorkers, cfg.AsyncQueueSize, e.stats, e.logger, e.metrics)

	e.logger.Info("cache engine initialized", map[string]interface{}{
		"engine_id":  e.id,
		"tiers":      strings.Join(names, ","),
		"strategy":   string(cfg.DefaultStrategy),
		"key_prefix": cfg.KeyPrefix,
	})
	return e, nil
}

// ID returns the engine instance identifier carried on stats snapshots.
func (e *Engine) ID() string {
	return e.id
}

// Tiers returns the configured tier names in lookup order.
func (e *Engine) Tiers() []string {
	names := make([]string, len(e.tiers))
	for i, tier := range e.tiers {
		names[i] = tier.Name()
	}
	return names
}

// Get reads key through the tier chain into dest. A hit in a lower tier is
// promoted to the tiers above it in the background, using the engine
// default TTL. dest may be nil to probe for presence only.
func (e *Engine) Get(ctx context.Context, key string, dest any, opts ...Option) (GetResult, error) {
	_, res, err := e.lookup(ctx, OpGet, key, dest, e.applyOptions(opts))
	return res, err
}

// Exists reports whether key is readable, with full Get semantics: lower
// tier hits still promote.
func (e *Engine) Exists(ctx context.Context, key string, opts ...Option) (bool, error) {
	_, res, err := e.lookup(ctx, OpExists, key, nil, e.applyOptions(opts))
	if err != nil {
		return false, err
	}
	return res.Found, nil
}

// Set writes key across the tier chain according to the write strategy. The
// returned ok follows the strategy's contract: for best-effort strategies
// it reports whether the primary tier took the write.
func (e *Engine) Set(ctx context.Context, key string, value any, opts ...Option) (bool, error) {
	return e.store(ctx, OpSet, key, value, e.applyOptions(opts))
}

// Delete removes key from every tier and reports whether any tier had it.
// Deleting an absent key is not an error.
func (e *Engine) Delete(ctx context.Context, key string, opts ...Option) (bool, error) {
	return e.remove(ctx, OpDelete, key, e.applyOptions(opts))
}

// DeleteByPattern removes every key matching a glob pattern and returns the
// number of distinct keys removed across the chain.
func (e *Engine) DeleteByPattern(ctx context.Context, pattern string, opts ...Option) (int, error) {
	return e.deleteByPattern(ctx, OpDeletePattern, pattern, e.applyOptions(opts))
}

// Clear removes every key in the engine's namespace, or the subset matching
// WithPattern.
func (e *Engine) Clear(ctx context.Context, opts ...Option) (int, error) {
	options := e.applyOptions(opts)
	pattern := options.pattern
	if pattern == "" {
		pattern = "*"
	}
	return e.deleteByPattern(ctx, OpClear, pattern, options)
}

// Size reports per-tier counts of keys in the engine's namespace. A tier
// that cannot answer reports 0.
func (e *Engine) Size(ctx context.Context, opts ...Option) map[string]int {
	options := e.applyOptions(opts)
	nsPattern := e.namespacedKey("*")

	sizes := make(map[string]int)
	for _, tier := range e.selectTiers(options.tiers) {
		keys, err := tier.Keys(ctx, nsPattern)
		if err != nil {
			e.stats.RecordTierError(tier.Name())
			e.logger.Warn("tier size failed", map[string]interface{}{
				"tier":  tier.Name(),
				"error": err.Error(),
			})
			sizes[tier.Name()] = 0
			continue
		}
		sizes[tier.Name()] = len(keys)
	}
	return sizes
}

// Keys returns the sorted union of keys matching a glob pattern across the
// chain, un-namespaced. Tiers failing transiently contribute nothing.
func (e *Engine) Keys(ctx context.Context, pattern string, opts ...Option) ([]string, error) {
	options := e.applyOptions(opts)
	if pattern == "" {
		pattern = "*"
	}
	nsPattern := e.namespacedKey(pattern)

	union := make(map[string]struct{})
	for _, tier := range e.selectTiers(options.tiers) {
		keys, err := tier.Keys(ctx, nsPattern)
		if err != nil {
			e.stats.RecordTierError(tier.Name())
			if !IsTransient(err) {
				return nil, err
			}
			e.logger.Warn("tier scan failed", map[string]interface{}{
				"tier":  tier.Name(),
				"error": err.Error(),
			})
			continue
		}
		for _, k := range keys {
			union[e.stripPrefix(k)] = struct{}{}
		}
	}

	out := make([]string, 0, len(union))
	for k := range union {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Stats returns a point-in-time snapshot of every counter.
func (e *Engine) Stats() Snapshot {
	snap := e.stats.Snapshot()
	snap.EngineID = e.id
	return snap
}

// ResetStats zeroes the counters without touching stored entries.
func (e *Engine) ResetStats() {
	e.stats.Reset()
}

// Close drains the async writer, then closes every tier. Safe to call more
// than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.async.stop()
		for _, tier := range e.tiers {
			if err := tier.Close(); err != nil {
				e.logger.Warn("tier close failed", map[string]interface{}{
					"tier":  tier.Name(),
					"error": err.Error(),
				})
				if e.closeErr == nil {
					e.closeErr = err
				}
			}
		}
		e.logger.Info("cache engine closed", map[string]interface{}{
			"engine_id": e.id,
		})
	})
	return e.closeErr
}

// lookup walks the selected tiers in order. Transient tier failures count
// as misses for that tier; anything else stops the walk. The raw payload is
// returned alongside the result so batch reads can skip re-serialization.
func (e *Engine) lookup(ctx context.Context, op Operation, key string, dest any, options callOptions) ([]byte, GetResult, error) {
	start := time.Now()
	nsKey := e.namespacedKey(key)
	tiers := e.selectTiers(options.tiers)

	degraded := false
	for i, tier := range tiers {
		tierStart := time.Now()
		payload, found, err := tier.Get(ctx, nsKey)
		if err != nil {
			e.stats.RecordTierError(tier.Name())
			if !IsTransient(err) {
				e.stats.RecordError(op)
				e.notify(Event{Operation: op, Key: key, Tier: tier.Name(), Duration: time.Since(start), Err: err})
				return nil, GetResult{}, err
			}
			degraded = true
			e.logger.Warn("tier read failed", map[string]interface{}{
				"tier":  tier.Name(),
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		if !found {
			e.stats.RecordTierMiss(tier.Name())
			continue
		}

		e.stats.RecordTierHit(tier.Name(), time.Since(tierStart))
		if i > 0 {
			e.promote(nsKey, payload, tiers[:i])
		}
		if dest != nil {
			if err := e.serializer.Unmarshal(payload, dest); err != nil {
				serr := &SerializationError{Key: key, Err: err}
				e.stats.RecordError(op)
				e.notify(Event{Operation: op, Key: key, Tier: tier.Name(), Duration: time.Since(start), Err: serr})
				return nil, GetResult{}, serr
			}
		}

		elapsed := time.Since(start)
		e.stats.RecordHit(op, elapsed)
		e.metrics.RecordCacheOperation(string(op), true, elapsed)
		e.notify(Event{Operation: op, Key: key, Tier: tier.Name(), Found: true, Duration: elapsed})
		return payload, GetResult{Found: true, Tier: tier.Name()}, nil
	}

	elapsed := time.Since(start)
	if degraded {
		e.stats.RecordError(op)
	}
	e.stats.RecordMiss(op, elapsed)
	e.metrics.RecordCacheOperation(string(op), false, elapsed)
	e.notify(Event{Operation: op, Key: key, Duration: elapsed})
	return nil, GetResult{}, nil
}

// promote schedules background copies of a lower-tier hit into the tiers
// above it, under the engine default TTL. The read path never waits on it.
func (e *Engine) promote(nsKey string, payload []byte, upper []Tier) {
	for _, tier := range upper {
		e.async.enqueue(asyncJob{
			op:    OpPromotion,
			tier:  tier,
			key:   nsKey,
			value: payload,
			ttl:   e.cfg.DefaultTTL,
		})
	}
}

func (e *Engine) store(ctx context.Context, op Operation, key string, value any, options callOptions) (bool, error) {
	start := time.Now()

	payload, err := e.serializer.Marshal(value)
	if err != nil {
		serr := &SerializationError{Key: key, Err: err}
		e.stats.RecordError(op)
		e.notify(Event{Operation: op, Key: key, Strategy: options.strategy, Duration: time.Since(start), Err: serr})
		return false, serr
	}

	nsKey := e.namespacedKey(key)
	tiers := e.selectTiers(options.tiers)
	strict := options.strictMode(e.cfg.StrictWriteThrough)

	var ok bool
	switch options.strategy {
	case WriteBack:
		ok, err = e.writeBack(ctx, nsKey, payload, options.ttl, tiers)
	case WriteAround:
		ok, err = e.writeAround(ctx, nsKey, payload, options.ttl, tiers, strict)
	default:
		ok, err = e.writeThrough(ctx, nsKey, payload, options.ttl, tiers, strict)
	}

	elapsed := time.Since(start)
	if err != nil {
		e.stats.RecordError(op)
	} else {
		e.stats.RecordSet(op, elapsed)
	}
	e.metrics.RecordCacheOperation(string(op), ok && err == nil, elapsed)
	e.notify(Event{Operation: op, Key: key, OK: ok && err == nil, Strategy: options.strategy, Duration: elapsed, Err: err})
	return ok, err
}

func (e *Engine) remove(ctx context.Context, op Operation, key string, options callOptions) (bool, error) {
	start := time.Now()
	nsKey := e.namespacedKey(key)

	found := false
	for _, tier := range e.selectTiers(options.tiers) {
		wasFound, err := tier.Delete(ctx, nsKey)
		if err != nil {
			e.stats.RecordTierError(tier.Name())
			if !IsTransient(err) {
				e.stats.RecordError(op)
				e.notify(Event{Operation: op, Key: key, Tier: tier.Name(), Duration: time.Since(start), Err: err})
				return false, err
			}
			e.logger.Warn("tier delete failed", map[string]interface{}{
				"tier":  tier.Name(),
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		if wasFound {
			e.stats.RecordTierDelete(tier.Name())
			found = true
		}
	}

	elapsed := time.Since(start)
	e.stats.RecordDelete(op, elapsed)
	e.metrics.RecordCacheOperation(string(op), found, elapsed)
	e.notify(Event{Operation: op, Key: key, Found: found, Duration: elapsed})
	return found, nil
}

func (e *Engine) deleteByPattern(ctx context.Context, op Operation, pattern string, options callOptions) (int, error) {
	start := time.Now()
	nsPattern := e.namespacedKey(pattern)

	removed := make(map[string]struct{})
	for _, tier := range e.selectTiers(options.tiers) {
		keys, err := tier.Keys(ctx, nsPattern)
		if err != nil {
			e.stats.RecordTierError(tier.Name())
			if !IsTransient(err) {
				e.stats.RecordError(op)
				e.notify(Event{Operation: op, Key: pattern, Tier: tier.Name(), Duration: time.Since(start), Err: err})
				return len(removed), err
			}
			e.logger.Warn("tier scan failed", map[string]interface{}{
				"tier":    tier.Name(),
				"pattern": pattern,
				"error":   err.Error(),
			})
			continue
		}

		for _, k := range keys {
			wasFound, err := tier.Delete(ctx, k)
			if err != nil {
				e.stats.RecordTierError(tier.Name())
				if !IsTransient(err) {
					e.stats.RecordError(op)
					e.notify(Event{Operation: op, Key: pattern, Tier: tier.Name(), Duration: time.Since(start), Err: err})
					return len(removed), err
				}
				e.logger.Warn("tier delete failed", map[string]interface{}{
					"tier":  tier.Name(),
					"key":   e.stripPrefix(k),
					"error": err.Error(),
				})
				continue
			}
			if wasFound {
				e.stats.RecordTierDelete(tier.Name())
				removed[k] = struct{}{}
			}
		}
	}

	elapsed := time.Since(start)
	e.stats.RecordDelete(op, elapsed)
	e.metrics.RecordCacheOperation(string(op), len(removed) > 0, elapsed)
	e.notify(Event{Operation: op, Key: pattern, Found: len(removed) > 0, Duration: elapsed})
	return len(removed), nil
}

// notify delivers the event synchronously. A panicking observer is isolated
// here so it cannot fail the operation that triggered it.
func (e *Engine) notify(event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("cache observer panicked", map[string]interface{}{
				"operation": string(event.Operation),
				"panic":     fmt.Sprintf("%v", r),
			})
		}
	}()
	e.observer.OnCacheEvent(event)
}

func (e *Engine) namespacedKey(key string) string {
	if e.cfg.KeyPrefix == "" {
		return key
	}
	return e.cfg.KeyPrefix + ":" + key
}

func (e *Engine) stripPrefix(key string) string {
	if e.cfg.KeyPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, e.cfg.KeyPrefix+":")
}

// selectTiers maps an optional tier-name subset onto the configured chain,
// preserving chain order. Unknown names are ignored.
func (e *Engine) selectTiers(names []string) []Tier {
	if len(names) == 0 {
		return e.tiers
	}
	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		want[name] = struct{}{}
	}
	selected := make([]Tier, 0, len(e.tiers))
	for _, tier := range e.tiers {
		if _, ok := want[tier.Name()]; ok {
			selected = append(selected, tier)
		}
	}
	return selected
}
