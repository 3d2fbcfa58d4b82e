package cache

import (
	"context"

	"github.com/layercache/layercache/pkg/observability"
)

// TracedEngine decorates an Engine with a span per public operation.
// Misses are recorded as span attributes, not errors; only real failures
// mark the span failed.
type TracedEngine struct {
	engine *Engine
}

// NewTracedEngine wraps engine. Tracing must have been initialized with
// observability.InitTracing for spans to be exported; otherwise they are
// no-ops.
func NewTracedEngine(engine *Engine) *TracedEngine {
	return &TracedEngine{engine: engine}
}

// Engine returns the wrapped engine for calls that need no tracing.
func (t *TracedEngine) Engine() *Engine {
	return t.engine
}

// Get implements the traced read path.
func (t *TracedEngine) Get(ctx context.Context, key string, dest any, opts ...Option) (GetResult, error) {
	ctx, span := observability.TraceCacheOperation(ctx, "get", key)
	defer span.End()

	res, err := t.engine.Get(ctx, key, dest, opts...)
	span.SetAttribute(string(observability.CacheHitAttributeKey), res.Found)
	if res.Tier != "" {
		span.SetAttribute(string(observability.CacheTierAttributeKey), res.Tier)
	}
	return res, t.finish(span, err)
}

// Exists implements the traced presence probe.
func (t *TracedEngine) Exists(ctx context.Context, key string, opts ...Option) (bool, error) {
	ctx, span := observability.TraceCacheOperation(ctx, "exists", key)
	defer span.End()

	found, err := t.engine.Exists(ctx, key, opts...)
	span.SetAttribute(string(observability.CacheHitAttributeKey), found)
	return found, t.finish(span, err)
}

// Set implements the traced write path.
func (t *TracedEngine) Set(ctx context.Context, key string, value any, opts ...Option) (bool, error) {
	ctx, span := observability.TraceCacheOperation(ctx, "set", key)
	defer span.End()

	ok, err := t.engine.Set(ctx, key, value, opts...)
	span.SetAttribute("cache.ok", ok)
	return ok, t.finish(span, err)
}

// Delete implements the traced delete path.
func (t *TracedEngine) Delete(ctx context.Context, key string, opts ...Option) (bool, error) {
	ctx, span := observability.TraceCacheOperation(ctx, "delete", key)
	defer span.End()

	found, err := t.engine.Delete(ctx, key, opts...)
	span.SetAttribute(string(observability.CacheHitAttributeKey), found)
	return found, t.finish(span, err)
}

// DeleteByPattern implements the traced pattern delete.
func (t *TracedEngine) DeleteByPattern(ctx context.Context, pattern string, opts ...Option) (int, error) {
	ctx, span := observability.TraceCacheOperation(ctx, "delete_pattern", pattern)
	defer span.End()

	removed, err := t.engine.DeleteByPattern(ctx, pattern, opts...)
	span.SetAttribute("cache.removed", removed)
	return removed, t.finish(span, err)
}

// Clear implements the traced namespace clear.
func (t *TracedEngine) Clear(ctx context.Context, opts ...Option) (int, error) {
	ctx, span := observability.TraceCacheOperation(ctx, "clear", "")
	defer span.End()

	removed, err := t.engine.Clear(ctx, opts...)
	span.SetAttribute("cache.removed", removed)
	return removed, t.finish(span, err)
}

// MGet implements the traced batch read.
func (t *TracedEngine) MGet(ctx context.Context, keys []string, opts ...Option) map[string]BatchGetResult {
	ctx, span := observability.TraceCacheOperation(ctx, "mget", "")
	defer span.End()
	span.SetAttribute("cache.batch_size", len(keys))

	results := t.engine.MGet(ctx, keys, opts...)
	span.SetStatus(1, "")
	return results
}

// MSet implements the traced batch write.
func (t *TracedEngine) MSet(ctx context.Context, items map[string]any, opts ...Option) map[string]BatchWriteResult {
	ctx, span := observability.TraceCacheOperation(ctx, "mset", "")
	defer span.End()
	span.SetAttribute("cache.batch_size", len(items))

	results := t.engine.MSet(ctx, items, opts...)
	span.SetStatus(1, "")
	return results
}

// MDelete implements the traced batch delete.
func (t *TracedEngine) MDelete(ctx context.Context, keys []string, opts ...Option) map[string]BatchDeleteResult {
	ctx, span := observability.TraceCacheOperation(ctx, "mdelete", "")
	defer span.End()
	span.SetAttribute("cache.batch_size", len(keys))

	results := t.engine.MDelete(ctx, keys, opts...)
	span.SetStatus(1, "")
	return results
}

// Keys implements the traced key listing.
func (t *TracedEngine) Keys(ctx context.Context, pattern string, opts ...Option) ([]string, error) {
	ctx, span := observability.TraceCacheOperation(ctx, "keys", pattern)
	defer span.End()

	keys, err := t.engine.Keys(ctx, pattern, opts...)
	span.SetAttribute("cache.matched", len(keys))
	return keys, t.finish(span, err)
}

// Size passes through; it is an aggregate with no single key to annotate.
func (t *TracedEngine) Size(ctx context.Context, opts ...Option) map[string]int {
	return t.engine.Size(ctx, opts...)
}

// Stats passes through.
func (t *TracedEngine) Stats() Snapshot {
	return t.engine.Stats()
}

// ResetStats passes through.
func (t *TracedEngine) ResetStats() {
	t.engine.ResetStats()
}

// Close passes through.
func (t *TracedEngine) Close() error {
	return t.engine.Close()
}

func (t *TracedEngine) finish(span observability.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(2, err.Error())
		return err
	}
	span.SetStatus(1, "")
	return nil
}
