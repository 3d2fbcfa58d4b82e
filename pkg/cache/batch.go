package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// defaultBatchConcurrency bounds how many per-key sub-operations a batch
// call runs at once.
const defaultBatchConcurrency = 8

// BatchGetResult is one key's outcome within MGet. Value holds the
// serialized payload exactly as stored.
type BatchGetResult struct {
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found"`
	Tier  string `json:"tier,omitempty"`
	Err   error  `json:"-"`
}

// BatchWriteResult is one key's outcome within MSet.
type BatchWriteResult struct {
	OK  bool  `json:"ok"`
	Err error `json:"-"`
}

// BatchDeleteResult is one key's outcome within MDelete.
type BatchDeleteResult struct {
	Found bool  `json:"found"`
	Err   error `json:"-"`
}

// MGet reads many keys concurrently. Each key is an independent lookup with
// full Get semantics, including promotion; one key's failure never affects
// another's.
func (e *Engine) MGet(ctx context.Context, keys []string, opts ...Option) map[string]BatchGetResult {
	options := e.applyOptions(opts)

	var mu sync.Mutex
	results := make(map[string]BatchGetResult, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBatchConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			payload, res, err := e.lookup(ctx, OpMGet, key, nil, options)
			mu.Lock()
			results[key] = BatchGetResult{Value: payload, Found: res.Found, Tier: res.Tier, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// MSet writes many keys concurrently under the call's strategy. The batch
// is not atomic: each key succeeds or fails on its own.
func (e *Engine) MSet(ctx context.Context, items map[string]any, opts ...Option) map[string]BatchWriteResult {
	options := e.applyOptions(opts)

	var mu sync.Mutex
	results := make(map[string]BatchWriteResult, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBatchConcurrency)
	for key, value := range items {
		g.Go(func() error {
			ok, err := e.store(ctx, OpMSet, key, value, options)
			mu.Lock()
			results[key] = BatchWriteResult{OK: ok, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// MDelete removes many keys concurrently, each with Delete semantics.
func (e *Engine) MDelete(ctx context.Context, keys []string, opts ...Option) map[string]BatchDeleteResult {
	options := e.applyOptions(opts)

	var mu sync.Mutex
	results := make(map[string]BatchDeleteResult, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBatchConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			found, err := e.remove(ctx, OpMDelete, key, options)
			mu.Lock()
			results[key] = BatchDeleteResult{Found: found, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
