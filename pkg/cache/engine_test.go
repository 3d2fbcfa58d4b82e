package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/layercache/layercache/pkg/kvstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// engineFixture is the default two-tier setup: an in-process tier in front of
// a miniredis-backed remote tier.
type engineFixture struct {
	engine *Engine
	memory *MemoryTier
	remote *RemoteTier
	mr     *miniredis.Miniredis
}

func newTieredEngine(t *testing.T, cfg Config, opts ...EngineOption) *engineFixture {
	t.Helper()

	memory, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	remote, err := NewRemoteTier(RemoteTierConfig{Name: "redis"}, kvstore.NewRedisClientFromExisting(client), nil, nil)
	require.NoError(t, err)

	engine, err := New(cfg, []Tier{memory, remote}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &engineFixture{engine: engine, memory: memory, remote: remote, mr: mr}
}

func newEngineOver(t *testing.T, cfg Config, tiers []Tier, opts ...EngineOption) *Engine {
	t.Helper()

	engine, err := New(cfg, tiers, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// stubTier is a scriptable Tier for failure injection. Nil hooks succeed with
// empty results.
type stubTier struct {
	name string
	kind TierKind

	getFn    func(key string) ([]byte, bool, error)
	setFn    func(key string, value []byte) error
	deleteFn func(key string) (bool, error)
	keysFn   func(pattern string) ([]string, error)
}

func (s *stubTier) Name() string { return s.name }

func (s *stubTier) Kind() TierKind {
	if s.kind == "" {
		return KindRemote
	}
	return s.kind
}

func (s *stubTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.getFn == nil {
		return nil, false, nil
	}
	return s.getFn(key)
}

func (s *stubTier) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if s.setFn == nil {
		return nil
	}
	return s.setFn(key, value)
}

func (s *stubTier) Delete(_ context.Context, key string) (bool, error) {
	if s.deleteFn == nil {
		return false, nil
	}
	return s.deleteFn(key)
}

func (s *stubTier) Keys(_ context.Context, pattern string) ([]string, error) {
	if s.keysFn == nil {
		return nil, nil
	}
	return s.keysFn(pattern)
}

func (s *stubTier) Flush(context.Context) error { return nil }

func (s *stubTier) Size(context.Context) (int, error) { return 0, nil }

func (s *stubTier) Close() error { return nil }

// downTier fails every call with a transient error, as a tier with a dead
// backend would.
func downTier(name string) *stubTier {
	unavailable := func() error {
		return &TierUnavailableError{Tier: name, Err: errors.New("connection refused")}
	}
	return &stubTier{
		name:     name,
		getFn:    func(string) ([]byte, bool, error) { return nil, false, unavailable() },
		setFn:    func(string, []byte) error { return unavailable() },
		deleteFn: func(string) (bool, error) { return false, unavailable() },
		keysFn:   func(string) ([]string, error) { return nil, unavailable() },
	}
}

type session struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

func TestNew_Validation(t *testing.T) {
	memory, err := NewMemoryTier(MemoryTierConfig{}, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		cfg   Config
		tiers []Tier
	}{
		{name: "no tiers", tiers: nil},
		{name: "nil tier", tiers: []Tier{nil}},
		{name: "empty tier name", tiers: []Tier{&stubTier{}}},
		{name: "duplicate tier names", tiers: []Tier{memory, &stubTier{name: "memory"}}},
		{name: "unknown strategy", cfg: Config{DefaultStrategy: "SIDEWAYS"}, tiers: []Tier{memory}},
		{name: "negative ttl", cfg: Config{DefaultTTL: -time.Second}, tiers: []Tier{memory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.tiers)
			require.Error(t, err)

			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestEngine_SetGetRoundtrip(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	want := session{UserID: "u-1", Plan: "gold"}
	ok, err := fix.engine.Set(ctx, "session:1", want)
	require.NoError(t, err)
	assert.True(t, ok)

	var got session
	res, err := fix.engine.Get(ctx, "session:1", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "memory", res.Tier)
	assert.Equal(t, want, got)

	exists, err := fix.engine.Exists(ctx, "session:1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEngine_GetMiss(t *testing.T) {
	fix := newTieredEngine(t, Config{})

	var got session
	res, err := fix.engine.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Tier)
	assert.Equal(t, session{}, got)
}

func TestEngine_NamespacesKeys(t *testing.T) {
	fix := newTieredEngine(t, Config{KeyPrefix: "app"})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "session:1", "v")
	require.NoError(t, err)

	assert.True(t, fix.mr.Exists("app:session:1"))
	assert.False(t, fix.mr.Exists("session:1"))
}

func TestEngine_WriteThroughReachesEveryTier(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	ok, err := fix.engine.Set(ctx, "key", "value")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := fix.memory.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, fix.mr.Exists("key"))
}

func TestEngine_WriteThroughBestEffort(t *testing.T) {
	memory, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)
	engine := newEngineOver(t, Config{}, []Tier{memory, downTier("slow")})
	ctx := context.Background()

	// The healthy primary takes the write; the dead tier is only logged.
	ok, err := engine.Set(ctx, "key", "value")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := memory.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)

	// With the primary down, ok reports the write did not land where reads
	// look first.
	engine2 := newEngineOver(t, Config{}, []Tier{downTier("down"), mustMemoryTier(t, "backing")})
	ok, err = engine2.Set(ctx, "key", "value")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_WriteThroughStrictAborts(t *testing.T) {
	backing, err := NewMemoryTier(MemoryTierConfig{Name: "backing"}, nil)
	require.NoError(t, err)
	engine := newEngineOver(t, Config{}, []Tier{downTier("down"), backing})
	ctx := context.Background()

	ok, err := engine.Set(ctx, "key", "value", WithStrict(true))
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, IsTransient(err))

	// The failure aborted the chain before the backing tier.
	_, found, err := backing.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_WriteBackDefersLowerTiers(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	ok, err := fix.engine.Set(ctx, "key", "value", WithStrategy(WriteBack))
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := fix.memory.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)

	require.Eventually(t, func() bool {
		return fix.mr.Exists("key")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_WriteBackFailureStaysInBackground(t *testing.T) {
	memory, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)
	engine := newEngineOver(t, Config{}, []Tier{memory, downTier("slow")})
	ctx := context.Background()

	ok, err := engine.Set(ctx, "key", "value", WithStrategy(WriteBack))
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		snap := engine.Stats()
		return snap.Operations[string(OpWriteBack)].Errors >= 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := engine.Stats()
	assert.Equal(t, int64(0), snap.Totals.Errors)
	assert.GreaterOrEqual(t, snap.Tiers["slow"].Errors, int64(1))
}

func TestEngine_WriteAroundSkipsMemory(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	ok, err := fix.engine.Set(ctx, "bulk:1", "value", WithStrategy(WriteAround))
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := fix.memory.Get(ctx, "bulk:1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, fix.mr.Exists("bulk:1"))

	var got string
	res, err := fix.engine.Get(ctx, "bulk:1", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "redis", res.Tier)
}

func TestEngine_WriteAroundWithOnlyMemoryTiers(t *testing.T) {
	memory, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)
	engine := newEngineOver(t, Config{}, []Tier{memory})
	ctx := context.Background()

	ok, err := engine.Set(ctx, "key", "value", WithStrategy(WriteAround))
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := memory.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_InvalidStrategyOptionFallsBack(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	ok, err := fix.engine.Set(ctx, "key", "value", WithStrategy("BOGUS"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Fell back to the default write-through, so every tier has the key.
	_, found, err := fix.memory.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, fix.mr.Exists("key"))
}

func TestEngine_PromotesLowerTierHit(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	require.NoError(t, fix.mr.Set("team:42", `"gold"`))

	var got string
	res, err := fix.engine.Get(ctx, "team:42", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "redis", res.Tier)
	assert.Equal(t, "gold", got)

	require.Eventually(t, func() bool {
		_, found, err := fix.memory.Get(ctx, "team:42")
		return err == nil && found
	}, 2*time.Second, 10*time.Millisecond)

	// The next read is served from the front.
	res, err = fix.engine.Get(ctx, "team:42", &got)
	require.NoError(t, err)
	assert.Equal(t, "memory", res.Tier)
}

func TestEngine_ExistsPromotes(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	require.NoError(t, fix.mr.Set("probe", `1`))

	found, err := fix.engine.Exists(ctx, "probe")
	require.NoError(t, err)
	assert.True(t, found)

	require.Eventually(t, func() bool {
		_, found, err := fix.memory.Get(ctx, "probe")
		return err == nil && found
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_TTLOption(t *testing.T) {
	tier, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)

	now := time.Now()
	tier.nowFn = func() time.Time { return now }
	engine := newEngineOver(t, Config{}, []Tier{tier})
	ctx := context.Background()

	_, err = engine.Set(ctx, "ephemeral", "v", WithTTL(time.Second))
	require.NoError(t, err)

	var got string
	res, err := engine.Get(ctx, "ephemeral", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)

	now = now.Add(2 * time.Second)

	res, err = engine.Get(ctx, "ephemeral", &got)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestEngine_DeleteIdempotent(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "key", "value")
	require.NoError(t, err)

	found, err := fix.engine.Delete(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, fix.mr.Exists("key"))

	found, err = fix.engine.Delete(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_DeleteByPattern(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "order:1"} {
		_, err := fix.engine.Set(ctx, key, "v")
		require.NoError(t, err)
	}

	removed, err := fix.engine.DeleteByPattern(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	exists, err := fix.engine.Exists(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = fix.engine.Exists(ctx, "order:1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEngine_ClearSparesForeignKeys(t *testing.T) {
	fix := newTieredEngine(t, Config{KeyPrefix: "app"})
	ctx := context.Background()

	require.NoError(t, fix.mr.Set("other:key", "v"))
	for _, key := range []string{"a", "b"} {
		_, err := fix.engine.Set(ctx, key, "v")
		require.NoError(t, err)
	}

	removed, err := fix.engine.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Keys outside the engine namespace survive a Clear.
	assert.True(t, fix.mr.Exists("other:key"))

	sizes := fix.engine.Size(ctx)
	assert.Equal(t, 0, sizes["memory"])
}

func TestEngine_ClearWithPattern(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	for _, key := range []string{"user:1", "order:1"} {
		_, err := fix.engine.Set(ctx, key, "v")
		require.NoError(t, err)
	}

	removed, err := fix.engine.Clear(ctx, WithPattern("user:*"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, err := fix.engine.Exists(ctx, "order:1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEngine_KeysUnionAcrossTiers(t *testing.T) {
	fix := newTieredEngine(t, Config{KeyPrefix: "app"})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "gamma", "v", WithTiers("memory"))
	require.NoError(t, err)
	_, err = fix.engine.Set(ctx, "alpha", "v", WithTiers("redis"))
	require.NoError(t, err)
	_, err = fix.engine.Set(ctx, "beta", "v")
	require.NoError(t, err)

	keys, err := fix.engine.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, keys)
}

func TestEngine_SizePerTier(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "both", "v")
	require.NoError(t, err)
	_, err = fix.engine.Set(ctx, "front", "v", WithTiers("memory"))
	require.NoError(t, err)

	sizes := fix.engine.Size(ctx)
	assert.Equal(t, map[string]int{"memory": 2, "redis": 1}, sizes)
}

func TestEngine_WithTiersRestrictsCalls(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "key", "value", WithTiers("redis"))
	require.NoError(t, err)

	_, found, err := fix.memory.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)

	var got string
	res, err := fix.engine.Get(ctx, "key", &got, WithTiers("memory"))
	require.NoError(t, err)
	assert.False(t, res.Found)

	res, err = fix.engine.Get(ctx, "key", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "redis", res.Tier)
}

func TestEngine_TransientTierFailureDegrades(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	remote, err := NewRemoteTier(RemoteTierConfig{Name: "redis"}, kvstore.NewRedisClientFromExisting(client), nil, nil)
	require.NoError(t, err)

	engine := newEngineOver(t, Config{}, []Tier{downTier("down"), remote})
	ctx := context.Background()

	require.NoError(t, mr.Set("key", `"value"`))

	var got string
	res, err := engine.Get(ctx, "key", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "redis", res.Tier)
	assert.Equal(t, "value", got)

	snap := engine.Stats()
	assert.GreaterOrEqual(t, snap.Tiers["down"].Errors, int64(1))
}

func TestEngine_AllTiersDownReadsAsMiss(t *testing.T) {
	engine := newEngineOver(t, Config{}, []Tier{downTier("down1"), downTier("down2")})

	var got string
	res, err := engine.Get(context.Background(), "key", &got)
	require.NoError(t, err)
	assert.False(t, res.Found)

	// A degraded miss is both a miss and an error in the counters.
	snap := engine.Stats()
	assert.Equal(t, int64(1), snap.Totals.Misses)
	assert.Equal(t, int64(1), snap.Totals.Errors)
	assert.Equal(t, int64(1), snap.Operations[string(OpGet)].Errors)
}

func TestEngine_NonTransientReadErrorPropagates(t *testing.T) {
	corrupt := errors.New("corrupt page")
	broken := &stubTier{
		name:  "broken",
		getFn: func(string) ([]byte, bool, error) { return nil, false, corrupt },
	}
	engine := newEngineOver(t, Config{}, []Tier{broken, mustMemoryTier(t, "backing")})

	var got string
	_, err := engine.Get(context.Background(), "key", &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, corrupt)
	assert.False(t, IsTransient(err))
}

func TestEngine_UnmarshalFailureIsSerializationError(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	require.NoError(t, fix.memory.Set(ctx, "bad", []byte("{not json"), 0))

	var got session
	_, err := fix.engine.Get(ctx, "bad", &got)
	require.Error(t, err)

	var serr *SerializationError
	assert.ErrorAs(t, err, &serr)
	assert.False(t, IsTransient(err))
}

func TestEngine_MarshalFailureIsSerializationError(t *testing.T) {
	fix := newTieredEngine(t, Config{})

	ok, err := fix.engine.Set(context.Background(), "bad", make(chan int))
	require.Error(t, err)
	assert.False(t, ok)

	var serr *SerializationError
	assert.ErrorAs(t, err, &serr)
}

// recordingObserver collects events; the mutex keeps it usable from batch
// operations.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnCacheEvent(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) snapshot() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

func TestEngine_ObserverSeesEachOperation(t *testing.T) {
	observer := &recordingObserver{}
	memory, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)
	engine := newEngineOver(t, Config{}, []Tier{memory}, WithObserver(observer))
	ctx := context.Background()

	_, err = engine.Set(ctx, "key", "value")
	require.NoError(t, err)
	var got string
	_, err = engine.Get(ctx, "key", &got)
	require.NoError(t, err)
	_, err = engine.Delete(ctx, "key")
	require.NoError(t, err)

	events := observer.snapshot()
	require.Len(t, events, 3)

	assert.Equal(t, OpSet, events[0].Operation)
	assert.Equal(t, "key", events[0].Key)
	assert.True(t, events[0].OK)
	assert.Equal(t, WriteThrough, events[0].Strategy)

	assert.Equal(t, OpGet, events[1].Operation)
	assert.True(t, events[1].Found)
	assert.Equal(t, "memory", events[1].Tier)

	assert.Equal(t, OpDelete, events[2].Operation)
	assert.True(t, events[2].Found)
}

type panickyObserver struct{}

func (panickyObserver) OnCacheEvent(Event) { panic("observer bug") }

func TestEngine_PanickingObserverDoesNotFailCalls(t *testing.T) {
	memory, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)
	engine := newEngineOver(t, Config{}, []Tier{memory}, WithObserver(panickyObserver{}))
	ctx := context.Background()

	ok, err := engine.Set(ctx, "key", "value")
	require.NoError(t, err)
	assert.True(t, ok)

	var got string
	res, err := engine.Get(ctx, "key", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "value", got)
}

func TestEngine_StatsAndReset(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "key", "value")
	require.NoError(t, err)

	var got string
	_, err = fix.engine.Get(ctx, "key", &got)
	require.NoError(t, err)
	_, err = fix.engine.Get(ctx, "absent", &got)
	require.NoError(t, err)

	snap := fix.engine.Stats()
	assert.Equal(t, fix.engine.ID(), snap.EngineID)
	assert.Equal(t, int64(1), snap.Totals.Sets)
	assert.Equal(t, int64(1), snap.Totals.Hits)
	assert.Equal(t, int64(1), snap.Totals.Misses)
	assert.InDelta(t, 0.5, snap.Totals.HitRate, 1e-9)
	assert.Equal(t, int64(1), snap.Operations[string(OpGet)].Hits)
	assert.Equal(t, int64(1), snap.Tiers["memory"].Hits)

	fix.engine.ResetStats()

	snap = fix.engine.Stats()
	assert.Equal(t, int64(0), snap.Totals.Hits)

	// Stored entries survive a stats reset.
	res, err := fix.engine.Get(ctx, "key", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
}

func TestEngine_MGet(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "k1", "v1")
	require.NoError(t, err)
	_, err = fix.engine.Set(ctx, "k2", "v2")
	require.NoError(t, err)

	results := fix.engine.MGet(ctx, []string{"k1", "k2", "k3"})
	require.Len(t, results, 3)

	assert.True(t, results["k1"].Found)
	assert.Equal(t, "memory", results["k1"].Tier)
	assert.JSONEq(t, `"v1"`, string(results["k1"].Value))
	assert.True(t, results["k2"].Found)
	assert.False(t, results["k3"].Found)
	assert.NoError(t, results["k3"].Err)
}

func TestEngine_MSet(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	results := fix.engine.MSet(ctx, map[string]any{
		"k1":  "v1",
		"k2":  "v2",
		"bad": make(chan int),
	})
	require.Len(t, results, 3)

	assert.True(t, results["k1"].OK)
	assert.NoError(t, results["k1"].Err)
	assert.True(t, results["k2"].OK)

	// One key's serialization failure never affects the others.
	assert.False(t, results["bad"].OK)
	var serr *SerializationError
	assert.ErrorAs(t, results["bad"].Err, &serr)

	var got string
	res, err := fix.engine.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "v1", got)
}

func TestEngine_MDelete(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	ctx := context.Background()

	_, err := fix.engine.Set(ctx, "k1", "v1")
	require.NoError(t, err)
	_, err = fix.engine.Set(ctx, "k2", "v2")
	require.NoError(t, err)

	results := fix.engine.MDelete(ctx, []string{"k1", "k2", "k3"})
	require.Len(t, results, 3)

	assert.True(t, results["k1"].Found)
	assert.True(t, results["k2"].Found)
	assert.False(t, results["k3"].Found)

	exists, err := fix.engine.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngine_ConcurrentSetsConverge(t *testing.T) {
	memory, err := NewMemoryTier(MemoryTierConfig{Name: "memory"}, nil)
	require.NoError(t, err)
	engine := newEngineOver(t, Config{}, []Tier{memory})
	ctx := context.Background()

	type payload struct {
		N   int    `json:"n"`
		Tag string `json:"tag"`
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.Set(ctx, "contested", payload{N: n, Tag: fmt.Sprintf("v%d", n)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// The surviving value is one writer's payload, never a blend.
	var got payload
	res, err := engine.Get(ctx, "contested", &got)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, fmt.Sprintf("v%d", got.N), got.Tag)
}

func TestEngine_TiersReportsChainOrder(t *testing.T) {
	fix := newTieredEngine(t, Config{})
	assert.Equal(t, []string{"memory", "redis"}, fix.engine.Tiers())
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	fix := newTieredEngine(t, Config{})

	assert.NoError(t, fix.engine.Close())
	assert.NoError(t, fix.engine.Close())
}

func mustMemoryTier(t *testing.T, name string) *MemoryTier {
	t.Helper()
	tier, err := NewMemoryTier(MemoryTierConfig{Name: name}, nil)
	require.NoError(t, err)
	return tier
}
