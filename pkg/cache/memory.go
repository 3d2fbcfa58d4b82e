package cache

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layercache/layercache/pkg/observability"
)

// MemoryTierConfig configures an in-process tier.
type MemoryTierConfig struct {
	Name string `mapstructure:"name" json:"name"`

	// MaxEntries and MaxBytes bound the tier; 0 means unbounded. Both are
	// enforced together: eviction runs until the two are satisfied.
	MaxEntries int   `mapstructure:"max_entries" json:"max_entries"`
	MaxBytes   int64 `mapstructure:"max_bytes" json:"max_bytes"`

	// DefaultTTL applies when a write carries no TTL; 0 means entries
	// never expire.
	DefaultTTL time.Duration `mapstructure:"default_ttl" json:"default_ttl"`

	// CleanupInterval enables an opportunistic background sweep of expired
	// entries; 0 disables it. Lazy expiry on access keeps the tier correct
	// either way.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"`
}

// memoryEntry is one stored value plus the bookkeeping eviction needs.
type memoryEntry struct {
	value          []byte
	expireAt       time.Time // zero means never
	insertedAt     time.Time
	lastAccessedAt time.Time
	accessCounter  uint64
	sizeBytes      int64
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryTier is the in-process cache tier: a bounded map with LRU eviction
// and lazy TTL expiry. A single mutex guards the map, the byte accounting,
// and the access counter, so read touches and evictions never interleave.
type MemoryTier struct {
	name       string
	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[string]*memoryEntry
	// usedBytes is the sum of sizeBytes over all live entries.
	usedBytes int64
	// counter is strictly increasing; it orders entries for eviction and
	// makes ties impossible.
	counter uint64

	evictions atomic.Int64

	patterns *patternMatcher
	nowFn    func() time.Time
	logger   observability.Logger

	stopCh    chan struct{}
	janitorWg sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryTier builds a memory tier. A nil logger falls back to the no-op
// logger.
func NewMemoryTier(cfg MemoryTierConfig, logger observability.Logger) (*MemoryTier, error) {
	if cfg.Name == "" {
		cfg.Name = "memory"
	}
	if cfg.MaxEntries < 0 {
		return nil, &ConfigurationError{Field: "max_entries", Reason: "must not be negative"}
	}
	if cfg.MaxBytes < 0 {
		return nil, &ConfigurationError{Field: "max_bytes", Reason: "must not be negative"}
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	m := &MemoryTier{
		name:       cfg.Name,
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		defaultTTL: cfg.DefaultTTL,
		entries:    make(map[string]*memoryEntry),
		patterns:   newPatternMatcher(),
		nowFn:      time.Now,
		logger:     logger,
	}

	if cfg.CleanupInterval > 0 {
		m.stopCh = make(chan struct{})
		m.janitorWg.Add(1)
		go m.janitor(cfg.CleanupInterval)
	}

	return m, nil
}

// Name implements Tier.Name
func (m *MemoryTier) Name() string {
	return m.name
}

// Kind implements Tier.Kind
func (m *MemoryTier) Kind() TierKind {
	return KindMemory
}

// Get returns the payload for key. An expired entry is purged and reported
// as a miss; a live hit refreshes the entry's access bookkeeping.
func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}

	now := m.nowFn()
	if entry.expired(now) {
		m.removeLocked(key, entry)
		return nil, false, nil
	}

	entry.lastAccessedAt = now
	m.counter++
	entry.accessCounter = m.counter
	return entry.value, true, nil
}

// Set stores the payload, evicting least-recently-used entries until both
// capacity bounds hold. Overflow never errors.
func (m *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	size := int64(len(key) + len(value))

	// An overwrite releases the old entry's budget before the bounds are
	// rechecked.
	if old, ok := m.entries[key]; ok {
		m.removeLocked(key, old)
	}

	m.evictUntilFitsLocked(size)

	entry := &memoryEntry{
		value:          value,
		insertedAt:     now,
		lastAccessedAt: now,
		sizeBytes:      size,
	}
	if ttl > 0 {
		entry.expireAt = now.Add(ttl)
	}
	m.counter++
	entry.accessCounter = m.counter

	m.entries[key] = entry
	m.usedBytes += size
	return nil
}

// Delete implements Tier.Delete
func (m *MemoryTier) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	m.removeLocked(key, entry)
	return true, nil
}

// Keys lists the live keys matching a glob pattern. Expired entries
// encountered during the scan are purged.
func (m *MemoryTier) Keys(_ context.Context, pattern string) ([]string, error) {
	all := matchAll(pattern)
	var re *regexp.Regexp
	if !all {
		var err error
		re, err = m.patterns.compile(pattern)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	keys := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if entry.expired(now) {
			m.removeLocked(key, entry)
			continue
		}
		if all || re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Flush implements Tier.Flush
func (m *MemoryTier) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*memoryEntry)
	m.usedBytes = 0
	return nil
}

// Size reports the number of live (unexpired) entries.
func (m *MemoryTier) Size(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	count := 0
	for _, entry := range m.entries {
		if !entry.expired(now) {
			count++
		}
	}
	return count, nil
}

// Close stops the janitor, if one is running.
func (m *MemoryTier) Close() error {
	m.closeOnce.Do(func() {
		if m.stopCh != nil {
			close(m.stopCh)
			m.janitorWg.Wait()
		}
	})
	return nil
}

// UsedBytes reports the tracked memory usage: the sum of sizeBytes over all
// entries, including expired ones not yet purged.
func (m *MemoryTier) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedBytes
}

// Evictions reports how many entries capacity pressure has removed.
func (m *MemoryTier) Evictions() int64 {
	return m.evictions.Load()
}

func (m *MemoryTier) removeLocked(key string, entry *memoryEntry) {
	delete(m.entries, key)
	m.usedBytes -= entry.sizeBytes
}

// evictUntilFitsLocked removes lowest-accessCounter entries one at a time
// until an insert of incoming bytes satisfies both bounds. A payload larger
// than maxBytes on its own is stored after the map empties: eviction is the
// only overflow response.
func (m *MemoryTier) evictUntilFitsLocked(incoming int64) {
	for {
		overEntries := m.maxEntries > 0 && len(m.entries) >= m.maxEntries
		overBytes := m.maxBytes > 0 && m.usedBytes+incoming > m.maxBytes
		if !overEntries && !overBytes {
			return
		}
		if len(m.entries) == 0 {
			return
		}
		m.evictLowestLocked()
	}
}

func (m *MemoryTier) evictLowestLocked() {
	var victimKey string
	var victim *memoryEntry
	for key, entry := range m.entries {
		if victim == nil || entry.accessCounter < victim.accessCounter {
			victimKey = key
			victim = entry
		}
	}
	if victim == nil {
		return
	}
	m.removeLocked(victimKey, victim)
	m.evictions.Add(1)
	m.logger.Debug("evicted cache entry", map[string]interface{}{
		"tier":       m.name,
		"key":        victimKey,
		"size_bytes": victim.sizeBytes,
	})
}

// purgeExpired removes every expired entry and reports how many went.
func (m *MemoryTier) purgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	purged := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			m.removeLocked(key, entry)
			purged++
		}
	}
	return purged
}

func (m *MemoryTier) janitor(interval time.Duration) {
	defer m.janitorWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if purged := m.purgeExpired(); purged > 0 {
				m.logger.Debug("purged expired cache entries", map[string]interface{}{
					"tier":  m.name,
					"count": purged,
				})
			}
		case <-m.stopCh:
			return
		}
	}
}
