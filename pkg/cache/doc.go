// Package cache implements a multi-tier caching engine: an in-process
// memory tier with LRU eviction and lazy TTL expiry layered in front of one
// or more remote key-value tiers, unified behind a single API.
//
// Reads walk the tier chain fastest-first and promote hits into faster
// tiers in the background. Writes follow a per-call strategy: write-through
// (synchronous to every tier), write-back (synchronous to the fastest tier,
// deferred to the rest), or write-around (skip memory tiers). Per-tier and
// per-operation statistics are collected throughout, and an optional
// Observer receives an event after every completed operation.
//
// Transient tier failures degrade the cache instead of failing callers: an
// unavailable tier reads as a miss and writes as a logged failed write. A
// full outage degrades to always-miss, never to per-call errors.
package cache
