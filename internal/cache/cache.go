// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

// Package cache provides the thread-safe in-memory TTL cache backing the
// engine's idempotency tokens: a sync adapter marks a source key done for
// one interval, and later ticks skip the source while the token lives.
package cache

import (
	"sync"
	"time"
)

// Entry represents a cached item with its expiration.
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Cache is a thread-safe in-memory key/value store with per-entry TTL.
// Entries expire automatically; callers never need an explicit sweep.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	stats   Stats
	done    chan struct{}
	once    sync.Once
}

// Stats tracks cache performance counters.
type Stats struct {
	mu          sync.RWMutex
	Hits        int64
	Misses      int64
	Evictions   int64
	TotalKeys   int64
	LastCleanup time.Time
}

// cleanupInterval is how often the background sweep removes expired entries.
// Expiry itself is enforced on read; the sweep only reclaims memory.
const cleanupInterval = 5 * time.Minute

// New creates a cache and starts its background cleanup goroutine.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		stats:   Stats{LastCleanup: time.Now()},
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Set stores value under key with the given TTL, overwriting any prior entry.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}

	c.stats.mu.Lock()
	c.stats.TotalKeys = int64(len(c.entries))
	c.stats.mu.Unlock()
}

// Get retrieves the value stored under key. Returns (nil, false) when the
// key is absent or its entry has expired; expired entries are removed.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.recordMiss()
		c.recordEviction()
		return nil, false
	}

	c.recordHit()
	return entry.Data, true
}

// GetTime retrieves a time.Time stored under key. A value of any other
// type is treated as a miss, not an error.
func (c *Cache) GetTime(key string) (time.Time, bool) {
	v, ok := c.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, false
	}
	return t, true
}

// Exists reports whether key holds a live entry.
func (c *Cache) Exists(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Remove deletes the entry under key. Safe to call for absent keys.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	c.recordEviction()
}

// Clear removes all entries in one map swap.
func (c *Cache) Clear() {
	c.mu.Lock()
	evictions := int64(len(c.entries))
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	c.stats.mu.Lock()
	c.stats.Evictions += evictions
	c.stats.TotalKeys = 0
	c.stats.mu.Unlock()
}

// Close stops the background cleanup goroutine. Entries remain readable.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return Stats{
		Hits:        c.stats.Hits,
		Misses:      c.stats.Misses,
		Evictions:   c.stats.Evictions,
		TotalKeys:   c.stats.TotalKeys,
		LastCleanup: c.stats.LastCleanup,
	}
}

// HitRate returns the cache hit rate as a percentage.
func (c *Cache) HitRate() float64 {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(stats.Hits) / float64(total) * 100.0
}

// cleanupLoop periodically removes expired entries until Close is called.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes all expired entries.
func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evictions := int64(0)
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evictions++
		}
	}

	c.stats.mu.Lock()
	c.stats.Evictions += evictions
	c.stats.TotalKeys = int64(len(c.entries))
	c.stats.LastCleanup = now
	c.stats.mu.Unlock()
}

func (c *Cache) recordHit() {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

func (c *Cache) recordEviction() {
	c.stats.mu.Lock()
	c.stats.Evictions++
	c.stats.mu.Unlock()
}
