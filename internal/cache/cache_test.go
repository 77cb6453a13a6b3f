// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New()
	defer c.Close()

	c.Set("sync:crowd:DEV001", "done", time.Minute)

	v, ok := c.Get("sync:crowd:DEV001")
	if !ok {
		t.Fatal("expected hit for live entry")
	}
	if v.(string) != "done" {
		t.Errorf("expected 'done', got %v", v)
	}

	if _, ok := c.Get("sync:crowd:MISSING"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := New()
	defer c.Close()

	// A token within its TTL gates the source; after expiry the source
	// must be polled again.
	c.Set("sync:crowd:DEV001", time.Now(), 30*time.Millisecond)

	if !c.Exists("sync:crowd:DEV001") {
		t.Fatal("expected token to exist inside TTL")
	}

	time.Sleep(50 * time.Millisecond)

	if c.Exists("sync:crowd:DEV001") {
		t.Error("expected token to expire after TTL")
	}
}

func TestCache_GetTime_TypeMismatchIsMiss(t *testing.T) {
	c := New()
	defer c.Close()

	c.Set("key", "not-a-time", time.Minute)

	if _, ok := c.GetTime("key"); ok {
		t.Error("type mismatch on read must be a miss, not a value")
	}

	now := time.Now()
	c.Set("key", now, time.Minute)
	got, ok := c.GetTime("key")
	if !ok || !got.Equal(now) {
		t.Errorf("expected stored time %v, got %v ok=%v", now, got, ok)
	}
}

func TestCache_Remove(t *testing.T) {
	c := New()
	defer c.Close()

	c.Set("key", 1, time.Minute)
	c.Remove("key")

	if c.Exists("key") {
		t.Error("expected removed key to be absent")
	}

	// Removing an absent key must not panic.
	c.Remove("never-set")
}

func TestCache_Overwrite(t *testing.T) {
	c := New()
	defer c.Close()

	c.Set("key", 1, time.Minute)
	c.Set("key", 2, time.Minute)

	v, ok := c.Get("key")
	if !ok || v.(int) != 2 {
		t.Errorf("expected overwritten value 2, got %v ok=%v", v, ok)
	}
}

func TestCache_Stats(t *testing.T) {
	c := New()
	defer c.Close()

	c.Set("a", 1, time.Minute)
	c.Get("a")  // hit
	c.Get("b")  // miss
	c.Get("b")  // miss

	stats := c.GetStats()
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 2 {
		t.Errorf("expected 2 misses, got %d", stats.Misses)
	}
	if rate := c.HitRate(); rate < 33.0 || rate > 34.0 {
		t.Errorf("expected hit rate ~33.3, got %.2f", rate)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("sync:traffic:city-%d", n)
				c.Set(key, time.Now(), time.Minute)
				c.Get(key)
				c.Exists(key)
			}
		}(i)
	}
	wg.Wait()
}
