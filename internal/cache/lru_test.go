package cache

import (
	"testing"
	"time"
)

func TestLRUCacheTTLWithInjectedClock(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute, func() time.Time { return now })

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("get = %q, %v", v, ok)
	}

	now = now.Add(61 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry")
	}
}

func TestLRUCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewLRUCache[int](2, time.Hour, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b should survive")
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
}

func TestLRUCacheCleanExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Minute, func() time.Time { return now })

	c.Set("a", 1)
	c.Set("b", 2)
	now = now.Add(2 * time.Minute)
	c.Set("c", 3)

	if n := c.CleanExpired(); n != 2 {
		t.Fatalf("cleaned = %d, want 2", n)
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("fresh entry removed")
	}
}

func TestLRUCacheDelete(t *testing.T) {
	c := NewLRUCache[int](10, time.Hour, nil)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted entry still present")
	}
}
