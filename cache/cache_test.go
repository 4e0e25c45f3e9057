package cache_test

import (
	"testing"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/cache"
)

func TestCacheSetGetDelete(t *testing.T) {
	c := cache.NewCache[string, int](2, 4)

	c.Set([]rs.KeyValuePair[string, int]{
		{Key: "a", Value: 1},
		{Key: "b", Value: 2},
	})

	got := c.Get([]string{"a", "b", "missing"})
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("unexpected values: %v", got)
	}
	if got[2] != 0 {
		t.Errorf("expected zero value for missing key, got %d", got[2])
	}

	if c.Count() != 2 {
		t.Errorf("expected count 2, got %d", c.Count())
	}

	c.Delete([]string{"a"})
	if c.Count() != 1 {
		t.Errorf("expected count 1 after delete, got %d", c.Count())
	}
	got = c.Get([]string{"a"})
	if got[0] != 0 {
		t.Errorf("expected zero value after delete, got %d", got[0])
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := cache.NewCache[string, int](1, 2)

	c.Set([]rs.KeyValuePair[string, int]{{Key: "a", Value: 1}})
	c.Set([]rs.KeyValuePair[string, int]{{Key: "b", Value: 2}})
	// Touch "a" so it is more recent than "b".
	c.Get([]string{"a"})
	c.Set([]rs.KeyValuePair[string, int]{{Key: "c", Value: 3}})

	if c.IsFull() {
		t.Errorf("expected cache not to report full immediately after eviction settles")
	}
	got := c.Get([]string{"b"})
	if got[0] != 0 {
		t.Errorf("expected \"b\" to have been evicted as least recently used, got %d", got[0])
	}
	got = c.Get([]string{"a"})
	if got[0] != 1 {
		t.Errorf("expected \"a\" to survive eviction, got %d", got[0])
	}
}

func TestCacheClear(t *testing.T) {
	c := cache.NewCache[string, int](1, 4)
	c.Set([]rs.KeyValuePair[string, int]{{Key: "a", Value: 1}})
	c.Clear()
	if c.Count() != 0 {
		t.Errorf("expected count 0 after Clear, got %d", c.Count())
	}
}
