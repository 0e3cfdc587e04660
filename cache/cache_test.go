package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Errorf("Get(a) = %d, %v; want 10, true", v, ok)
	}
	if _, ok := c.Get("z"); ok {
		t.Error("Get(z) found a value that was never set")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d; want 2", c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	tests := []struct {
		name    string
		ops     []string // "s:k" sets k, "g:k" gets k
		evicted []string
		kept    []string
	}{
		{"insertion order", []string{"s:a", "s:b", "s:c"}, []string{"a"}, []string{"b", "c"}},
		{"get refreshes", []string{"s:a", "s:b", "g:a", "s:c"}, []string{"b"}, []string{"a", "c"}},
		{"set refreshes", []string{"s:a", "s:b", "s:a", "s:c"}, []string{"b"}, []string{"a", "c"}},
		{"repeated eviction", []string{"s:a", "s:b", "s:c", "s:d"}, []string{"a", "b"}, []string{"c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New[string, string](2)
			for _, op := range tt.ops {
				key := op[2:]
				if op[0] == 's' {
					c.Set(key, key)
				} else {
					c.Get(key)
				}
			}

			if got := c.Stats().Evictions; got != uint64(len(tt.evicted)) {
				t.Errorf("Evictions = %d; want %d", got, len(tt.evicted))
			}
			for _, k := range tt.evicted {
				if _, ok := c.Get(k); ok {
					t.Errorf("%s should have been evicted", k)
				}
			}
			for _, k := range tt.kept {
				if v, ok := c.Get(k); !ok || v != k {
					t.Errorf("Get(%s) = %q, %v", k, v, ok)
				}
			}
		})
	}
}

func TestCache_SingleEntry(t *testing.T) {
	c := New[int, int](1)
	for i := range 5 {
		c.Set(i, i)
		if v, ok := c.Get(i); !ok || v != i {
			t.Fatalf("Get(%d) = %d, %v", i, v, ok)
		}
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d; want 1", c.Len())
	}
}

func TestCache_Unbounded(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		c := New[int, int](capacity)
		for i := range 1000 {
			c.Set(i, i)
		}
		if c.Len() != 1000 {
			t.Errorf("capacity %d: Len() = %d; want 1000", capacity, c.Len())
		}
		if c.Stats().Evictions != 0 {
			t.Errorf("capacity %d: unbounded cache evicted", capacity)
		}
	}
}

func TestCache_Stats(t *testing.T) {
	c := New[string, int](10)
	if rate := c.Stats().HitRate(); rate != 0 {
		t.Errorf("HitRate() before lookups = %f", rate)
	}

	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Size != 1 || s.Capacity != 10 {
		t.Errorf("Stats() = %+v", s)
	}
	if rate := s.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("HitRate() = %f", rate)
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[string, int](50)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				key := fmt.Sprintf("k%d", (g*500+i)%100)
				c.Set(key, i)
				c.Get(key)
			}
		}()
	}
	wg.Wait()

	if n := c.Len(); n > 50 {
		t.Errorf("Len() = %d; exceeds capacity", n)
	}
}
