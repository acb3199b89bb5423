package cache

import (
	"fmt"
	"image"
	"testing"

	"github.com/Skryldev/image-loader/core"
)

func key(i int) core.CacheKey {
	return core.CacheKey{URL: fmt.Sprintf("http://host/%d.png", i)}
}

func img(i int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, i+1, i+1))
}

func TestGetPut(t *testing.T) {
	c := NewMemory(4)
	if _, ok := c.Get(key(1)); ok {
		t.Fatal("hit on an empty cache")
	}
	want := img(1)
	c.Put(key(1), want)
	got, ok := c.Get(key(1))
	if !ok || got != want {
		t.Fatal("stored image not returned")
	}
}

func TestDistinctGeometriesAreDistinctEntries(t *testing.T) {
	c := NewMemory(8)
	base := core.CacheKey{URL: "http://host/a.png", Validator: "v1"}
	small := base
	small.Size = core.Size{Width: 32, Height: 32}
	large := base
	large.Size = core.Size{Width: 64, Height: 64}

	c.Put(small, img(1))
	c.Put(large, img(2))
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2 distinct entries", c.Len())
	}
	stale := base
	stale.Size = small.Size
	stale.Validator = "v2"
	if _, ok := c.Get(stale); ok {
		t.Error("entry with a different validator must miss")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewMemory(3)
	for i := 0; i < 3; i++ {
		c.Put(key(i), img(i))
	}
	// Touch 0 so 1 becomes least recent.
	if _, ok := c.Get(key(0)); !ok {
		t.Fatal("warm entry missing")
	}
	c.Put(key(3), img(3))

	if _, ok := c.Get(key(1)); ok {
		t.Error("least-recently-used entry survived eviction")
	}
	for _, i := range []int{0, 2, 3} {
		if _, ok := c.Get(key(i)); !ok {
			t.Errorf("entry %d evicted unexpectedly", i)
		}
	}
	if c.Len() != 3 {
		t.Errorf("len = %d, want 3", c.Len())
	}
}

func TestPutReplacesExisting(t *testing.T) {
	c := NewMemory(2)
	c.Put(key(1), img(1))
	want := img(9)
	c.Put(key(1), want)
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	if got, _ := c.Get(key(1)); got != want {
		t.Error("replacement image not returned")
	}
}

func TestZeroCapacityDisablesCache(t *testing.T) {
	c := NewMemory(0)
	c.Put(key(1), img(1))
	if _, ok := c.Get(key(1)); ok {
		t.Error("zero-capacity cache stored an entry")
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0", c.Len())
	}
}
