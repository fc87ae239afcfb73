package transcode

import (
	"os"
	"strings"
	"testing"
)

func TestCacheStoreAndLookup(t *testing.T) {
	c, err := OpenCache(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer c.Close()

	key := Key("/books/a.mp3", 1000, 0, Mp3)
	if _, ok := c.Lookup(key); ok {
		t.Fatal("expected miss before store")
	}

	path, err := c.Store(key, Mp3, strings.NewReader("fake audio bytes"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cached file to exist: %v", err)
	}

	got, ok := c.Lookup(key)
	if !ok || got != path {
		t.Fatalf("want hit at %s, got %s ok=%v", path, got, ok)
	}
}

func TestCacheEvictsOverBudget(t *testing.T) {
	c, err := OpenCache(t.TempDir(), 10) // tiny budget forces eviction
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer c.Close()

	k1 := Key("/books/a.mp3", 1, 0, Mp3)
	k2 := Key("/books/b.mp3", 2, 0, Mp3)
	if _, err := c.Store(k1, Mp3, strings.NewReader("0123456789")); err != nil {
		t.Fatalf("store k1: %v", err)
	}
	if _, err := c.Store(k2, Mp3, strings.NewReader("0123456789")); err != nil {
		t.Fatalf("store k2: %v", err)
	}

	if _, ok := c.Lookup(k1); ok {
		t.Fatal("expected k1 to have been evicted")
	}
	if _, ok := c.Lookup(k2); !ok {
		t.Fatal("expected k2 (most recent) to survive")
	}
}
