package cache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"snapmatch/cache"
)

func tempFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func openCache(t *testing.T, version int) *cache.Cache {
	t.Helper()
	c := cache.Open(filepath.Join(t.TempDir(), "cache.db"), version, zerolog.Nop())
	t.Cleanup(c.Close)
	return c
}

func TestStoreThenLookupRoundTrip(t *testing.T) {
	c := openCache(t, 1)
	p := tempFile(t, "img.jpg", "pixels")

	id, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}
	c.StoreBatch([]cache.Entry{{ID: id, Hash: 0xdeadbeefcafef00d}})

	got, ok := c.Lookup(id)
	if !ok {
		t.Fatal("expected a cache hit for an unchanged identity")
	}
	if got != 0xdeadbeefcafef00d {
		t.Fatalf("Lookup() = %x, want %x", got, uint64(0xdeadbeefcafef00d))
	}
}

func TestLookupMissesOnChangedMtime(t *testing.T) {
	c := openCache(t, 1)
	p := tempFile(t, "img.jpg", "pixels")

	id, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}
	c.StoreBatch([]cache.Entry{{ID: id, Hash: 42}})

	future := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(p, future, future); err != nil {
		t.Fatal(err)
	}
	changed, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(changed); ok {
		t.Fatal("changed mtime must invalidate the cached fingerprint")
	}
	// The stale identity itself still resolves; only the fresh one misses.
	if _, ok := c.Lookup(id); !ok {
		t.Fatal("original identity row should still be present")
	}
}

func TestLookupMissesOnChangedSize(t *testing.T) {
	c := openCache(t, 1)
	p := tempFile(t, "img.jpg", "pixels")

	id, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}
	c.StoreBatch([]cache.Entry{{ID: id, Hash: 42}})

	id.Size++
	if _, ok := c.Lookup(id); ok {
		t.Fatal("changed size must invalidate the cached fingerprint")
	}
}

func TestLookupMissesOnVersionBump(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cache.db")
	p := tempFile(t, "img.jpg", "pixels")
	id, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}

	v1 := cache.Open(dbPath, 1, zerolog.Nop())
	v1.StoreBatch([]cache.Entry{{ID: id, Hash: 42}})
	v1.Close()

	v2 := cache.Open(dbPath, 2, zerolog.Nop())
	defer v2.Close()
	if _, ok := v2.Lookup(id); ok {
		t.Fatal("fingerprints from another algorithm version must never be trusted")
	}
}

func TestStoreBatchOverwritesStaleRow(t *testing.T) {
	c := openCache(t, 1)
	p := tempFile(t, "img.jpg", "pixels")

	id, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}
	c.StoreBatch([]cache.Entry{{ID: id, Hash: 1}})

	id2 := id
	id2.MtimeNS += 5
	c.StoreBatch([]cache.Entry{{ID: id2, Hash: 2}})

	if _, ok := c.Lookup(id); ok {
		t.Fatal("old identity should have been replaced (path is the primary key)")
	}
	got, ok := c.Lookup(id2)
	if !ok || got != 2 {
		t.Fatalf("Lookup() = %x, %v; want 2, true", got, ok)
	}
}

func TestOpenDegradesWhenUnavailable(t *testing.T) {
	// Directory that does not exist: the cache must disable itself, not fail.
	c := cache.Open(filepath.Join(t.TempDir(), "missing", "sub", "cache.db"), 1, zerolog.Nop())
	defer c.Close()

	p := tempFile(t, "img.jpg", "pixels")
	id, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}
	c.StoreBatch([]cache.Entry{{ID: id, Hash: 42}})
	if _, ok := c.Lookup(id); ok {
		t.Fatal("disabled cache must always miss")
	}
}

func TestOpenDegradesWhenLockedByAnotherRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	first := cache.Open(dbPath, 1, zerolog.Nop())
	defer first.Close()

	second := cache.Open(dbPath, 1, zerolog.Nop())
	defer second.Close()

	p := tempFile(t, "img.jpg", "pixels")
	id, err := cache.IdentityFor(p)
	if err != nil {
		t.Fatal(err)
	}
	second.StoreBatch([]cache.Entry{{ID: id, Hash: 42}})
	if _, ok := second.Lookup(id); ok {
		t.Fatal("a cache that lost the lock race must act disabled")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *cache.Cache
	c.StoreBatch([]cache.Entry{{}})
	if _, ok := c.Lookup(cache.Identity{Path: "x"}); ok {
		t.Fatal("nil cache must miss")
	}
	c.Close()
}

func TestIdentityForMissingFile(t *testing.T) {
	if _, err := cache.IdentityFor(filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
