package hashing_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"snapmatch/cache"
	"snapmatch/hashing"
)

// stubLoader serves synthetic images keyed by file name and fails files
// whose name starts with "bad".
type stubLoader struct{}

func (stubLoader) Decode(path string) (image.Image, error) {
	name := filepath.Base(path)
	if len(name) >= 3 && name[:3] == "bad" {
		return nil, errors.New("decode failed: " + name)
	}
	// Distinct deterministic image per name.
	var seed uint64
	for _, c := range name {
		seed = seed*131 + uint64(c)
	}
	return imageWithHash(seed), nil
}

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for i, name := range names {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(fmt.Sprintf("payload-%d", i)), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestHashAllWorkerCountInvariance(t *testing.T) {
	files := writeFiles(t, "a.jpg", "b.jpg", "bad1.jpg", "c.jpg", "d.jpg", "bad2.jpg", "e.jpg")

	sequential := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 1, Loader: stubLoader{}})

	for _, workers := range []int{2, 4, 8} {
		parallel := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: workers, Loader: stubLoader{}})
		if len(parallel) != len(sequential) {
			t.Fatalf("workers=%d: got %d results, want %d", workers, len(parallel), len(sequential))
		}
		for i := range sequential {
			if parallel[i].Path != sequential[i].Path || parallel[i].Hash != sequential[i].Hash {
				t.Errorf("workers=%d result %d: got (%s, %x), want (%s, %x)",
					workers, i, parallel[i].Path, parallel[i].Hash, sequential[i].Path, sequential[i].Hash)
			}
			if (parallel[i].Err == nil) != (sequential[i].Err == nil) {
				t.Errorf("workers=%d result %d: error presence differs", workers, i)
			}
		}
	}
}

func TestHashAllPreservesInputOrder(t *testing.T) {
	files := writeFiles(t, "z.jpg", "a.jpg", "m.jpg")
	results := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 3, Loader: stubLoader{}})

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.Path
	}
	if !reflect.DeepEqual(got, files) {
		t.Errorf("result order %v, want input order %v", got, files)
	}
}

func TestHashAllIsolatesFailures(t *testing.T) {
	files := writeFiles(t, "ok1.jpg", "bad.jpg", "ok2.jpg")
	results := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 2, Loader: stubLoader{}})

	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("healthy files must not inherit the bad file's error: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatal("expected an error for the undecodable file")
	}
	if len(results) != len(files) {
		t.Fatalf("got %d results, want one per input (%d)", len(results), len(files))
	}
}

func TestHashAllMissingFileIsPerFileError(t *testing.T) {
	files := writeFiles(t, "ok.jpg")
	files = append(files, filepath.Join(t.TempDir(), "gone.jpg"))

	results := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 1, Loader: stubLoader{}})
	if results[0].Err != nil {
		t.Fatalf("unexpected error for existing file: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatal("expected a stat error for the missing file")
	}
}

func TestHashAllUsesCacheAcrossRuns(t *testing.T) {
	files := writeFiles(t, "a.jpg", "b.jpg")
	c := cache.Open(filepath.Join(t.TempDir(), "cache.db"), hashing.Version, zerolog.Nop())
	defer c.Close()

	first := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 1, Cache: c, Loader: stubLoader{}})
	for i, r := range first {
		if r.CacheHit {
			t.Errorf("first run result %d unexpectedly served from cache", i)
		}
	}

	second := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 1, Cache: c, Loader: stubLoader{}})
	for i, r := range second {
		if !r.CacheHit {
			t.Errorf("second run result %d not served from cache", i)
		}
		if r.Hash != first[i].Hash {
			t.Errorf("cached hash %x differs from computed %x", r.Hash, first[i].Hash)
		}
	}

	// Touching the file invalidates its entry; the other stays cached.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(files[0], future, future); err != nil {
		t.Fatal(err)
	}
	third := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 1, Cache: c, Loader: stubLoader{}})
	if third[0].CacheHit {
		t.Error("modified file must be recomputed")
	}
	if !third[1].CacheHit {
		t.Error("untouched file should still come from cache")
	}
}

func TestHashAllNilCache(t *testing.T) {
	files := writeFiles(t, "a.jpg")
	results := hashing.HashAll(context.Background(), files, hashing.Pool{Workers: 1, Loader: stubLoader{}})
	if results[0].Err != nil || results[0].CacheHit {
		t.Fatalf("nil cache run: %+v", results[0])
	}
}

func TestHashAllCancelledContextStillYieldsAllResults(t *testing.T) {
	files := writeFiles(t, "a.jpg", "b.jpg", "c.jpg")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := hashing.HashAll(ctx, files, hashing.Pool{Workers: 1, Loader: stubLoader{}})
	if len(results) != len(files) {
		t.Fatalf("got %d results, want %d", len(results), len(files))
	}
	for i, r := range results {
		if r.Path != files[i] {
			t.Errorf("result %d path %s, want %s", i, r.Path, files[i])
		}
		if r.Err == nil {
			t.Errorf("result %d should carry the cancellation error", i)
		}
	}
}
