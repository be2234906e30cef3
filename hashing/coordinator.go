package hashing

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"snapmatch/cache"
	"snapmatch/runenv"
)

// Loader decodes an image file into a pixel grid. Satisfied by
// *imageprocessor.Registry.
type Loader interface {
	Decode(path string) (image.Image, error)
}

// Result is the outcome of fingerprinting one file. Exactly one Result is
// produced per input path, in input order; a failed file carries its error
// here and affects nothing else.
type Result struct {
	Path     string
	Hash     uint64
	CacheHit bool
	Err      error
}

// Pool configures a HashAll run.
type Pool struct {
	// Workers is the fan-out degree. 0 picks a count from the machine,
	// 1 runs strictly sequentially with no goroutines.
	Workers int

	// Cache may be nil, in which case every file is computed fresh.
	Cache *cache.Cache

	Loader Loader

	// Label names the progress bar shown on interactive terminals.
	Label string
}

// HashAll fingerprints every file in files and returns one Result per file,
// ordered exactly like the input regardless of worker count or completion
// order. Workers only read the cache; newly computed entries are written in
// a single batch after all workers finish.
func HashAll(ctx context.Context, files []string, p Pool) []Result {
	workers := p.Workers
	if workers <= 0 {
		workers = runenv.WorkerCount()
	}

	results := make([]Result, len(files))
	fresh := make([]*cache.Entry, len(files))
	bar := newProgress(len(files), p.Label)

	if workers == 1 {
		for i, path := range files {
			if err := ctx.Err(); err != nil {
				markCancelled(results, files, i, err)
				break
			}
			results[i], fresh[i] = hashOne(path, p.Cache, p.Loader)
			bar.Add(1)
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					results[i], fresh[i] = hashOne(files[i], p.Cache, p.Loader)
					bar.Add(1)
				}
			}()
		}
	dispatch:
		for i := range files {
			select {
			case <-ctx.Done():
				markCancelled(results, files, i, ctx.Err())
				break dispatch
			case jobs <- i:
			}
		}
		close(jobs)
		wg.Wait()
	}
	bar.Finish()

	// Single-writer rule: all cache writes happen here, after collection.
	var entries []cache.Entry
	for _, e := range fresh {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	p.Cache.StoreBatch(entries)

	return results
}

// hashOne resolves a single file: cache lookup first, then decode and
// fingerprint on a miss. The returned entry is non-nil only for fresh
// computations that should be persisted.
func hashOne(path string, c *cache.Cache, loader Loader) (Result, *cache.Entry) {
	res := Result{Path: path}

	id, err := cache.IdentityFor(path)
	if err != nil {
		res.Err = err
		return res, nil
	}
	if h, ok := c.Lookup(id); ok {
		res.Hash = h
		res.CacheHit = true
		return res, nil
	}

	img, err := loader.Decode(path)
	if err != nil {
		res.Err = err
		return res, nil
	}
	res.Hash = Fingerprint(img)
	return res, &cache.Entry{ID: id, Hash: res.Hash}
}

// markCancelled fills every result from index i on with err, so the output
// still carries one entry per input file.
func markCancelled(results []Result, files []string, i int, err error) {
	for ; i < len(files); i++ {
		if results[i].Path == "" {
			results[i] = Result{Path: files[i], Err: err}
		}
	}
}

// progress wraps the bar so non-TTY runs stay silent.
type progress struct {
	bar *progressbar.ProgressBar
}

func newProgress(total int, label string) progress {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return progress{}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return progress{bar: bar}
}

func (p progress) Add(n int) {
	if p.bar != nil {
		p.bar.Add(n)
	}
}

func (p progress) Finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
