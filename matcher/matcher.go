// Package matcher picks, for each edited image, the raw image whose
// fingerprint is nearest in Hamming distance.
package matcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"snapmatch/hashing"
)

// Status classifies the outcome for one edited image.
type Status string

const (
	StatusMatched Status = "matched"
	StatusNoMatch Status = "no_match"
	StatusError   Status = "error"
)

// Decision is the match outcome for one edited image. It is created once,
// never mutated, and handed to reporting by value.
type Decision struct {
	EditedPath string
	RawPath    string // empty unless StatusMatched
	Distance   int    // -1 unless StatusMatched
	Status     Status
	Err        error // set only for StatusError
}

// FindBest scans the whole catalog and returns the decision for one edited
// fingerprint. When several raw entries sit at the same minimum distance the
// earliest one in catalog order wins; that makes the result deterministic
// given the scan order, which is a documented policy, not an accident.
// A minimum above maxDistance is rejected outright: the decision records no
// raw path at all.
func FindBest(edited hashing.ImageHash, catalog []hashing.ImageHash, maxDistance int) Decision {
	bestIdx := -1
	bestDist := 65 // one past the maximum possible Hamming distance

	for i := range catalog {
		d := hashing.Distance(edited.Hash, catalog[i].Hash)
		if d < bestDist {
			bestDist = d
			bestIdx = i
			if d == 0 {
				break
			}
		}
	}

	if bestIdx < 0 || bestDist > maxDistance {
		return Decision{EditedPath: edited.Path, Distance: -1, Status: StatusNoMatch}
	}
	return Decision{
		EditedPath: edited.Path,
		RawPath:    catalog[bestIdx].Path,
		Distance:   bestDist,
		Status:     StatusMatched,
	}
}

// MatchAll produces one Decision per edited result, in input order. Edited
// files that failed to fingerprint come out as StatusError. Scans share the
// read-only catalog and run concurrently; each goroutine writes only its own
// slot.
func MatchAll(ctx context.Context, edited []hashing.Result, catalog []hashing.ImageHash, maxDistance, workers int) []Decision {
	decisions := make([]Decision, len(edited))

	g, _ := errgroup.WithContext(ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i := range edited {
		i := i
		g.Go(func() error {
			e := edited[i]
			if e.Err != nil {
				decisions[i] = Decision{EditedPath: e.Path, Distance: -1, Status: StatusError, Err: e.Err}
				return nil
			}
			decisions[i] = FindBest(hashing.ImageHash{Path: e.Path, Hash: e.Hash}, catalog, maxDistance)
			return nil
		})
	}
	g.Wait()

	return decisions
}
