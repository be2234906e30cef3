// Package scanner finds image files under a directory tree. The walk order
// (lexical, depth-first) is the catalog order every downstream tie-break
// depends on, so it must stay deterministic.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".jfif": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".webp": {},
	".tif":  {},
	".tiff": {},
	".dng":  {},
	".raf":  {},
	".arw":  {},
	".nef":  {},
	".cr2":  {},
	".cr3":  {},
	".nrw":  {},
	".srf":  {},
}

// IsImageFile reports whether the path has a supported image extension.
func IsImageFile(path string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ScanImages walks root recursively and returns the absolute paths of all
// supported image files, in lexical walk order. Unreadable subtrees are
// logged and skipped; only a failure on root itself is an error.
func ScanImages(root string, log zerolog.Logger) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}

	var paths []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == absRoot {
				return walkErr
			}
			log.Warn().Str("path", path).Err(walkErr).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && IsImageFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return paths, nil
}
