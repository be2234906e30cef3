// Package imageprocessor decodes image files into pixel grids. Loading goes
// through a per-extension registry of ImageLoader implementations so RAW
// formats, which need their embedded preview extracted, take a different
// path from ordinary bitmap formats.
package imageprocessor

import (
	"errors"
	"image"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ErrDecode marks a per-file decode failure. Callers isolate these to the
// file that produced them; they never abort a run.
var ErrDecode = errors.New("image decode failed")

// Registry routes a file to the loader registered for its extension.
type Registry struct {
	loaders       map[string]ImageLoader
	defaultLoader ImageLoader
	raw           *RawImageLoader
}

// NewRegistry builds a registry with the standard and RAW loaders installed.
func NewRegistry(log zerolog.Logger) *Registry {
	std := NewStandardImageLoader()
	raw := NewRawImageLoader(log)

	r := &Registry{
		loaders:       make(map[string]ImageLoader),
		defaultLoader: std,
		raw:           raw,
	}
	for _, ext := range std.Extensions() {
		r.loaders[ext] = std
	}
	for _, ext := range raw.Extensions() {
		r.loaders[ext] = raw
	}
	return r
}

// CanLoad reports whether some registered loader handles the file.
func (r *Registry) CanLoad(path string) bool {
	_, ok := r.loaders[normalizeExt(path)]
	return ok
}

// Decode loads the image at path through the registered loader. Errors wrap
// ErrDecode.
func (r *Registry) Decode(path string) (image.Image, error) {
	loader, ok := r.loaders[normalizeExt(path)]
	if !ok {
		loader = r.defaultLoader
	}
	return loader.Decode(path)
}

// Close shuts down loader-held resources (the exiftool subprocess).
func (r *Registry) Close() {
	r.raw.Close()
}

func normalizeExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
