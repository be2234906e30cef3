package imageprocessor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/rs/zerolog"
)

// Preview tags in order of preference. The larger previews track the
// camera's own JPEG rendering most closely, which is what edited exports
// were usually derived from.
var previewTags = []string{
	"JpgFromRaw",
	"LargePreviewImage",
	"PreviewImage",
	"OtherImage",
	"ThumbnailImage",
}

// RawImageLoader decodes camera RAW files by extracting the embedded
// preview JPEG with exiftool and decoding that. Full RAW development is
// pointless here: the fingerprint only needs a perceptually faithful
// rendering, and the preview is the rendering the camera itself produced.
type RawImageLoader struct {
	log zerolog.Logger

	// exiftool runs as a single stay-open subprocess; calls are serialized.
	mu      sync.Mutex
	once    sync.Once
	et      *exiftool.Exiftool
	initErr error
}

// NewRawImageLoader creates a loader for camera RAW formats. The exiftool
// subprocess starts lazily on first decode.
func NewRawImageLoader(log zerolog.Logger) *RawImageLoader {
	return &RawImageLoader{log: log}
}

func (l *RawImageLoader) Extensions() []string {
	return []string{".dng", ".raf", ".arw", ".nef", ".cr2", ".cr3", ".nrw", ".srf"}
}

func (l *RawImageLoader) Decode(path string) (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.once.Do(func() {
		l.et, l.initErr = exiftool.NewExiftool(exiftool.ExtractAllBinaryMetadata())
	})
	if l.initErr != nil {
		return nil, fmt.Errorf("%s: %w: exiftool unavailable: %w", path, ErrDecode, l.initErr)
	}

	metas := l.et.ExtractMetadata(path)
	if len(metas) == 0 {
		return nil, fmt.Errorf("%s: %w: no metadata extracted", path, ErrDecode)
	}
	meta := metas[0]
	if meta.Err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrDecode, meta.Err)
	}

	for _, tag := range previewTags {
		val, err := meta.GetString(tag)
		if err != nil {
			continue
		}
		payload, ok := strings.CutPrefix(val, "base64:")
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			l.log.Debug().Str("path", path).Str("tag", tag).Err(err).Msg("preview payload not decodable")
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			l.log.Debug().Str("path", path).Str("tag", tag).Err(err).Msg("preview image not decodable")
			continue
		}
		l.log.Debug().Str("path", path).Str("tag", tag).Msg("decoded RAW preview")
		return img, nil
	}

	return nil, fmt.Errorf("%s: %w: no usable embedded preview", path, ErrDecode)
}

// Close stops the exiftool subprocess.
func (l *RawImageLoader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.et != nil {
		l.et.Close()
		l.et = nil
	}
}
