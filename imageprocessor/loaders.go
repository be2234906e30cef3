package imageprocessor

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageLoader decodes one family of image formats into a pixel grid.
type ImageLoader interface {
	// Extensions lists the lowercase file extensions this loader handles.
	Extensions() []string

	// Decode loads the file into an image. Failures wrap ErrDecode.
	Decode(path string) (image.Image, error)
}

// StandardImageLoader handles ordinary bitmap formats. OpenCV does the
// decoding when it can (it is fast and covers some encodings the pure-Go
// decoders reject); otherwise the registered Go decoders take over.
type StandardImageLoader struct{}

// NewStandardImageLoader creates a loader for common bitmap formats.
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{}
}

func (l *StandardImageLoader) Extensions() []string {
	return []string{".jpg", ".jpeg", ".jfif", ".png", ".gif", ".bmp", ".webp", ".tif", ".tiff"}
}

func (l *StandardImageLoader) Decode(path string) (image.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	if !mat.Empty() {
		defer mat.Close()
		if img, err := mat.ToImage(); err == nil {
			return img, nil
		}
	}
	return decodeWithGo(path)
}

// decodeWithGo decodes via the image decoders registered above.
func decodeWithGo(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrDecode, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrDecode, err)
	}
	return img, nil
}
