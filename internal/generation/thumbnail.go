package generation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // providers may return JPEG despite asking for PNG
	"image/png"
	"strings"

	"github.com/nfnt/resize"
)

// ThumbnailSize bounds the longest side of portrait thumbnails.
const ThumbnailSize uint = 256

// Thumbnail scales an image so it fits in a size x size box, keeping its
// aspect ratio, and encodes the result as PNG. Images already small enough
// are re-encoded unchanged.
func Thumbnail(data []byte, size uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	thumb := resize.Thumbnail(size, size, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ThumbnailName derives the thumbnail file name from the artifact's.
func ThumbnailName(fileName string) string {
	return strings.TrimSuffix(fileName, ".png") + "_thumb.png"
}
