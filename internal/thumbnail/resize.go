package thumbnail

import (
	"bytes"
	"fmt"
	"math"

	"github.com/abduss/imagevault/internal/asset"
	"github.com/disintegration/imaging"
	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// ContentType is the MIME type of every rendered thumbnail.
const ContentType = "image/jpeg"

// RenderOptions controls thumbnail rendering.
type RenderOptions struct {
	Width   int
	Height  int
	Quality int
}

// FitWithin scales (srcW, srcH) so neither side exceeds the bound while
// keeping the aspect ratio. Both results are at least 1.
func FitWithin(srcW, srcH, boundW, boundH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || boundW <= 0 || boundH <= 0 {
		return 0, 0
	}
	scale := math.Min(float64(boundW)/float64(srcW), float64(boundH)/float64(srcH))
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	return max(w, 1), max(h, 1)
}

// Render decodes data, fits it within the bound with a Lanczos filter and
// encodes it as JPEG. Unreadable input wraps asset.ErrDecode.
func Render(data []byte, opts RenderOptions) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source: %w: %w", asset.ErrDecode, err)
	}
	bounds := src.Bounds()
	w, h := FitWithin(bounds.Dx(), bounds.Dy(), opts.Width, opts.Height)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decode source: %w: empty image", asset.ErrDecode)
	}

	dst := imaging.Resize(src, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w: %w", asset.ErrDecode, err)
	}
	return buf.Bytes(), nil
}
