package artproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG format support

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	// maxDimension caps either side of an uploaded image. The presence
	// channel renders thumbnails, anything bigger is wasted upload time.
	maxDimension = 512
	jpegQuality  = 85
)

// Normalizer re-encodes fetched artwork into a compact JPEG before upload
type Normalizer struct {
	logger *zap.Logger
}

// New creates a new artwork normalizer
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize decodes imageData, scales it down to fit maxDimension if needed,
// and re-encodes it as JPEG. Returns the normalized bytes or an error when
// the input is not a decodable image.
func (n *Normalizer) Normalize(imageData []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode artwork: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("artwork has invalid dimensions %dx%d", bounds.Dx(), bounds.Dy())
	}

	if bounds.Dx() > maxDimension || bounds.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode artwork: %w", err)
	}

	n.logger.Debug("Artwork normalized",
		zap.String("sourceFormat", format),
		zap.Int("bytesIn", len(imageData)),
		zap.Int("bytesOut", buf.Len()))

	return buf.Bytes(), nil
}
