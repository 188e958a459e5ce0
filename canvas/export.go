// Package canvas turns raw drawing-surface rasters into transport-ready
// image payloads for the model API.
package canvas

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/inkmentor/inkmentor/llm"
)

const (
	jpegQuality         = 70
	jpegQualityFallback = 30

	// maxConcurrentExports bounds simultaneous image pipelines; exports are
	// CPU-bound resize/encode work.
	maxConcurrentExports = 3
)

// Exporter converts a drawing raster into a base64 JPEG payload.
//
// The pipeline: decode, normalize a dark canvas by inverting (strokes end up
// dark on light regardless of theme), grayscale (handwritten math is
// monochrome, and it shrinks the payload), fit to the maximum dimension, and
// JPEG-encode with a lower-quality fallback when the payload exceeds the API
// size limit.
type Exporter struct {
	maxDimension int
	maxBytes     int64
	sem          *semaphore.Weighted
}

// NewExporter creates an exporter. maxDimension is the longest allowed edge,
// maxBytes the upper bound for the encoded payload.
func NewExporter(maxDimension int, maxBytes int64) *Exporter {
	if maxDimension <= 0 {
		maxDimension = 1024
	}
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &Exporter{
		maxDimension: maxDimension,
		maxBytes:     maxBytes,
		sem:          semaphore.NewWeighted(maxConcurrentExports),
	}
}

// Export produces the image payload for a drawing, or nil if the drawing is
// empty (no raster, or a uniform blank image).
func (e *Exporter) Export(ctx context.Context, drawing []byte, darkCanvas bool) (*llm.ImageBlock, error) {
	if len(drawing) == 0 {
		return nil, nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "failed to acquire export slot")
	}
	defer e.sem.Release(1)

	img, err := imaging.Decode(bytes.NewReader(drawing))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode drawing")
	}
	if isBlank(img) {
		return nil, nil
	}

	if darkCanvas {
		img = imaging.Invert(img)
	}
	img = imaging.Grayscale(img)

	bounds := img.Bounds()
	if bounds.Dx() > e.maxDimension || bounds.Dy() > e.maxDimension {
		img = imaging.Fit(img, e.maxDimension, e.maxDimension, imaging.Lanczos)
	}

	payload, err := encodeJPEG(img, jpegQuality)
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > e.maxBytes {
		payload, err = encodeJPEG(img, jpegQualityFallback)
		if err != nil {
			return nil, err
		}
		if int64(len(payload)) > e.maxBytes {
			return nil, errors.Errorf("exported drawing is %d bytes, exceeds limit of %d", len(payload), e.maxBytes)
		}
	}

	return &llm.ImageBlock{
		MediaType: "image/jpeg",
		Data:      base64.StdEncoding.EncodeToString(payload),
	}, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Wrap(err, "failed to encode drawing")
	}
	return buf.Bytes(), nil
}

// isBlank reports whether every pixel of the image is identical, which is
// what an untouched drawing surface rasterizes to.
func isBlank(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}
	first := img.At(bounds.Min.X, bounds.Min.Y)
	fr, fg, fb, fa := first.RGBA()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if r != fr || g != fg || b != fb || a != fa {
				return false
			}
		}
	}
	return true
}
