package canvas

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// sketch draws a dark diagonal stroke on a white surface.
func sketch(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	for i := 0; i < width && i < height; i++ {
		img.Set(i, i, color.Black)
	}
	return img
}

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyDrawing_ReturnsNil", func(t *testing.T) {
		e := NewExporter(1024, 5*1024*1024)
		block, err := e.Export(ctx, nil, false)
		require.NoError(t, err)
		assert.Nil(t, block)
	})

	t.Run("BlankSurface_ReturnsNil", func(t *testing.T) {
		blank := image.NewRGBA(image.Rect(0, 0, 64, 64))
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				blank.Set(x, y, color.White)
			}
		}
		e := NewExporter(1024, 5*1024*1024)
		block, err := e.Export(ctx, encodePNG(t, blank), false)
		require.NoError(t, err)
		assert.Nil(t, block)
	})

	t.Run("Sketch_ProducesJPEG", func(t *testing.T) {
		e := NewExporter(1024, 5*1024*1024)
		block, err := e.Export(ctx, encodePNG(t, sketch(64, 64)), false)
		require.NoError(t, err)
		require.NotNil(t, block)
		assert.Equal(t, "image/jpeg", block.MediaType)

		payload, err := base64.StdEncoding.DecodeString(block.Data)
		require.NoError(t, err)
		decoded, err := imaging.Decode(bytes.NewReader(payload))
		require.NoError(t, err)
		assert.Equal(t, 64, decoded.Bounds().Dx())
	})

	t.Run("Oversized_FitsToMaxDimension", func(t *testing.T) {
		e := NewExporter(32, 5*1024*1024)
		block, err := e.Export(ctx, encodePNG(t, sketch(128, 64)), false)
		require.NoError(t, err)
		require.NotNil(t, block)

		payload, err := base64.StdEncoding.DecodeString(block.Data)
		require.NoError(t, err)
		decoded, err := imaging.Decode(bytes.NewReader(payload))
		require.NoError(t, err)
		assert.LessOrEqual(t, decoded.Bounds().Dx(), 32)
		assert.LessOrEqual(t, decoded.Bounds().Dy(), 32)
	})

	t.Run("DarkCanvas_Inverted", func(t *testing.T) {
		// Light strokes on a dark surface should come out dark-on-light.
		dark := image.NewRGBA(image.Rect(0, 0, 32, 32))
		for y := 0; y < 32; y++ {
			for x := 0; x < 32; x++ {
				dark.Set(x, y, color.Black)
			}
		}
		dark.Set(16, 16, color.White)

		e := NewExporter(1024, 5*1024*1024)
		block, err := e.Export(ctx, encodePNG(t, dark), true)
		require.NoError(t, err)
		require.NotNil(t, block)

		payload, err := base64.StdEncoding.DecodeString(block.Data)
		require.NoError(t, err)
		decoded, err := imaging.Decode(bytes.NewReader(payload))
		require.NoError(t, err)
		r, _, _, _ := decoded.At(0, 0).RGBA()
		assert.Greater(t, r, uint32(0x8000), "background should be light after inversion")
	})

	t.Run("GarbageInput_Error", func(t *testing.T) {
		e := NewExporter(1024, 5*1024*1024)
		_, err := e.Export(ctx, []byte("not an image"), false)
		assert.Error(t, err)
	})

	t.Run("PayloadOverLimit_Error", func(t *testing.T) {
		e := NewExporter(1024, 16) // absurdly small limit
		_, err := e.Export(ctx, encodePNG(t, sketch(64, 64)), false)
		assert.Error(t, err)
	})
}
