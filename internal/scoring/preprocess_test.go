package scoring

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func classifierTransform() Transform {
	return Transform{Channels: 1, ResizeShorter: 256, CropSize: 224, Mean: 0.485, Std: 0.229}
}

func TestTransform_Grayscale(t *testing.T) {
	t.Parallel()

	tr := classifierTransform()
	out, err := tr.Apply(uniform(300, 400, color.RGBA{R: 128, G: 128, B: 128, A: 255}))
	require.NoError(t, err)
	require.Len(t, out, 224*224)
	assert.Equal(t, []int64{1, 1, 224, 224}, tr.Shape())

	want := (float32(128)/255 - 0.485) / 0.229
	// one gray level of tolerance for resampling rounding
	tol := 1.0 / 255 / 0.229
	assert.InDelta(t, want, out[0], tol)
	assert.InDelta(t, want, out[len(out)-1], tol)
}

func TestTransform_RGBChannels(t *testing.T) {
	t.Parallel()

	tr := Transform{Channels: 3, ResizeShorter: 32, CropSize: 32, Mean: 0, Std: 1}
	out, err := tr.Apply(uniform(64, 32, color.RGBA{R: 255, G: 0, B: 51, A: 255}))
	require.NoError(t, err)
	require.Len(t, out, 3*32*32)

	plane := 32 * 32
	assert.InDelta(t, 1.0, out[0], 0.005)
	assert.InDelta(t, 0.0, out[plane], 0.005)
	assert.InDelta(t, 0.2, out[2*plane], 0.005)
}

func TestTransform_Deterministic(t *testing.T) {
	t.Parallel()

	img := image.NewGray(image.Rect(0, 0, 257, 300))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	tr := classifierTransform()
	a, err := tr.Apply(img)
	require.NoError(t, err)
	b, err := tr.Apply(img)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransform_Validate(t *testing.T) {
	t.Parallel()

	tests := []Transform{
		{Channels: 2, ResizeShorter: 256, CropSize: 224, Std: 1},
		{Channels: 1, ResizeShorter: 200, CropSize: 224, Std: 1},
		{Channels: 1, ResizeShorter: 256, CropSize: 0, Std: 1},
		{Channels: 1, ResizeShorter: 256, CropSize: 224, Std: 0},
	}
	for _, tr := range tests {
		_, err := tr.Apply(uniform(10, 10, color.White))
		assert.Error(t, err, "%+v", tr)
	}

	_, err := classifierTransform().Apply(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)
}

func TestLuma(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint8(255), luma(255, 255, 255))
	assert.Equal(t, uint8(0), luma(0, 0, 0))
	assert.Equal(t, uint8(76), luma(255, 0, 0))
	assert.Equal(t, uint8(150), luma(0, 255, 0))
	assert.Equal(t, uint8(29), luma(0, 0, 255))
}

func TestLetterbox(t *testing.T) {
	t.Parallel()

	out, frame, err := Letterbox(uniform(200, 100, color.White), 64)
	require.NoError(t, err)
	require.Len(t, out, 3*64*64)

	assert.InDelta(t, 0.32, frame.Scale, 1e-9)
	assert.Zero(t, frame.PadX)
	assert.InDelta(t, 16.0, frame.PadY, 1e-9)
	assert.Equal(t, 200, frame.SourceWidth)
	assert.Equal(t, 100, frame.SourceHeight)

	fill := float32(letterboxFill) / 255
	assert.InDelta(t, fill, out[0], 1e-6, "top padding")
	assert.InDelta(t, 1.0, out[32*64+32], 0.005, "image content")
	assert.InDelta(t, fill, out[63*64+63], 1e-6, "bottom padding")

	_, _, err = Letterbox(uniform(10, 10, color.White), 0)
	require.Error(t, err)
}

func TestFrameRestore(t *testing.T) {
	t.Parallel()

	f := Frame{Scale: 0.5, PadX: 0, PadY: 80, SourceWidth: 1280, SourceHeight: 960}

	got := f.Restore(Box{X1: 10, Y1: 90, X2: 50, Y2: 130, Confidence: 0.8})
	assert.InDelta(t, 20.0, got.X1, 1e-9)
	assert.InDelta(t, 20.0, got.Y1, 1e-9)
	assert.InDelta(t, 100.0, got.X2, 1e-9)
	assert.InDelta(t, 100.0, got.Y2, 1e-9)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)

	clipped := f.Restore(Box{X1: -20, Y1: 0, X2: 700, Y2: 600})
	assert.Zero(t, clipped.X1)
	assert.Zero(t, clipped.Y1)
	assert.InDelta(t, 1280.0, clipped.X2, 1e-9)
	assert.InDelta(t, 960.0, clipped.Y2, 1e-9)
}
