package scoring

import (
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
)

// Transform converts an image into the classifier input tensor: resize the
// shorter side, center crop, optional grayscale, then normalize per channel.
// The output is CHW float32 with a leading batch dimension of one.
type Transform struct {
	Channels      int // 1 (grayscale) or 3 (RGB)
	ResizeShorter int
	CropSize      int
	Mean          float32
	Std           float32
}

// Shape returns the tensor shape produced by Apply.
func (t Transform) Shape() []int64 {
	return []int64{1, int64(t.Channels), int64(t.CropSize), int64(t.CropSize)}
}

// Validate checks the transform parameters.
func (t Transform) Validate() error {
	switch {
	case t.Channels != 1 && t.Channels != 3:
		return fmt.Errorf("channels must be 1 or 3, got %d", t.Channels)
	case t.CropSize <= 0:
		return fmt.Errorf("crop size must be positive, got %d", t.CropSize)
	case t.ResizeShorter < t.CropSize:
		return fmt.Errorf("resize %d is smaller than crop %d", t.ResizeShorter, t.CropSize)
	case t.Std == 0:
		return fmt.Errorf("std must be non-zero")
	}
	return nil
}

// Apply runs the transform. It is deterministic and safe for concurrent use.
func (t Transform) Apply(img image.Image) ([]float32, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}

	// shorter side to ResizeShorter, the other side scaled and truncated
	nw, nh := t.ResizeShorter, t.ResizeShorter
	if w <= h {
		nh = max(1, h*t.ResizeShorter/w)
	} else {
		nw = max(1, w*t.ResizeShorter/h)
	}
	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear) //nolint:gosec // G115: dimensions are positive
	rb := resized.Bounds()

	crop := t.CropSize
	top := int(math.Round(float64(rb.Dy()-crop) / 2))
	left := int(math.Round(float64(rb.Dx()-crop) / 2))

	plane := crop * crop
	out := make([]float32, t.Channels*plane)
	for y := range crop {
		for x := range crop {
			r, g, bl := rgb8(resized, rb.Min.X+left+x, rb.Min.Y+top+y)
			i := y*crop + x
			if t.Channels == 1 {
				out[i] = t.normalize(luma(r, g, bl))
				continue
			}
			out[i] = t.normalize(r)
			out[plane+i] = t.normalize(g)
			out[2*plane+i] = t.normalize(bl)
		}
	}
	return out, nil
}

func (t Transform) normalize(v uint8) float32 {
	return (float32(v)/255 - t.Mean) / t.Std
}

// rgb8 returns the 8-bit RGB value at (x, y) with alpha ignored.
func rgb8(img image.Image, x, y int) (r, g, b uint8) {
	r32, g32, b32, _ := img.At(x, y).RGBA()
	return uint8(r32 >> 8), uint8(g32 >> 8), uint8(b32 >> 8) //nolint:gosec // G115: 16-bit channel shifted to 8 bits
}

// luma uses ITU-R 601-2 weights in fixed point.
func luma(r, g, b uint8) uint8 {
	return uint8((uint32(r)*19595 + uint32(g)*38470 + uint32(b)*7471 + 0x8000) >> 16) //nolint:gosec // G115: weighted mean of 8-bit values
}

// Frame maps letterboxed model coordinates back to the source image.
type Frame struct {
	Scale        float64
	PadX, PadY   float64
	SourceWidth  int
	SourceHeight int
}

// Restore converts a box from model input space to source pixels and clips
// it to the image. The result may be degenerate; callers drop invalid boxes.
func (f Frame) Restore(b Box) Box {
	clip := func(v float64, limit int) float64 {
		return math.Min(math.Max(v, 0), float64(limit))
	}
	b.X1 = clip((b.X1-f.PadX)/f.Scale, f.SourceWidth)
	b.X2 = clip((b.X2-f.PadX)/f.Scale, f.SourceWidth)
	b.Y1 = clip((b.Y1-f.PadY)/f.Scale, f.SourceHeight)
	b.Y2 = clip((b.Y2-f.PadY)/f.Scale, f.SourceHeight)
	return b
}

// letterboxFill is the padding gray used by YOLO training pipelines.
const letterboxFill = 114

// Letterbox resizes img into a size x size square preserving aspect ratio,
// pads the remainder, and returns the RGB CHW tensor scaled to [0,1].
func Letterbox(img image.Image, size int) ([]float32, Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, Frame{}, fmt.Errorf("image has no pixels")
	}
	if size <= 0 {
		return nil, Frame{}, fmt.Errorf("letterbox size must be positive, got %d", size)
	}

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	padX := float64(size-nw) / 2
	padY := float64(size-nh) / 2
	left := int(math.Round(padX - 0.1))
	top := int(math.Round(padY - 0.1))

	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear) //nolint:gosec // G115: dimensions are positive
	rb := resized.Bounds()

	plane := size * size
	out := make([]float32, 3*plane)
	fill := float32(letterboxFill) / 255
	for i := range out {
		out[i] = fill
	}
	for y := range nh {
		for x := range nw {
			r, g, bl := rgb8(resized, rb.Min.X+x, rb.Min.Y+y)
			i := (top+y)*size + left + x
			out[i] = float32(r) / 255
			out[plane+i] = float32(g) / 255
			out[2*plane+i] = float32(bl) / 255
		}
	}

	return out, Frame{
		Scale:        scale,
		PadX:         float64(left),
		PadY:         float64(top),
		SourceWidth:  w,
		SourceHeight: h,
	}, nil
}
