// Package tensor turns captured images into classifier input tensors.
package tensor

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

const (
	// Width and Height of the model input in pixels.
	Width  = 30
	Height = 30
	// Channels per pixel (red, green, blue).
	Channels = 3
	// Size is the number of float32 values in an input tensor.
	Size = Width * Height * Channels
)

// ErrInvalidImage is returned for nil images and images with a zero dimension.
var ErrInvalidImage = errors.New("tensor: invalid image")

// Layout is the order in which channel values are written.
type Layout int

const (
	// Interleaved writes r,g,b for each pixel in row-major order (HWC).
	Interleaved Layout = iota
	// Planar writes the whole red plane, then green, then blue (CHW).
	Planar
)

func (l Layout) String() string {
	switch l {
	case Interleaved:
		return "interleaved"
	case Planar:
		return "planar"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout maps "hwc"/"interleaved" and "chw"/"planar" to a Layout.
// An empty string selects Interleaved.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "", "interleaved", "hwc", "nhwc":
		return Interleaved, nil
	case "planar", "chw", "nchw":
		return Planar, nil
	}
	return 0, fmt.Errorf("tensor: unknown layout %q", s)
}

// Encoder resizes an image to Size x Size and normalizes it to [0,1].
type Encoder struct {
	Size   int
	Layout Layout
}

// Default is the 30x30 interleaved encoder expected by the traffic sign model.
var Default = Encoder{Size: Width, Layout: Interleaved}

// Len returns the tensor length for a square image of the given side.
func Len(side int) int {
	return side * side * Channels
}

// Encode runs the default encoder.
func Encode(img image.Image) ([]float32, error) {
	return Default.Encode(img)
}

// Encode resamples img with bilinear filtering and returns its normalized
// pixel values. img is never modified.
func (e Encoder) Encode(img image.Image) ([]float32, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	side := e.Size
	if side <= 0 {
		side = Width
	}

	resized := resize.Resize(uint(side), uint(side), img, resize.Bilinear)
	rb := resized.Bounds()
	plane := side * side
	out := make([]float32, plane*Channels)

	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			c := color.NRGBAModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.NRGBA)
			r := float32(c.R) / 255.0
			g := float32(c.G) / 255.0
			bl := float32(c.B) / 255.0

			pixel := y*side + x
			if e.Layout == Planar {
				out[pixel] = r
				out[plane+pixel] = g
				out[2*plane+pixel] = bl
				continue
			}
			out[pixel*Channels] = r
			out[pixel*Channels+1] = g
			out[pixel*Channels+2] = bl
		}
	}
	return out, nil
}
