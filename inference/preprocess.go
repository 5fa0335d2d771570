// Package inference - Runs an SSD model and decodes its predictions.
package inference

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Layout is the memory order of the model input tensor.
type Layout string

const (
	// LayoutNCHW is [batch, channels, height, width].
	LayoutNCHW Layout = "nchw"
	// LayoutNHWC is [batch, height, width, channels], the Keras default.
	LayoutNHWC Layout = "nhwc"
)

// Preprocess resizes img to width x height and writes its RGB values,
// multiplied by scale, into dst.
//
// Arguments:
//   - img: The image to prepare.
//   - dst: The destination buffer, at least 3*width*height long.
//   - width, height: The model input size.
//   - layout: The channel order of dst.
//   - scale: Applied to 8-bit channel values; 1 keeps [0,255], 1/255 gives [0,1].
//
// Returns:
//   - error: An error if dst is too small or the layout is unknown.
func Preprocess(img image.Image, dst []float32, width, height int, layout Layout, scale float32) error {
	channelSize := width * height
	if len(dst) < channelSize*3 {
		return fmt.Errorf("destination tensor only holds %d floats, needs %d (make sure it's the right shape!)",
			len(dst), channelSize*3)
	}
	if layout != LayoutNCHW && layout != LayoutNHWC {
		return fmt.Errorf("unknown input layout %q", layout)
	}

	// Resize the image using the Lanczos3 algorithm.
	img = resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	bounds := img.Bounds()

	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			red := float32(r>>8) * scale
			green := float32(g>>8) * scale
			blue := float32(b>>8) * scale
			if layout == LayoutNCHW {
				dst[i] = red
				dst[channelSize+i] = green
				dst[2*channelSize+i] = blue
			} else {
				dst[3*i] = red
				dst[3*i+1] = green
				dst[3*i+2] = blue
			}
			i++
		}
	}
	return nil
}
