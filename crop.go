package liveness

import (
	"fmt"
	"image"

	"gorgonia.org/tensor"
)

// InputSize is the edge length, in pixels, of the square crops accepted by the engine.
const InputSize = 224

var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Crop is an aligned face image stored as interleaved 8-bit samples, row-major, RGB order.
type Crop struct {
	Pix      []uint8
	Width    int
	Height   int
	Channels int
}

// NewCrop converts an image to a crop. Grayscale images produce a single channel
// crop, every other color model is converted to RGB. Alpha is discarded.
func NewCrop(img image.Image) *Crop {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		c := &Crop{Pix: make([]uint8, w*h), Width: w, Height: h, Channels: 1}
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(c.Pix[y*w:(y+1)*w], src.Pix[off:off+w])
		}
		return c
	}

	nrgba := imgToNRGBA(img)
	c := &Crop{Pix: make([]uint8, w*h*3), Width: w, Height: h, Channels: 3}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i, j := nrgba.PixOffset(x, y), (y*w+x)*3
			c.Pix[j+0] = nrgba.Pix[i+0]
			c.Pix[j+1] = nrgba.Pix[i+1]
			c.Pix[j+2] = nrgba.Pix[i+2]
		}
	}
	return c
}

// Image returns the crop as an opaque NRGBA image.
func (c *Crop) Image() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, c.Width, c.Height))
	for i, j := 0, 0; j < len(dst.Pix); i, j = i+c.Channels, j+4 {
		if c.Channels == 1 {
			dst.Pix[j+0], dst.Pix[j+1], dst.Pix[j+2] = c.Pix[i], c.Pix[i], c.Pix[i]
		} else {
			dst.Pix[j+0], dst.Pix[j+1], dst.Pix[j+2] = c.Pix[i], c.Pix[i+1], c.Pix[i+2]
		}
		dst.Pix[j+3] = 0xff
	}
	return dst
}

// validate checks the crop against the engine input contract.
func (c *Crop) validate() error {
	switch {
	case c == nil:
		return &InvalidInputError{Reason: "nil crop"}
	case c.Channels != 3:
		return &InvalidInputError{Reason: fmt.Sprintf("expected 3 channels, got %d", c.Channels)}
	case c.Width != InputSize || c.Height != InputSize:
		return &InvalidInputError{Reason: fmt.Sprintf("expected %dx%d crop, got %dx%d", InputSize, InputSize, c.Width, c.Height)}
	case len(c.Pix) != c.Width*c.Height*c.Channels:
		return &InvalidInputError{Reason: fmt.Sprintf("pixel buffer holds %d bytes, expected %d", len(c.Pix), c.Width*c.Height*c.Channels)}
	}
	return nil
}

// normalize converts the crop to a channel-first [3, H, W] tensor standardized
// with the ImageNet channel statistics.
func normalize(c *Crop) *tensor.Dense {
	plane := c.Width * c.Height
	backing := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		for ch := 0; ch < 3; ch++ {
			v := float32(c.Pix[i*3+ch]) / 255
			backing[ch*plane+i] = (v - channelMean[ch]) / channelStd[ch]
		}
	}
	return tensor.New(tensor.WithShape(3, c.Height, c.Width), tensor.WithBacking(backing))
}
