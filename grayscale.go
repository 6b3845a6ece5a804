package liveness

import "image"

// Grayscale returns the BT.601 luminance of the crop,
// Y = 0.299R + 0.587G + 0.114B, rounded to the nearest integer.
func Grayscale(c *Crop) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, c.Width, c.Height))
	if c.Channels == 1 {
		copy(dst.Pix, c.Pix)
		return dst
	}
	for i := range dst.Pix {
		r, g, b := uint32(c.Pix[i*3]), uint32(c.Pix[i*3+1]), uint32(c.Pix[i*3+2])
		// 14-bit fixed point weights, they sum to 1<<14.
		dst.Pix[i] = uint8((r*4899 + g*9617 + b*1868 + 1<<13) >> 14)
	}
	return dst
}

// Brightness returns the value channel of the HSV color space, V = max(R, G, B).
func Brightness(c *Crop) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, c.Width, c.Height))
	if c.Channels == 1 {
		copy(dst.Pix, c.Pix)
		return dst
	}
	for i := range dst.Pix {
		dst.Pix[i] = max(c.Pix[i*3], c.Pix[i*3+1], c.Pix[i*3+2])
	}
	return dst
}
