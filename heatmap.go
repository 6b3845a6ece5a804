package liveness

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/faceproof/liveness/imop"
	"github.com/faceproof/liveness/model"
)

// HeatmapOptions controls how the attention map is drawn over the crop.
type HeatmapOptions struct {
	// BlendMode is one of the imop blend modes, imop.Overlay when empty.
	BlendMode string
	// Opacity of the colored attention layer in [0, 1].
	Opacity float64
}

// DefaultHeatmapOptions blends a 60% opaque attention layer in overlay mode.
var DefaultHeatmapOptions = HeatmapOptions{BlendMode: imop.Overlay, Opacity: 0.6}

// Heatmap upsamples the attention map to the crop size, colors it from blue (ignored)
// to red (attended) and composites it over the crop.
func Heatmap(c *Crop, a *model.AttentionMap, opts HeatmapOptions) (*image.NRGBA, error) {
	if c == nil || a == nil {
		return nil, errors.New("heatmap needs both a crop and an attention map")
	}
	if a.Width <= 0 || a.Height <= 0 || len(a.Values) != a.Width*a.Height {
		return nil, errors.New("malformed attention map")
	}

	blend := imop.NewBlend()
	mode := opts.BlendMode
	if mode == "" {
		mode = imop.Overlay
	}
	if err := blend.Set(mode); err != nil {
		return nil, err
	}

	mask := image.NewGray(image.Rect(0, 0, a.Width, a.Height))
	for i, v := range a.Values {
		mask.Pix[i] = uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	scaled := imaging.Resize(mask, c.Width, c.Height, imaging.Linear)

	alpha := uint8(math.Round(math.Max(0, math.Min(1, opts.Opacity)) * 255))
	layer := image.NewNRGBA(scaled.Bounds())
	for i := 0; i < len(layer.Pix); i += 4 {
		// The resized mask is gray, every channel holds the same value.
		r, g, b := heatColor(float64(scaled.Pix[i]) / 255)
		layer.Pix[i+0] = r
		layer.Pix[i+1] = g
		layer.Pix[i+2] = b
		layer.Pix[i+3] = alpha
	}

	bitmap := imop.NewBitmap(layer.Bounds())
	imop.InitOp().Draw(bitmap, layer, c.Image(), blend)
	return bitmap.Img, nil
}

// heatColor maps t in [0, 1] onto a blue → green → red ramp.
func heatColor(t float64) (r, g, b uint8) {
	return uint8(math.Round(255 * t)),
		uint8(math.Round(255 * (1 - math.Abs(2*t-1)))),
		uint8(math.Round(255 * (1 - t)))
}
