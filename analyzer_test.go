package liveness

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayCrop(v uint8) *Crop {
	return solidCrop(InputSize, InputSize, color.NRGBA{v, v, v, 255})
}

func noiseCrop(seed int64) *Crop {
	rng := rand.New(rand.NewSource(seed))
	c := &Crop{Pix: make([]uint8, InputSize*InputSize*3), Width: InputSize, Height: InputSize, Channels: 3}
	rng.Read(c.Pix)
	return c
}

// rotateCrop90 rotates the crop by 90 degree counter clockwise.
func rotateCrop90(src *Crop) *Crop {
	dst := &Crop{Pix: make([]uint8, len(src.Pix)), Width: src.Height, Height: src.Width, Channels: src.Channels}
	for dstY := 0; dstY < dst.Height; dstY++ {
		for dstX := 0; dstX < dst.Width; dstX++ {
			srcX := src.Width - dstY - 1
			srcY := dstX
			srcOff := (srcY*src.Width + srcX) * src.Channels
			dstOff := (dstY*dst.Width + dstX) * dst.Channels
			copy(dst.Pix[dstOff:dstOff+dst.Channels], src.Pix[srcOff:srcOff+src.Channels])
		}
	}
	return dst
}

func assertFinite(t *testing.T, values ...float64) {
	t.Helper()
	for _, v := range values {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "expected finite value, got %v", v)
	}
}

func TestTexture_UniformGray(t *testing.T) {
	assert := assert.New(t)

	r := NewTextureAnalyzer().Analyze(grayCrop(128))
	assert.Equal(0.0, r.Entropy)
	assert.Equal(0.0, r.Contrast)
	assert.Len(r.Histogram, histogramBins)
	assert.InDelta(1, r.Histogram[24], 1e-9)
}

func TestTexture_Noise(t *testing.T) {
	assert := assert.New(t)

	r := NewTextureAnalyzer().Analyze(noiseCrop(1))
	assert.Greater(r.Entropy, 0.1)
	assert.Greater(r.Contrast, 1000.0)

	var sum float64
	for i, h := range r.Histogram {
		assert.GreaterOrEqual(h, 0.0)
		if i > 25 {
			assert.Zero(h)
		}
		sum += h
	}
	assert.InDelta(1, sum, 1e-6)
}

func TestTexture_RotationInvariance(t *testing.T) {
	a := NewTextureAnalyzer()
	crop := noiseCrop(2)
	r0 := a.Analyze(crop)
	r90 := a.Analyze(rotateCrop90(crop))

	assert.InDelta(t, r0.Entropy, r90.Entropy, 0.02)
	assert.InDelta(t, r0.Contrast, r90.Contrast, 1e-6)
}

func TestTexture_LBPCodes(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 9, 9))
	gray.SetGray(4, 4, color.Gray{Y: 255})

	codes := NewTextureAnalyzer().LBP(gray)
	require.Len(t, codes, 81)
	for i, code := range codes {
		if i == 4*9+4 {
			assert.Equal(t, uint8(0), code)
			continue
		}
		assert.Equal(t, uint8(24), code, "pixel %d", i)
	}
}

func TestTexture_Laplacian(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	gray.SetGray(1, 1, color.Gray{Y: 10})

	// Border taps mirror onto the centre pixel.
	out := convolve(gray, laplacianKernel)
	assert.Equal(t, []float64{
		0, 20, 0,
		20, -40, 20,
		0, 20, 0,
	}, out)

	assert.Equal(t, 1, reflect101(-1, 5))
	assert.Equal(t, 3, reflect101(5, 5))
	assert.Equal(t, 0, reflect101(3, 1))
}

func TestReflection_UniformGray(t *testing.T) {
	r := NewReflectionAnalyzer().Analyze(grayCrop(128))
	assert.Equal(t, 0.0, r.Ratio)
	assert.Equal(t, 0.0, r.Uniformity)
	assert.Equal(t, image.Rect(0, 0, InputSize, InputSize), r.Mask.Bounds())
}

func TestReflection_Highlights(t *testing.T) {
	assert := assert.New(t)

	crop := grayCrop(100)
	spots := []image.Point{{10, 10}, {60, 60}, {120, 30}, {200, 200}}
	for _, p := range spots {
		off := (p.Y*crop.Width + p.X) * 3
		crop.Pix[off], crop.Pix[off+1], crop.Pix[off+2] = 255, 255, 255
	}

	r := NewReflectionAnalyzer().Analyze(crop)
	assert.Equal(float64(len(spots))/float64(InputSize*InputSize), r.Ratio)
	for _, p := range spots {
		assert.Equal(uint8(0xff), r.Mask.GrayAt(p.X, p.Y).Y)
	}

	n := float64((InputSize / 8) * (InputSize / 8))
	d := 1.0 / 64
	mean := float64(len(spots)) * d / n
	want := math.Sqrt(float64(len(spots))*d*d/n - mean*mean)
	assert.InDelta(want, r.Uniformity, 1e-12)
}

func TestReflection_GaussianKernel(t *testing.T) {
	k := gaussianKernel(11)
	require.Len(t, k, 11)

	var sum float64
	for i := range k {
		sum += k[i]
		assert.InDelta(t, k[i], k[10-i], 1e-15)
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Greater(t, k[5], k[4])
}

func TestFrequency_UniformGray(t *testing.T) {
	r := NewFrequencyAnalyzer().Analyze(grayCrop(128))
	assert.InEpsilon(t, 128.0*InputSize*InputSize, r.LowEnergy, 1e-9)
	assert.Less(t, r.Ratio, 1e-9)
}

func TestFrequency_Checkerboard(t *testing.T) {
	crop := grayCrop(0)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			if (x+y)%2 == 1 {
				off := (y*InputSize + x) * 3
				crop.Pix[off], crop.Pix[off+1], crop.Pix[off+2] = 255, 255, 255
			}
		}
	}

	// Half of the energy sits at the zero frequency, the other half at the Nyquist corner.
	r := NewFrequencyAnalyzer().Analyze(crop)
	assert.InDelta(t, 1, r.Ratio, 1e-6)
}

func TestFrequency_NoiseIsHighFrequency(t *testing.T) {
	noise := NewFrequencyAnalyzer().Analyze(noiseCrop(3))
	flat := NewFrequencyAnalyzer().Analyze(grayCrop(128))
	assert.Greater(t, noise.Ratio, flat.Ratio)
	assert.Greater(t, noise.Ratio, 1.0)
}

func TestAnalyzers_ExtremeCrops(t *testing.T) {
	for _, v := range []uint8{0, 255} {
		crop := grayCrop(v)
		tex := NewTextureAnalyzer().Analyze(crop)
		ref := NewReflectionAnalyzer().Analyze(crop)
		freq := NewFrequencyAnalyzer().Analyze(crop)
		assertFinite(t, tex.Entropy, tex.Contrast, ref.Ratio, ref.Uniformity, freq.Ratio, freq.HighEnergy, freq.LowEnergy)
	}
	assert.Equal(t, 0.0, NewFrequencyAnalyzer().Analyze(grayCrop(0)).Ratio)
}
