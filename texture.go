package liveness

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/faceproof/liveness/utils"
)

const histogramBins = 256

type kernel [][]int32

// laplacianKernel is the 4-neighbour discrete Laplacian.
var laplacianKernel = kernel{
	{0, 1, 0},
	{1, -4, 1},
	{0, 1, 0},
}

// TextureReport summarizes the local binary pattern distribution of a crop.
type TextureReport struct {
	// Entropy is the Shannon entropy (natural log) of Histogram.
	Entropy float64 `json:"entropy"`
	// Contrast is the variance of the Laplacian response.
	Contrast  float64   `json:"contrast"`
	Histogram []float64 `json:"histogram"`
}

// TextureAnalyzer computes uniform rotation-invariant local binary patterns.
// See https://en.wikipedia.org/wiki/Local_binary_patterns
type TextureAnalyzer struct {
	Points int
	Radius float64
}

// NewTextureAnalyzer returns an analyzer sampling 24 points on a circle of radius 3.
func NewTextureAnalyzer() *TextureAnalyzer {
	return &TextureAnalyzer{Points: 24, Radius: 3}
}

// Analyze computes the LBP histogram, its entropy and the Laplacian contrast of the crop.
func (t *TextureAnalyzer) Analyze(c *Crop) TextureReport {
	gray := Grayscale(c)
	codes := t.LBP(gray)

	hist := make([]float64, histogramBins)
	for _, code := range codes {
		hist[code]++
	}
	sum := floats.Sum(hist)
	floats.Scale(1/(sum+1e-7), hist)

	// The entropy is taken over the exact probability distribution.
	p := make([]float64, len(hist))
	copy(p, hist)
	if s := floats.Sum(p); s > 0 {
		floats.Scale(1/s, p)
	}

	return TextureReport{
		Entropy:   stat.Entropy(p),
		Contrast:  stat.PopVariance(convolve(gray, laplacianKernel), nil),
		Histogram: hist,
	}
}

// LBP returns the uniform rotation-invariant code of every pixel, row-major.
// A pattern with at most two circular 0/1 transitions is coded by its number of
// set bits (0..P), every other pattern by P+1. Pixels outside the image repeat the border.
func (t *TextureAnalyzer) LBP(gray *image.Gray) []uint8 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	p := t.Points

	type sample struct {
		y0, x0 int
		dy, dx float64
	}
	samples := make([]sample, p)
	for k := range samples {
		angle := 2 * math.Pi * float64(k) / float64(p)
		ry := round5(-t.Radius * math.Sin(angle))
		rx := round5(t.Radius * math.Cos(angle))
		fy, fx := math.Floor(ry), math.Floor(rx)
		samples[k] = sample{y0: int(fy), x0: int(fx), dy: ry - fy, dx: rx - fx}
	}

	at := func(x, y int) float64 {
		x = utils.Clamp(x, 0, w-1)
		y = utils.Clamp(y, 0, h-1)
		return float64(gray.Pix[y*gray.Stride+x])
	}

	codes := make([]uint8, w*h)
	bits := make([]bool, p)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := at(x, y)
			ones := 0
			for k, s := range samples {
				y0, x0 := y+s.y0, x+s.x0
				v00, v01 := at(x0, y0), at(x0+1, y0)
				v10, v11 := at(x0, y0+1), at(x0+1, y0+1)
				top := v00 + s.dx*(v01-v00)
				bottom := v10 + s.dx*(v11-v10)
				v := top + s.dy*(bottom-top)

				bits[k] = v >= center
				if bits[k] {
					ones++
				}
			}

			transitions := 0
			for k := range bits {
				if bits[k] != bits[(k+1)%p] {
					transitions++
				}
			}
			if transitions <= 2 {
				codes[y*w+x] = uint8(ones)
			} else {
				codes[y*w+x] = uint8(p + 1)
			}
		}
	}
	return codes
}

// convolve applies a 3×3 kernel to the image, mirroring it at the borders
// without repeating the edge pixel (dcba|bcd).
func convolve(gray *image.Gray, k kernel) []float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	out := make([]float64, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum int32
			for ky := range k {
				sy := reflect101(y+ky-1, h)
				for kx := range k[ky] {
					if k[ky][kx] == 0 {
						continue
					}
					sx := reflect101(x+kx-1, w)
					sum += int32(gray.Pix[sy*gray.Stride+sx]) * k[ky][kx]
				}
			}
			out[y*w+x] = float64(sum)
		}
	}
	return out
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
