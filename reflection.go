package liveness

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/faceproof/liveness/utils"
)

// ReflectionReport describes the specular highlights found on a crop.
type ReflectionReport struct {
	// Ratio is the fraction of pixels marked as highlights.
	Ratio float64 `json:"ratio"`
	// Uniformity is the standard deviation of the highlight density over 8×8 blocks.
	Uniformity float64 `json:"uniformity"`
	// Mask holds 255 for highlight pixels and 0 elsewhere.
	Mask *image.Gray `json:"-"`
}

// ReflectionAnalyzer marks pixels noticeably brighter than their
// Gaussian-weighted neighbourhood in the HSV value channel.
type ReflectionAnalyzer struct {
	Window    int     // odd side of the Gaussian window
	Offset    float64 // brightness a pixel needs above its local mean
	BlockSize int
}

func NewReflectionAnalyzer() *ReflectionAnalyzer {
	return &ReflectionAnalyzer{Window: 11, Offset: 2, BlockSize: 8}
}

// Analyze thresholds the value channel adaptively and measures how evenly the
// highlights are spread across the crop.
func (r *ReflectionAnalyzer) Analyze(c *Crop) ReflectionReport {
	v := Brightness(c)
	mean := gaussianBlur(v, r.Window)

	mask := image.NewGray(v.Rect)
	var highlights int
	for i, p := range v.Pix {
		if float64(p) > mean[i]+r.Offset {
			mask.Pix[i] = 0xff
			highlights++
		}
	}

	return ReflectionReport{
		Ratio:      float64(highlights) / float64(len(v.Pix)),
		Uniformity: r.uniformity(mask),
		Mask:       mask,
	}
}

// uniformity returns the population standard deviation of the highlight
// density of every full block. Rows and columns beyond the last full block are ignored.
func (r *ReflectionAnalyzer) uniformity(mask *image.Gray) float64 {
	bs := r.BlockSize
	nw, nh := mask.Rect.Dx()/bs, mask.Rect.Dy()/bs
	if nw == 0 || nh == 0 {
		return 0
	}

	densities := make([]float64, 0, nw*nh)
	for by := 0; by < nh; by++ {
		for bx := 0; bx < nw; bx++ {
			var n int
			for y := by * bs; y < (by+1)*bs; y++ {
				for x := bx * bs; x < (bx+1)*bs; x++ {
					if mask.Pix[y*mask.Stride+x] != 0 {
						n++
					}
				}
			}
			densities = append(densities, float64(n)/float64(bs*bs))
		}
	}
	return stat.PopStdDev(densities, nil)
}

// gaussianKernel returns the normalized 1-D Gaussian of the given odd size.
// The deviation follows from the size: σ = 0.3·((size−1)/2 − 1) + 0.8.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	k := make([]float64, size)
	half := size / 2

	var sum float64
	for i := range k {
		x := float64(i - half)
		k[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur applies a separable Gaussian filter, replicating the border pixels.
func gaussianBlur(img *image.Gray, size int) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	k := gaussianKernel(size)
	half := size / 2

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for i, kv := range k {
				sx := utils.Clamp(x+i-half, 0, w-1)
				sum += kv * float64(img.Pix[y*img.Stride+sx])
			}
			tmp[y*w+x] = sum
		}
	}

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for i, kv := range k {
				sy := utils.Clamp(y+i-half, 0, h-1)
				sum += kv * tmp[sy*w+x]
			}
			out[y*w+x] = sum
		}
	}
	return out
}
