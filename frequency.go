package liveness

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FrequencyReport compares the spectral energy outside and inside a central low-pass disk.
type FrequencyReport struct {
	Ratio      float64 `json:"ratio"`
	HighEnergy float64 `json:"highEnergy"`
	LowEnergy  float64 `json:"lowEnergy"`
}

// FrequencyAnalyzer measures the share of high spatial frequencies in the luminance of a crop.
// Recaptured faces tend to lose fine detail or gain periodic moiré energy.
type FrequencyAnalyzer struct{}

func NewFrequencyAnalyzer() *FrequencyAnalyzer {
	return &FrequencyAnalyzer{}
}

// Analyze computes the centred magnitude spectrum of the luminance and splits it by
// a disk of radius min(rows, cols)/4 around the zero frequency.
func (f *FrequencyAnalyzer) Analyze(c *Crop) FrequencyReport {
	gray := Grayscale(c)
	rows, cols := gray.Rect.Dy(), gray.Rect.Dx()
	spectrum := fft2(gray.Pix, gray.Stride, rows, cols)

	crow, ccol := rows/2, cols/2
	radius := min(rows, cols) / 4

	var high, low float64
	for u := 0; u < rows; u++ {
		// Position of the coefficient once the zero frequency is shifted to the centre.
		y := (u+crow)%rows - crow
		for v := 0; v < cols; v++ {
			x := (v+ccol)%cols - ccol
			mag := cmplx.Abs(spectrum[u*cols+v])
			if x*x+y*y <= radius*radius {
				low += mag
			} else {
				high += mag
			}
		}
	}

	return FrequencyReport{
		Ratio:      high / (low + 1e-7),
		HighEnergy: high,
		LowEnergy:  low,
	}
}

// fft2 returns the 2-D discrete Fourier transform of an 8-bit plane, row-major.
func fft2(pix []uint8, stride, rows, cols int) []complex128 {
	out := make([]complex128, rows*cols)

	rowFFT := fourier.NewCmplxFFT(cols)
	line := make([]complex128, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			line[x] = complex(float64(pix[y*stride+x]), 0)
		}
		rowFFT.Coefficients(out[y*cols:(y+1)*cols], line)
	}

	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	coef := make([]complex128, rows)
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			col[y] = out[y*cols+x]
		}
		colFFT.Coefficients(coef, col)
		for y := 0; y < rows; y++ {
			out[y*cols+x] = coef[y]
		}
	}
	return out
}
