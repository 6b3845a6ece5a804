package imop

import (
	"fmt"
	"image"
	"math"

	"github.com/faceproof/liveness/utils"
)

// Supported composition operations.
const (
	Copy    = "copy"
	SrcOver = "src_over"
	DstOver = "dst_over"
)

// Bitmap is the destination surface of a composition.
type Bitmap struct {
	Img *image.NRGBA
}

// Composite holds the active composition operation.
type Composite struct {
	current string
	ops     []string
}

// NewBitmap allocates a transparent bitmap of the given size.
func NewBitmap(rect image.Rectangle) *Bitmap {
	return &Bitmap{
		Img: image.NewNRGBA(rect),
	}
}

// InitOp returns a Composite with SrcOver as the default operation.
func InitOp() *Composite {
	return &Composite{
		current: SrcOver,
		ops:     []string{Copy, SrcOver, DstOver},
	}
}

// Set changes the active composition operation.
func (op *Composite) Set(cop string) error {
	if !utils.Contains(op.ops, cop) {
		return fmt.Errorf("unsupported composite operation: %q", cop)
	}
	op.current = cop
	return nil
}

// Get returns the active composition operation.
func (op *Composite) Get() string {
	return op.current
}

// Draw composites src over the dst backdrop into the bitmap. When blend is not nil
// the source color is first mixed with the backdrop using the blend mode.
// src and dst must have the same bounds as the bitmap.
func (op *Composite) Draw(bitmap *Bitmap, src, dst *image.NRGBA, blend *Blend) {
	if bitmap == nil {
		bitmap = NewBitmap(src.Bounds())
	}
	bounds := bitmap.Img.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			si := src.PixOffset(x, y)
			bi := dst.PixOffset(x, y)
			oi := bitmap.Img.PixOffset(x, y)

			as := float64(src.Pix[si+3]) / 255
			ab := float64(dst.Pix[bi+3]) / 255

			var cs, cb [3]float64
			for c := 0; c < 3; c++ {
				cs[c] = float64(src.Pix[si+c]) / 255
				cb[c] = float64(dst.Pix[bi+c]) / 255
				if blend != nil {
					cs[c] = (1-ab)*cs[c] + ab*blend.apply(cs[c], cb[c])
				}
			}

			var ao float64
			var co [3]float64
			switch op.current {
			case Copy:
				ao = as
				co = cs
			case SrcOver:
				ao = as + ab*(1-as)
				for c := 0; c < 3; c++ {
					co[c] = as*cs[c] + ab*cb[c]*(1-as)
				}
			case DstOver:
				ao = ab + as*(1-ab)
				for c := 0; c < 3; c++ {
					co[c] = ab*cb[c] + as*cs[c]*(1-ab)
				}
			}

			if ao == 0 {
				bitmap.Img.Pix[oi+0] = 0
				bitmap.Img.Pix[oi+1] = 0
				bitmap.Img.Pix[oi+2] = 0
				bitmap.Img.Pix[oi+3] = 0
				continue
			}
			for c := 0; c < 3; c++ {
				if op.current != Copy {
					co[c] /= ao
				}
				bitmap.Img.Pix[oi+c] = toUint8(co[c])
			}
			bitmap.Img.Pix[oi+3] = toUint8(ao)
		}
	}
}

func toUint8(v float64) uint8 {
	return uint8(math.Round(utils.Clamp(v, 0, 1) * 255))
}
