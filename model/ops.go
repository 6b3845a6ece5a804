package model

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// conv is a 2-D convolution layer with square kernels.
type conv struct {
	name   string
	weight *tensor.Dense // [out, in, k, k]
	bias   *tensor.Dense // [out]
	stride int
	pad    int
}

func (l conv) in() int     { return l.weight.Shape()[1] }
func (l conv) out() int    { return l.weight.Shape()[0] }
func (l conv) kernel() int { return l.weight.Shape()[2] }

// newConv looks up the "<name>.weight" and "<name>.bias" tensors and checks their shapes.
func newConv(w *Weights, name string, stride int) (conv, error) {
	weight, err := lookup(w, name+".weight", 4)
	if err != nil {
		return conv{}, err
	}
	bias, err := lookup(w, name+".bias", 1)
	if err != nil {
		return conv{}, err
	}

	shape := weight.Shape()
	if shape[2] != shape[3] || shape[2]%2 == 0 {
		return conv{}, errors.Errorf("%s.weight: kernel must be square and odd, got %dx%d", name, shape[2], shape[3])
	}
	if bias.Shape()[0] != shape[0] {
		return conv{}, errors.Errorf("%s.bias: expected %d values, got %d", name, shape[0], bias.Shape()[0])
	}
	return conv{
		name:   name,
		weight: weight,
		bias:   bias,
		stride: stride,
		pad:    shape[2] / 2,
	}, nil
}

// forward convolves the [C, H, W] input. Output channels are spread over at most
// workers goroutines; every goroutine writes a disjoint slice of the output.
func (l conv) forward(x *tensor.Dense, workers int) (*tensor.Dense, error) {
	shape := x.Shape()
	if len(shape) != 3 || shape[0] != l.in() {
		return nil, errors.Errorf("%s: expected [%d, H, W] input, got %v", l.name, l.in(), shape)
	}
	c, h, w := shape[0], shape[1], shape[2]
	k := l.kernel()
	oh := (h+2*l.pad-k)/l.stride + 1
	ow := (w+2*l.pad-k)/l.stride + 1

	src := x.Float32s()
	kern := l.weight.Float32s()
	bias := l.bias.Float32s()
	dst := make([]float32, l.out()*oh*ow)

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for o := 0; o < l.out(); o++ {
		g.Go(func() error {
			plane := dst[o*oh*ow : (o+1)*oh*ow]
			for i := range plane {
				plane[i] = bias[o]
			}
			for ci := 0; ci < c; ci++ {
				in := src[ci*h*w : (ci+1)*h*w]
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						wv := kern[((o*c+ci)*k+ky)*k+kx]
						if wv == 0 {
							continue
						}
						for oy := 0; oy < oh; oy++ {
							iy := oy*l.stride - l.pad + ky
							if iy < 0 || iy >= h {
								continue
							}
							row := in[iy*w : (iy+1)*w]
							out := plane[oy*ow : (oy+1)*ow]
							for ox := 0; ox < ow; ox++ {
								ix := ox*l.stride - l.pad + kx
								if ix < 0 || ix >= w {
									continue
								}
								out[ox] += wv * row[ix]
							}
						}
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(l.out(), oh, ow), tensor.WithBacking(dst)), nil
}

// linear is a fully connected layer.
type linear struct {
	name   string
	weight *tensor.Dense // [out, in]
	bias   *tensor.Dense // [out]
}

func newLinear(w *Weights, name string) (linear, error) {
	weight, err := lookup(w, name+".weight", 2)
	if err != nil {
		return linear{}, err
	}
	bias, err := lookup(w, name+".bias", 1)
	if err != nil {
		return linear{}, err
	}
	if bias.Shape()[0] != weight.Shape()[0] {
		return linear{}, errors.Errorf("%s.bias: expected %d values, got %d", name, weight.Shape()[0], bias.Shape()[0])
	}
	return linear{name: name, weight: weight, bias: bias}, nil
}

func (l linear) in() int  { return l.weight.Shape()[1] }
func (l linear) out() int { return l.weight.Shape()[0] }

func (l linear) forward(x *tensor.Dense) (*tensor.Dense, error) {
	y, err := l.weight.MatVecMul(x)
	if err != nil {
		return nil, errors.Wrap(err, l.name)
	}
	out := y.Float32s()
	for i, b := range l.bias.Float32s() {
		out[i] += b
	}
	return y, nil
}

func lookup(w *Weights, name string, rank int) (*tensor.Dense, error) {
	t, ok := w.Tensors[name]
	if !ok {
		return nil, errors.Errorf("missing tensor %s", name)
	}
	if len(t.Shape()) != rank {
		return nil, errors.Errorf("%s: expected rank %d, got shape %v", name, rank, t.Shape())
	}
	return t, nil
}

type activation func([]float32)

func relu(v []float32) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func sigmoid(v []float32) {
	for i, x := range v {
		v[i] = float32(1 / (1 + math.Exp(-float64(x))))
	}
}

// silu is the swish activation used by EfficientNet style backbones.
func silu(v []float32) {
	for i, x := range v {
		v[i] = x * float32(1/(1+math.Exp(-float64(x))))
	}
}

var activations = map[string]activation{
	"relu": relu,
	"silu": silu,
}

// globalAvgPool reduces a [C, H, W] volume to its per-channel spatial mean.
func globalAvgPool(x *tensor.Dense) []float32 {
	shape := x.Shape()
	c, n := shape[0], shape[1]*shape[2]
	src := x.Float32s()
	out := make([]float32, c)
	for ci := 0; ci < c; ci++ {
		var sum float64
		for _, v := range src[ci*n : (ci+1)*n] {
			sum += float64(v)
		}
		out[ci] = float32(sum / float64(n))
	}
	return out
}
