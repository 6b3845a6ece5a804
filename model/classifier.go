package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// Class indices of the two logits produced by the classifier.
const (
	Spoof = iota
	Real
)

// Options configures a Classifier.
type Options struct {
	// Workers bounds the goroutines used by every convolution. Values below 1 mean 1.
	Workers int
	// Backbone replaces the ConvBackbone built from the artifact.
	Backbone Backbone
}

// AttentionMap is the spatial attention mask at feature-map resolution, row-major, in [0, 1].
type AttentionMap struct {
	Width  int
	Height int
	Values []float64
}

// At returns the attention value of the cell at column x and row y.
func (a *AttentionMap) At(x, y int) float64 {
	return a.Values[y*a.Width+x]
}

// Prediction is the outcome of a single forward pass.
type Prediction struct {
	IsReal        bool
	Confidence    float64
	Probabilities [2]float64
	Logits        [2]float64
	Attention     *AttentionMap
}

// Classifier is the feature fusion network: a backbone with spatial attention,
// two shallow convolutional branches over the normalized input and a fusion head.
// It holds no per-call state and is safe for concurrent use.
type Classifier struct {
	backbone   Backbone
	attention  [2]conv
	texture    [2]conv
	reflection [2]conv
	fc1, fc2   linear
	workers    int
}

// New assembles a classifier from the loaded weights, checking that every
// tensor exists and that the layer shapes chain together.
func New(w *Weights, opts Options) (*Classifier, error) {
	if w == nil {
		return nil, errors.New("nil weights")
	}
	c := &Classifier{backbone: opts.Backbone, workers: max(opts.Workers, 1)}
	if c.backbone == nil {
		b, err := NewConvBackbone(w, c.workers)
		if err != nil {
			return nil, errors.Wrap(err, "backbone")
		}
		c.backbone = b
	}

	var err error
	if c.attention, err = newPair(w, "spatial_attention", c.backbone.Channels()); err != nil {
		return nil, err
	}
	for i, cv := range c.attention {
		if cv.kernel() != 1 {
			return nil, errors.Errorf("spatial_attention.%d.weight: expected 1x1 kernel, got %dx%d", 2*i, cv.kernel(), cv.kernel())
		}
	}
	if c.attention[1].out() != 1 {
		return nil, errors.Errorf("spatial_attention.2.weight: expected a single output channel, got %d", c.attention[1].out())
	}
	if c.texture, err = newPair(w, "texture_conv", 3); err != nil {
		return nil, err
	}
	if c.reflection, err = newPair(w, "reflection_conv", 3); err != nil {
		return nil, err
	}

	if c.fc1, err = newLinear(w, "fc1"); err != nil {
		return nil, err
	}
	fused := c.backbone.Channels() + c.texture[1].out() + c.reflection[1].out()
	if c.fc1.in() != fused {
		return nil, errors.Errorf("fc1.weight: expected %d input features, got %d", fused, c.fc1.in())
	}
	if c.fc2, err = newLinear(w, "fc2"); err != nil {
		return nil, err
	}
	if c.fc2.in() != c.fc1.out() {
		return nil, errors.Errorf("fc2.weight: expected %d input features, got %d", c.fc1.out(), c.fc2.in())
	}
	if c.fc2.out() != 2 {
		return nil, errors.Errorf("fc2.weight: expected 2 logits, got %d", c.fc2.out())
	}
	return c, nil
}

// newPair loads the "<name>.0" and "<name>.2" stride-1 convolutions of a branch.
// Index 1 is the activation in the exported module, which carries no parameters.
func newPair(w *Weights, name string, in int) ([2]conv, error) {
	first, err := newConv(w, name+".0", 1)
	if err != nil {
		return [2]conv{}, err
	}
	if first.in() != in {
		return [2]conv{}, errors.Errorf("%s.0.weight: expected %d input channels, got %d", name, in, first.in())
	}
	second, err := newConv(w, name+".2", 1)
	if err != nil {
		return [2]conv{}, err
	}
	if second.in() != first.out() {
		return [2]conv{}, errors.Errorf("%s.2.weight: expected %d input channels, got %d", name, first.out(), second.in())
	}
	return [2]conv{first, second}, nil
}

// Classify runs one forward pass over a normalized [3, H, W] tensor.
func (c *Classifier) Classify(x *tensor.Dense) (*Prediction, error) {
	if x == nil {
		return nil, errors.New("nil input tensor")
	}
	if shape := x.Shape(); len(shape) != 3 || shape[0] != 3 {
		return nil, errors.Errorf("expected [3, H, W] input, got %v", shape)
	}

	features, err := c.backbone.Extract(x)
	if err != nil {
		return nil, errors.Wrap(err, "backbone")
	}
	if shape := features.Shape(); len(shape) != 3 || shape[0] != c.backbone.Channels() {
		return nil, errors.Errorf("backbone: expected [%d, h, w] features, got %v", c.backbone.Channels(), shape)
	}

	mask, err := c.attention[0].forward(features, c.workers)
	if err != nil {
		return nil, err
	}
	relu(mask.Float32s())
	if mask, err = c.attention[1].forward(mask, c.workers); err != nil {
		return nil, err
	}
	sigmoid(mask.Float32s())

	shape := features.Shape()
	h, w := shape[1], shape[2]
	weights := mask.Float32s()
	attended := make([]float32, len(features.Float32s()))
	for i, v := range features.Float32s() {
		attended[i] = v * weights[i%(h*w)]
	}
	pooled := globalAvgPool(tensor.New(tensor.WithShape(shape...), tensor.WithBacking(attended)))

	texture, err := c.branch(c.texture, x)
	if err != nil {
		return nil, err
	}
	reflection, err := c.branch(c.reflection, x)
	if err != nil {
		return nil, err
	}

	fused := make([]float32, 0, c.fc1.in())
	fused = append(fused, pooled...)
	fused = append(fused, texture...)
	fused = append(fused, reflection...)

	hidden, err := c.fc1.forward(tensor.New(tensor.WithShape(len(fused)), tensor.WithBacking(fused)))
	if err != nil {
		return nil, err
	}
	relu(hidden.Float32s())
	out, err := c.fc2.forward(hidden)
	if err != nil {
		return nil, err
	}

	logits := out.Float32s()
	p := &Prediction{Logits: [2]float64{float64(logits[0]), float64(logits[1])}}
	p.Probabilities = softmax(p.Logits)
	// Ties resolve to the spoof class.
	class := Spoof
	if p.Probabilities[Real] > p.Probabilities[Spoof] {
		class = Real
	}
	p.IsReal = class == Real
	p.Confidence = p.Probabilities[class]

	p.Attention = &AttentionMap{Width: w, Height: h, Values: make([]float64, h*w)}
	for i, v := range weights {
		p.Attention.Values[i] = float64(v)
	}
	return p, nil
}

// branch runs conv → ReLU → conv → ReLU → global average pooling.
func (c *Classifier) branch(layers [2]conv, x *tensor.Dense) ([]float32, error) {
	y := x
	for _, l := range layers {
		var err error
		if y, err = l.forward(y, c.workers); err != nil {
			return nil, err
		}
		relu(y.Float32s())
	}
	return globalAvgPool(y), nil
}

// softmax subtracts the largest logit before exponentiation so large
// magnitudes cannot overflow.
func softmax(logits [2]float64) [2]float64 {
	m := floats.Max(logits[:])
	var p [2]float64
	for i, l := range logits {
		p[i] = math.Exp(l - m)
	}
	floats.Scale(1/floats.Sum(p[:]), p[:])
	return p
}
