package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Backbone extracts a spatial feature volume from a normalized [3, H, W] tensor.
// Any convolutional network honouring this contract can be plugged into the classifier.
type Backbone interface {
	Extract(x *tensor.Dense) (*tensor.Dense, error)
	// Channels is the depth of the returned feature volume.
	Channels() int
}

// ConvBackbone is a plain stack of stride-2 convolution blocks, each followed by
// the activation named in the artifact metadata ("backbone.activation").
type ConvBackbone struct {
	blocks  []conv
	act     activation
	workers int
}

var _ Backbone = (*ConvBackbone)(nil)

// NewConvBackbone builds the backbone from the "backbone.blocks.{i}" tensors.
func NewConvBackbone(w *Weights, workers int) (*ConvBackbone, error) {
	name := w.Metadata["backbone.activation"]
	if name == "" {
		name = "relu"
	}
	act, ok := activations[name]
	if !ok {
		return nil, errors.Errorf("unsupported backbone activation %q", name)
	}

	b := &ConvBackbone{act: act, workers: workers}
	in := 3
	for i := 0; ; i++ {
		prefix := fmt.Sprintf("backbone.blocks.%d", i)
		if _, ok := w.Tensors[prefix+".weight"]; !ok {
			break
		}
		block, err := newConv(w, prefix, 2)
		if err != nil {
			return nil, err
		}
		if block.in() != in {
			return nil, errors.Errorf("%s: expected %d input channels, got %d", prefix, in, block.in())
		}
		in = block.out()
		b.blocks = append(b.blocks, block)
	}
	if len(b.blocks) == 0 {
		return nil, errors.New("missing tensor backbone.blocks.0.weight")
	}
	return b, nil
}

// Extract runs every block in order.
func (b *ConvBackbone) Extract(x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for _, block := range b.blocks {
		if x, err = block.forward(x, b.workers); err != nil {
			return nil, err
		}
		b.act(x.Float32s())
	}
	return x, nil
}

// Channels returns the output depth of the last block.
func (b *ConvBackbone) Channels() int {
	return b.blocks[len(b.blocks)-1].out()
}
