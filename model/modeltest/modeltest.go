// Package modeltest builds small deterministic classifier artifacts for tests.
package modeltest

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"

	"github.com/faceproof/liveness/model"
)

// Arch describes the layer widths of a synthetic artifact.
type Arch struct {
	Backbone        []int  // output channels of every stride-2 block
	AttentionHidden int    // channels between the two attention convolutions
	Branch          [2]int // channels of the texture and reflection branch convolutions
	Hidden          int    // width of fc1
	Activation      string // backbone activation, "relu" or "silu"
}

// Tiny keeps forward passes on 224×224 crops fast enough for unit tests.
var Tiny = Arch{
	Backbone:        []int{4, 8},
	AttentionHidden: 4,
	Branch:          [2]int{4, 4},
	Hidden:          8,
	Activation:      "relu",
}

// Weights returns randomly initialised weights for arch. The same seed always
// yields the same weights.
func Weights(arch Arch, seed int64) *model.Weights {
	rng := rand.New(rand.NewSource(seed))
	w := &model.Weights{
		Tensors:  map[string]*tensor.Dense{},
		Metadata: map[string]string{"backbone.activation": arch.Activation},
	}

	add := func(name string, shape ...int) {
		n := 1
		for _, d := range shape {
			n *= d
		}
		fanIn := n / shape[0]
		if len(shape) == 1 {
			fanIn = 1
		}
		scale := 1 / float32(fanIn)
		backing := make([]float32, n)
		for i := range backing {
			backing[i] = (rng.Float32()*2 - 1) * scale
		}
		w.Tensors[name] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}
	conv := func(name string, out, in, k int) {
		add(name+".weight", out, in, k, k)
		add(name+".bias", out)
	}

	in := 3
	for i, out := range arch.Backbone {
		conv(fmt.Sprintf("backbone.blocks.%d", i), out, in, 3)
		in = out
	}
	conv("spatial_attention.0", arch.AttentionHidden, in, 1)
	conv("spatial_attention.2", 1, arch.AttentionHidden, 1)
	conv("texture_conv.0", arch.Branch[0], 3, 3)
	conv("texture_conv.2", arch.Branch[1], arch.Branch[0], 3)
	conv("reflection_conv.0", arch.Branch[0], 3, 3)
	conv("reflection_conv.2", arch.Branch[1], arch.Branch[0], 3)

	fused := in + 2*arch.Branch[1]
	add("fc1.weight", arch.Hidden, fused)
	add("fc1.bias", arch.Hidden)
	add("fc2.weight", 2, arch.Hidden)
	add("fc2.bias", 2)
	return w
}

// WriteArtifact saves a synthetic artifact into a test temp dir and returns its path.
func WriteArtifact(tb testing.TB, arch Arch, seed int64) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "model.safetensors")
	if err := model.Save(path, Weights(arch, seed)); err != nil {
		tb.Fatalf("saving artifact: %v", err)
	}
	return path
}
