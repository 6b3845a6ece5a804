package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func dense(backing []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

func filled(v float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestConv_Identity(t *testing.T) {
	assert := assert.New(t)

	kernel := make([]float32, 9)
	kernel[4] = 1
	l := conv{
		name:   "identity",
		weight: dense(kernel, 1, 1, 3, 3),
		bias:   dense([]float32{0}, 1),
		stride: 1,
		pad:    1,
	}
	input := []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	out, err := l.forward(dense(input, 1, 3, 3), 4)
	assert.NoError(err)
	assert.Equal(tensor.Shape{1, 3, 3}, out.Shape())
	assert.Equal(input, out.Float32s())
}

func TestConv_ZeroPaddingAndBias(t *testing.T) {
	assert := assert.New(t)

	l := conv{
		name:   "box",
		weight: dense(filled(1, 9), 1, 1, 3, 3),
		bias:   dense([]float32{0.5}, 1),
		stride: 1,
		pad:    1,
	}
	out, err := l.forward(dense(filled(1, 9), 1, 3, 3), 1)
	assert.NoError(err)
	assert.Equal([]float32{
		4.5, 6.5, 4.5,
		6.5, 9.5, 6.5,
		4.5, 6.5, 4.5,
	}, out.Float32s())
}

func TestConv_Stride(t *testing.T) {
	assert := assert.New(t)

	kernel := make([]float32, 9)
	kernel[4] = 1
	l := conv{
		name:   "strided",
		weight: dense(kernel, 1, 1, 3, 3),
		bias:   dense([]float32{0}, 1),
		stride: 2,
		pad:    1,
	}
	input := make([]float32, 16)
	for i := range input {
		input[i] = float32(i)
	}
	out, err := l.forward(dense(input, 1, 4, 4), 2)
	assert.NoError(err)
	assert.Equal(tensor.Shape{1, 2, 2}, out.Shape())
	assert.Equal([]float32{0, 2, 8, 10}, out.Float32s())
}

func TestConv_ChannelMismatch(t *testing.T) {
	l := conv{
		name:   "two",
		weight: dense(filled(1, 18), 1, 2, 3, 3),
		bias:   dense([]float32{0}, 1),
		stride: 1,
		pad:    1,
	}
	_, err := l.forward(dense(filled(1, 9), 1, 3, 3), 1)
	assert.Error(t, err)
}

func TestLinear(t *testing.T) {
	l := linear{
		name:   "fc",
		weight: dense([]float32{1, 2, 3, 4}, 2, 2),
		bias:   dense([]float32{0.5, -0.5}, 2),
	}
	out, err := l.forward(dense([]float32{1, 1}, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{3.5, 6.5}, out.Float32s())
}

func TestActivations(t *testing.T) {
	assert := assert.New(t)

	v := []float32{-1, 0, 2}
	relu(v)
	assert.Equal([]float32{0, 0, 2}, v)

	v = []float32{0}
	sigmoid(v)
	assert.InDelta(0.5, v[0], 1e-7)

	v = []float32{0, 1}
	silu(v)
	assert.InDelta(0, v[0], 1e-7)
	assert.InDelta(1/(1+math.Exp(-1)), v[1], 1e-6)
}

func TestGlobalAvgPool(t *testing.T) {
	out := globalAvgPool(dense([]float32{1, 2, 3, 4, 10, 10, 10, 10}, 2, 2, 2))
	assert.Equal(t, []float32{2.5, 10}, out)
}

func TestSoftmax_Stable(t *testing.T) {
	assert := assert.New(t)

	p := softmax([2]float64{1000, 1000})
	assert.Equal([2]float64{0.5, 0.5}, p)

	p = softmax([2]float64{-1e6, 1e6})
	assert.False(math.IsNaN(p[0]) || math.IsNaN(p[1]))
	assert.InDelta(0, p[0], 1e-12)
	assert.InDelta(1, p[1], 1e-12)

	p = softmax([2]float64{0, math.Log(3)})
	assert.InDelta(0.25, p[0], 1e-12)
	assert.InDelta(0.75, p[1], 1e-12)
}
