package liveness

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faceproof/liveness/model"
	"github.com/faceproof/liveness/model/modeltest"
)

func newTestEngine(t *testing.T, parallel bool) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		ModelPath: modeltest.WriteArtifact(t, modeltest.Tiny, 42),
		Workers:   2,
		Parallel:  parallel,
	})
	require.NoError(t, err)
	return e
}

func TestEngine_ModelNotReady(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.safetensors")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a model"), 0o644))

	arch := modeltest.Tiny
	w := modeltest.Weights(arch, 1)
	delete(w.Tensors, "fc2.weight")
	incomplete := filepath.Join(dir, "incomplete.safetensors")
	require.NoError(t, model.Save(incomplete, w))

	for name, path := range map[string]string{
		"empty path": "",
		"missing":    filepath.Join(dir, "missing.safetensors"),
		"corrupt":    corrupt,
		"incomplete": incomplete,
	} {
		t.Run(name, func(t *testing.T) {
			e, err := NewEngine(Config{ModelPath: path})
			assert.Nil(t, e)

			var notReady *ModelNotReadyError
			require.True(t, errors.As(err, &notReady))
			assert.Equal(t, path, notReady.Path)
			assert.Error(t, errors.Unwrap(err))
		})
	}
}

func TestEngine_InvalidInput(t *testing.T) {
	e := newTestEngine(t, false)

	short := grayCrop(128)
	short.Pix = short.Pix[:len(short.Pix)-1]

	for name, crop := range map[string]*Crop{
		"nil":            nil,
		"single channel": NewCrop(Grayscale(grayCrop(128))),
		"wrong size":     {Pix: make([]uint8, 100*100*3), Width: 100, Height: 100, Channels: 3},
		"short buffer":   short,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := e.Infer(crop)
			assert.Nil(t, res)

			var invalid *InvalidInputError
			assert.True(t, errors.As(err, &invalid), "got %v", err)
		})
	}
}

func TestEngine_UniformGray(t *testing.T) {
	assert := assert.New(t)
	e := newTestEngine(t, false)

	res, err := e.Infer(grayCrop(128))
	require.NoError(t, err)

	assert.InDelta(1, res.Probabilities[0]+res.Probabilities[1], 1e-9)
	assert.GreaterOrEqual(res.Confidence, 0.5)
	assert.LessOrEqual(res.Confidence, 1.0)
	assert.InDelta(0, res.Texture.Entropy, 1e-9)
	assert.InDelta(0, res.Reflection.Ratio, 1e-9)
	assert.Less(res.Frequency.Ratio, 1e-9)

	require.NotNil(t, res.Attention)
	assert.Equal(InputSize/4, res.Attention.Width)
	assert.Equal(InputSize/4, res.Attention.Height)
	for _, h := range res.Highlights {
		assert.Greater(h.Intensity, highlightThreshold)
	}
}

func TestEngine_Idempotent(t *testing.T) {
	e := newTestEngine(t, false)
	crop := noiseCrop(7)

	first, err := e.Infer(crop)
	require.NoError(t, err)
	second, err := e.Infer(crop)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	parallel, err := newTestEngine(t, true).Infer(crop)
	require.NoError(t, err)
	assert.Equal(t, first, parallel)
}

func TestEngine_ConcurrentInfer(t *testing.T) {
	e := newTestEngine(t, true)
	want, err := e.Infer(noiseCrop(9))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.Infer(noiseCrop(9))
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, want, res)
	}
}

func TestEngine_WithClassifier(t *testing.T) {
	c, err := model.New(modeltest.Weights(modeltest.Tiny, 3), model.Options{})
	require.NoError(t, err)

	e, err := NewEngine(Config{}, WithClassifier(c))
	require.NoError(t, err)
	_, err = e.Infer(grayCrop(10))
	assert.NoError(t, err)
}

func TestEngine_Highlights(t *testing.T) {
	a := &model.AttentionMap{
		Width:  3,
		Height: 2,
		Values: []float64{
			0.9, 0.5, 0.51,
			0.1, 0.7, 0.2,
		},
	}
	assert.Equal(t, []Highlight{
		{X: 0, Y: 0, Intensity: 0.9},
		{X: 2, Y: 0, Intensity: 0.51},
		{X: 1, Y: 1, Intensity: 0.7},
	}, highlights(a))

	assert.Empty(t, highlights(&model.AttentionMap{Width: 1, Height: 1, Values: []float64{0.5}}))
}
