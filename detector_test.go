package liveness

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFinder struct {
	dets   []pigo.Detection
	params pigo.CascadeParams
}

func (s *stubFinder) RunCascade(cp pigo.CascadeParams, angle float64) []pigo.Detection {
	s.params = cp
	return s.dets
}

func (s *stubFinder) ClusterDetections(dets []pigo.Detection, iou float64) []pigo.Detection {
	return dets
}

func TestDetector_BestFace(t *testing.T) {
	assert := assert.New(t)

	finder := &stubFinder{dets: []pigo.Detection{
		{Row: 50, Col: 50, Scale: 40, Q: 8},
		{Row: 120, Col: 200, Scale: 80, Q: 21.5},
		{Row: 10, Col: 10, Scale: 10, Q: 2},
	}}
	d := newFaceDetector(finder)

	img := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	face, err := d.Detect(img)
	require.NoError(t, err)
	assert.Equal(image.Rect(160, 80, 240, 160), face.Rect)
	assert.Equal(float32(21.5), face.Score)

	assert.Equal(240, finder.params.Rows)
	assert.Equal(320, finder.params.Cols)
	assert.Equal(320, finder.params.MaxSize)
	assert.Len(finder.params.Pixels, 320*240)
}

func TestDetector_NoFace(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))

	_, err := newFaceDetector(&stubFinder{}).Detect(img)
	assert.True(t, errors.Is(err, ErrNoFace))

	weak := &stubFinder{dets: []pigo.Detection{{Row: 32, Col: 32, Scale: 20, Q: 1}}}
	_, _, err = newFaceDetector(weak).Align(img)
	assert.True(t, errors.Is(err, ErrNoFace))
}

func TestDetector_MissingCascade(t *testing.T) {
	_, err := NewFaceDetector(filepath.Join(t.TempDir(), "facefinder"))
	assert.Error(t, err)
}

func TestDetector_Align(t *testing.T) {
	assert := assert.New(t)

	img := image.NewNRGBA(image.Rect(0, 0, 400, 300))
	red := color.NRGBA{R: 255, A: 255}
	for y := 100; y < 200; y++ {
		for x := 150; x < 250; x++ {
			img.SetNRGBA(x, y, red)
		}
	}

	finder := &stubFinder{dets: []pigo.Detection{{Row: 150, Col: 200, Scale: 100, Q: 10}}}
	d := newFaceDetector(finder)
	d.Margin = 0

	crop, face, err := d.Align(img)
	require.NoError(t, err)
	assert.Equal(image.Rect(150, 100, 250, 200), face.Rect)
	require.NoError(t, crop.validate())
	for i := 0; i < len(crop.Pix); i += 3 {
		assert.Equal([]uint8{255, 0, 0}, crop.Pix[i:i+3])
	}
}

func TestDetector_AlignOffsetImage(t *testing.T) {
	assert := assert.New(t)

	parent := image.NewNRGBA(image.Rect(0, 0, 440, 330))
	red := color.NRGBA{R: 255, A: 255}
	for y := 130; y < 230; y++ {
		for x := 190; x < 290; x++ {
			parent.SetNRGBA(x, y, red)
		}
	}
	img := parent.SubImage(image.Rect(40, 30, 440, 330))

	finder := &stubFinder{dets: []pigo.Detection{{Row: 150, Col: 200, Scale: 100, Q: 10}}}
	d := newFaceDetector(finder)
	d.Margin = 0

	crop, face, err := d.Align(img)
	require.NoError(t, err)
	assert.Equal(image.Rect(190, 130, 290, 230), face.Rect)
	for i := 0; i < len(crop.Pix); i += 3 {
		if !assert.Equal([]uint8{255, 0, 0}, crop.Pix[i:i+3]) {
			break
		}
	}
}

func TestAlignFace_MarginIsClamped(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 80))
	crop := AlignFace(img, image.Rect(-10, 5, 60, 70), 20)
	assert.Equal(t, InputSize, crop.Width)
	assert.Equal(t, InputSize, crop.Height)
	assert.Equal(t, 3, crop.Channels)

	// A face rectangle entirely outside the image falls back to the whole image.
	crop = AlignFace(img, image.Rect(500, 500, 600, 600), 0)
	assert.NoError(t, crop.validate())
}
