package liveness

import (
	"errors"
	"image"
	"time"
)

// Analysis is the outcome of running a full image through the pipeline.
type Analysis struct {
	// Face is nil when the image was used as the crop without detection.
	Face    *Face
	Crop    *Crop
	Result  *Result
	Elapsed time.Duration
}

// Pipeline turns full images into engine-ready crops and analyzes them.
type Pipeline struct {
	Engine *Engine
	// Detector locates the face. When nil the whole image is resized to the input size.
	Detector *FaceDetector
}

// Analyze locates the face, aligns it and runs the engine.
func (p *Pipeline) Analyze(img image.Image) (*Analysis, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	start := time.Now()

	var (
		crop *Crop
		face *Face
	)
	if p.Detector != nil {
		c, f, err := p.Detector.Align(img)
		if err != nil {
			return nil, err
		}
		crop, face = c, &f
	} else {
		crop = AlignFace(img, img.Bounds(), 0)
	}

	res, err := p.Engine.Infer(crop)
	if err != nil {
		return nil, err
	}
	return &Analysis{
		Face:    face,
		Crop:    crop,
		Result:  res,
		Elapsed: time.Since(start),
	}, nil
}
