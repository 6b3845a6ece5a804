package liveness

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"

	"github.com/faceproof/liveness/utils"
)

// faceFinder is the subset of the pigo classifier used by the detector.
type faceFinder interface {
	RunCascade(cp pigo.CascadeParams, angle float64) []pigo.Detection
	ClusterDetections(detections []pigo.Detection, iouThreshold float64) []pigo.Detection
}

// Face is a detected face region together with its detection score.
type Face struct {
	Rect  image.Rectangle `json:"rect"`
	Score float32         `json:"score"`
}

// FaceDetector locates the best face in a full image and produces the aligned crop
// consumed by the engine.
type FaceDetector struct {
	MinSize     int
	ShiftFactor float64
	ScaleFactor float64
	// Angle is the cascade rotation, 0.0 is 0 radians and 1.0 is 2*pi radians.
	Angle float64
	// MinScore discards weak detections.
	MinScore float32
	// Margin is added around the detected face before cropping.
	Margin int

	finder faceFinder
}

// NewFaceDetector unpacks the pigo cascade stored at cascadePath.
func NewFaceDetector(cascadePath string) (*FaceDetector, error) {
	cascade, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("error reading the cascade file: %w", err)
	}

	// Unpack the binary file. This will return the number of cascade trees,
	// the tree depth, the threshold and the prediction from tree's leaf nodes.
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %w", err)
	}
	return newFaceDetector(classifier), nil
}

func newFaceDetector(finder faceFinder) *FaceDetector {
	return &FaceDetector{
		MinSize:     60,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		MinScore:    5,
		Margin:      20,
		finder:      finder,
	}
}

// Detect returns the face with the highest detection score.
func (d *FaceDetector) Detect(img image.Image) (Face, error) {
	src := imgToNRGBA(img)
	dx, dy := src.Bounds().Dx(), src.Bounds().Dy()

	// Transform the image to a pixel array.
	gray := Grayscale(NewCrop(src))

	cParams := pigo.CascadeParams{
		MinSize:     d.MinSize,
		MaxSize:     utils.Max(dx, dy),
		ShiftFactor: d.ShiftFactor,
		ScaleFactor: d.ScaleFactor,

		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   dy,
			Cols:   dx,
			Dim:    dx,
		},
	}

	// Run the classifier over the obtained leaf nodes and return the detection results.
	// The result contains quadruplets representing the row, column, scale and detection score.
	faces := d.finder.RunCascade(cParams, d.Angle)

	// Calculate the intersection over union (IoU) of two clusters.
	faces = d.finder.ClusterDetections(faces, 0.2)

	best := -1
	for i, f := range faces {
		if f.Q < d.MinScore {
			continue
		}
		if best < 0 || f.Q > faces[best].Q {
			best = i
		}
	}
	if best < 0 {
		return Face{}, ErrNoFace
	}

	f := faces[best]
	half := f.Scale / 2
	rect := image.Rect(f.Col-half, f.Row-half, f.Col+half, f.Row+half)
	return Face{
		// Detection runs on a zero-origin copy, report the box in img coordinates.
		Rect:  rect.Add(img.Bounds().Min),
		Score: f.Q,
	}, nil
}

// Align detects the best face and returns it as an engine-ready crop.
func (d *FaceDetector) Align(img image.Image) (*Crop, Face, error) {
	face, err := d.Detect(img)
	if err != nil {
		return nil, Face{}, err
	}
	return AlignFace(img, face.Rect, d.Margin), face, nil
}

// AlignFace grows the face rectangle, given in img coordinates, by margin on every
// side, clamps it to the image and resizes the region to InputSize×InputSize.
func AlignFace(img image.Image, face image.Rectangle, margin int) *Crop {
	src := imgToNRGBA(img)
	region := face.Sub(img.Bounds().Min).Inset(-margin).Intersect(src.Bounds())
	if region.Empty() {
		region = src.Bounds()
	}
	resized := imaging.Resize(imaging.Crop(src, region), InputSize, InputSize, imaging.Linear)
	return NewCrop(resized)
}
