/*
Package liveness decides from a single still face image whether the face is live
or a presentation attack (printed photo, screen replay, mask).

The decision fuses a feature fusion classifier, loaded from a safetensors
artifact, with three classical analyzers running on the aligned 224x224 crop:
rotation invariant LBP texture, specular reflection and frequency spectrum.
The classifier also returns a spatial attention map which is reported as a list
of highlighted cells and can be rendered as a heatmap over the crop.

The package ships with a command line interface and an HTTP daemon:

	$ liveness -model model.safetensors -cc facefinder -in face.jpg -out heatmap.png
	$ LIVENESS_MODEL_PATH=model.safetensors livenessd

Integrating the engine in your own program looks like this:

	package main

	import (
		"fmt"
		"image"
		"os"

		"github.com/faceproof/liveness"
	)

	func main() {
		engine, err := liveness.NewEngine(liveness.Config{ModelPath: "model.safetensors"})
		if err != nil {
			panic(err)
		}
		detector, err := liveness.NewFaceDetector("facefinder")
		if err != nil {
			panic(err)
		}
		f, _ := os.Open("face.jpg")
		img, _, _ := image.Decode(f)

		p := &liveness.Pipeline{Engine: engine, Detector: detector}
		a, err := p.Analyze(img)
		if err != nil {
			fmt.Printf("Error analyzing image: %s", err.Error())
			return
		}
		fmt.Println(a.Result.IsReal, a.Result.Confidence)
	}
*/
package liveness
