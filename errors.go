package liveness

import (
	"errors"
	"fmt"
)

// ErrNoFace is returned by the face detector when no face passes the quality threshold.
var ErrNoFace = errors.New("no face detected")

var errMissingModelPath = errors.New("model path not configured")

// InvalidInputError reports a crop that does not satisfy the engine's input contract.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// ModelNotReadyError reports that the classifier parameters could not be loaded.
type ModelNotReadyError struct {
	Path string
	Err  error
}

func (e *ModelNotReadyError) Error() string {
	return fmt.Sprintf("model not ready (%s): %v", e.Path, e.Err)
}

func (e *ModelNotReadyError) Unwrap() error { return e.Err }
