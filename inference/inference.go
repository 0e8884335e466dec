// Package inference wraps loaded detection models behind a common Backend
// interface and selects which backend to activate at startup.
//
// Error taxonomy: constructors fail with *ModelLoadError (fatal at startup
// once every candidate is exhausted), Infer fails with either an ordinary
// error (a recoverable per-frame inference failure, the caller skips the
// frame) or *UnrecognizedOutputError (the model ran but produced output in
// a shape the backend cannot parse, the caller publishes a degraded result).
package inference

import (
	"context"
	"fmt"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/vision/objectdetection"
)

// Params is the per-backend tuning applied by the detection pipeline.
// Backends with different false positive rates carry different thresholds.
type Params struct {
	// ConfidenceThreshold is the score a detection must strictly exceed to
	// be published.
	ConfidenceThreshold float64
	// MaxResults caps how many detections one result may carry.
	MaxResults int
}

// Backend owns one loaded detection model. A backend is constructed once at
// startup, is never mutated concurrently with inference, and carries no
// state between calls. The pipeline guarantees at most one Infer call is in
// flight per backend instance.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Params returns the pipeline tuning for this backend.
	Params() Params

	// Infer runs the model on one frame synchronously and returns the raw
	// detections. It blocks for the duration of the evaluation.
	Infer(ctx context.Context, frame camera.Frame) ([]objectdetection.Detection, error)

	// Close releases the loaded model.
	Close() error
}

// ModelLoadError reports that a backend candidate failed to construct.
type ModelLoadError struct {
	Backend string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("backend %q failed to load: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying load failure.
func (e *ModelLoadError) Unwrap() error { return e.Err }

// UnrecognizedOutputError reports that a model evaluation succeeded but the
// output tensors were in a shape the backend does not understand. RawValues
// counts the values the model did produce, so a caller can distinguish
// "results present but unparsed" from genuinely empty output.
type UnrecognizedOutputError struct {
	Backend   string
	RawValues int
}

func (e *UnrecognizedOutputError) Error() string {
	return fmt.Sprintf("backend %q returned unrecognized output (%d raw values)", e.Backend, e.RawValues)
}

// WithParams returns a backend identical to b but reporting the given
// params, so configuration can override a backend's built-in tuning.
func WithParams(b Backend, p Params) Backend {
	return &paramsOverrideBackend{Backend: b, params: p}
}

type paramsOverrideBackend struct {
	Backend
	params Params
}

func (b *paramsOverrideBackend) Params() Params { return b.params }
