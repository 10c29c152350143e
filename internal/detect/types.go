// Package detect implements the detector post-processing pipeline:
// letterbox preprocessing, backend inference, non-maximum suppression,
// class-aware result capping, coordinate remapping and problem-image
// triage.
package detect

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrModelNotLoaded indicates inference was attempted before Load.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrModelFileMissing indicates the weight file is absent at load
	// time. Fatal at startup.
	ErrModelFileMissing = errors.New("model file missing")
)

// Detection is a single detection reported to callers. Box is
// [x, y, width, height] in pixels of the image it is reported against.
type Detection struct {
	Box        [4]int  `json:"box"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// RawCandidate is a pre-filter detection in canvas space. It only
// exists between the backend and the NMS/filter stages and is never
// exposed externally.
type RawCandidate struct {
	X1, Y1, X2, Y2 float64
	ClassID        int
	Confidence     float64
}

// Backend abstracts the inference engine. Implementations must be safe
// to hold as one long-lived instance per worker process: Load once at
// startup, then Infer repeatedly from concurrent requests. Backends
// whose runtime cannot run concurrently must serialize internally.
type Backend interface {
	// Load loads the model. A missing weight file or unreachable
	// model server aborts process startup.
	Load() error

	// Infer runs the model on a letterboxed canvas and returns raw
	// candidates in canvas space.
	Infer(ctx context.Context, canvas *image.NRGBA) ([]RawCandidate, error)

	// NeedsNMS reports whether candidates require explicit
	// per-class non-maximum suppression. Backends whose runtime
	// deduplicates internally return false.
	NeedsNMS() bool

	// Name identifies the backend for logging.
	Name() string
}
