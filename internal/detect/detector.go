package detect

import (
	"context"
	"fmt"
	"image"

	"github.com/uivision/button-detect/internal/imaging"
	"github.com/uivision/button-detect/internal/logger"
)

// Params configures a Detector.
type Params struct {
	Backend      Backend
	ClassNames   []string
	Caps         CapPolicy
	Triage       *Triage
	InputSize    int
	IoUThreshold float64
	// RemapBoxes controls whether detections are reported in
	// original-image coordinates instead of canvas coordinates. A
	// per-deployment decision, applied to every request.
	RemapBoxes bool
	Logger     *logger.Logger
}

// Detector is the detection pipeline: letterbox, backend inference,
// per-class NMS where the backend requires it, class-aware capping,
// coordinate remapping and triage. It is constructed once at startup
// and holds no mutable state across requests, so a single instance
// serves all requests of a worker process.
type Detector struct {
	backend    Backend
	classNames []string
	caps       CapPolicy
	triage     *Triage
	inputSize  int
	iou        float64
	remap      bool
	logger     *logger.Logger
}

// NewDetector builds a detector from params. The backend must already
// be loaded (or be loaded before the first Detect call).
func NewDetector(p Params) *Detector {
	log := p.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Detector{
		backend:    p.Backend,
		classNames: p.ClassNames,
		caps:       p.Caps,
		triage:     p.Triage,
		inputSize:  p.InputSize,
		iou:        p.IoUThreshold,
		remap:      p.RemapBoxes,
		logger:     log,
	}
}

// Backend returns the backend handle, mainly for logging.
func (d *Detector) Backend() Backend { return d.backend }

// Detect runs the full pipeline on a decoded image and returns the
// bounded, policy-filtered detection list.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	canvas, transform, err := imaging.Letterbox(img, d.inputSize)
	if err != nil {
		return nil, err
	}

	candidates, err := d.backend.Infer(ctx, canvas)
	if err != nil {
		return nil, err
	}

	if d.backend.NeedsNMS() {
		candidates = d.suppressPerClass(candidates)
	}

	byClass := make(map[string][]Detection)
	for _, c := range candidates {
		det := Detection{
			Box: [4]int{
				int(c.X1),
				int(c.Y1),
				int(c.X2 - c.X1),
				int(c.Y2 - c.Y1),
			},
			Class:      d.className(c.ClassID),
			Confidence: c.Confidence,
		}
		byClass[det.Class] = append(byClass[det.Class], det)
	}

	detections := d.caps.Apply(byClass)

	if d.remap {
		bounds := img.Bounds()
		for i := range detections {
			detections[i].Box = RemapBox(detections[i].Box, transform, bounds.Dx(), bounds.Dy())
		}
	}

	if d.triage != nil {
		d.triage.Review(img, detections)
	}

	return detections, nil
}

// suppressPerClass applies NMS separately within each class so
// overlapping boxes of different classes survive.
func (d *Detector) suppressPerClass(candidates []RawCandidate) []RawCandidate {
	byClass := make(map[int][]RawCandidate)
	order := make([]int, 0, len(byClass))
	for _, c := range candidates {
		if _, seen := byClass[c.ClassID]; !seen {
			order = append(order, c.ClassID)
		}
		byClass[c.ClassID] = append(byClass[c.ClassID], c)
	}

	var kept []RawCandidate
	for _, classID := range order {
		kept = append(kept, NMS(byClass[classID], d.iou)...)
	}
	return kept
}

// className maps a class id to its configured name.
func (d *Detector) className(id int) string {
	if id >= 0 && id < len(d.classNames) {
		return d.classNames[id]
	}
	return fmt.Sprintf("class_%d", id)
}
