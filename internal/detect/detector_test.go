package detect

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uivision/button-detect/internal/logger"
)

// stubBackend serves canned candidates for pipeline tests.
type stubBackend struct {
	candidates []RawCandidate
	needsNMS   bool
	loaded     bool
	inferErr   error
}

func (b *stubBackend) Load() error    { b.loaded = true; return nil }
func (b *stubBackend) Name() string   { return "stub" }
func (b *stubBackend) NeedsNMS() bool { return b.needsNMS }

func (b *stubBackend) Infer(ctx context.Context, canvas *image.NRGBA) ([]RawCandidate, error) {
	if b.inferErr != nil {
		return nil, b.inferErr
	}
	return b.candidates, nil
}

func newTestDetector(backend Backend, remap bool) *Detector {
	return NewDetector(Params{
		Backend:      backend,
		ClassNames:   []string{"close_button", "action_button"},
		Caps:         CapPolicy{Caps: map[string]int{"close_button": 1, "action_button": 2}, Default: 10},
		InputSize:    640,
		IoUThreshold: 0.45,
		RemapBoxes:   remap,
		Logger:       logger.NewNopLogger(),
	})
}

func TestDetectAppliesNMSWhenBackendRequires(t *testing.T) {
	backend := &stubBackend{
		needsNMS: true,
		candidates: []RawCandidate{
			{X1: 100, Y1: 100, X2: 150, Y2: 150, ClassID: 1, Confidence: 0.9},
			{X1: 102, Y1: 102, X2: 152, Y2: 152, ClassID: 1, Confidence: 0.6},
		},
	}
	d := newTestDetector(backend, false)

	detections, err := d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 640, 640)))
	require.NoError(t, err)

	require.Len(t, detections, 1)
	assert.Equal(t, "action_button", detections[0].Class)
	assert.Equal(t, 0.9, detections[0].Confidence)
}

func TestDetectSkipsNMSWhenBackendDeduplicates(t *testing.T) {
	// The same overlapping pair survives when the backend reports its
	// runtime already deduplicated (here both fit under the class cap).
	backend := &stubBackend{
		needsNMS: false,
		candidates: []RawCandidate{
			{X1: 100, Y1: 100, X2: 150, Y2: 150, ClassID: 1, Confidence: 0.9},
			{X1: 102, Y1: 102, X2: 152, Y2: 152, ClassID: 1, Confidence: 0.6},
		},
	}
	d := newTestDetector(backend, false)

	detections, err := d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 640, 640)))
	require.NoError(t, err)

	assert.Len(t, detections, 2)
}

func TestDetectAppliesClassCaps(t *testing.T) {
	backend := &stubBackend{
		candidates: []RawCandidate{
			{X1: 0, Y1: 0, X2: 20, Y2: 20, ClassID: 0, Confidence: 0.9},
			{X1: 300, Y1: 300, X2: 320, Y2: 320, ClassID: 0, Confidence: 0.8},
			{X1: 600, Y1: 600, X2: 620, Y2: 620, ClassID: 0, Confidence: 0.7},
		},
	}
	d := newTestDetector(backend, false)

	detections, err := d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 640, 640)))
	require.NoError(t, err)

	require.Len(t, detections, 1)
	assert.Equal(t, "close_button", detections[0].Class)
	assert.Equal(t, 0.9, detections[0].Confidence)
}

func TestDetectRemapsToOriginalSpace(t *testing.T) {
	// 1280x720 source: scale 0.5, pad_y 140. Canvas box [100,150,50,50]
	// maps back to [200,20,100,100].
	backend := &stubBackend{
		candidates: []RawCandidate{
			{X1: 100, Y1: 150, X2: 150, Y2: 200, ClassID: 0, Confidence: 0.9},
		},
	}
	d := newTestDetector(backend, true)

	detections, err := d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1280, 720)))
	require.NoError(t, err)

	require.Len(t, detections, 1)
	assert.Equal(t, [4]int{200, 20, 100, 100}, detections[0].Box)
}

func TestDetectUnknownClassID(t *testing.T) {
	backend := &stubBackend{
		candidates: []RawCandidate{
			{X1: 0, Y1: 0, X2: 20, Y2: 20, ClassID: 7, Confidence: 0.9},
		},
	}
	d := newTestDetector(backend, false)

	detections, err := d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 640, 640)))
	require.NoError(t, err)

	require.Len(t, detections, 1)
	assert.Equal(t, "class_7", detections[0].Class)
}

func TestDetectInvalidImage(t *testing.T) {
	d := newTestDetector(&stubBackend{}, false)

	_, err := d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)
}

func TestDetectParallelRequests(t *testing.T) {
	backend := &stubBackend{
		candidates: []RawCandidate{
			{X1: 100, Y1: 150, X2: 150, Y2: 200, ClassID: 0, Confidence: 0.9},
		},
	}
	d := newTestDetector(backend, true)

	var wg sync.WaitGroup
	results := make([][]Detection, 16)
	errs := make([]error, 16)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1280, 720)))
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, [4]int{200, 20, 100, 100}, results[i][0].Box)
		assert.Equal(t, "close_button", results[i][0].Class)
	}
}

func TestDetectRunsTriage(t *testing.T) {
	dir := t.TempDir()
	triage, err := NewTriage(dir, []string{"close_button"}, 0.5, logger.NewNopLogger())
	require.NoError(t, err)

	backend := &stubBackend{}
	d := NewDetector(Params{
		Backend:      backend,
		ClassNames:   []string{"close_button", "action_button"},
		Caps:         CapPolicy{Default: 10},
		Triage:       triage,
		InputSize:    640,
		IoUThreshold: 0.45,
		Logger:       logger.NewNopLogger(),
	})

	_, err = d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 64, 64)))
	require.NoError(t, err)

	assert.Len(t, categoryFiles(t, dir, "no_detection"), 1)
}
