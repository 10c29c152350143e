package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/uivision/button-detect/internal/logger"
)

// The ONNX Runtime environment is process-wide and must be initialized
// exactly once even if several sessions are created.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXBackend runs a precompiled YOLO graph through ONNX Runtime. The
// runtime does not deduplicate predictions, so candidates from this
// backend require explicit confidence thresholding and per-class NMS.
//
// The session is bound to one pre-allocated input/output tensor pair,
// so Infer serializes callers on a mutex; concurrent HTTP requests
// queue here instead of interleaving tensor reads and writes.
type ONNXBackend struct {
	modelPath  string
	inputSize  int
	confidence float64
	classCount int

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	logger  *logger.Logger
}

// NewONNXBackend creates an ONNX backend. Load must be called before
// Infer.
func NewONNXBackend(modelPath string, inputSize int, confidence float64, classCount int, log *logger.Logger) *ONNXBackend {
	return &ONNXBackend{
		modelPath:  modelPath,
		inputSize:  inputSize,
		confidence: confidence,
		classCount: classCount,
		logger:     log,
	}
}

// Name identifies the backend for logging.
func (b *ONNXBackend) Name() string { return "onnx" }

// NeedsNMS reports that this backend's raw output requires explicit
// per-class suppression.
func (b *ONNXBackend) NeedsNMS() bool { return true }

// predictionRows returns the number of anchor rows the YOLOv5 export
// emits for a square input: three detection heads at strides 8, 16 and
// 32, three anchors each.
func predictionRows(inputSize int) int {
	rows := 0
	for _, stride := range []int{8, 16, 32} {
		g := inputSize / stride
		rows += g * g * 3
	}
	return rows
}

// Load opens the ONNX session. The weight file must exist; a missing
// file is fatal at startup.
func (b *ONNXBackend) Load() error {
	if _, err := os.Stat(b.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrModelFileMissing, b.modelPath)
	}

	ortInitOnce.Do(func() {
		if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to initialize onnxruntime environment: %w", ortInitErr)
	}

	b.logger.Info("Loading ONNX model", "path", b.modelPath)

	inputShape := ort.NewShape(1, 3, int64(b.inputSize), int64(b.inputSize))
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	rows := predictionRows(b.inputSize)
	outputShape := ort.NewShape(1, int64(rows), int64(5+b.classCount))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	// One intra-op thread per worker process so parallel workers do
	// not contend for cores.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)

	session, err := ort.NewAdvancedSession(
		b.modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("failed to create onnx session: %w", err)
	}

	b.input = input
	b.output = output
	b.session = session

	b.logger.Info("ONNX model loaded", "path", b.modelPath, "prediction_rows", rows)
	return nil
}

// Close releases the session and its tensors.
func (b *ONNXBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	if b.input != nil {
		b.input.Destroy()
		b.input = nil
	}
	if b.output != nil {
		b.output.Destroy()
		b.output = nil
	}
	return nil
}

// Infer runs the graph on a letterboxed canvas and returns candidates
// above the confidence threshold. Calls are serialized: the session
// reads and writes the shared tensors in place.
func (b *ONNXBackend) Infer(ctx context.Context, canvas *image.NRGBA) ([]RawCandidate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, ErrModelNotLoaded
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.fillInput(canvas)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return b.parseOutput(), nil
}

// fillInput converts the NRGBA canvas to a normalized CHW float tensor.
func (b *ONNXBackend) fillInput(canvas *image.NRGBA) {
	s := b.inputSize
	data := b.input.GetData()
	plane := s * s

	for y := 0; y < s; y++ {
		for x := 0; x < s; x++ {
			offset := canvas.PixOffset(x, y)
			idx := y*s + x
			data[idx] = float32(canvas.Pix[offset]) / 255.0
			data[plane+idx] = float32(canvas.Pix[offset+1]) / 255.0
			data[2*plane+idx] = float32(canvas.Pix[offset+2]) / 255.0
		}
	}
}

// parseOutput decodes raw prediction rows. Each row is laid out as
// [x_center, y_center, w, h, objectness, class_scores...]; the row
// survives when objectness * best class score clears the confidence
// threshold.
func (b *ONNXBackend) parseOutput() []RawCandidate {
	data := b.output.GetData()
	cols := 5 + b.classCount

	var candidates []RawCandidate
	for offset := 0; offset+cols <= len(data); offset += cols {
		objectness := float64(data[offset+4])

		classID := 0
		bestScore := float64(data[offset+5])
		for c := 1; c < b.classCount; c++ {
			if score := float64(data[offset+5+c]); score > bestScore {
				bestScore = score
				classID = c
			}
		}

		confidence := objectness * bestScore
		if confidence < b.confidence {
			continue
		}

		cx := float64(data[offset])
		cy := float64(data[offset+1])
		w := float64(data[offset+2])
		h := float64(data[offset+3])

		candidates = append(candidates, RawCandidate{
			X1:         cx - w/2,
			Y1:         cy - h/2,
			X2:         cx + w/2,
			Y2:         cy + h/2,
			ClassID:    classID,
			Confidence: confidence,
		})
	}
	return candidates
}
