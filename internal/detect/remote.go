package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/uivision/button-detect/internal/logger"
)

// RemoteBackend delegates inference to a model server wrapping the
// native training framework. The server applies its own confidence and
// IoU thresholds during inference and returns already-deduplicated
// candidates, so no NMS stage is needed on this side.
type RemoteBackend struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
}

type remoteRequest struct {
	Image string `json:"image"`
}

type remoteBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

type remoteResponse struct {
	BoundingBoxes []remoteBox `json:"bounding_boxes"`
}

// NewRemoteBackend creates a client for the model server at serviceURL.
func NewRemoteBackend(serviceURL string, timeout time.Duration, log *logger.Logger) *RemoteBackend {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RemoteBackend{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// Name identifies the backend for logging.
func (b *RemoteBackend) Name() string { return "remote" }

// NeedsNMS reports that the model server deduplicates internally.
func (b *RemoteBackend) NeedsNMS() bool { return false }

// Load verifies the model server is reachable. Failure aborts startup.
func (b *RemoteBackend) Load() error {
	url := b.serviceURL + "/api/v1/health"
	resp, err := b.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("model server unreachable at %s: %w", b.serviceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server unhealthy: status %d", resp.StatusCode)
	}

	b.logger.Info("Remote model server ready", "url", b.serviceURL)
	return nil
}

// Infer sends the letterboxed canvas to the model server and converts
// its response into raw candidates in canvas space.
func (b *RemoteBackend) Infer(ctx context.Context, canvas *image.NRGBA) ([]RawCandidate, error) {
	var imgBuf bytes.Buffer
	if err := jpeg.Encode(&imgBuf, canvas, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}

	reqBody, err := json.Marshal(remoteRequest{
		Image: base64.StdEncoding.EncodeToString(imgBuf.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := b.serviceURL + "/api/v1/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, body)
	}

	var parsed remoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	candidates := make([]RawCandidate, 0, len(parsed.BoundingBoxes))
	for _, box := range parsed.BoundingBoxes {
		candidates = append(candidates, RawCandidate{
			X1:         box.X1,
			Y1:         box.Y1,
			X2:         box.X2,
			Y2:         box.Y2,
			ClassID:    box.ClassID,
			Confidence: box.Confidence,
		})
	}
	return candidates, nil
}
