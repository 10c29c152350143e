package detect

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	disimaging "github.com/disintegration/imaging"

	"github.com/uivision/button-detect/internal/logger"
)

// Triage inspects final detection sets and persists flagged images for
// offline review. All failures are logged and swallowed: triage is
// best-effort and must never fail the detection request.
type Triage struct {
	baseDir  string
	required []string
	lowConf  float64
	logger   *logger.Logger
}

// NewTriage creates a triage store rooted at dir.
func NewTriage(dir string, requiredClasses []string, lowConfidenceThreshold float64, log *logger.Logger) (*Triage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create problem images directory: %w", err)
	}
	log.Info("Problem images will be saved", "dir", dir)

	return &Triage{
		baseDir:  dir,
		required: requiredClasses,
		lowConf:  lowConfidenceThreshold,
		logger:   log,
	}, nil
}

// Review checks a detection set against the required-class and
// confidence policies and persists flagged images.
func (t *Triage) Review(original image.Image, detections []Detection) {
	detected := make(map[string]bool, len(detections))
	maxConf := 0.0
	for _, d := range detections {
		detected[d.Class] = true
		if d.Confidence > maxConf {
			maxConf = d.Confidence
		}
	}

	for _, class := range t.required {
		if !detected[class] {
			reason := "missing_" + class
			t.save(original, detections, reason, reason)
		}
	}

	if len(detections) > 0 && maxConf < t.lowConf {
		t.save(original, detections, fmt.Sprintf("low_conf_%.2f", maxConf), "low_confidence")
	}

	if len(detections) == 0 {
		t.save(original, detections, "no_detection", "no_detection")
	}
}

// save writes the image plus a sidecar text record under
// <base>/<category>/<date>/. Filenames embed a microsecond timestamp
// and a content hash, so concurrent workers never collide.
func (t *Triage) save(original image.Image, detections []Detection, reason, category string) {
	now := time.Now()
	dateDir := filepath.Join(t.baseDir, category, now.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		t.logger.Warn("Failed to create triage directory", "dir", dateDir, "error", err)
		return
	}

	filename := fmt.Sprintf("%s_%06d_%s_%s.jpg",
		now.Format("150405"), now.Nanosecond()/1000, contentHash(original), reason)
	imagePath := filepath.Join(dateDir, filename)

	if err := disimaging.Save(original, imagePath, disimaging.JPEGQuality(95)); err != nil {
		t.logger.Warn("Failed to save problem image", "path", imagePath, "error", err)
		return
	}

	infoPath := strings.TrimSuffix(imagePath, ".jpg") + ".txt"
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reason: %s\n", reason)
	fmt.Fprintf(&sb, "Time: %s\n", now.Format(time.RFC3339))
	sb.WriteString("Detections:\n")
	for _, d := range detections {
		fmt.Fprintf(&sb, "  - %s: %.4f at %v\n", d.Class, d.Confidence, d.Box)
	}
	if err := os.WriteFile(infoPath, []byte(sb.String()), 0644); err != nil {
		t.logger.Warn("Failed to save problem image record", "path", infoPath, "error", err)
		return
	}

	t.logger.Debug("Saved problem image", "path", imagePath, "category", category)
}

// contentHash returns a short digest of the leading pixel data, enough
// to distinguish images within the same microsecond.
func contentHash(img image.Image) string {
	pix := disimaging.Clone(img).Pix
	if len(pix) > 1000 {
		pix = pix[:1000]
	}
	sum := md5.Sum(pix)
	return hex.EncodeToString(sum[:])[:8]
}
