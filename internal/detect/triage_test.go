package detect

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uivision/button-detect/internal/logger"
)

func newTestTriage(t *testing.T) (*Triage, string) {
	t.Helper()
	dir := t.TempDir()
	tr, err := NewTriage(dir, []string{"close_button", "action_button"}, 0.5, logger.NewNopLogger())
	require.NoError(t, err)
	return tr, dir
}

func testImage() image.Image {
	return image.NewNRGBA(image.Rect(0, 0, 32, 32))
}

// categoryFiles returns the saved jpg files under a triage category.
func categoryFiles(t *testing.T, dir, category string) []string {
	t.Helper()
	var files []string
	root := filepath.Join(dir, category)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".jpg" {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestTriageEmptyDetections(t *testing.T) {
	tr, dir := newTestTriage(t)

	tr.Review(testImage(), nil)

	assert.Len(t, categoryFiles(t, dir, "no_detection"), 1)
	// Empty set also misses both required classes
	assert.Len(t, categoryFiles(t, dir, "missing_close_button"), 1)
	assert.Len(t, categoryFiles(t, dir, "missing_action_button"), 1)
	assert.Empty(t, categoryFiles(t, dir, "low_confidence"))
}

func TestTriageMissingRequiredClass(t *testing.T) {
	tr, dir := newTestTriage(t)

	detections := []Detection{
		{Box: [4]int{0, 0, 10, 10}, Class: "close_button", Confidence: 0.95},
	}
	tr.Review(testImage(), detections)

	assert.Len(t, categoryFiles(t, dir, "missing_action_button"), 1)
	assert.Empty(t, categoryFiles(t, dir, "missing_close_button"))
	assert.Empty(t, categoryFiles(t, dir, "no_detection"))
	assert.Empty(t, categoryFiles(t, dir, "low_confidence"))
}

func TestTriageLowConfidence(t *testing.T) {
	tr, dir := newTestTriage(t)

	detections := []Detection{
		{Box: [4]int{0, 0, 10, 10}, Class: "close_button", Confidence: 0.3},
		{Box: [4]int{20, 20, 10, 10}, Class: "action_button", Confidence: 0.4},
	}
	tr.Review(testImage(), detections)

	assert.Len(t, categoryFiles(t, dir, "low_confidence"), 1)
	assert.Empty(t, categoryFiles(t, dir, "no_detection"))
}

func TestTriageHealthySetSavesNothing(t *testing.T) {
	tr, dir := newTestTriage(t)

	detections := []Detection{
		{Box: [4]int{0, 0, 10, 10}, Class: "close_button", Confidence: 0.9},
		{Box: [4]int{20, 20, 10, 10}, Class: "action_button", Confidence: 0.8},
	}
	tr.Review(testImage(), detections)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTriageWritesSidecarRecord(t *testing.T) {
	tr, dir := newTestTriage(t)

	tr.Review(testImage(), nil)

	files := categoryFiles(t, dir, "no_detection")
	require.Len(t, files, 1)

	// Date-keyed directory layout
	assert.Equal(t, time.Now().Format("2006-01-02"), filepath.Base(filepath.Dir(files[0])))

	sidecar := files[0][:len(files[0])-len(".jpg")] + ".txt"
	content, err := os.ReadFile(sidecar)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Reason: no_detection")
	assert.Contains(t, string(content), "Time: ")
}
