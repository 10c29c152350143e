package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  api_keys:
    - test-key
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 10*1024*1024, cfg.Server.MaxImageBytes)

	assert.Equal(t, BackendAuto, cfg.Model.Backend)
	assert.Equal(t, 0.25, cfg.Model.ConfidenceThreshold)
	assert.Equal(t, 0.45, cfg.Model.IoUThreshold)
	assert.Equal(t, 640, cfg.Model.InputSize)
	assert.Equal(t, []string{"close_button", "action_button"}, cfg.Model.ClassNames)
	assert.Equal(t, 1, cfg.Model.ClassCaps["close_button"])
	assert.Equal(t, 2, cfg.Model.ClassCaps["action_button"])
	assert.Equal(t, 10, cfg.Model.DefaultCap)
	require.NotNil(t, cfg.Model.RemapBoxes)
	assert.True(t, *cfg.Model.RemapBoxes)

	assert.Equal(t, []string{"close_button", "action_button"}, cfg.Triage.RequiredClasses)
	assert.Equal(t, 0.5, cfg.Triage.LowConfidenceThreshold)

	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfigFile(t, `
server:
  host: 127.0.0.1
  port: 8080
model:
  backend: remote
  remote_url: http://model-server:9090
  confidence_threshold: 0.4
  remap_boxes: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendRemote, cfg.Model.Backend)
	assert.Equal(t, "http://model-server:9090", cfg.Model.RemoteURL)
	assert.Equal(t, 0.4, cfg.Model.ConfidenceThreshold)
	require.NotNil(t, cfg.Model.RemapBoxes)
	assert.False(t, *cfg.Model.RemapBoxes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse configuration")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BD_API_KEYS", "key-one,key-two")
	t.Setenv("BD_BACKEND", "onnx")
	t.Setenv("BD_CONFIDENCE_THRESHOLD", "0.6")
	t.Setenv("BD_LOG_LEVEL", "debug")

	path := writeConfigFile(t, `
server:
  api_keys:
    - file-key
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Server.APIKeys)
	assert.Equal(t, BackendONNX, cfg.Model.Backend)
	assert.Equal(t, 0.6, cfg.Model.ConfidenceThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantMsg: "server.port",
		},
		{
			name:    "bad backend",
			mutate:  func(c *Config) { c.Model.Backend = "tensorflow" },
			wantMsg: "invalid model.backend",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Model.ConfidenceThreshold = 1.5 },
			wantMsg: "model.confidence_threshold",
		},
		{
			name:    "iou out of range",
			mutate:  func(c *Config) { c.Model.IoUThreshold = -0.1 },
			wantMsg: "model.iou_threshold",
		},
		{
			name:    "negative class cap",
			mutate:  func(c *Config) { c.Model.ClassCaps = map[string]int{"close_button": -1} },
			wantMsg: "model.class_caps[close_button]",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantMsg: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.setDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
