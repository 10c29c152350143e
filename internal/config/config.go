package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selection values for ModelConfig.Backend.
const (
	BackendAuto   = "auto"
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Triage  TriageConfig  `yaml:"triage"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	APIKeys       []string      `yaml:"api_keys"`
	MaxImageBytes int           `yaml:"max_image_bytes"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
}

// ModelConfig contains detector configuration
type ModelConfig struct {
	// Backend selects the inference backend: auto, onnx or remote.
	// auto probes for the ONNX weight file and falls back to the
	// remote model server when it is absent.
	Backend             string             `yaml:"backend"`
	ONNXPath            string             `yaml:"onnx_path"`
	RemoteURL           string             `yaml:"remote_url"`
	RemoteTimeout       time.Duration      `yaml:"remote_timeout"`
	ConfidenceThreshold float64            `yaml:"confidence_threshold"`
	IoUThreshold        float64            `yaml:"iou_threshold"`
	InputSize           int                `yaml:"input_size"`
	ClassNames          []string           `yaml:"class_names"`
	ClassCaps           map[string]int     `yaml:"class_caps"`
	DefaultCap          int                `yaml:"default_cap"`
	// RemapBoxes reports detections in original-image coordinates
	// instead of canvas coordinates. Decided once per deployment.
	RemapBoxes *bool `yaml:"remap_boxes"`
}

// TriageConfig contains problem-image triage configuration
type TriageConfig struct {
	Dir                    string   `yaml:"dir"`
	RequiredClasses        []string `yaml:"required_classes"`
	LowConfidenceThreshold float64  `yaml:"low_confidence_threshold"`
}

// StorageConfig contains request-log storage configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/button-detect/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.MaxImageBytes == 0 {
		c.Server.MaxImageBytes = 10 * 1024 * 1024
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}

	if c.Model.Backend == "" {
		c.Model.Backend = BackendAuto
	}
	if c.Model.ONNXPath == "" {
		c.Model.ONNXPath = "./best.onnx"
	}
	if c.Model.RemoteURL == "" {
		c.Model.RemoteURL = "http://localhost:9090"
	}
	if c.Model.RemoteTimeout == 0 {
		c.Model.RemoteTimeout = 30 * time.Second
	}
	if c.Model.ConfidenceThreshold == 0 {
		c.Model.ConfidenceThreshold = 0.25
	}
	if c.Model.IoUThreshold == 0 {
		c.Model.IoUThreshold = 0.45
	}
	if c.Model.InputSize == 0 {
		c.Model.InputSize = 640
	}
	if len(c.Model.ClassNames) == 0 {
		c.Model.ClassNames = []string{"close_button", "action_button"}
	}
	if c.Model.ClassCaps == nil {
		c.Model.ClassCaps = map[string]int{
			"close_button":  1,
			"action_button": 2,
		}
	}
	if c.Model.DefaultCap == 0 {
		c.Model.DefaultCap = 10
	}
	if c.Model.RemapBoxes == nil {
		remap := true
		c.Model.RemapBoxes = &remap
	}

	if c.Triage.Dir == "" {
		c.Triage.Dir = "./problem_images"
	}
	if len(c.Triage.RequiredClasses) == 0 {
		c.Triage.RequiredClasses = []string{"close_button", "action_button"}
	}
	if c.Triage.LowConfidenceThreshold == 0 {
		c.Triage.LowConfidenceThreshold = 0.5
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(".", "data", "detection.db")
	}
}

// applyEnvOverrides applies environment variable overrides for the
// settings that are commonly tuned per deployment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BD_API_KEYS"); v != "" {
		c.Server.APIKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("BD_ONNX_MODEL_PATH"); v != "" {
		c.Model.ONNXPath = v
	}
	if v := os.Getenv("BD_REMOTE_MODEL_URL"); v != "" {
		c.Model.RemoteURL = v
	}
	if v := os.Getenv("BD_BACKEND"); v != "" {
		c.Model.Backend = v
	}
	if v := os.Getenv("BD_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Model.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("BD_IOU_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Model.IoUThreshold = f
		}
	}
	if v := os.Getenv("BD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("server.port must be between 1 and 65535, got: %d", c.Server.Port))
	}
	if c.Server.MaxImageBytes < 0 {
		errors = append(errors, fmt.Sprintf("server.max_image_bytes must be >= 0, got: %d", c.Server.MaxImageBytes))
	}

	switch c.Model.Backend {
	case BackendAuto, BackendONNX, BackendRemote:
	default:
		errors = append(errors, fmt.Sprintf("invalid model.backend: %s (must be: auto, onnx or remote)", c.Model.Backend))
	}
	if c.Model.ConfidenceThreshold < 0 || c.Model.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("model.confidence_threshold must be between 0 and 1, got: %.2f", c.Model.ConfidenceThreshold))
	}
	if c.Model.IoUThreshold < 0 || c.Model.IoUThreshold > 1 {
		errors = append(errors, fmt.Sprintf("model.iou_threshold must be between 0 and 1, got: %.2f", c.Model.IoUThreshold))
	}
	if c.Model.InputSize <= 0 {
		errors = append(errors, fmt.Sprintf("model.input_size must be > 0, got: %d", c.Model.InputSize))
	}
	if c.Model.DefaultCap < 0 {
		errors = append(errors, fmt.Sprintf("model.default_cap must be >= 0, got: %d", c.Model.DefaultCap))
	}
	for name, limit := range c.Model.ClassCaps {
		if limit < 0 {
			errors = append(errors, fmt.Sprintf("model.class_caps[%s] must be >= 0, got: %d", name, limit))
		}
	}

	if c.Triage.LowConfidenceThreshold < 0 || c.Triage.LowConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("triage.low_confidence_threshold must be between 0 and 1, got: %.2f", c.Triage.LowConfidenceThreshold))
	}
	if c.Triage.Dir == "" {
		errors = append(errors, "triage.dir is required")
	}

	if c.Storage.DatabasePath == "" {
		errors = append(errors, "storage.database_path is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
