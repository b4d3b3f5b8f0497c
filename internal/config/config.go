// Package config handles configuration loading, validation, and management for touchmap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete touchmap configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Debug logs every host event.
	Debug bool `toml:"debug" json:"debug" yaml:"debug"`

	// SessionOnly makes exports render the current session only.
	SessionOnly bool `toml:"session_only" json:"session_only" yaml:"session_only"`

	// Storage configuration for persisted sessions.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Capture configuration for the touch tracker.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Export configuration for point aggregation and the renderer wait.
	Export ExportConfig `toml:"export" json:"export" yaml:"export"`

	// Render configuration for the built-in heatmap renderer.
	Render RenderConfig `toml:"render" json:"render" yaml:"render"`

	// Device is the surface size used when no host reports one.
	Device DeviceConfig `toml:"device" json:"device" yaml:"device"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the backend: "sqlite", "sqlite-pure", "file" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the database file (sqlite types) or directory (file).
	// Empty selects a default under the data directory.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Key is the namespaced key holding the session map.
	Key string `toml:"key" json:"key" yaml:"key"`

	// Strict returns storage failures to callers instead of logging them.
	Strict bool `toml:"strict" json:"strict" yaml:"strict"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// CaptureConfig holds touch capture configuration.
type CaptureConfig struct {
	// MoveThresholdPx is how far a pointer must move from the start of
	// its touch before the touch is resampled.
	MoveThresholdPx float64 `toml:"move_threshold_px" json:"move_threshold_px" yaml:"move_threshold_px"`
}

// ExportConfig holds export configuration.
type ExportConfig struct {
	// Weight is the weight of every touch point.
	Weight float64 `toml:"weight" json:"weight" yaml:"weight"`

	// MaxPerSession scales the intensity ceiling per exported session.
	MaxPerSession float64 `toml:"max_per_session" json:"max_per_session" yaml:"max_per_session"`

	// TimeoutMs is how long an export waits for the renderer.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// RenderConfig holds heatmap rendering configuration.
type RenderConfig struct {
	Radius     float64 `toml:"radius" json:"radius" yaml:"radius"`
	Blur       float64 `toml:"blur" json:"blur" yaml:"blur"`
	MinOpacity float64 `toml:"min_opacity" json:"min_opacity" yaml:"min_opacity"`
}

// DeviceConfig is a surface size in pixels.
type DeviceConfig struct {
	Width  float64 `toml:"width" json:"width" yaml:"width"`
	Height float64 `toml:"height" json:"height" yaml:"height"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum size of a log file before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Storage: StorageConfig{
			Type:          "sqlite",
			Key:           "storage@touchmap",
			BusyTimeoutMs: 5000,
		},
		Capture: CaptureConfig{
			MoveThresholdPx: 10,
		},
		Export: ExportConfig{
			Weight:        1,
			MaxPerSession: 40,
			TimeoutMs:     10000, // 40 polls of 250 ms
		},
		Render: RenderConfig{
			Radius:     25,
			Blur:       15,
			MinOpacity: 0.05,
		},
		Device: DeviceConfig{
			Width:  390,
			Height: 844,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "touchmap.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// StoragePath returns the configured storage path, or the default for
// the storage type.
func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Storage.Path != "" {
		return expandPath(c.Storage.Path)
	}
	switch c.Storage.Type {
	case "file":
		return filepath.Join(DataDir(), "sessions")
	case "sqlite-pure":
		return filepath.Join(DataDir(), "touchmap-pure.db")
	default:
		return filepath.Join(DataDir(), "touchmap.db")
	}
}

// ExportTimeout returns the renderer wait as a duration.
func (c *Config) ExportTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Export.TimeoutMs) * time.Millisecond
}

// DataDir returns the base touchmap data directory.
// Uses platform-specific paths or the TOUCHMAP_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("TOUCHMAP_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TOUCHMAP_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := envBool("TOUCHMAP_DEBUG"); ok {
		c.Debug = v
	}
	if v, ok := envBool("TOUCHMAP_SESSION_ONLY"); ok {
		c.SessionOnly = v
	}

	// Storage overrides
	if v := os.Getenv("TOUCHMAP_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("TOUCHMAP_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v, ok := envBool("TOUCHMAP_STORAGE_STRICT"); ok {
		c.Storage.Strict = v
	}

	// Device overrides
	if v, ok := envFloat("TOUCHMAP_DEVICE_WIDTH"); ok {
		c.Device.Width = v
	}
	if v, ok := envFloat("TOUCHMAP_DEVICE_HEIGHT"); ok {
		c.Device.Height = v
	}

	// Logging overrides
	if v := os.Getenv("TOUCHMAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TOUCHMAP_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// Metrics overrides
	if v := os.Getenv("TOUCHMAP_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:     c.Version,
		Debug:       c.Debug,
		SessionOnly: c.SessionOnly,
		Storage:     c.Storage,
		Capture:     c.Capture,
		Export:      c.Export,
		Render:      c.Render,
		Device:      c.Device,
		Logging:     c.Logging,
		Metrics:     c.Metrics,
	}
}

func envBool(name string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envFloat(name string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String summarizes the configuration for startup logs.
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("storage=%s strict=%t device=%vx%v session_only=%t debug=%t",
		c.Storage.Type, c.Storage.Strict, c.Device.Width, c.Device.Height, c.SessionOnly, c.Debug)
}
