package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"touchmap/internal/store"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// ValidateConfig checks every section and returns all problems found as a
// *multierror.Error, or nil.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result *multierror.Error

	if c.Version < 1 || c.Version > Version {
		result = multierror.Append(result, &ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	result = multierror.Append(result, validateStorage(&c.Storage)...)
	result = multierror.Append(result, validateCapture(&c.Capture)...)
	result = multierror.Append(result, validateExport(&c.Export)...)
	result = multierror.Append(result, validateRender(&c.Render)...)
	result = multierror.Append(result, validateDevice(&c.Device)...)
	result = multierror.Append(result, validateLogging(&c.Logging)...)
	result = multierror.Append(result, validateMetrics(&c.Metrics)...)

	return result.ErrorOrNil()
}

// FieldErrors returns the validation errors contained in err.
func FieldErrors(err error) []*ValidationError {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return []*ValidationError{verr}
		}
		return nil
	}
	var out []*ValidationError
	for _, e := range merr.Errors {
		var verr *ValidationError
		if errors.As(e, &verr) {
			out = append(out, verr)
		}
	}
	return out
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	typ, err := store.ParseType(s.Type)
	if err != nil {
		errs = append(errs, &ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("invalid storage type: %q (valid: %s)", s.Type, storageTypeNames()),
		})
	}

	if s.Key == "" {
		errs = append(errs, RequiredFieldError("storage.key"))
	}

	if s.BusyTimeoutMs < 0 {
		errs = append(errs, &ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	if s.Path != "" && typ != store.TypeMemory {
		path := expandPath(s.Path)
		if typ == store.TypeFile {
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				errs = append(errs, &ValidationError{
					Field:   "storage.path",
					Message: fmt.Sprintf("file storage needs a directory, %s is a file", path),
				})
			}
		} else if info, err := os.Stat(path); err == nil && info.IsDir() {
			errs = append(errs, &ValidationError{
				Field:   "storage.path",
				Message: fmt.Sprintf("database path %s is a directory", path),
			})
		}
	}

	return errs
}

func validateCapture(c *CaptureConfig) []error {
	if c.MoveThresholdPx <= 0 {
		return []error{&ValidationError{
			Field:   "capture.move_threshold_px",
			Message: "threshold must be positive",
		}}
	}
	return nil
}

func validateExport(e *ExportConfig) []error {
	var errs []error
	if e.Weight <= 0 {
		errs = append(errs, &ValidationError{Field: "export.weight", Message: "weight must be positive"})
	}
	if e.MaxPerSession <= 0 {
		errs = append(errs, &ValidationError{Field: "export.max_per_session", Message: "max per session must be positive"})
	}
	if e.TimeoutMs < 100 || e.TimeoutMs > 600000 {
		errs = append(errs, RangeError("export.timeout_ms", 100, 600000))
	}
	return errs
}

func validateRender(r *RenderConfig) []error {
	var errs []error
	if r.Radius <= 0 {
		errs = append(errs, &ValidationError{Field: "render.radius", Message: "radius must be positive"})
	}
	if r.Blur < 0 {
		errs = append(errs, &ValidationError{Field: "render.blur", Message: "blur cannot be negative"})
	}
	if r.MinOpacity < 0 || r.MinOpacity > 1 {
		errs = append(errs, RangeError("render.min_opacity", 0, 1))
	}
	return errs
}

func validateDevice(d *DeviceConfig) []error {
	var errs []error
	if d.Width <= 0 {
		errs = append(errs, &ValidationError{Field: "device.width", Message: "width must be positive"})
	}
	if d.Height <= 0 {
		errs = append(errs, &ValidationError{Field: "device.height", Message: "height must be positive"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, &ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) []error {
	if !m.Enabled {
		return nil
	}
	if m.ListenAddr == "" {
		return []error{RequiredFieldError("metrics.listen_addr")}
	}
	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		return []error{&ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.ListenAddr, err),
		}}
	}
	return nil
}

func storageTypeNames() string {
	names := make([]string, 0, len(store.Types()))
	for _, t := range store.Types() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
