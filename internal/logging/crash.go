package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"time"
)

// ErrPanic is wrapped by the error Guard returns after recovering.
var ErrPanic = errors.New("recovered panic")

// CrashReport describes a recovered panic.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Component    string    `json:"component,omitempty"`
	Operation    string    `json:"operation"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
}

// CrashHandler turns panics into crash report files and errors.
type CrashHandler struct {
	dir       string
	component string
	logger    *slog.Logger
}

// NewCrashHandler writes reports under dir. A nil logger uses slog.Default.
func NewCrashHandler(dir, component string, logger *slog.Logger) *CrashHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrashHandler{dir: dir, component: component, logger: logger}
}

// Dir returns the report directory.
func (h *CrashHandler) Dir() string {
	return h.dir
}

// Guard runs fn. A panic inside fn is recorded and returned as an error
// wrapping ErrPanic.
func (h *CrashHandler) Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report := h.report(op, r)
			path, werr := h.write(report)
			if werr != nil {
				h.logger.Error("write crash report", "op", op, "error", werr)
			} else {
				h.logger.Error("recovered panic", "op", op, "panic", report.PanicValue, "report", path)
			}
			err = fmt.Errorf("%s: %w: %s", op, ErrPanic, report.PanicValue)
		}
	}()
	return fn()
}

func (h *CrashHandler) report(op string, value any) CrashReport {
	return CrashReport{
		Timestamp:    time.Now().UTC(),
		Component:    h.component,
		Operation:    op,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", value),
		StackTrace:   string(debug.Stack()),
	}
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.dir, 0750); err != nil {
		return "", fmt.Errorf("create crash directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	name := fmt.Sprintf("crash-%s.json", report.Timestamp.Format(backupTimeFormat))
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports reads every crash report in the directory, oldest first.
// Unreadable files are skipped.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Prune removes reports older than maxAge.
func (h *CrashHandler) Prune(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
	return nil
}
