package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every override so the host environment cannot leak
// into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"TOUCHMAP_DEBUG", "TOUCHMAP_SESSION_ONLY",
		"TOUCHMAP_STORAGE_TYPE", "TOUCHMAP_STORAGE_PATH", "TOUCHMAP_STORAGE_STRICT",
		"TOUCHMAP_DEVICE_WIDTH", "TOUCHMAP_DEVICE_HEIGHT",
		"TOUCHMAP_LOG_LEVEL", "TOUCHMAP_LOG_PATH", "TOUCHMAP_METRICS_ADDR",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("expected sqlite storage, got %s", cfg.Storage.Type)
	}
	if cfg.Storage.Key != "storage@touchmap" {
		t.Errorf("unexpected storage key %s", cfg.Storage.Key)
	}
	if cfg.Export.MaxPerSession != 40 || cfg.Export.Weight != 1 {
		t.Errorf("unexpected export defaults %+v", cfg.Export)
	}
	if cfg.ExportTimeout() != 10*time.Second {
		t.Errorf("expected 10s export timeout, got %v", cfg.ExportTimeout())
	}
	if cfg.Capture.MoveThresholdPx != 10 {
		t.Errorf("expected 10px threshold, got %v", cfg.Capture.MoveThresholdPx)
	}
	if !strings.Contains(cfg.Logging.FilePath, "touchmap") {
		t.Errorf("log path should contain touchmap: %s", cfg.Logging.FilePath)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "touchmap") {
		t.Errorf("config path should contain touchmap: %s", path)
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TOUCHMAP_DATA_DIR", dir)

	if DataDir() != dir {
		t.Errorf("expected %s, got %s", dir, DataDir())
	}
}

func TestStoragePathDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TOUCHMAP_DATA_DIR", dir)

	tests := []struct {
		typ  string
		want string
	}{
		{"sqlite", filepath.Join(dir, "touchmap.db")},
		{"sqlite-pure", filepath.Join(dir, "touchmap-pure.db")},
		{"file", filepath.Join(dir, "sessions")},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Storage.Type = tt.typ
		if got := cfg.StoragePath(); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.typ, tt.want, got)
		}
	}

	cfg := DefaultConfig()
	cfg.Storage.Path = "/var/lib/touchmap/custom.db"
	if got := cfg.StoragePath(); got != "/var/lib/touchmap/custom.db" {
		t.Errorf("explicit path not honored: %s", got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("expected default storage, got %s", cfg.Storage.Type)
	}
}

func TestLoadFormats(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
	}{
		{"config.toml", `
session_only = true

[storage]
type = "file"
strict = true

[device]
width = 1024.0
height = 768.0
`},
		{"config.json", `{
  "session_only": true,
  "storage": {"type": "file", "strict": true},
  "device": {"width": 1024, "height": 768}
}`},
		{"config.yaml", `
session_only: true
storage:
  type: file
  strict: true
device:
  width: 1024
  height: 768
`},
		{"touchmaprc", `
session_only = true

[storage]
type = "file"
strict = true

[device]
width = 1024.0
height = 768.0
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !cfg.SessionOnly {
				t.Error("session_only not loaded")
			}
			if cfg.Storage.Type != "file" || !cfg.Storage.Strict {
				t.Errorf("storage not loaded: %+v", cfg.Storage)
			}
			if cfg.Device.Width != 1024 || cfg.Device.Height != 768 {
				t.Errorf("device not loaded: %+v", cfg.Device)
			}
			// Unset fields keep their defaults.
			if cfg.Storage.Key != "storage@touchmap" {
				t.Errorf("default key lost: %s", cfg.Storage.Key)
			}
			if cfg.Export.MaxPerSession != 40 {
				t.Errorf("default max per session lost: %v", cfg.Export.MaxPerSession)
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[storage\ntype ="), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOUCHMAP_DEBUG", "true")
	t.Setenv("TOUCHMAP_SESSION_ONLY", "1")
	t.Setenv("TOUCHMAP_STORAGE_TYPE", "memory")
	t.Setenv("TOUCHMAP_STORAGE_PATH", "/tmp/touchmap")
	t.Setenv("TOUCHMAP_STORAGE_STRICT", "yes") // not a bool, ignored
	t.Setenv("TOUCHMAP_DEVICE_WIDTH", "800")
	t.Setenv("TOUCHMAP_DEVICE_HEIGHT", "not-a-number")
	t.Setenv("TOUCHMAP_LOG_LEVEL", "debug")
	t.Setenv("TOUCHMAP_METRICS_ADDR", "127.0.0.1:9999")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if !cfg.Debug || !cfg.SessionOnly {
		t.Errorf("bool overrides not applied: debug=%t session_only=%t", cfg.Debug, cfg.SessionOnly)
	}
	if cfg.Storage.Type != "memory" || cfg.Storage.Path != "/tmp/touchmap" {
		t.Errorf("storage overrides not applied: %+v", cfg.Storage)
	}
	if cfg.Storage.Strict {
		t.Error("invalid bool should be ignored")
	}
	if cfg.Device.Width != 800 {
		t.Errorf("expected width 800, got %v", cfg.Device.Width)
	}
	if cfg.Device.Height != 844 {
		t.Errorf("invalid float should be ignored, got %v", cfg.Device.Height)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("metrics override not applied: %+v", cfg.Metrics)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Type = "redis"
	cfg.Storage.Key = ""
	cfg.Export.TimeoutMs = 5
	cfg.Render.MinOpacity = 2
	cfg.Device.Width = 0
	cfg.Logging.Level = "verbose"
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "no-port"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error should wrap ErrInvalidConfig: %v", err)
	}

	fields := make(map[string]bool)
	for _, fe := range FieldErrors(err) {
		fields[fe.Field] = true
	}
	for _, want := range []string{
		"storage.type",
		"storage.key",
		"export.timeout_ms",
		"render.min_opacity",
		"device.width",
		"logging.level",
		"metrics.listen_addr",
	} {
		if !fields[want] {
			t.Errorf("missing validation error for %s (got %v)", want, fields)
		}
	}
}

func TestValidateStoragePathKind(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "blob")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Storage.Type = "file"
	cfg.Storage.Path = file
	if err := cfg.Validate(); err == nil {
		t.Error("file storage pointed at a regular file should fail")
	}

	cfg = DefaultConfig()
	cfg.Storage.Type = "sqlite"
	cfg.Storage.Path = dir
	if err := cfg.Validate(); err == nil {
		t.Error("sqlite storage pointed at a directory should fail")
	}

	cfg = DefaultConfig()
	cfg.Storage.Type = "memory"
	cfg.Storage.Path = file
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory storage ignores path: %v", err)
	}
}

func TestValidateLoggingFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""

	fe := FieldErrors(cfg.Validate())
	if len(fe) != 1 || fe[0].Field != "logging.file_path" {
		t.Errorf("expected a single file_path error, got %v", fe)
	}
}

func TestFieldErrorsSingle(t *testing.T) {
	err := RequiredFieldError("storage.key")
	fe := FieldErrors(err)
	if len(fe) != 1 || fe[0].Field != "storage.key" {
		t.Errorf("unexpected field errors %v", fe)
	}
	if FieldErrors(errors.New("plain")) != nil {
		t.Error("plain errors carry no field errors")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	clearEnv(t)

	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.SessionOnly = true
			cfg.Storage.Type = "sqlite-pure"
			cfg.Render.Radius = 30
			cfg.Metrics.Enabled = true

			path := filepath.Join(t.TempDir(), "nested", "config"+ext)
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !loaded.SessionOnly || loaded.Storage.Type != "sqlite-pure" {
				t.Errorf("round trip lost values: %s", loaded)
			}
			if loaded.Render.Radius != 30 || !loaded.Metrics.Enabled {
				t.Errorf("round trip lost values: %+v %+v", loaded.Render, loaded.Metrics)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected the file to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not written: %v", err)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("expected defaults, got %s", cfg.Storage.Type)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("existing file should be loaded, not created")
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[device]\nwidth = -1.0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	if _, err := l.Load(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if l.Config() != nil {
		t.Error("invalid config should not be kept")
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("session_only = false\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// An invalid file is reported and the old config stays.
	if err := os.WriteFile(path, []byte("[export]\ntimeout_ms = 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-l.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected validation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("invalid reload was not reported")
	}
	if l.Config().SessionOnly {
		t.Error("config changed despite invalid reload")
	}

	if err := os.WriteFile(path, []byte("session_only = true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changed:
			// A reload can observe the truncated file before the write lands.
			reloaded = c.SessionOnly
		case <-deadline:
			t.Fatal("config was not reloaded")
		}
	}
	if !l.Config().SessionOnly {
		t.Error("loader still holds the old config")
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TOUCHMAP_DATA_DIR", dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(wd, "touchmap.toml")); err == nil {
		t.Skip("working directory has a touchmap.toml")
	}

	if got := FindConfigFile(); got != "" {
		t.Errorf("expected no config file, got %s", got)
	}

	path := filepath.Join(dir, "touchmap.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != path {
		t.Errorf("expected %s, got %s", path, got)
	}
}

func TestPlatformDirsNamed(t *testing.T) {
	for name, dir := range map[string]string{
		"data":   PlatformDataDir(),
		"config": PlatformConfigDir(),
		"log":    PlatformLogDir(),
	} {
		if !strings.Contains(dir, "touchmap") {
			t.Errorf("%s dir should contain touchmap: %s", name, dir)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Storage.Type = "memory"

	if cfg.Storage.Type != "sqlite" {
		t.Error("mutating the clone changed the original")
	}
}
