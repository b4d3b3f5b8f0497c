package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const events = `# one drag and one accessibility tap
{"kind":"begin","pointer":0,"x":100,"y":200,"t":1717236000100}
{"kind":"move","pointer":0,"x":100,"y":260,"t":1717236000150}
{"kind":"end","pointer":0,"t":1717236000200}
{"kind":"accessibility_tap","x":50,"y":60,"t":1717236000300}
`

type fixture struct {
	dir    string
	config string
	events string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{
		"TOUCHMAP_DEBUG", "TOUCHMAP_SESSION_ONLY",
		"TOUCHMAP_STORAGE_TYPE", "TOUCHMAP_STORAGE_PATH", "TOUCHMAP_STORAGE_STRICT",
		"TOUCHMAP_DEVICE_WIDTH", "TOUCHMAP_DEVICE_HEIGHT",
		"TOUCHMAP_LOG_LEVEL", "TOUCHMAP_LOG_PATH", "TOUCHMAP_METRICS_ADDR",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("TOUCHMAP_DATA_DIR", filepath.Join(dir, "data"))

	f := &fixture{
		dir:    dir,
		config: filepath.Join(dir, "config.toml"),
		events: filepath.Join(dir, "events.ndjson"),
	}
	cfg := `
[storage]
type = "file"
path = "` + filepath.ToSlash(filepath.Join(dir, "sessions")) + `"

[device]
width = 200.0
height = 400.0

[logging]
level = "error"
`
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0600))
	require.NoError(t, os.WriteFile(f.events, []byte(events), 0600))
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRecordListExportClear(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "record", f.events)
	require.NoError(t, err)
	assert.Contains(t, out, "Session ")
	assert.Contains(t, out, "begin")
	assert.Contains(t, out, "accessibility_tap")

	out, err = f.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "1 sessions")
	assert.Contains(t, out, "200x400")

	out, err = f.run(t, "raw")
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	assert.Len(t, raw, 1)

	img := filepath.Join(f.dir, "out", "heatmap.png")
	out, err = f.run(t, "export", "-o", img)
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "1 sessions")

	file, err := os.Open(img)
	require.NoError(t, err)
	defer file.Close()
	decoded, err := png.DecodeConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 200, decoded.Width)
	assert.Equal(t, 400, decoded.Height)

	out, err = f.run(t, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared")

	out, err = f.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "0 sessions")
}

func TestExportSessionOnlyDataURI(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "export", "--events", f.events, "--session-only", "--data-uri")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "data:image/png;base64,"), out)

	// The replayed session was persisted by the export.
	out, err = f.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "1 sessions")
}

func TestRecordFromStdin(t *testing.T) {
	f := newFixture(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(events))
	cmd.SetArgs([]string{"--config", f.config, "record", "-"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Session ")
}

func TestRecordRejectsBadStream(t *testing.T) {
	f := newFixture(t)
	bad := filepath.Join(f.dir, "bad.ndjson")
	require.NoError(t, os.WriteFile(bad, []byte(`{"kind":"teleport"}`+"\n"), 0600))

	_, err := f.run(t, "record", bad)
	assert.Error(t, err)

	_, err = f.run(t, "record", filepath.Join(f.dir, "missing.ndjson"))
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.config, []byte("[storage]\ntype = \"redis\"\n"), 0600))

	_, err := f.run(t, "sessions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.type")
}

func TestConfigInitAndShow(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "fresh", "config.yaml")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Created")
	assert.FileExists(t, path)

	out.Reset()
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "already exists")

	show, err := f.run(t, "--metrics-addr", "127.0.0.1:0", "config", "show")
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(show), &cfg))
	assert.Equal(t, "file", cfg["storage"].(map[string]any)["type"])
	assert.Equal(t, true, cfg["metrics"].(map[string]any)["enabled"])
}

func TestMetricsEndpointDuringCommand(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "--metrics-addr", "127.0.0.1:0", "record", f.events)
	require.NoError(t, err)
}

func TestRecordFromStdinReloadsConfig(t *testing.T) {
	f := newFixture(t)
	logPath := filepath.Join(f.dir, "logs", "touchmap.log")
	writeConfig := func(debug bool, level string) error {
		cfg := fmt.Sprintf(`debug = %t

[storage]
type = "file"
path = %q

[device]
width = 200.0
height = 400.0

[logging]
level = %q
output = "file"
file_path = %q
`, debug, filepath.ToSlash(filepath.Join(f.dir, "sessions")), level, filepath.ToSlash(logPath))
		return os.WriteFile(f.config, []byte(cfg), 0600)
	}
	require.NoError(t, writeConfig(false, "error"))

	pr, pw := io.Pipe()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetIn(pr)
	cmd.SetArgs([]string{"--config", f.config, "record", "-"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(context.Background()) }()

	gesture := `{"kind":"begin","pointer":0,"x":10,"y":20}` + "\n" + `{"kind":"end","pointer":0}` + "\n"
	_, err := io.WriteString(pw, gesture)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		if err := writeConfig(true, "info"); err != nil {
			return false
		}
		if _, err := io.WriteString(pw, gesture); err != nil {
			return false
		}
		data, _ := os.ReadFile(logPath)
		return strings.Contains(string(data), "touch event")
	}, 10*time.Second, 200*time.Millisecond)

	require.NoError(t, pw.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("record did not finish after stdin closed")
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "configuration reloaded")
	assert.Contains(t, out.String(), "Session ")
}

func TestStorageStatusAndRollback(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "storage", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "storage type file has no schema migrations")
	_, err = f.run(t, "storage", "rollback")
	assert.Error(t, err)

	cfg := `
[storage]
type = "sqlite"
path = "` + filepath.ToSlash(filepath.Join(f.dir, "touchmap.db")) + `"

[logging]
level = "error"
`
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0600))

	_, err = f.run(t, "record", f.events)
	require.NoError(t, err)

	out, err = f.run(t, "storage", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema version 2 of 2")
	assert.Contains(t, out, "Sessions last written")
	assert.Contains(t, out, "Track last write time per key")

	_, err = f.run(t, "storage", "rollback", "--to", "0")
	assert.Error(t, err)

	out, err = f.run(t, "storage", "rollback")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolled back schema version 2 to 1")

	// The next command migrates forward and still sees the session.
	out, err = f.run(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "1 sessions")
}
