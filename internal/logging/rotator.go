package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102-150405.000000000"

// RotatorOptions configures a Rotator.
type RotatorOptions struct {
	Path       string
	MaxSizeMB  int64
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Rotator is an io.Writer over a log file that is rotated by size and at
// the start of each day. Rotated files are named name-<time>.ext and
// optionally gzipped.
type Rotator struct {
	opts     RotatorOptions
	maxBytes int64
	now      func() time.Time

	mu      sync.Mutex
	file    *os.File
	size    int64
	opened  time.Time
	pending sync.WaitGroup
}

// NewRotator opens or creates the log file, creating its directory.
func NewRotator(opts RotatorOptions) (*Rotator, error) {
	if opts.Path == "" {
		return nil, errors.New("rotator: empty log path")
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	r := &Rotator{
		opts:     opts,
		maxBytes: opts.MaxSizeMB * 1024 * 1024,
		now:      time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) open() error {
	file, err := os.OpenFile(r.opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	r.opened = r.now()
	return nil
}

// Write implements io.Writer.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.size > 0 && (r.size+int64(len(p)) > r.maxBytes || !sameDay(r.opened, r.now())) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (r *Rotator) parts() (dir, name, ext string) {
	base := filepath.Base(r.opts.Path)
	ext = filepath.Ext(base)
	return filepath.Dir(r.opts.Path), strings.TrimSuffix(base, ext), ext
}

func (r *Rotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	dir, name, ext := r.parts()
	rotated := filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, r.now().Format(backupTimeFormat), ext))
	if err := os.Rename(r.opts.Path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if err := r.open(); err != nil {
		return err
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		if r.opts.Compress {
			compress(rotated)
		}
		r.prune()
	}()
	return nil
}

func compress(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)
	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// prune removes backups beyond MaxBackups and older than MaxAgeDays.
func (r *Rotator) prune() {
	backups, err := r.Backups()
	if err != nil {
		return
	}
	cutoff := r.now().AddDate(0, 0, -r.opts.MaxAgeDays)
	for i, b := range backups {
		tooMany := r.opts.MaxBackups > 0 && len(backups)-i > r.opts.MaxBackups
		tooOld := false
		if r.opts.MaxAgeDays > 0 {
			if info, err := os.Stat(b); err == nil && info.ModTime().Before(cutoff) {
				tooOld = true
			}
		}
		if tooMany || tooOld {
			os.Remove(b)
		}
	}
}

// Backups lists rotated files, oldest first.
func (r *Rotator) Backups() ([]string, error) {
	dir, name, ext := r.parts()
	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+ext+"*"))
	if err != nil {
		return nil, err
	}
	// The timestamp in the name sorts chronologically.
	sort.Strings(matches)
	return matches, nil
}

// Close waits for background compression and closes the file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending.Wait()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes the log file.
func (r *Rotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}
