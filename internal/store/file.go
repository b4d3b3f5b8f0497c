package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// lockPollInterval is how often Lock retries a lock held elsewhere.
const lockPollInterval = 10 * time.Millisecond

// File keeps each key in its own file under a directory. Writes go to a
// temporary file that is renamed into place.
type File struct {
	dir string
	mu  sync.RWMutex
}

// OpenFile creates the directory if needed and returns a file backend.
func OpenFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("file: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the storage directory.
func (f *File) Dir() string {
	return f.dir
}

// Path returns the file that holds key. Keys are query-escaped, so
// distinct keys never share a file and separators stay inside the
// directory.
func (f *File) Path(key string) string {
	return filepath.Join(f.dir, url.QueryEscape(key)+".json")
}

// Get implements Backend.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements Backend.
func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.Path(key)
	tmp := path + ".tmp." + randomSuffix()
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := out.WriteString(value); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Delete implements Backend.
func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Lock takes an exclusive advisory lock on key's lock file so that
// several processes sharing the directory serialize their
// read-modify-write cycles. It waits until the lock is free or ctx is
// done.
func (f *File) Lock(ctx context.Context, key string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lf, err := os.OpenFile(f.Path(key)+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := tryLockFile(lf)
		if err != nil {
			lf.Close()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			lf.Close()
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() error {
		uerr := unlockFile(lf)
		cerr := lf.Close()
		return errors.Join(uerr, cerr)
	}, nil
}

// Close implements Backend.
func (f *File) Close() error {
	return nil
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
