// Package store provides durable string-blob backends for touchmap.
//
// A Backend maps namespaced keys to opaque string values. The session
// layer keeps one JSON document under a single key and rewrites it as a
// whole, so backends only need get, set and delete.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("store: backend closed")

// Backend is a durable key/value store for string blobs.
type Backend interface {
	// Get returns the value stored under key. ok is false if the key
	// has never been set or was deleted.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend's resources.
	Close() error
}

// Locker is implemented by backends that can serialize writers across
// processes. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// Type names a backend implementation.
type Type string

const (
	// TypeSQLite is a cgo SQLite database (mattn/go-sqlite3).
	TypeSQLite Type = "sqlite"
	// TypeSQLitePure is a pure-Go SQLite database behind gorm.
	TypeSQLitePure Type = "sqlite-pure"
	// TypeFile keeps one JSON file per key in a directory.
	TypeFile Type = "file"
	// TypeMemory is a process-local map, lost on exit.
	TypeMemory Type = "memory"
)

// Types lists every supported backend type.
func Types() []Type {
	return []Type{TypeSQLite, TypeSQLitePure, TypeFile, TypeMemory}
}

// ParseType parses a backend type name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown storage type: %q", s)
}

// Options configures Open.
type Options struct {
	Type Type
	// Path is the database file (sqlite, sqlite-pure) or the directory
	// (file). Ignored for memory.
	Path string
	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int
}

// Open creates the backend described by opts.
func Open(opts Options) (Backend, error) {
	switch opts.Type {
	case TypeSQLite:
		return OpenSQLite(opts.Path, opts.BusyTimeoutMs)
	case TypeSQLitePure:
		return OpenGorm(opts.Path)
	case TypeFile:
		return OpenFile(opts.Path)
	case TypeMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %q", opts.Type)
	}
}
