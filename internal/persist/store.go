// Package persist keeps touch sessions in a string-blob backend.
//
// All sessions live in one JSON document, a map from session id to
// session, stored under a single namespaced key. Writes rewrite the
// whole document. By default every storage failure is logged and
// resolved to a safe default so capture never fails because of storage;
// strict mode returns the failures as *StorageError instead.
package persist

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"touchmap/internal/metrics"
	"touchmap/internal/store"
	"touchmap/internal/touch"
)

// DefaultKey is the backend key holding the session map.
const DefaultKey = "storage@touchmap"

// CorruptSuffix is appended to the key to keep a copy of a corrupt
// document before a lenient save replaces it.
const CorruptSuffix = ".corrupt"

// Storage operations, used in errors, logs and metrics.
const (
	OpSave    = "save"
	OpGetAll  = "get_all"
	OpGetByID = "get_by_id"
	OpClear   = "clear"
)

const schemaURL = "https://touchmap.local/schema/sessions.json"

//go:embed sessions.schema.json
var schemaJSON string

var sessionsSchema = jsonschema.MustCompileString(schemaURL, schemaJSON)

// Options configures a Store.
type Options struct {
	// Key is the backend key. Empty means DefaultKey.
	Key string
	// Strict returns storage failures instead of logging them.
	Strict  bool
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Store persists sessions in a Backend.
type Store struct {
	backend store.Backend
	key     string
	strict  bool
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu serializes read-modify-write cycles within the process.
	mu sync.Mutex
}

// New creates a Store over backend.
func New(backend store.Backend, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		backend: backend,
		key:     opts.Key,
		strict:  opts.Strict,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Key returns the backend key.
func (s *Store) Key() string {
	return s.key
}

// Strict reports whether storage failures are returned.
func (s *Store) Strict() bool {
	return s.strict
}

// Save inserts or replaces sess under its id.
func (s *Store) Save(ctx context.Context, sess touch.Session) error {
	if err := s.validateSession(sess); err != nil {
		return s.fail(OpSave, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return s.fail(OpSave, err)
	}
	defer unlock()

	all, err := s.load(ctx)
	if err != nil {
		if s.strict {
			return s.fail(OpSave, err)
		}
		// A corrupt or unreadable document is replaced rather than
		// losing the session being saved. A corrupt one is copied aside
		// first.
		s.fail(OpSave, err)
		if errors.Is(err, ErrCorrupt) {
			s.quarantine(ctx)
		}
		all = make(map[string]touch.Session)
	}

	all[sess.ID] = sess
	if err := s.write(ctx, all); err != nil {
		return s.fail(OpSave, err)
	}

	s.metrics.RecordSessionSaved(len(all))
	s.logger.Debug("session saved",
		"session_id", sess.ID,
		"touches", len(sess.Touches),
		"stored", len(all),
	)
	return nil
}

// GetAll returns every stored session keyed by id. Nothing stored yields
// an empty map.
func (s *Store) GetAll(ctx context.Context) (map[string]touch.Session, error) {
	all, err := s.load(ctx)
	if err != nil {
		return make(map[string]touch.Session), s.fail(OpGetAll, err)
	}
	return all, nil
}

// GetAllAsList returns every stored session ordered by start time, ties
// broken by id.
func (s *Store) GetAllAsList(ctx context.Context) ([]touch.Session, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return []touch.Session{}, err
	}
	return SortedSessions(all), nil
}

// GetByID returns the session with the given id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (touch.Session, error) {
	all, err := s.load(ctx)
	if err != nil {
		if ferr := s.fail(OpGetByID, err); ferr != nil {
			return touch.Session{}, ferr
		}
		return touch.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess, ok := all[id]
	if !ok {
		return touch.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// ClearAll removes every stored session.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return s.fail(OpClear, err)
	}
	defer unlock()

	if err := s.backend.Set(ctx, s.key, "{}"); err != nil {
		return s.fail(OpClear, &StorageError{Op: OpClear, Key: s.key, Err: err})
	}
	s.metrics.RecordStoredSessions(0)
	s.logger.Debug("sessions cleared")
	return nil
}

// Raw returns the stored document as written, or "{}" when nothing is
// stored.
func (s *Store) Raw(ctx context.Context) (string, error) {
	blob, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return "{}", s.fail(OpGetAll, &StorageError{Op: OpGetAll, Key: s.key, Err: err})
	}
	if !ok {
		return "{}", nil
	}
	return blob, nil
}

// SortedSessions returns the values of all ordered by start time, then id.
func SortedSessions(all map[string]touch.Session) []touch.Session {
	list := make([]touch.Session, 0, len(all))
	for _, sess := range all {
		list = append(list, sess)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].StartTime.Before(list[j].StartTime)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	locker, ok := s.backend.(store.Locker)
	if !ok {
		return func() {}, nil
	}
	release, err := locker.Lock(ctx, s.key)
	if err != nil {
		return nil, &StorageError{Op: "lock", Key: s.key, Err: err}
	}
	return func() {
		if err := release(); err != nil {
			s.logger.Warn("release storage lock", "error", err)
		}
	}, nil
}

func (s *Store) load(ctx context.Context) (map[string]touch.Session, error) {
	blob, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: s.key, Err: err}
	}
	all := make(map[string]touch.Session)
	if !ok {
		return all, nil
	}
	if err := Validate([]byte(blob)); err != nil {
		return nil, &StorageError{Op: "decode", Key: s.key, Err: err}
	}
	if err := json.Unmarshal([]byte(blob), &all); err != nil {
		return nil, &StorageError{Op: "decode", Key: s.key, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	return all, nil
}

func (s *Store) write(ctx context.Context, all map[string]touch.Session) error {
	data, err := json.Marshal(all)
	if err != nil {
		return &StorageError{Op: "encode", Key: s.key, Err: err}
	}
	if err := checkSchema(data); err != nil {
		return &StorageError{Op: "encode", Key: s.key, Err: fmt.Errorf("%w: %v", ErrInvalidSession, err)}
	}
	if err := s.backend.Set(ctx, s.key, string(data)); err != nil {
		return &StorageError{Op: "write", Key: s.key, Err: err}
	}
	return nil
}

// validateSession checks sess on its own against the document schema,
// so that one bad session cannot make the stored document unreadable.
func (s *Store) validateSession(sess touch.Session) error {
	data, err := json.Marshal(map[string]touch.Session{sess.ID: sess})
	if err != nil {
		return &StorageError{Op: "encode", Key: s.key, Err: err}
	}
	if err := checkSchema(data); err != nil {
		return &StorageError{Op: "validate", Key: s.key, Err: fmt.Errorf("%w %q: %v", ErrInvalidSession, sess.ID, err)}
	}
	return nil
}

// quarantine copies the stored document to key+CorruptSuffix.
func (s *Store) quarantine(ctx context.Context) {
	blob, ok, err := s.backend.Get(ctx, s.key)
	if err != nil || !ok {
		return
	}
	if err := s.backend.Set(ctx, s.key+CorruptSuffix, blob); err != nil {
		s.logger.Warn("keep corrupt sessions", "key", s.key+CorruptSuffix, "error", err)
		return
	}
	s.logger.Warn("corrupt sessions copied aside", "key", s.key+CorruptSuffix, "bytes", len(blob))
}

// fail records a storage failure for op. It returns err in strict mode
// and nil otherwise.
func (s *Store) fail(op string, err error) error {
	s.metrics.RecordStorageError(op)
	if s.strict {
		s.logger.Error("storage operation failed", "op", op, "error", err)
		return err
	}
	s.logger.Warn("storage operation failed, continuing", "op", op, "error", err)
	return nil
}

// Validate checks that blob is a well-formed session map.
func Validate(blob []byte) error {
	if err := checkSchema(blob); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

func checkSchema(blob []byte) error {
	var doc any
	if err := json.Unmarshal(blob, &doc); err != nil {
		return err
	}
	return sessionsSchema.Validate(doc)
}
