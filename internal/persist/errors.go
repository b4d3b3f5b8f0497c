package persist

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by GetByID when no session has the id.
	ErrNotFound = errors.New("session not found")

	// ErrCorrupt is wrapped by a StorageError when the stored blob is not
	// a valid session map.
	ErrCorrupt = errors.New("stored sessions are corrupt")

	// ErrInvalidSession is wrapped by a StorageError when a session
	// would not pass the stored document's schema. The stored document
	// is left untouched.
	ErrInvalidSession = errors.New("invalid session")
)

// StorageError reports a failed storage operation. It is only returned
// when the store runs in strict mode; otherwise the failure is logged
// and the operation resolves to a safe default.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
