//go:build !unix && !windows

package store

import "os"

// Advisory locks are unavailable; the in-process mutex still applies.
func tryLockFile(*os.File) (bool, error) { return true, nil }

func unlockFile(*os.File) error { return nil }
