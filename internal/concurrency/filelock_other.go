//go:build !unix

package concurrency

import "os"

// Advisory locking is not available; in-process locks still serialize writers.
func lockFile(_ *os.File, _ LockKind) error { return nil }

func unlockFile(_ *os.File) error { return nil }
