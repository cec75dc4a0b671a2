package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Advisory locking serializes concurrent writers on a per-file basis.
// A lock is a sidecar file created with O_EXCL; contention is resolved
// by bounded retry with linear backoff. Locks older than staleAfter are
// assumed abandoned (crashed process) and broken.

const (
	lockSuffix       = ".lock"
	lockAttempts     = 10
	lockBackoffUnit  = 25 * time.Millisecond
	lockStaleAfter   = 30 * time.Second
	lockFilePerm     = 0o600
)

// fileLock holds one acquired advisory lock.
type fileLock struct {
	path string
}

// acquireLock takes the advisory lock guarding path. It retries with
// backoff and returns ErrLockContention once attempts are exhausted.
func acquireLock(ctx context.Context, path string) (*fileLock, error) {
	lockPath := path + lockSuffix
	for attempt := 1; attempt <= lockAttempts; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockFilePerm)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			if cerr := f.Close(); cerr != nil {
				os.Remove(lockPath)
				return nil, fmt.Errorf("writing lock %s: %w", lockPath, cerr)
			}
			return &fileLock{path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquiring lock %s: %w", lockPath, err)
		}
		if breakIfStale(lockPath) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * lockBackoffUnit):
		}
	}
	return nil, fmt.Errorf("%w: %s held after %d attempts", ErrLockContention, lockPath, lockAttempts)
}

// breakIfStale removes a lock file whose mtime is older than the stale
// threshold. Returns true when the lock was broken and a retry should
// happen immediately.
func breakIfStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		// Holder released between our open and stat; retry now.
		return errors.Is(err, os.ErrNotExist)
	}
	if time.Since(info.ModTime()) < lockStaleAfter {
		return false
	}
	return os.Remove(lockPath) == nil
}

// release frees the lock. Releasing twice is harmless.
func (fl *fileLock) release() error {
	if fl == nil {
		return nil
	}
	err := os.Remove(fl.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("releasing lock %s: %w", fl.path, err)
	}
	return nil
}
