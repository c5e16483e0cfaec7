package concurrency

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// AtomicWriter replaces files wholesale so readers never observe a partial
// write. Writes go to a temp file in the target directory which is synced
// and renamed over the target while an exclusive file lock is held.
type AtomicWriter struct {
	locks   *LockManager
	timeout time.Duration
	perm    os.FileMode
}

// NewAtomicWriter creates a writer that bounds lock acquisition by timeout.
func NewAtomicWriter(locks *LockManager, timeout time.Duration) *AtomicWriter {
	if locks == nil {
		locks = NewLockManager()
	}
	return &AtomicWriter{locks: locks, timeout: timeout, perm: 0644}
}

// WriteFile atomically replaces path with data.
func (w *AtomicWriter) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &domain.TransientIOError{Op: "write " + path, Err: err}
	}
	return w.locks.WithLock(ctx, path, Exclusive, w.timeout, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := replaceFile(path, data, w.perm); err != nil {
			return &domain.TransientIOError{Op: "write " + path, Err: err}
		}
		return nil
	})
}

// WriteJSON atomically replaces path with the indented JSON encoding of v.
func (w *AtomicWriter) WriteJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.WriteFile(ctx, path, append(data, '\n'))
}

// ReadFile reads path under a shared lock. A missing file is reported with
// an error satisfying errors.Is(err, fs.ErrNotExist).
func (w *AtomicWriter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var data []byte
	err := w.locks.WithLock(ctx, path, Shared, w.timeout, func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	return data, err
}

// ReadJSON decodes the JSON in path into v under a shared lock.
func (w *AtomicWriter) ReadJSON(ctx context.Context, path string, v any) error {
	data, err := w.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func replaceFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, perm)

	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

// syncDir best-effort fsyncs the parent directory so the rename survives a crash.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
