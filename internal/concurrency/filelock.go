package concurrency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/logger"
)

// LockKind selects between exclusive and shared file locks.
type LockKind int

// Lock kinds.
const (
	Exclusive LockKind = iota
	Shared
)

// String returns the string representation.
func (k LockKind) String() string {
	if k == Shared {
		return "shared"
	}
	return "exclusive"
}

// DefaultPollInterval is how often a busy file lock is retried.
const DefaultPollInterval = 20 * time.Millisecond

// errLockBusy is returned by the platform lock call when another holder
// owns the lock.
var errLockBusy = errors.New("lock busy")

// LockInfo describes a held file lock.
type LockInfo struct {
	ID         string
	Path       string
	Kind       LockKind
	AcquiredAt time.Time
}

// FileLock is a held advisory lock on "<path>.lock".
type FileLock struct {
	info    LockInfo
	file    *os.File
	manager *LockManager
	once    sync.Once
}

// Release unlocks and closes the lock file. It is safe to call more than once.
func (l *FileLock) Release() error {
	var err error
	l.once.Do(func() {
		err = unlockFile(l.file)
		if cerr := l.file.Close(); err == nil {
			err = cerr
		}
		l.manager.unregister(l.info.ID)
	})
	return err
}

// LockManager acquires cross-process file locks and keeps a registry of the
// locks this process holds.
type LockManager struct {
	mu           sync.Mutex
	active       map[string]*FileLock
	pollInterval time.Duration
}

// NewLockManager creates a lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		active:       make(map[string]*FileLock),
		pollInterval: DefaultPollInterval,
	}
}

// Acquire takes a lock on path, polling until it is free, the timeout
// elapses or ctx is done.
func (m *LockManager) Acquire(ctx context.Context, path string, kind LockKind, timeout time.Duration) (*FileLock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, &domain.TransientIOError{Op: "lock " + path, Err: err}
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "lock " + path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		err := lockFile(f, kind)
		if err == nil {
			break
		}
		if !errors.Is(err, errLockBusy) {
			_ = f.Close()
			return nil, &domain.TransientIOError{Op: "lock " + path, Err: err}
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, &domain.TransientIOError{
				Op:  fmt.Sprintf("lock %s (%s, %s)", path, kind, timeout),
				Err: domain.ErrLockTimeout,
			}
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, &domain.TransientIOError{Op: "lock " + path, Err: ctx.Err()}
		case <-time.After(m.pollInterval):
		}
	}

	lock := &FileLock{
		info: LockInfo{
			ID:         uuid.New().String(),
			Path:       path,
			Kind:       kind,
			AcquiredAt: time.Now(),
		},
		file:    f,
		manager: m,
	}
	m.mu.Lock()
	m.active[lock.info.ID] = lock
	m.mu.Unlock()
	return lock, nil
}

// WithLock runs fn while holding a lock on path.
func (m *LockManager) WithLock(ctx context.Context, path string, kind LockKind, timeout time.Duration, fn func() error) error {
	lock, err := m.Acquire(ctx, path, kind, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("concurrency: release lock %s: %v", path, err)
		}
	}()
	return fn()
}

// Active returns the locks currently held, oldest first.
func (m *LockManager) Active() []LockInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LockInfo, 0, len(m.active))
	for _, l := range m.active {
		out = append(out, l.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out
}

// PruneStale releases locks held for longer than maxAge and returns how many
// were released. Holders that leaked a lock would otherwise block every
// other process until exit.
func (m *LockManager) PruneStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	var stale []*FileLock
	for _, l := range m.active {
		if l.info.AcquiredAt.Before(cutoff) {
			stale = append(stale, l)
		}
	}
	m.mu.Unlock()

	for _, l := range stale {
		logger.Warn("concurrency: releasing stale lock %s held since %s", l.info.Path, l.info.AcquiredAt.Format(time.RFC3339))
		_ = l.Release()
	}
	return len(stale)
}

func (m *LockManager) unregister(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}
