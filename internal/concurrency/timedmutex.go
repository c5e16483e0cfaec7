package concurrency

import (
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// TimedMutex is a mutual exclusion lock whose acquisition can be bounded by
// a timeout. The zero value is not usable; use NewTimedMutex.
type TimedMutex struct {
	name string
	ch   chan struct{}
	mon  *Monitor
}

// NewTimedMutex creates an unlocked mutex. name appears in timeout errors;
// mon, when non-nil, counts lock conflicts.
func NewTimedMutex(name string, mon *Monitor) *TimedMutex {
	return &TimedMutex{name: name, ch: make(chan struct{}, 1), mon: mon}
}

// Lock blocks until the mutex is acquired.
func (m *TimedMutex) Lock() {
	m.ch <- struct{}{}
}

// TryLock acquires the mutex if it is free and reports whether it did.
func (m *TimedMutex) TryLock() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// LockTimeout acquires the mutex or fails with a TransientIOError wrapping
// domain.ErrLockTimeout once d has elapsed.
func (m *TimedMutex) LockTimeout(d time.Duration) error {
	if m.TryLock() {
		return nil
	}
	m.conflict()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return &domain.TransientIOError{Op: m.name, Err: domain.ErrLockTimeout}
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *TimedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("concurrency: unlock of unlocked TimedMutex " + m.name)
	}
}

func (m *TimedMutex) conflict() {
	if m.mon != nil {
		m.mon.LockConflict()
	}
}
