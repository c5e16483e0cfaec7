package concurrency

import "time"

// MonitorStats reports operation counts.
type MonitorStats struct {
	Active        int64         `json:"active"`
	Total         int64         `json:"total"`
	Failed        int64         `json:"failed"`
	LockConflicts int64         `json:"lock_conflicts"`
	Slowest       time.Duration `json:"slowest"`
	SlowestOp     string        `json:"slowest_op,omitempty"`
}

// Monitor counts concurrent operations and lock conflicts.
type Monitor struct {
	active    Counter
	total     Counter
	failed    Counter
	conflicts Counter
	slowest   *Map[string, time.Duration]
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{slowest: NewMap[string, time.Duration]()}
}

// Track runs fn as the named operation and records its outcome.
func (m *Monitor) Track(name string, fn func() error) error {
	m.active.Inc()
	m.total.Inc()
	start := time.Now()
	defer func() {
		m.active.Dec()
		elapsed := time.Since(start)
		m.slowest.Update(name, func(old time.Duration, _ bool) time.Duration {
			return max(old, elapsed)
		})
	}()

	err := fn()
	if err != nil {
		m.failed.Inc()
	}
	return err
}

// LockConflict records that a lock was found held.
func (m *Monitor) LockConflict() {
	m.conflicts.Inc()
}

// Stats returns the current counts.
func (m *Monitor) Stats() MonitorStats {
	s := MonitorStats{
		Active:        m.active.Load(),
		Total:         m.total.Load(),
		Failed:        m.failed.Load(),
		LockConflicts: m.conflicts.Load(),
	}
	for op, d := range m.slowest.Snapshot() {
		if d > s.Slowest {
			s.Slowest, s.SlowestOp = d, op
		}
	}
	return s
}
