// Package health implements the OCR worker's health probe: a periodic
// ping/pong check against the shared, single-client-at-a-time OCR worker
// process, with automatic restart after consecutive failures.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober is the external collaborator this package drives: the OCR worker
// IPC client. Ping sends a ping frame and waits for pong (or the deadline);
// Restart kills and relaunches the worker process. Neither method's body is
// implemented here — the worker process itself is an external collaborator.
type Prober interface {
	Ping(ctx context.Context) error
	Restart(ctx context.Context) error
}

// Interval is the time between health probes.
const Interval = 30 * time.Second

// PongDeadline is the maximum time a single ping may take before it counts
// as a failure.
const PongDeadline = 500 * time.Millisecond

// MaxConsecutiveFailures is the number of consecutive failed probes that
// triggers a worker restart.
const MaxConsecutiveFailures = 3

// Monitor runs the OCR worker health loop on its own goroutine. It tracks
// consecutive probe failures and restarts the worker once the threshold is
// reached, resetting the counter afterward regardless of the restart's
// outcome (a failed restart will simply fail again on the next 3 probes).
type Monitor struct {
	prober Prober

	mu          sync.Mutex
	failures    int
	restarting  bool
	lastErr     error
	restartedAt time.Time
}

// NewMonitor returns a Monitor driving prober.
func NewMonitor(prober Prober) *Monitor {
	return &Monitor{prober: prober}
}

// Run blocks, probing the worker every [Interval] until ctx is cancelled.
// Call it from its own goroutine; it does not return until ctx.Done().
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

// probeOnce runs a single ping with [PongDeadline] and restarts the worker
// once [MaxConsecutiveFailures] consecutive pings have failed.
func (m *Monitor) probeOnce(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, PongDeadline)
	err := m.prober.Ping(pingCtx)
	cancel()

	m.mu.Lock()
	if err == nil {
		m.failures = 0
		m.lastErr = nil
		m.mu.Unlock()
		return
	}
	m.failures++
	m.lastErr = err
	shouldRestart := m.failures >= MaxConsecutiveFailures
	if shouldRestart {
		m.failures = 0
	}
	m.mu.Unlock()

	slog.Warn("ocr worker health probe failed", "error", err)

	if !shouldRestart {
		return
	}

	slog.Warn("ocr worker unresponsive, restarting", "consecutive_failures", MaxConsecutiveFailures)
	m.mu.Lock()
	m.restarting = true
	m.mu.Unlock()

	restartErr := m.prober.Restart(ctx)

	m.mu.Lock()
	m.restarting = false
	if restartErr == nil {
		m.restartedAt = time.Now()
	}
	m.mu.Unlock()

	if restartErr != nil {
		slog.Error("ocr worker restart failed", "error", restartErr)
	}
}

// Healthy reports whether the worker is currently believed healthy: fewer
// than [MaxConsecutiveFailures] consecutive probe failures and no restart in
// progress.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.restarting && m.failures < MaxConsecutiveFailures
}

// LastError returns the most recent probe error, or nil if the last probe
// succeeded or none has run yet.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}
