// Package clipboard implements the scoped clipboard guard: the process-wide
// clipboard is a single mutable resource, so only one acquisition may be
// outstanding at a time. A guard saves the original content on construction
// and restores it on every exit path, including error and cancel.
package clipboard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
)

// Backend is the capability this package drives; production code uses
// [SystemBackend] (github.com/atotto/clipboard), tests use a fake.
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// SystemBackend wraps github.com/atotto/clipboard as a [Backend].
type SystemBackend struct{}

// ReadAll implements Backend.
func (SystemBackend) ReadAll() (string, error) { return clipboard.ReadAll() }

// WriteAll implements Backend.
func (SystemBackend) WriteAll(text string) error { return clipboard.WriteAll(text) }

// ErrAlreadyAcquired is returned by [Manager.Acquire] when a guard is already
// outstanding: two acquisitions cannot be held simultaneously, so a second
// caller fails fast rather than waiting.
var ErrAlreadyAcquired = errors.New("clipboard: a guard is already acquired")

// Manager serialises access to the process-global clipboard.
type Manager struct {
	backend Backend

	mu       sync.Mutex
	acquired bool
}

// NewManager returns a Manager driving backend.
func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Guard is a scoped clipboard acquisition: it captured the clipboard's
// content at construction time and restores it exactly once, on Release.
// Release is idempotent and safe to call from a deferred statement on every
// exit path (success, capture-error, or cancellation).
type Guard struct {
	mgr      *Manager
	original string
	released bool
}

// Acquire captures the clipboard's current content and returns a [Guard]
// that will restore it on Release. It fails fast with [ErrAlreadyAcquired]
// if another guard is already outstanding.
func (m *Manager) Acquire() (*Guard, error) {
	m.mu.Lock()
	if m.acquired {
		m.mu.Unlock()
		return nil, ErrAlreadyAcquired
	}
	m.acquired = true
	m.mu.Unlock()

	original, err := m.backend.ReadAll()
	if err != nil {
		m.mu.Lock()
		m.acquired = false
		m.mu.Unlock()
		return nil, fmt.Errorf("clipboard: read original content: %w", err)
	}

	return &Guard{mgr: m, original: original}, nil
}

// ReadSelection reads the clipboard content the caller is interested in
// (typically set by the OS's copy-selection shortcut immediately before this
// call). It does not affect restoration: Release always restores the value
// captured at Acquire time.
func (g *Guard) ReadSelection() (string, error) {
	text, err := g.mgr.backend.ReadAll()
	if err != nil {
		return "", fmt.Errorf("clipboard: read selection: %w", err)
	}
	return text, nil
}

// Release restores the clipboard to the content captured at Acquire time and
// frees the guard slot for the next acquisition. Safe to call multiple times
// and safe to call after an error — restoration always happens regardless of
// how the caller's path exited.
func (g *Guard) Release() error {
	g.mgr.mu.Lock()
	if g.released {
		g.mgr.mu.Unlock()
		return nil
	}
	g.released = true
	g.mgr.acquired = false
	g.mgr.mu.Unlock()

	if err := g.mgr.backend.WriteAll(g.original); err != nil {
		return fmt.Errorf("clipboard: restore original content: %w", err)
	}
	return nil
}
