package fsm

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Machine is the guarded state machine. All transitions are serialized by
// mu; the current state is also mirrored into an atomic so that Current can
// be read lock-free from any thread, including the dedicated P0 thread.
//
// Subscribers are notified after every transition via a non-blocking send on
// their channel — a slow or absent subscriber never blocks the machine or
// causes a backlog; they simply miss intermediate states and see the
// latest one on their next read.
type Machine struct {
	mu      sync.Mutex
	current atomic.Value // State

	subMu sync.Mutex
	subs  []chan State
}

// New returns a Machine initialised to Sleep.
func New() *Machine {
	m := &Machine{}
	m.current.Store(Sleep)
	return m
}

// Current returns the published state. Lock-free.
func (m *Machine) Current() State {
	return m.current.Load().(State)
}

// Subscribe registers a new subscriber channel and returns it. The channel
// has a capacity of 1 and is never closed by Subscribe's caller; discard it
// when no longer needed.
func (m *Machine) Subscribe() <-chan State {
	ch := make(chan State, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Transition attempts to move from the current state to 'to'. It returns
// true on success. If the table denies the edge, the state is left
// unchanged, the rejection is logged, and false is returned.
func (m *Machine) Transition(to State) bool {
	m.mu.Lock()
	from := m.Current()
	if !Allowed(from, to) {
		m.mu.Unlock()
		slog.Warn("fsm: rejected illegal transition", "from", from, "to", to)
		return false
	}
	m.current.Store(to)
	m.mu.Unlock()

	m.publish(to)
	return true
}

// ForceSleep unconditionally moves the machine to Sleep. Used by
// cancel-driven resets where the caller already knows every state may fall
// back to Sleep (every row in the table permits it, so this never fails,
// but it skips the Allowed check to avoid surprising callers during a
// preemption where 'from' may be read stale).
func (m *Machine) ForceSleep() {
	m.mu.Lock()
	m.current.Store(Sleep)
	m.mu.Unlock()
	m.publish(Sleep)
}

func (m *Machine) publish(s State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			// Full: replace the stale value with the latest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
