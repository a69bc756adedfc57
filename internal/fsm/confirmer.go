package fsm

import (
	"sync"
	"time"
)

// Config tunes the two-stage wake confirmer.
type Config struct {
	ThLow               float64
	ThHigh              float64
	ConfirmWindow       time.Duration
	ConfirmFramesNeeded int
}

// Event names emitted by the confirmer, passed verbatim to the UI event
// sink.
const (
	EventWakeDetected  = "wake-detected"
	EventWakeConfirmed = "wake-confirmed"
	EventWakeRejected  = "wake-rejected"
)

// Confirmer drives a Machine through Sleep -> WakeConfirm -> ModeSelect (or
// back to Sleep) using the stage-1/stage-2 score thresholds from Config. The
// stage-2 deadline is a local timer that never blocks the caller of Handle;
// it fires on its own goroutine via time.AfterFunc.
//
// A fresh score arriving during the stage-2 window restarts the deadline
// rather than extending it, per the chosen resolution of the window-restart
// question.
type Confirmer struct {
	machine *Machine
	cfg     Config
	onEvent func(event string)

	mu        sync.Mutex
	timer     *time.Timer
	hitFrames int
	epoch     uint64 // invalidates a timer callback racing a later reset
}

// NewConfirmer returns a Confirmer driving machine, emitting through
// onEvent.
func NewConfirmer(machine *Machine, cfg Config, onEvent func(event string)) *Confirmer {
	return &Confirmer{machine: machine, cfg: cfg, onEvent: onEvent}
}

// Handle processes one wake-detector score. Call it from P0 for every
// WakeHit while the machine is in Sleep or WakeConfirm; scores arriving in
// any other state are ignored.
func (c *Confirmer) Handle(score float64) {
	switch c.machine.Current() {
	case Sleep:
		if score < c.cfg.ThLow {
			return
		}
		if !c.machine.Transition(WakeConfirm) {
			return
		}
		c.mu.Lock()
		c.hitFrames = 0
		c.mu.Unlock()
		c.emit(EventWakeDetected)
		c.startWindow()

	case WakeConfirm:
		c.mu.Lock()
		if score >= c.cfg.ThHigh {
			c.hitFrames++
		}
		frames := c.hitFrames
		c.mu.Unlock()

		if frames >= c.cfg.ConfirmFramesNeeded {
			c.stopWindow()
			if c.machine.Transition(ModeSelect) {
				c.emit(EventWakeConfirmed)
			}
			return
		}
		// Any fresh score during the window restarts the deadline.
		c.startWindow()
	}
}

func (c *Confirmer) startWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	epoch := c.epoch
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.ConfirmWindow, func() { c.onDeadline(epoch) })
}

func (c *Confirmer) stopWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Confirmer) onDeadline(epoch uint64) {
	c.mu.Lock()
	stale := epoch != c.epoch
	if !stale {
		c.hitFrames = 0
	}
	c.mu.Unlock()
	if stale {
		return
	}

	if c.machine.Transition(Sleep) {
		c.emit(EventWakeRejected)
	}
}

func (c *Confirmer) emit(event string) {
	if c.onEvent != nil {
		c.onEvent(event)
	}
}
