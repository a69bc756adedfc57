package scheduler

import (
	"context"
	"sync"

	"ciallo/internal/cancel"
	"ciallo/internal/fsm"
)

// EventSink receives UI events emitted by the coordinator and its lanes.
// Implementations must not block; the scheduler calls it from the P0 thread
// for wake-path events and from P1/P2 goroutines for job-path events.
type EventSink func(name string, payload any)

// Coordinator wires the cancellation kernel, the state machine, and the
// three lanes together: it is the one place that knows a fresh WakeHit must
// cancel every in-flight P1/P2 job *before* any new work is enqueued.
type Coordinator struct {
	P0     *P0Queue
	Lanes  *Lanes
	Cancel *cancel.CancelCoordinator
	Mach   *fsm.Machine

	mu       sync.Mutex
	p1Cancel chan struct{}
	p2Cancel chan struct{}
	sink     EventSink
}

// NewCoordinator wires up a fresh P0 queue, the given lanes, cancellation
// coordinator, and state machine.
func NewCoordinator(lanes *Lanes, cc *cancel.CancelCoordinator, mach *fsm.Machine, sink EventSink) *Coordinator {
	return &Coordinator{
		P0:     NewP0Queue(),
		Lanes:  lanes,
		Cancel: cc,
		Mach:   mach,
		sink:   sink,
	}
}

// emit forwards to the sink if one is configured.
func (c *Coordinator) emit(name string, payload any) {
	if c.sink != nil {
		c.sink(name, payload)
	}
}

// CancelAllNow invalidates every in-flight P1/P2 job: it advances all three
// generation lanes and closes the lane cancel channels so blocked stages
// unblock immediately. O(1); never waits for jobs.
func (c *Coordinator) CancelAllNow() {
	c.Cancel.CancelAllAndAdvance()
	c.closeLaneCancelChannels()
}

// PreemptForWake runs on the P0 thread when a fresh WakeHit arrives while
// the machine is mid-cycle: it cancels every in-flight P1/P2 job before any
// new work is enqueued and emits force-cancel so overlays reset.
func (c *Coordinator) PreemptForWake() {
	if c.Mach.Current() == fsm.Sleep {
		return
	}
	c.CancelAllNow()
	c.emit("force-cancel", nil)
}

// CancelCurrent implements the cancel_current UI command: equivalent to
// cancel_all_and_advance, callable from any goroutine (it posts through P0 to
// keep FSM mutation on the wake thread).
func (c *Coordinator) CancelCurrent() {
	c.P0.Submit(func() {
		c.CancelAllNow()
		c.Mach.ForceSleep()
	})
}

// SubmitP1 issues a fresh P1 guard, attaches the lane's current cancel
// channel, then hands job to the P1 lane. The lane drops it (and the submission returns false) if the
// channel is full, per the backpressure contract.
func (c *Coordinator) SubmitP1(run func(ctx context.Context, guard cancel.GenerationGuard, cancelCh <-chan struct{})) bool {
	guard := c.Cancel.Issue(cancel.LaneP1)
	ch := c.newP1CancelChan()
	return c.Lanes.SubmitP1(P1Job{Guard: guard, Cancel: ch, Run: run})
}

// SubmitP2 issues a fresh P2 guard, attaches the lane's current cancel
// channel, then hands job to the P2 lane.
func (c *Coordinator) SubmitP2(run func(ctx context.Context, guard cancel.GenerationGuard, cancelCh <-chan struct{})) bool {
	guard := c.Cancel.Issue(cancel.LaneP2)
	ch := c.newP2CancelChan()
	return c.Lanes.SubmitP2(P2Job{Guard: guard, Cancel: ch, Run: run})
}

func (c *Coordinator) newP1CancelChan() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.p1Cancel == nil {
		c.p1Cancel = make(chan struct{})
	}
	select {
	case <-c.p1Cancel:
		// Closed by the last cancel: later jobs get a fresh channel.
		c.p1Cancel = make(chan struct{})
	default:
	}
	return c.p1Cancel
}

func (c *Coordinator) newP2CancelChan() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.p2Cancel == nil {
		c.p2Cancel = make(chan struct{})
	}
	select {
	case <-c.p2Cancel:
		c.p2Cancel = make(chan struct{})
	default:
	}
	return c.p2Cancel
}

// closeLaneCancelChannels closes the current P1/P2 cancel channels, which
// every job submitted since the previous cancel shares, so that any job
// blocked on a select sees the cancel immediately, alongside its guard going
// stale.
func (c *Coordinator) closeLaneCancelChannels() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.p1Cancel != nil {
		select {
		case <-c.p1Cancel:
		default:
			close(c.p1Cancel)
		}
	}
	if c.p2Cancel != nil {
		select {
		case <-c.p2Cancel:
		default:
			close(c.p2Cancel)
		}
	}
}

// Close shuts down the P0 queue and the lanes.
func (c *Coordinator) Close() {
	c.P0.Close()
	c.Lanes.Close()
}
