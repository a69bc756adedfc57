package scheduler

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"ciallo/internal/cancel"
)

// P1Job is a unit of translation/render work submitted to the P1 lane:
// CaptureSelection -> Translate(streaming) -> RenderResult. Run receives the
// guard issued at submission time and the lane's cancel channel, which is
// closed whenever a CancelAllAndAdvance preempts the in-flight job; any
// blocking stage inside Run should select on it.
type P1Job struct {
	Guard  cancel.GenerationGuard
	Cancel <-chan struct{}
	Run    func(ctx context.Context, guard cancel.GenerationGuard, cancelCh <-chan struct{})
}

// P2Job is a unit of OCR work submitted to the P2 lane. On completion it
// typically hands the recognised text to P1 for translation.
type P2Job struct {
	Guard  cancel.GenerationGuard
	Cancel <-chan struct{}
	Run    func(ctx context.Context, guard cancel.GenerationGuard, cancelCh <-chan struct{})
}

// P1Capacity is the bounded channel size for the translation/render lane.
const P1Capacity = 64

// P2Capacity is the bounded channel size for the OCR lane.
const P2Capacity = 16

// DropFunc is invoked whenever a Submit finds its lane's channel full; the
// caller drops rather than blocks.
type DropFunc func(lane string)

// Lanes owns the bounded P1/P2 channels and their consumer pools. P1/P2 are
// async: consumers run as ordinary goroutines (the "async runtime" plane),
// not pinned OS threads — unlike P0.
type Lanes struct {
	p1     chan P1Job
	p2     chan P2Job
	onDrop DropFunc
	cancel func()
	group  *errgroup.Group
}

// NewLanes starts p1Workers goroutines consuming P1 and p2Workers goroutines
// consuming P2, both bounded (capacity 64 / 16), coordinated by an
// [errgroup.Group] so that Close/Wait can cleanly join every worker on
// shutdown. ctx governs the lifetime of every consumer goroutine; cancelling
// it stops them after their current job (if any) returns. onDrop is called
// (optionally nil) whenever a Submit finds its channel full.
func NewLanes(ctx context.Context, p1Workers, p2Workers int, onDrop DropFunc) *Lanes {
	ctx, cancelFn := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	l := &Lanes{
		p1:     make(chan P1Job, P1Capacity),
		p2:     make(chan P2Job, P2Capacity),
		onDrop: onDrop,
		cancel: cancelFn,
		group:  group,
	}

	for i := 0; i < p1Workers; i++ {
		group.Go(func() error {
			l.consumeP1(gctx)
			return nil
		})
	}
	for i := 0; i < p2Workers; i++ {
		group.Go(func() error {
			l.consumeP2(gctx)
			return nil
		})
	}

	return l
}

// Wait blocks until every consumer goroutine has exited after Close. Workers
// never return a non-nil error, so Wait only ever reports context-related
// shutdown issues.
func (l *Lanes) Wait() error {
	return l.group.Wait()
}

// SubmitP1 attempts to enqueue job onto P1. It never blocks: if the channel
// is full the job is dropped and onDrop("p1") is invoked.
func (l *Lanes) SubmitP1(job P1Job) bool {
	select {
	case l.p1 <- job:
		return true
	default:
		l.drop("p1")
		return false
	}
}

// SubmitP2 attempts to enqueue job onto P2. It never blocks: if the channel
// is full the job is dropped and onDrop("p2") is invoked.
func (l *Lanes) SubmitP2(job P2Job) bool {
	select {
	case l.p2 <- job:
		return true
	default:
		l.drop("p2")
		return false
	}
}

// Close signals every consumer goroutine to exit once its current job (if
// any) finishes. Submit still enqueues afterwards, but nothing consumes the
// queued jobs.
func (l *Lanes) Close() {
	l.cancel()
}

func (l *Lanes) drop(lane string) {
	slog.Warn("scheduler: lane full, dropping job", "lane", lane)
	if l.onDrop != nil {
		l.onDrop(lane)
	}
}

func (l *Lanes) consumeP1(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-l.p1:
			if !ok {
				return
			}
			runP1(ctx, job)
		}
	}
}

func (l *Lanes) consumeP2(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-l.p2:
			if !ok {
				return
			}
			runP2(ctx, job)
		}
	}
}

func runP1(ctx context.Context, job P1Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("p1 job panicked", "recover", r)
		}
	}()
	job.Run(ctx, job.Guard, job.Cancel)
}

func runP2(ctx context.Context, job P2Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("p2 job panicked", "recover", r)
		}
	}()
	job.Run(ctx, job.Guard, job.Cancel)
}
