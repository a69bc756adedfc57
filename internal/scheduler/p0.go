// Package scheduler implements the three-lane job scheduler: P0 (wake/UI,
// dedicated OS thread, unbounded), P1 (translation/render, bounded async),
// and P2 (OCR, bounded async; its consumer goroutines make the blocking OCR
// and screenshot calls themselves, with no separate pool). The three lanes
// are deliberately distinct Go types — P0 must never be mistaken for a
// P1/P2 channel even where the underlying element type would allow it.
package scheduler

import (
	"runtime"
	"sync"
)

// P0Task is a unit of work submitted to the wake/UI lane. Tasks must
// complete in well under a millisecond: no network I/O, no disk I/O beyond
// async logging, no computation that can block.
type P0Task func()

// P0Queue is an unbounded, multi-producer, single-consumer FIFO feeding a
// single dedicated OS thread. Producers never block, and nothing is dropped
// before Close; after Close, Submit discards the task. The consumer goroutine calls runtime.LockOSThread so it
// is never time-sliced onto a shared M with other goroutines.
type P0Queue struct {
	mu     sync.Mutex
	items  []P0Task
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewP0Queue creates the queue and starts its dedicated consumer thread,
// which runs every submitted task in FIFO order.
func NewP0Queue() *P0Queue {
	q := &P0Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.consume()
	return q
}

// Submit enqueues task for execution on the dedicated thread. Never blocks;
// after Close the task is discarded.
func (q *P0Queue) Submit(task P0Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Close stops the consumer thread after it drains whatever is already
// queued. Idempotent.
func (q *P0Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

func (q *P0Queue) consume() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		task, ok := q.pop()
		if ok {
			task()
			continue
		}

		select {
		case <-q.done:
			// Drain whatever arrived between the last pop and Close.
			for {
				task, ok := q.pop()
				if !ok {
					return
				}
				task()
			}
		case <-q.notify:
		}
	}
}

func (q *P0Queue) pop() (P0Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	task := q.items[0]
	q.items = q.items[1:]
	return task, true
}
