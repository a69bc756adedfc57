package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ciallo/internal/metrics"
)

// Writer is the persistence capability the batcher flushes into. *Store
// implements it; tests use a fake.
type Writer interface {
	WriteBatch(ctx context.Context, records []Record) error
}

// maxPending bounds the in-memory batch: when it fills before the flush
// deadline, the batch is flushed early rather than grown.
const maxPending = 64

// Batcher coalesces history records and writes them through a Writer once
// per flush interval, or sooner when the batch fills. Runs on the async
// plane; Add never blocks on the database.
type Batcher struct {
	writer   Writer
	interval time.Duration
	reg      *metrics.Registry

	mu      sync.Mutex
	pending []Record
	kick    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBatcher returns a Batcher flushing into writer every interval. reg may
// be nil.
func NewBatcher(writer Writer, interval time.Duration, reg *metrics.Registry) *Batcher {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &Batcher{
		writer:   writer,
		interval: interval,
		reg:      reg,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Add queues a record for the next flush. Callers are expected to have
// checked their generation guard already — a record handed in here will be
// written.
func (b *Batcher) Add(record Record) {
	b.mu.Lock()
	b.pending = append(b.pending, record)
	full := len(b.pending) >= maxPending
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes pending records every interval (or sooner when the batch
// fills) until ctx is cancelled, then performs one final flush so nothing
// queued is lost on shutdown.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.WithoutCancel(ctx))
			b.once.Do(func() { close(b.done) })
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.kick:
			b.flush(ctx)
		}
	}
}

// Wait blocks until Run has performed its final flush and returned.
func (b *Batcher) Wait() {
	<-b.done
}

func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	records := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(records) == 0 {
		return
	}

	span := metrics.Start(b.reg, metrics.HistoryBatchWrite)
	err := b.writer.WriteBatch(ctx, records)
	span.End()

	if err != nil {
		slog.Warn("history batch write failed", "records", len(records), "err", err)
	}
}
