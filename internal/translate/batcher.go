package translate

import (
	"strings"
	"sync"
	"time"
)

// flushInterval is how long streamed text may accumulate before the batcher
// hands it to the chunk callback. Coalescing per-token deltas into ~40 ms
// batches keeps the UI render rate sane without adding visible latency.
const flushInterval = 40 * time.Millisecond

// chunkBatcher coalesces streamed text fragments and invokes emit at most
// once per flushInterval. Close flushes whatever remains and stops the
// timer goroutine.
type chunkBatcher struct {
	emit func(string)

	mu      sync.Mutex
	pending strings.Builder
	timer   *time.Timer
	closed  bool
}

func newChunkBatcher(emit func(string)) *chunkBatcher {
	return &chunkBatcher{emit: emit}
}

// Add appends text to the pending batch, arming the flush timer if it is
// not already running.
func (b *chunkBatcher) Add(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending.WriteString(text)
	if b.timer == nil {
		b.timer = time.AfterFunc(flushInterval, b.flush)
	}
}

func (b *chunkBatcher) flush() {
	b.mu.Lock()
	text := b.pending.String()
	b.pending.Reset()
	b.timer = nil
	b.mu.Unlock()

	if text != "" {
		b.emit(text)
	}
}

// Close flushes any remaining text synchronously and disables further Adds.
func (b *chunkBatcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	text := b.pending.String()
	b.pending.Reset()
	b.mu.Unlock()

	if text != "" {
		b.emit(text)
	}
}
