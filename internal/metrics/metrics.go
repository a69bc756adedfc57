// Package metrics implements the fixed-capacity sample-ring histogram that
// answers the get_metrics_summary command: one ring per named metric,
// microsecond-resolution samples, percentiles computed by copy-sort on
// demand. This is deliberately separate from internal/observe's OpenTelemetry
// instruments — this package answers "what does the UI see when it asks",
// OTel answers "observe this process from outside".
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Name is a compact enum indexing the named metrics. An enum rather than
// free-form strings keeps the registry a fixed array instead of a map of
// per-metric objects.
type Name int

const (
	WakeDetected Name = iota
	WakeUIEmitted
	ModePanelVisible
	CaptureDone
	OCRDone
	TranslateFirstChunk
	TranslateDone
	RenderDone
	QueueWaitP0
	QueueWaitP1
	QueueWaitP2
	CancelLatency
	RealtimeCycle
	HistoryBatchWrite

	numNames
)

// String returns the metric's wire name, used as the key in
// get_metrics_summary's result map and in log lines.
func (n Name) String() string {
	switch n {
	case WakeDetected:
		return "t_wake_detected"
	case WakeUIEmitted:
		return "t_wake_ui_emitted"
	case ModePanelVisible:
		return "t_mode_panel_visible"
	case CaptureDone:
		return "t_capture_done"
	case OCRDone:
		return "t_ocr_done"
	case TranslateFirstChunk:
		return "t_translate_first_chunk"
	case TranslateDone:
		return "t_translate_done"
	case RenderDone:
		return "t_render_done"
	case QueueWaitP0:
		return "queue_wait_p0"
	case QueueWaitP1:
		return "queue_wait_p1"
	case QueueWaitP2:
		return "queue_wait_p2"
	case CancelLatency:
		return "cancel_latency"
	case RealtimeCycle:
		return "t_realtime_cycle"
	case HistoryBatchWrite:
		return "t_history_batch_write"
	default:
		return "unknown"
	}
}

// ringCapacity is the number of samples retained per metric before older
// entries are silently overwritten.
const ringCapacity = 1024

// ring is a fixed-capacity circular buffer of microsecond sample values for
// one metric. A single mutex guards the cursor and backing array; writes are
// O(1) and never allocate.
type ring struct {
	mu    sync.Mutex
	data  [ringCapacity]uint64
	pos   int
	count int // number of valid samples, capped at ringCapacity
}

func (r *ring) record(v uint64) {
	r.mu.Lock()
	r.data[r.pos] = v
	r.pos = (r.pos + 1) % ringCapacity
	if r.count < ringCapacity {
		r.count++
	}
	r.mu.Unlock()
}

// snapshot copies out every valid sample. Used only by Summary, which is a
// low-frequency diagnostic query, so the copy cost is acceptable.
func (r *ring) snapshot() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, r.count)
	copy(out, r.data[:r.count])
	return out
}

// Summary is the (p50, p95, p99, count) tuple returned for one metric name.
type Summary struct {
	P50   uint64
	P95   uint64
	P99   uint64
	Count int
}

// Registry indexes one ring per [Name]. The zero value is not usable; use
// [NewRegistry].
type Registry struct {
	rings [numNames]*ring
}

// NewRegistry returns a Registry with every metric's ring pre-allocated.
func NewRegistry() *Registry {
	reg := &Registry{}
	for i := range reg.rings {
		reg.rings[i] = &ring{}
	}
	return reg
}

// Record stores one microsecond sample for name. Safe for concurrent use.
// A nil registry discards the sample, so optional instrumentation does not
// need its own nil checks.
func (reg *Registry) Record(name Name, d time.Duration) {
	if reg == nil || name < 0 || name >= numNames {
		return
	}
	us := d.Microseconds()
	if us < 0 {
		us = 0
	}
	reg.rings[name].record(uint64(us))
}

// Summary computes (p50, p95, p99, count) for name by copying its ring and
// sorting. Returns the zero Summary for an unrecognised name.
func (reg *Registry) Summary(name Name) Summary {
	if name < 0 || name >= numNames {
		return Summary{}
	}
	samples := reg.rings[name].snapshot()
	return percentiles(samples)
}

// SummaryAll returns every named metric's summary, keyed by its wire name —
// the direct backing for the get_metrics_summary UI command.
func (reg *Registry) SummaryAll() map[string]Summary {
	out := make(map[string]Summary, numNames)
	for n := Name(0); n < numNames; n++ {
		out[n.String()] = reg.Summary(n)
	}
	return out
}

func percentiles(samples []uint64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return Summary{
		P50:   percentileOf(samples, 0.50),
		P95:   percentileOf(samples, 0.95),
		P99:   percentileOf(samples, 0.99),
		Count: len(samples),
	}
}

// percentileOf returns the nearest-rank percentile p (0..1) of a sorted slice.
func percentileOf(sorted []uint64, p float64) uint64 {
	idx := int(p * float64(len(sorted)-1))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Span times one named event and records it into reg on End. Typically
// created with Start and ended with a deferred call:
//
//	span := metrics.Start(reg, metrics.TranslateDone)
//	defer span.End()
type Span struct {
	reg   *Registry
	name  Name
	start time.Time
	ended bool
}

// Start begins timing name against the wall clock. The returned Span must
// have End called exactly once.
func Start(reg *Registry, name Name) *Span {
	return &Span{reg: reg, name: name, start: time.Now()}
}

// End records the elapsed time since Start into the registry. Idempotent:
// calling it more than once has no additional effect.
func (s *Span) End() {
	if s.ended {
		return
	}
	s.ended = true
	s.reg.Record(s.name, time.Since(s.start))
}
