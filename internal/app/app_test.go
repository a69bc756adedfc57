package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ciallo/internal/app"
	"ciallo/internal/config"
	"ciallo/internal/fsm"
	"ciallo/internal/history"
	"ciallo/internal/metrics"
	"ciallo/internal/ocrwire"
	"ciallo/internal/pipeline"
	"ciallo/internal/realtime"
	"ciallo/internal/translate"
)

// ── fakes ────────────────────────────────────────────────────────────────

// fakeCapturer returns "text-1", "text-2", ... on successive captures.
type fakeCapturer struct {
	calls atomic.Int64
	err   error
}

func (c *fakeCapturer) CaptureSelection(context.Context) (string, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("text-%d", n), nil
}

type fakeScreens struct{}

func (fakeScreens) Capture(context.Context) ([]byte, error) {
	return []byte("png-bytes"), nil
}

type fakeOCR struct{}

func (fakeOCR) Recognize(_ context.Context, _ []byte, roi ocrwire.ROI) (ocrwire.OCRResult, error) {
	if roi.Type != ocrwire.ROIRect {
		return ocrwire.OCRResult{}, errors.New("unexpected roi")
	}
	return ocrwire.OCRResult{
		Text:      "Привет мир",
		Lines:     []ocrwire.Line{{Text: "Привет мир", YCenter: 30}},
		ElapsedMs: 180,
	}, nil
}

func (fakeOCR) RealtimeWorker(ocrwire.ROI) realtime.Worker { return &rtWorker{} }

// rtWorker serves one static line forever.
type rtWorker struct {
	resets atomic.Int64
}

func (w *rtWorker) RealtimeOCR(context.Context, []byte, float64) (realtime.OCRResult, error) {
	return realtime.OCRResult{Lines: []realtime.Line{{Text: "caption", YCenter: 16}}}, nil
}

func (w *rtWorker) ResetRealtime(context.Context) error {
	w.resets.Add(1)
	return nil
}

// fakeTranslator translates by prefixing "T:", streaming two chunks, after
// an optional per-call delay.
type fakeTranslator struct {
	delayNs atomic.Int64
	calls   atomic.Int64
}

func (f *fakeTranslator) setDelay(d time.Duration) { f.delayNs.Store(int64(d)) }

func (f *fakeTranslator) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	f.calls.Add(1)
	if delay := time.Duration(f.delayNs.Load()); delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	translated := "T:" + req.Text
	if req.OnChunk != nil {
		half := len(translated) / 2
		req.OnChunk(translated[:half])
		req.OnChunk(translated[half:])
	}
	return &translate.Result{
		RequestID:  req.RequestID,
		Source:     req.Text,
		Translated: translated,
	}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []history.Record
}

func (h *fakeHistory) Add(r history.Record) {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// eventRecorder drains the app's event stream.
type eventRecorder struct {
	mu     sync.Mutex
	events []app.Event
}

func (r *eventRecorder) drain(ctx context.Context, events <-chan app.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}
}

func (r *eventRecorder) named(name string) []app.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []app.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// ── harness ──────────────────────────────────────────────────────────────

type harness struct {
	app        *app.App
	rec        *eventRecorder
	translator *fakeTranslator
	capturer   *fakeCapturer
	hist       *fakeHistory
	reg        *metrics.Registry
}

func newHarness(t *testing.T, translatorDelay time.Duration) *harness {
	t.Helper()

	cfg := config.Defaults()
	cfg.Wake.ConfirmWindowMs = 60 // keep rejection tests fast
	cfg.Realtime.TickMs = 10

	h := &harness{
		rec:        &eventRecorder{},
		translator: &fakeTranslator{},
		capturer:   &fakeCapturer{},
		hist:       &fakeHistory{},
		reg:        metrics.NewRegistry(),
	}
	h.translator.setDelay(translatorDelay)

	ctx, cancelFn := context.WithCancel(context.Background())
	h.app = app.New(ctx, app.Deps{
		Config:     &cfg,
		Capturer:   h.capturer,
		Screens:    fakeScreens{},
		OCR:        fakeOCR{},
		Translator: h.translator,
		History:    h.hist,
		Metrics:    h.reg,
		TargetLang: "zh",
	})
	go h.rec.drain(ctx, h.app.Events())

	t.Cleanup(func() {
		h.app.Close()
		cancelFn()
	})
	return h
}

func (h *harness) hit(score float64) {
	h.app.OnWakeHit(pipeline.WakeHit{Score: score, At: time.Now()})
}

// confirmWake drives Sleep -> WakeConfirm -> ModeSelect with three strong
// frames.
func (h *harness) confirmWake(t *testing.T) {
	t.Helper()
	h.hit(0.05)
	h.waitState(t, fsm.WakeConfirm)
	h.hit(0.05)
	h.hit(0.05)
	h.waitState(t, fsm.ModeSelect)
}

func (h *harness) waitState(t *testing.T, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.app.GetState() == want },
		2*time.Second, time.Millisecond, "waiting for state %s", want)
}

func (h *harness) waitEvent(t *testing.T, name string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.rec.named(name)) >= n },
		2*time.Second, time.Millisecond, "waiting for %d %q events", n, name)
}

// ── scenarios ────────────────────────────────────────────────────────────

// TestApp_HappySelection walks the full selection flow: wake, confirm, mode
// pick, capture, streamed translation, render, idle, sleep.
func TestApp_HappySelection(t *testing.T) {
	h := newHarness(t, 0)

	h.confirmWake(t)
	require.NoError(t, h.app.SelectMode("selection"))

	h.waitEvent(t, app.EventTranslateComplete, 1)

	names := h.rec.names()
	assert.Equal(t, "wake-detected", names[0])
	assert.Contains(t, names, "wake-confirmed")
	assert.Contains(t, names, app.EventCaptureComplete)

	chunks := h.rec.named(app.EventTranslateChunk)
	require.Len(t, chunks, 2)
	assert.Equal(t, "T:te", chunks[0].Payload)
	assert.Equal(t, "xt-1", chunks[1].Payload)

	complete := h.rec.named(app.EventTranslateComplete)[0]
	payload := complete.Payload.(map[string]any)
	assert.Equal(t, "text-1", payload["source"])
	assert.Equal(t, "T:text-1", payload["translated"])

	// Idle quiesces back to Sleep, and the history record landed.
	h.waitState(t, fsm.Sleep)
	assert.Equal(t, 1, h.hist.count())
}

// TestApp_FalseWake covers stage-2 rejection: one weak hit, no follow-up.
func TestApp_FalseWake(t *testing.T) {
	h := newHarness(t, 0)

	h.hit(0.03) // above th_low, below th_high
	h.waitEvent(t, "wake-detected", 1)
	h.waitEvent(t, "wake-rejected", 1)
	h.waitState(t, fsm.Sleep)

	assert.Empty(t, h.rec.named("wake-confirmed"))
}

// TestApp_WakeDetectedPerStage1Acceptance: every accepted stage-1 hit emits
// exactly one wake-detected.
func TestApp_WakeDetectedPerStage1Acceptance(t *testing.T) {
	h := newHarness(t, 0)

	for i := 0; i < 3; i++ {
		h.hit(0.03)
		h.waitEvent(t, "wake-rejected", i+1)
		h.waitState(t, fsm.Sleep)
	}

	assert.Len(t, h.rec.named("wake-detected"), 3)
}

// TestApp_PreemptionKillsEarlierCycle covers the second-wake-wins rule: a
// fresh WakeHit mid-translation cancels cycle 1; only cycle 2 completes.
func TestApp_PreemptionKillsEarlierCycle(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond)

	h.confirmWake(t)
	require.NoError(t, h.app.SelectMode("selection"))
	h.waitEvent(t, app.EventCaptureComplete, 1)

	// Cycle 2 lands while cycle 1 is still translating.
	h.translator.setDelay(0)
	h.hit(0.06)
	h.waitEvent(t, app.EventForceCancel, 1)
	h.waitState(t, fsm.WakeConfirm)
	h.hit(0.06)
	h.hit(0.06)
	h.waitState(t, fsm.ModeSelect)
	require.NoError(t, h.app.SelectMode("selection"))

	h.waitEvent(t, app.EventTranslateComplete, 1)
	// Give cycle 1's stale job time to finish and (incorrectly) emit.
	time.Sleep(250 * time.Millisecond)

	completes := h.rec.named(app.EventTranslateComplete)
	require.Len(t, completes, 1, "only the second cycle may complete")
	payload := completes[0].Payload.(map[string]any)
	assert.Equal(t, "text-2", payload["source"])
}

// TestApp_OCRRegion covers the OCR flow: mode pick, screenshot cache, region
// submit, recognition, translation.
func TestApp_OCRRegion(t *testing.T) {
	h := newHarness(t, 0)

	h.confirmWake(t)
	require.NoError(t, h.app.SelectMode("ocr"))

	// Screenshot is captured asynchronously on P2.
	require.Eventually(t, func() bool {
		_, err := h.app.GetScreenshotBase64()
		return err == nil
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, h.app.SubmitOCRSelection(ocrwire.ROI{
		Type: ocrwire.ROIRect, X: 100, Y: 200, W: 400, H: 60,
	}))

	h.waitEvent(t, app.EventTranslateComplete, 1)

	require.Len(t, h.rec.named(app.EventOCRStarted), 1)
	ocrComplete := h.rec.named(app.EventOCRComplete)
	require.Len(t, ocrComplete, 1)
	payload := ocrComplete[0].Payload.(map[string]any)
	assert.Equal(t, "Привет мир", payload["text"])
	assert.Equal(t, int64(180), payload["elapsed_ms"])

	complete := h.rec.named(app.EventTranslateComplete)[0].Payload.(map[string]any)
	assert.Equal(t, "T:Привет мир", complete["translated"])
}

// TestApp_CancellationRace covers cancel_current mid-translation: nothing
// visible escapes after the cancel, and cancel latency stays tiny.
func TestApp_CancellationRace(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)

	h.confirmWake(t)
	require.NoError(t, h.app.SelectMode("selection"))
	h.waitEvent(t, app.EventCaptureComplete, 1)

	time.Sleep(50 * time.Millisecond)
	h.app.CancelCurrent()
	h.waitState(t, fsm.Sleep)

	// Let the cancelled translation run to its would-be completion.
	time.Sleep(400 * time.Millisecond)

	assert.Empty(t, h.rec.named(app.EventTranslateChunk))
	assert.Empty(t, h.rec.named(app.EventTranslateComplete))
	assert.Equal(t, 0, h.hist.count())

	latency := h.reg.Summary(metrics.CancelLatency)
	require.Equal(t, 1, latency.Count)
	assert.LessOrEqual(t, latency.P99, uint64(20_000), "cancel latency must be <= 20ms")
}

// TestApp_SelectModeOutsideModeSelectFails covers command sequencing.
func TestApp_SelectModeOutsideModeSelectFails(t *testing.T) {
	h := newHarness(t, 0)

	require.Error(t, h.app.SelectMode("selection"), "Sleep")

	h.confirmWake(t)
	require.Error(t, h.app.SelectMode("teleport"), "unknown mode")
}

func TestApp_DismissReturnsToSleep(t *testing.T) {
	h := newHarness(t, 0)

	h.confirmWake(t)
	h.app.Dismiss()
	h.waitState(t, fsm.Sleep)
}

func TestApp_CaptureErrorSurfacesAndSleeps(t *testing.T) {
	h := newHarness(t, 0)
	h.capturer.err = errors.New("accessibility api unavailable")

	h.confirmWake(t)
	require.NoError(t, h.app.SelectMode("selection"))

	h.waitEvent(t, app.EventCaptureError, 1)
	h.waitState(t, fsm.Sleep)
	assert.Empty(t, h.rec.named(app.EventTranslateComplete))
}

// TestApp_RealtimeModeRunsAndStops covers the realtime flow end to end: the
// session starts, emits updates with a rising cache ratio, and stop_realtime
// shuts it down cleanly.
func TestApp_RealtimeModeRunsAndStops(t *testing.T) {
	h := newHarness(t, 0)

	h.confirmWake(t)
	require.NoError(t, h.app.SelectMode("realtime"))

	h.waitEvent(t, "realtime-started", 1)
	h.waitEvent(t, "realtime-update", 3)

	h.app.StopRealtime()
	h.waitEvent(t, "realtime-stopped", 1)
	h.waitState(t, fsm.Sleep)

	// One API call for the static line; later ticks serve the cache.
	assert.EqualValues(t, 1, h.translator.calls.Load())
	updates := h.rec.named("realtime-update")
	last := updates[len(updates)-1].Payload.(realtime.Update)
	assert.Equal(t, []string{"T:caption"}, last.Lines)
	assert.Greater(t, last.TokenSavingPct, 0.0)
}

func TestApp_MetricsSummaryExposesWakePath(t *testing.T) {
	h := newHarness(t, 0)

	h.confirmWake(t)

	summary := h.app.GetMetricsSummary()
	assert.Equal(t, 1, summary["t_wake_detected"].Count)
	assert.Equal(t, 1, summary["t_mode_panel_visible"].Count)
}
