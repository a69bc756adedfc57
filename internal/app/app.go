// Package app wires the control plane together and exposes the UI command
// surface: the state machine, wake confirmer, scheduler lanes, cancellation
// kernel, and the translation/OCR/realtime flows that run on them. A WebView
// bridge calls the exported methods; the resulting UI events stream out of
// Events.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"ciallo/internal/cancel"
	"ciallo/internal/config"
	"ciallo/internal/fsm"
	"ciallo/internal/history"
	"ciallo/internal/metrics"
	"ciallo/internal/observe"
	"ciallo/internal/ocrwire"
	"ciallo/internal/pipeline"
	"ciallo/internal/realtime"
	"ciallo/internal/scheduler"
	"ciallo/internal/translate"
)

// Capturer grabs the user's selected text via the clipboard or
// accessibility APIs. The platform body is an external collaborator; the
// per-backend 80 ms / 50 ms budgets live inside it, and the app enforces the
// overall deadline.
type Capturer interface {
	CaptureSelection(ctx context.Context) (string, error)
}

// Screens captures the screen (or a cached region) as PNG bytes.
type Screens interface {
	Capture(ctx context.Context) ([]byte, error)
}

// OCRService is the slice of the OCR worker client the app drives.
type OCRService interface {
	Recognize(ctx context.Context, image []byte, roi ocrwire.ROI) (ocrwire.OCRResult, error)
	RealtimeWorker(roi ocrwire.ROI) realtime.Worker
}

// Translator is the slice of the translation service the app drives.
// *translate.Service implements it.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) (*translate.Result, error)
}

// HistorySink receives completed translations for batched persistence.
type HistorySink interface {
	Add(record history.Record)
}

// HistoryQuerier answers the get_history command.
type HistoryQuerier interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// CaptureTimeout bounds the selected-text grab.
const CaptureTimeout = 80 * time.Millisecond

// IdleQuiesce is how long the machine rests in Idle before auto-returning
// to Sleep.
const IdleQuiesce = 200 * time.Millisecond

// Deps are the collaborators an App is built from. Translator, History, and
// HistoryQuery may be nil (the corresponding feature is disabled with a
// warning; wake/UI still works).
type Deps struct {
	Config       *config.Config
	Capturer     Capturer
	Screens      Screens
	OCR          OCRService
	Translator   Translator
	History      HistorySink
	HistoryQuery HistoryQuerier
	Metrics      *metrics.Registry
	Observe      *observe.Metrics // optional OTel instruments
	TargetLang   string           // default "zh"
}

// App is the assembled control plane.
type App struct {
	deps    Deps
	machine *fsm.Machine
	conf    *fsm.Confirmer
	cancels *cancel.CancelCoordinator
	coord   *scheduler.Coordinator
	lanes   *scheduler.Lanes
	reg     *metrics.Registry
	obs     *observe.Metrics
	events  chan Event

	mu        sync.Mutex
	ids       RequestIds
	wakeAt    time.Time
	shot      []byte // cached screenshot for the OCR overlay
	rtSession *realtime.Session
}

// New assembles the app. ctx bounds the lifetime of the lane consumers.
func New(ctx context.Context, deps Deps) *App {
	if deps.Config == nil {
		cfg := config.Defaults()
		deps.Config = &cfg
	}
	if deps.TargetLang == "" {
		deps.TargetLang = "zh"
	}

	a := &App{
		deps:    deps,
		machine: fsm.New(),
		cancels: cancel.NewCancelCoordinator(),
		reg:     deps.Metrics,
		obs:     deps.Observe,
		events:  make(chan Event, eventBuffer),
	}

	a.lanes = scheduler.NewLanes(ctx, 2, 1, a.onLaneDrop)
	a.coord = scheduler.NewCoordinator(a.lanes, a.cancels, a.machine, a.emit)

	wakeCfg := deps.Config.Wake
	a.conf = fsm.NewConfirmer(a.machine, fsm.Config{
		ThLow:               wakeCfg.ThLow,
		ThHigh:              wakeCfg.ThHigh,
		ConfirmWindow:       wakeCfg.ConfirmWindow(),
		ConfirmFramesNeeded: wakeCfg.ConfirmFramesNeeded,
	}, a.onWakeEvent)

	return a
}

// Events is the UI event stream. The consumer must keep up; the emitter
// drops rather than blocks.
func (a *App) Events() <-chan Event {
	return a.events
}

// Machine exposes the state machine for subscribers.
func (a *App) Machine() *fsm.Machine {
	return a.machine
}

// Close shuts down the lanes and the P0 thread.
func (a *App) Close() {
	a.coord.Close()
}

// ── Wake path ────────────────────────────────────────────────────────────

// OnWakeHit is the audio pipeline's entry point: it posts the hit to the P0
// thread. A hit landing mid-cycle preempts every in-flight job before the
// confirmer sees the score.
func (a *App) OnWakeHit(hit pipeline.WakeHit) {
	a.coord.P0.Submit(func() {
		a.reg.Record(metrics.QueueWaitP0, time.Since(hit.At))

		accepted := hit.Score >= a.deps.Config.Wake.ThLow
		if a.obs != nil {
			a.obs.RecordWakeHit(context.Background(), accepted)
		}

		switch a.machine.Current() {
		case fsm.Sleep:
			if accepted {
				a.beginCycle(hit)
			}
		case fsm.WakeConfirm:
			// Stage-2 frame for the open window.
		default:
			// Fresh wake mid-cycle: kill everything, then start over.
			a.coord.PreemptForWake()
			a.machine.ForceSleep()
			a.stopRealtimeSession()
			if accepted {
				a.beginCycle(hit)
			}
		}

		a.conf.Handle(hit.Score)
	})
}

// beginCycle stamps fresh request ids for the wake cycle about to open.
// Runs on the P0 thread, before the confirmer transitions the machine.
func (a *App) beginCycle(hit pipeline.WakeHit) {
	a.mu.Lock()
	a.ids = RequestIds{
		TraceID:    newTraceID(),
		RequestID:  newTraceID(),
		Generation: a.cancels.Lane(cancel.LaneRoot).Generation(),
	}
	a.wakeAt = hit.At
	a.mu.Unlock()
}

// onWakeEvent forwards the confirmer's events with the cycle's trace id and
// records the wake-path latency metrics.
func (a *App) onWakeEvent(event string) {
	a.mu.Lock()
	traceID := a.ids.TraceID
	wakeAt := a.wakeAt
	a.mu.Unlock()

	a.emit(event, map[string]any{"trace_id": traceID})

	switch event {
	case fsm.EventWakeDetected:
		a.reg.Record(metrics.WakeDetected, time.Since(wakeAt))
		a.reg.Record(metrics.WakeUIEmitted, time.Since(wakeAt))
	case fsm.EventWakeConfirmed:
		a.reg.Record(metrics.ModePanelVisible, time.Since(wakeAt))
		if a.obs != nil {
			a.obs.WakeCycleDuration.Record(context.Background(), time.Since(wakeAt).Seconds())
		}
	}
}

// ── UI commands ──────────────────────────────────────────────────────────

// GetState implements the get_state command.
func (a *App) GetState() fsm.State {
	return a.machine.Current()
}

// GetMetricsSummary implements the get_metrics_summary command.
func (a *App) GetMetricsSummary() map[string]metrics.Summary {
	if a.reg == nil {
		return map[string]metrics.Summary{}
	}
	return a.reg.SummaryAll()
}

// SelectMode implements the select_mode command. Valid only in ModeSelect;
// re-selecting mid-job requires cancelling first.
func (a *App) SelectMode(mode string) error {
	if cur := a.machine.Current(); cur != fsm.ModeSelect {
		return fmt.Errorf("select_mode: not in ModeSelect (state %s)", cur)
	}

	switch mode {
	case "selection":
		return a.startSelection()
	case "ocr":
		return a.startOCRCapture()
	case "realtime":
		return a.startRealtime()
	default:
		return fmt.Errorf("select_mode: unknown mode %q", mode)
	}
}

// CancelCurrent implements the cancel_current command: cancel everything,
// reset overlays, return to Sleep.
func (a *App) CancelCurrent() {
	called := time.Now()
	if a.obs != nil {
		a.obs.CancellationsIssued.Add(context.Background(), 1)
	}
	a.coord.P0.Submit(func() {
		a.coord.CancelAllNow()
		a.machine.ForceSleep()
		a.stopRealtimeSession()
		a.emit(EventForceCancel, nil)
		a.reg.Record(metrics.CancelLatency, time.Since(called))
	})
}

// Dismiss implements the dismiss command: hide overlays and return to
// Sleep without treating anything as an error.
func (a *App) Dismiss() {
	a.coord.P0.Submit(func() {
		a.coord.CancelAllNow()
		a.machine.ForceSleep()
		a.stopRealtimeSession()
	})
}

// GetScreenshotBase64 implements the get_screenshot_base64 command.
func (a *App) GetScreenshotBase64() (string, error) {
	a.mu.Lock()
	shot := a.shot
	a.mu.Unlock()
	if len(shot) == 0 {
		return "", errors.New("get_screenshot_base64: no cached frame")
	}
	return base64.StdEncoding.EncodeToString(shot), nil
}

// CancelOCRCapture implements the cancel_ocr_capture command: hide the
// overlay, clear the cached frame, return to Sleep.
func (a *App) CancelOCRCapture() {
	a.mu.Lock()
	a.shot = nil
	a.mu.Unlock()
	a.CancelCurrent()
}

// StopRealtime implements the stop_realtime command.
func (a *App) StopRealtime() {
	a.mu.Lock()
	sess := a.rtSession
	a.rtSession = nil
	a.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
	a.coord.P0.Submit(func() { a.machine.ForceSleep() })
}

// GetHistory implements the get_history command.
func (a *App) GetHistory(ctx context.Context, limit int) ([]history.Record, error) {
	if a.deps.HistoryQuery == nil {
		return nil, errors.New("get_history: history store not configured")
	}
	return a.deps.HistoryQuery.Recent(ctx, limit)
}

// ── internals ────────────────────────────────────────────────────────────

// onLaneDrop is the backpressure handler: a full P1/P2 channel drops the
// job, surfaces an error event, and the machine re-enters Sleep.
func (a *App) onLaneDrop(lane string) {
	if a.obs != nil {
		a.obs.JobsDropped.Add(context.Background(), 1, metric.WithAttributes(observe.Attr("lane", lane)))
	}
	a.emit(EventTranslateError, map[string]any{
		"error": fmt.Sprintf("queue %s full, request dropped", lane),
	})
	a.coord.P0.Submit(func() { a.machine.ForceSleep() })
}

// currentIds snapshots the cycle ids for a job about to be submitted.
func (a *App) currentIds() RequestIds {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ids
}

// stopRealtimeSession stops any running realtime session.
func (a *App) stopRealtimeSession() {
	a.mu.Lock()
	sess := a.rtSession
	a.rtSession = nil
	a.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

// quiesceThenSleep parks the machine in Idle briefly, then returns it to
// Sleep unless something else already moved it.
func (a *App) quiesceThenSleep() {
	time.AfterFunc(IdleQuiesce, func() {
		a.coord.P0.Submit(func() {
			if a.machine.Current() == fsm.Idle {
				a.machine.Transition(fsm.Sleep)
			}
		})
	})
}
