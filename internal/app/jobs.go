package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ciallo/internal/cancel"
	"ciallo/internal/fsm"
	"ciallo/internal/history"
	"ciallo/internal/metrics"
	"ciallo/internal/observe"
	"ciallo/internal/ocrwire"
	"ciallo/internal/realtime"
	"ciallo/internal/translate"
)

// ── Selection mode ───────────────────────────────────────────────────────

func (a *App) startSelection() error {
	if a.deps.Capturer == nil {
		return errors.New("select_mode: text capture not configured")
	}
	if !a.machine.Transition(fsm.Capture) {
		return errors.New("select_mode: capture transition denied")
	}

	ids := a.currentIds()
	submitted := time.Now()
	ok := a.coord.SubmitP1(func(ctx context.Context, guard cancel.GenerationGuard, cancelCh <-chan struct{}) {
		a.reg.Record(metrics.QueueWaitP1, time.Since(submitted))
		a.runSelection(ctx, guard, ids)
	})
	if !ok {
		return errors.New("select_mode: translation lane full")
	}
	return nil
}

func (a *App) runSelection(ctx context.Context, guard cancel.GenerationGuard, ids RequestIds) {
	span := metrics.Start(a.reg, metrics.CaptureDone)
	capCtx, cancelFn := context.WithTimeout(ctx, CaptureTimeout)
	text, err := a.deps.Capturer.CaptureSelection(capCtx)
	cancelFn()
	span.End()

	if !guard.ShouldContinue() {
		return
	}
	if err != nil {
		a.emit(EventCaptureError, map[string]any{"error": err.Error(), "trace_id": ids.TraceID})
		a.sleepFrom(guard)
		return
	}

	a.emit(EventCaptureComplete, map[string]any{"text": text})
	if !a.machine.Transition(fsm.Translate) {
		return
	}
	a.runTranslate(ctx, guard, ids, text, "", "selection")
}

// ── OCR mode ─────────────────────────────────────────────────────────────

func (a *App) startOCRCapture() error {
	if a.deps.OCR == nil || a.deps.Screens == nil {
		return errors.New("select_mode: ocr not configured")
	}
	if !a.machine.Transition(fsm.Capture) {
		return errors.New("select_mode: capture transition denied")
	}

	ids := a.currentIds()
	submitted := time.Now()
	ok := a.coord.SubmitP2(func(ctx context.Context, guard cancel.GenerationGuard, cancelCh <-chan struct{}) {
		a.reg.Record(metrics.QueueWaitP2, time.Since(submitted))

		shot, err := a.deps.Screens.Capture(ctx)
		if !guard.ShouldContinue() {
			return
		}
		if err != nil {
			a.emit(EventOCRError, map[string]any{"error": err.Error(), "trace_id": ids.TraceID})
			a.sleepFrom(guard)
			return
		}
		a.mu.Lock()
		a.shot = shot
		a.mu.Unlock()
		// The overlay now pulls the frame via get_screenshot_base64 and
		// answers with submit_ocr_selection.
	})
	if !ok {
		return errors.New("select_mode: ocr lane full")
	}
	return nil
}

// SubmitOCRSelection implements the submit_ocr_selection command: the user
// has drawn a region on the cached frame; recognise it and hand the text to
// the translation lane.
func (a *App) SubmitOCRSelection(roi ocrwire.ROI) error {
	if cur := a.machine.Current(); cur != fsm.Capture {
		return fmt.Errorf("submit_ocr_selection: not capturing (state %s)", cur)
	}
	if !a.machine.Transition(fsm.Ocr) {
		return errors.New("submit_ocr_selection: ocr transition denied")
	}

	a.mu.Lock()
	shot := a.shot
	a.mu.Unlock()
	if len(shot) == 0 {
		a.sleepNow()
		return errors.New("submit_ocr_selection: no cached frame")
	}

	ids := a.currentIds()
	submitted := time.Now()
	ok := a.coord.SubmitP2(func(ctx context.Context, guard cancel.GenerationGuard, cancelCh <-chan struct{}) {
		a.reg.Record(metrics.QueueWaitP2, time.Since(submitted))
		a.runOCR(ctx, guard, ids, shot, roi)
	})
	if !ok {
		return errors.New("submit_ocr_selection: ocr lane full")
	}
	return nil
}

func (a *App) runOCR(ctx context.Context, guard cancel.GenerationGuard, ids RequestIds, shot []byte, roi ocrwire.ROI) {
	if !guard.ShouldContinue() {
		return
	}
	a.emit(EventOCRStarted, nil)

	span := metrics.Start(a.reg, metrics.OCRDone)
	result, err := a.deps.OCR.Recognize(ctx, shot, roi)
	span.End()

	if !guard.ShouldContinue() {
		return
	}
	if err != nil {
		a.emit(EventOCRError, map[string]any{"error": err.Error(), "trace_id": ids.TraceID})
		a.sleepFrom(guard)
		return
	}

	a.emit(EventOCRComplete, map[string]any{
		"text":       result.Text,
		"lines":      len(result.Lines),
		"elapsed_ms": result.ElapsedMs,
	})

	// Hand off to P1 for translation.
	submitted := time.Now()
	ok := a.coord.SubmitP1(func(ctx context.Context, p1Guard cancel.GenerationGuard, cancelCh <-chan struct{}) {
		a.reg.Record(metrics.QueueWaitP1, time.Since(submitted))
		if !p1Guard.ShouldContinue() {
			return
		}
		if !a.machine.Transition(fsm.Translate) {
			return
		}
		a.runTranslate(ctx, p1Guard, ids, result.Text, "", "ocr")
	})
	if !ok {
		a.sleepFrom(guard)
	}
}

// ── Realtime mode ────────────────────────────────────────────────────────

func (a *App) startRealtime() error {
	if a.deps.OCR == nil || a.deps.Screens == nil {
		return errors.New("select_mode: realtime not configured")
	}
	if !a.machine.Transition(fsm.Capture) {
		return errors.New("select_mode: capture transition denied")
	}

	ids := a.currentIds()
	guard := a.cancels.Issue(cancel.LaneP1)

	// Always the full frame: the realtime worker treats a zero rect as
	// "whole screen".
	worker := a.deps.OCR.RealtimeWorker(ocrwire.ROI{Type: ocrwire.ROIRect})

	sess := realtime.New(realtime.Config{
		RequestID:    ids.RequestID,
		TargetLang:   a.deps.TargetLang,
		TickInterval: a.deps.Config.Realtime.TickInterval(),
		MAEThreshold: a.deps.Config.Realtime.MaeThreshold,
		YBucketPx:    a.deps.Config.Realtime.YBucketPx,
		Screens:      screensAdapter{a.deps.Screens},
		Worker:       worker,
		Translator:   translatorAdapter{a.deps.Translator},
		Metrics:      a.reg,
		Sink:         a.emit,
	}, guard)

	a.mu.Lock()
	a.rtSession = sess
	a.mu.Unlock()

	submitted := time.Now()
	ok := a.coord.SubmitP1(func(ctx context.Context, jobGuard cancel.GenerationGuard, cancelCh <-chan struct{}) {
		a.reg.Record(metrics.QueueWaitP1, time.Since(submitted))
		if a.obs != nil {
			a.obs.ActiveRealtimeSessions.Add(ctx, 1)
			defer a.obs.ActiveRealtimeSessions.Add(context.WithoutCancel(ctx), -1)
		}
		sess.Run(ctx)
		a.sleepFrom(jobGuard)
	})
	if !ok {
		a.mu.Lock()
		a.rtSession = nil
		a.mu.Unlock()
		return errors.New("select_mode: translation lane full")
	}
	return nil
}

// screensAdapter narrows the app's Screens to the realtime session's
// capture contract.
type screensAdapter struct{ s Screens }

func (s screensAdapter) Capture(ctx context.Context) ([]byte, error) { return s.s.Capture(ctx) }

// translatorAdapter guards against a nil translator: realtime sessions
// started without an API key fail their first tick with a clear error
// instead of a panic.
type translatorAdapter struct{ t Translator }

func (t translatorAdapter) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	if t.t == nil {
		return nil, translate.ErrNoProvider
	}
	return t.t.Translate(ctx, req)
}

// ── Shared translate/render stage ────────────────────────────────────────

func (a *App) runTranslate(ctx context.Context, guard cancel.GenerationGuard, ids RequestIds, text, sourceLang, mode string) {
	if a.deps.Translator == nil {
		a.emit(EventTranslateError, map[string]any{
			"error":    "translation disabled: DEEPSEEK_API_KEY not set",
			"trace_id": ids.TraceID,
		})
		a.sleepFrom(guard)
		return
	}

	ctx, otelSpan := observe.StartSpan(ctx, "translate")
	defer otelSpan.End()
	observe.Logger(ctx).Info("translation started", "request_id", ids.RequestID, "mode", mode)

	span := metrics.Start(a.reg, metrics.TranslateDone)
	var firstChunk sync.Once
	started := time.Now()

	res, err := a.deps.Translator.Translate(ctx, translate.Request{
		RequestID:  ids.RequestID,
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: a.deps.TargetLang,
		OnChunk: func(chunk string) {
			if !guard.ShouldContinue() {
				return
			}
			firstChunk.Do(func() {
				a.reg.Record(metrics.TranslateFirstChunk, time.Since(started))
			})
			a.emit(EventTranslateChunk, chunk)
		},
	})
	span.End()

	if !guard.ShouldContinue() {
		return
	}
	if err != nil {
		a.emit(EventTranslateError, map[string]any{"error": err.Error(), "trace_id": ids.TraceID})
		a.sleepFrom(guard)
		return
	}

	if !a.machine.Transition(fsm.Render) {
		return
	}
	renderSpan := metrics.Start(a.reg, metrics.RenderDone)
	a.emit(EventTranslateComplete, map[string]any{
		"request_id": res.RequestID,
		"source":     res.Source,
		"translated": res.Translated,
	})
	renderSpan.End()

	if a.deps.History != nil {
		a.deps.History.Add(history.Record{
			RequestID:  res.RequestID,
			TraceID:    ids.TraceID,
			Mode:       mode,
			TargetLang: a.deps.TargetLang,
			Source:     res.Source,
			Translated: res.Translated,
		})
	}

	if a.machine.Transition(fsm.Idle) {
		a.quiesceThenSleep()
	}
}

// sleepFrom returns the machine to Sleep on behalf of a job whose guard is
// still current; a stale job must not touch the machine.
func (a *App) sleepFrom(guard cancel.GenerationGuard) {
	if !guard.ShouldContinue() {
		return
	}
	a.sleepNow()
}

func (a *App) sleepNow() {
	a.coord.P0.Submit(func() { a.machine.ForceSleep() })
}
