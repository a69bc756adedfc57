package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ciallo/internal/cancel"
	"ciallo/internal/metrics"
	"ciallo/internal/translate"
)

// Line is one recognised line from the OCR worker.
type Line struct {
	Text    string
	YCenter int
}

// OCRResult is the worker's combined diff+OCR answer for one tick.
type OCRResult struct {
	// NoChange is true when the pixel MAE against the previous frame fell
	// below the threshold; Lines is then empty and the tick is skipped.
	NoChange bool
	Lines    []Line
}

// Worker is the external OCR collaborator driven by the session: one
// combined "did it change, and if so what does it say" call per tick.
type Worker interface {
	RealtimeOCR(ctx context.Context, image []byte, maeThreshold float64) (OCRResult, error)

	// ResetRealtime clears the worker's previous-frame state so the next
	// call always OCRs.
	ResetRealtime(ctx context.Context) error
}

// ScreenshotSource captures the session's region of interest.
type ScreenshotSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Translator is the slice of the translation service the session needs.
// *translate.Service implements it.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) (*translate.Result, error)
}

// EventSink receives the session's UI events.
type EventSink func(name string, payload any)

// Update is the payload of one realtime-update event.
type Update struct {
	Lines          []string `json:"lines"`
	Added          int      `json:"added"`
	Cached         int      `json:"cached"`
	TokenSavingPct float64  `json:"token_saving_pct"`
}

// Summary is the payload of the realtime-stopped event.
type Summary struct {
	TokenSavingPct        float64 `json:"token_saving_pct"`
	LinesTranslatedViaAPI int     `json:"lines_translated_via_api"`
	LinesFromCache        int     `json:"lines_from_cache"`
}

// Event names emitted by the session.
const (
	EventStarted = "realtime-started"
	EventUpdate  = "realtime-update"
	EventError   = "realtime-error"
	EventStopped = "realtime-stopped"
)

// Config assembles a Session.
type Config struct {
	RequestID    string
	TargetLang   string
	TickInterval time.Duration // default 500 ms
	MAEThreshold float64       // default 5.0
	YBucketPx    int           // default 8

	Screens    ScreenshotSource
	Worker     Worker
	Translator Translator
	Metrics    *metrics.Registry // optional
	Sink       EventSink

	// Tick overrides the internal ticker in tests; leave nil in production.
	Tick <-chan time.Time
}

// Session runs one realtime translation loop. Create with New, drive with
// Run on an async-plane goroutine, stop via the guard (any
// cancel_all_and_advance) or Stop.
type Session struct {
	cfg      Config
	guard    cancel.GenerationGuard
	stop     chan struct{}
	stopOnce sync.Once

	// lineCache maps a line hash to its translation for the lifetime of the
	// session. A line present in the previous tick (or any earlier one) is
	// served from here; only lines never seen before reach the API.
	lineCache map[LineHash]string

	linesFromCache  int
	linesTranslated int
}

// New builds a Session. Defaults are applied for zero-value tunables.
func New(cfg Config, guard cancel.GenerationGuard) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.MAEThreshold <= 0 {
		cfg.MAEThreshold = 5.0
	}
	if cfg.YBucketPx <= 0 {
		cfg.YBucketPx = 8
	}
	return &Session{
		cfg:       cfg,
		guard:     guard,
		stop:      make(chan struct{}),
		lineCache: make(map[LineHash]string),
	}
}

// Stop ends the loop after the current tick. Idempotent and safe to call
// from any goroutine.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run drives the loop until Stop, guard invalidation, or ctx cancellation.
// It emits realtime-started on entry and realtime-stopped (with the session
// summary) on every exit path.
func (s *Session) Run(ctx context.Context) {
	s.emit(EventStarted, nil)
	defer func() {
		if err := s.cfg.Worker.ResetRealtime(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("realtime: worker reset failed", "request_id", s.cfg.RequestID, "err", err)
		}
		s.emit(EventStopped, s.summary())
	}()

	tick := s.cfg.Tick
	if tick == nil {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-tick:
			if !s.guard.ShouldContinue() {
				return
			}
			if err := s.tick(ctx); err != nil {
				if s.guard.ShouldContinue() {
					s.emit(EventError, map[string]any{"error": err.Error()})
				}
				return
			}
		}
	}
}

// tick runs one capture → diff+OCR → line-diff → translate-added cycle.
func (s *Session) tick(ctx context.Context) error {
	span := metrics.Start(s.cfg.Metrics, metrics.RealtimeCycle)
	defer span.End()

	image, err := s.cfg.Screens.Capture(ctx)
	if err != nil {
		return err
	}

	result, err := s.cfg.Worker.RealtimeOCR(ctx, image, s.cfg.MAEThreshold)
	if err != nil {
		return err
	}
	if result.NoChange {
		return nil
	}

	var (
		out    = make([]string, 0, len(result.Lines))
		added  int
		cached int
	)
	for _, line := range result.Lines {
		hash := HashLine(line.Text, line.YCenter, s.cfg.YBucketPx)

		if translated, ok := s.lineCache[hash]; ok {
			out = append(out, translated)
			cached++
			s.linesFromCache++
			continue
		}

		translated, err := s.translateLine(ctx, line.Text)
		if err != nil {
			return err
		}
		if !s.guard.ShouldContinue() {
			return nil
		}
		s.lineCache[hash] = translated
		out = append(out, translated)
		added++
		s.linesTranslated++
	}

	if !s.guard.ShouldContinue() {
		return nil
	}
	s.emit(EventUpdate, Update{
		Lines:          out,
		Added:          added,
		Cached:         cached,
		TokenSavingPct: s.tokenSavingPct(),
	})
	return nil
}

func (s *Session) translateLine(ctx context.Context, text string) (string, error) {
	res, err := s.cfg.Translator.Translate(ctx, translate.Request{
		RequestID:  s.cfg.RequestID,
		Text:       text,
		TargetLang: s.cfg.TargetLang,
	})
	if err != nil {
		return "", err
	}
	return res.Translated, nil
}

// tokenSavingPct is lines_from_cache / (lines_from_cache + lines_translated)
// over the whole session, as a percentage.
func (s *Session) tokenSavingPct() float64 {
	total := s.linesFromCache + s.linesTranslated
	if total == 0 {
		return 0
	}
	return 100 * float64(s.linesFromCache) / float64(total)
}

func (s *Session) summary() Summary {
	return Summary{
		TokenSavingPct:        s.tokenSavingPct(),
		LinesTranslatedViaAPI: s.linesTranslated,
		LinesFromCache:        s.linesFromCache,
	}
}

func (s *Session) emit(name string, payload any) {
	if s.cfg.Sink != nil {
		s.cfg.Sink(name, payload)
	}
}
