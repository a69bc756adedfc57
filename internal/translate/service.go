package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"ciallo/internal/observe"
)

// Per-stage wall-clock budgets for one translation.
const (
	// FirstChunkTimeout bounds the wait for the first streamed chunk.
	FirstChunkTimeout = 2 * time.Second

	// TotalTimeout bounds the whole translation, retries included.
	TotalTimeout = 8 * time.Second
)

// ErrNoProvider is returned when the service was built without an API
// backend (DEEPSEEK_API_KEY absent) and the request missed both caches.
var ErrNoProvider = errors.New("translate: no provider configured")

// Request is one translation job.
type Request struct {
	// RequestID ties the result to its wake cycle; it is echoed back on the
	// Result and carried in log lines.
	RequestID string

	// Text is the raw source text.
	Text string

	// SourceLang is an optional hint ("" = detect locally).
	SourceLang string

	// TargetLang is the translation target.
	TargetLang string

	// OnChunk, when non-nil, receives batched streamed fragments as they
	// arrive. On a cache hit it is invoked once with the full text. The
	// caller is responsible for gating delivery on its generation guard.
	OnChunk func(text string)
}

// Result is the final outcome of one translation.
type Result struct {
	RequestID        string
	Source           string
	Translated       string
	PromptTokens     int
	CompletionTokens int
	CacheHit         bool
}

// L2Cache is the persistent tier seen by the service. *L2 implements it; a
// nil L2Cache disables the tier.
type L2Cache interface {
	Get(ctx context.Context, key Key) (CachedResult, bool, error)
	Put(ctx context.Context, key Key, value CachedResult) error
}

// ServiceConfig assembles a Service.
type ServiceConfig struct {
	Provider Provider // nil = API disabled, cache-only operation
	Glossary *Glossary
	L1       *L1
	L2       L2Cache // optional
	Retry    RetryPolicy
	// MinRequestInterval spaces outbound API calls (default 100 ms).
	MinRequestInterval time.Duration
	// Observe, when set, feeds the OTel cache/request counters.
	Observe *observe.Metrics
}

// Service runs the full translation pipeline: normalize -> glossary ->
// L1 -> L2 -> API -> restore -> cache insert. Identical concurrent requests
// are collapsed onto one API call via singleflight.
type Service struct {
	provider Provider
	glossary *Glossary
	l1       *L1
	l2       L2Cache
	retry    RetryPolicy
	limiter  *rateLimiter
	obs      *observe.Metrics
	gate     *backendGate
	flight   singleflight.Group
}

// NewService builds a Service from cfg, filling in defaults for zero-value
// fields.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Glossary == nil {
		cfg.Glossary = NewGlossary(nil, "")
	}
	if cfg.L1 == nil {
		cfg.L1 = NewL1(512, 10*time.Minute)
	}
	if len(cfg.Retry.RateLimited) == 0 && len(cfg.Retry.ServerError) == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = 100 * time.Millisecond
	}
	return &Service{
		provider: cfg.Provider,
		glossary: cfg.Glossary,
		l1:       cfg.L1,
		l2:       cfg.L2,
		retry:    cfg.Retry,
		limiter:  newRateLimiter(cfg.MinRequestInterval),
		obs:      cfg.Observe,
		gate:     newBackendGate(cfg.Observe),
	}
}

// Enabled reports whether the API backend is configured. When false, only
// cache hits can be served.
func (s *Service) Enabled() bool {
	return s.provider != nil
}

// Translate runs req through the pipeline and returns the final result.
func (s *Service) Translate(ctx context.Context, req Request) (*Result, error) {
	norm := Normalize(req.Text, req.SourceLang)
	key := CacheKey(norm.SourceLang, req.TargetLang, s.glossary.Version(), norm.Text)

	if cached, ok := s.l1.Get(key); ok {
		s.recordCacheLookup(ctx, "l1", true)
		return s.cachedResult(req, norm, cached), nil
	}
	s.recordCacheLookup(ctx, "l1", false)

	if s.l2 != nil {
		cached, ok, err := s.l2.Get(ctx, key)
		if err != nil {
			slog.Warn("l2 cache lookup failed", "request_id", req.RequestID, "err", err)
		} else if ok {
			s.recordCacheLookup(ctx, "l2", true)
			// Promote into L1 so the next lookup stays in memory.
			s.l1.Put(key, cached)
			return s.cachedResult(req, norm, cached), nil
		} else {
			s.recordCacheLookup(ctx, "l2", false)
		}
	}

	if s.provider == nil {
		return nil, ErrNoProvider
	}

	// Collapse concurrent identical requests onto one API call. Only the
	// leader streams chunks through its callback; followers receive the
	// finished text.
	v, err, _ := s.flight.Do(key.Hex(), func() (any, error) {
		return s.callAPI(ctx, req, norm, key)
	})
	if err != nil {
		return nil, err
	}
	r := v.(*Result)
	if r.RequestID != req.RequestID {
		// A follower: re-label the shared result for this caller.
		clone := *r
		clone.RequestID = req.RequestID
		clone.CacheHit = true
		return &clone, nil
	}
	return r, nil
}

func (s *Service) recordCacheLookup(ctx context.Context, tier string, hit bool) {
	if s.obs == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	s.obs.RecordCacheLookup(ctx, tier, result)
}

func (s *Service) cachedResult(req Request, norm Normalized, cached CachedResult) *Result {
	translated := norm.Restore(cached.Translated)
	if req.OnChunk != nil {
		req.OnChunk(translated)
	}
	return &Result{
		RequestID:  req.RequestID,
		Source:     req.Text,
		Translated: translated,
		CacheHit:   true,
	}
}

// callAPI performs the rate-limited, retried streaming call and writes the
// final result into both cache tiers.
func (s *Service) callAPI(ctx context.Context, req Request, norm Normalized, key Key) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, TotalTimeout)
	defer cancel()

	sysPrompt := buildSystemPrompt(norm.SourceLang, req.TargetLang, s.glossary.Match(norm.Text))

	var (
		raw   string
		usage Usage
	)
	attempt := func() error {
		if err := s.gate.allow(ctx); err != nil {
			return err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		text, u, err := s.streamOnce(ctx, sysPrompt, norm.Text, req.OnChunk)
		s.gate.record(ctx, err)
		if err != nil {
			return err
		}
		raw, usage = text, u
		return nil
	}
	if err := retry(ctx, s.retry, attempt); err != nil {
		if s.obs != nil {
			s.obs.RecordTranslateRequest(ctx, "error")
		}
		return nil, fmt.Errorf("translate %s: %w", req.RequestID, err)
	}
	if s.obs != nil {
		s.obs.RecordTranslateRequest(ctx, "ok")
	}

	// Only the final, fully assembled result is cached; a partial stream is
	// never written to either tier.
	s.l1.Put(key, CachedResult{Translated: raw})
	if s.l2 != nil {
		if err := s.l2.Put(ctx, key, CachedResult{Translated: raw}); err != nil {
			slog.Warn("l2 cache insert failed", "request_id", req.RequestID, "err", err)
		}
	}

	return &Result{
		RequestID:        req.RequestID,
		Source:           req.Text,
		Translated:       norm.Restore(raw),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}, nil
}

// errStreamFailed distinguishes a mid-stream failure after text has already
// reached the caller: retrying would replay delivered chunks, so it is not
// retried.
var errStreamFailed = errors.New("translate: stream failed after first chunk")

// streamOnce runs one streaming attempt, batching fragments through a
// 40 ms flusher into onChunk.
func (s *Service) streamOnce(ctx context.Context, sysPrompt, userText string, onChunk func(string)) (string, Usage, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := s.provider.StreamCompletion(ctx, CompletionRequest{
		SystemPrompt: sysPrompt,
		UserText:     userText,
		Temperature:  0.3,
	})
	if err != nil {
		return "", Usage{}, err
	}

	emit := func(string) {}
	if onChunk != nil {
		emit = onChunk
	}
	batcher := newChunkBatcher(emit)
	defer batcher.Close()

	firstChunk := time.NewTimer(FirstChunkTimeout)
	defer firstChunk.Stop()

	var (
		full     strings.Builder
		usage    Usage
		received bool
	)
	for {
		select {
		case <-firstChunk.C:
			if !received {
				cancel()
				return "", Usage{}, context.DeadlineExceeded
			}
		case <-ctx.Done():
			return "", Usage{}, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				batcher.Close()
				return full.String(), usage, nil
			}
			if chunk.FinishReason == "error" {
				if received {
					return "", Usage{}, fmt.Errorf("%w: %s", errStreamFailed, chunk.Text)
				}
				return "", Usage{}, errors.New(chunk.Text)
			}
			if chunk.Text != "" {
				received = true
				full.WriteString(chunk.Text)
				batcher.Add(chunk.Text)
			}
			if chunk.FinishReason != "" {
				usage = chunk.Usage
			}
		}
	}
}

// buildSystemPrompt writes the translation instruction, appending any
// glossary entries matched against the source text so the model uses the
// preferred terms.
func buildSystemPrompt(srcLang, tgtLang string, entries []Entry) string {
	var b strings.Builder
	b.WriteString("You are a translation engine. Translate the user's text")
	if srcLang != "" {
		fmt.Fprintf(&b, " from %s", srcLang)
	}
	fmt.Fprintf(&b, " to %s.", tgtLang)
	b.WriteString(" Output only the translation, preserving any \x00PHn\x00 placeholder tokens verbatim.")
	if len(entries) > 0 {
		b.WriteString(" Use these glossary terms:")
		for _, e := range entries {
			fmt.Fprintf(&b, "\n%s => %s", e.Term, e.Translation)
		}
	}
	return b.String()
}
