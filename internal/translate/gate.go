package translate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ciallo/internal/observe"
)

// ErrBackendUnavailable is returned for attempts made while the backend
// gate is cooling down. Classified as permanent, so the retry schedule does
// not spin on it.
var ErrBackendUnavailable = errors.New("translate: backend unavailable, cooling down")

// gateTripAfter is how many consecutive transient failures (429, 5xx,
// timeout) close the gate on the backend.
const gateTripAfter = 4

// gateCooldown is how long attempts fail fast before one probe request is
// let through.
const gateCooldown = 20 * time.Second

// backendGate sits between the retry loop and the DeepSeek client: once the
// backend has failed transiently gateTripAfter times in a row, further
// attempts fail fast with [ErrBackendUnavailable] instead of burning the
// per-request retry schedule on every wake cycle while the service is down.
// After gateCooldown one attempt is admitted as a probe; its outcome decides
// whether the gate reopens or the cooldown restarts.
//
// Only transient error kinds count as evidence that the backend is down. A
// permanent request error (bad key, malformed request) means the backend
// answered, so it resets the streak the same way a success does.
type backendGate struct {
	obs *observe.Metrics
	now func() time.Time

	mu             sync.Mutex
	transientFails int
	tripped        bool
	trippedAt      time.Time
	probing        bool
}

func newBackendGate(obs *observe.Metrics) *backendGate {
	return &backendGate{obs: obs, now: time.Now}
}

// allow reports whether the next attempt may reach the backend. While the
// gate is tripped it returns ErrBackendUnavailable until the cooldown
// elapses, then admits a single probe.
func (g *backendGate) allow(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.tripped {
		return nil
	}
	if g.probing || g.now().Sub(g.trippedAt) < gateCooldown {
		return ErrBackendUnavailable
	}
	g.probing = true
	g.event(ctx, "probe")
	slog.Info("translation backend cooldown elapsed, probing")
	return nil
}

// record notes one attempt's outcome. Call it with the error from every
// attempt that was admitted by allow.
func (g *backendGate) record(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		// The caller went away; says nothing about the backend.
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil && isTransient(Classify(err)) {
		g.transientFails++
		if g.probing {
			// The probe failed: restart the cooldown from now.
			g.probing = false
			g.trippedAt = g.now()
			g.event(ctx, "probe_failed")
			slog.Warn("translation backend probe failed, cooling down again", "err", err)
			return
		}
		if !g.tripped && g.transientFails >= gateTripAfter {
			g.tripped = true
			g.trippedAt = g.now()
			g.event(ctx, "tripped")
			slog.Warn("translation backend tripped after consecutive transient failures",
				"failures", g.transientFails)
		}
		return
	}

	// Success, or a permanent error: either way the backend answered.
	if g.tripped {
		g.event(ctx, "recovered")
		slog.Info("translation backend recovered")
	}
	g.transientFails = 0
	g.tripped = false
	g.probing = false
}

// event runs with g.mu held; the OTel counter add is non-blocking.
func (g *backendGate) event(ctx context.Context, what string) {
	if g.obs != nil {
		g.obs.RecordBackendGate(ctx, what)
	}
}

func isTransient(kind ErrorKind) bool {
	switch kind {
	case KindRateLimited, KindServerError, KindTimeout:
		return true
	default:
		return false
	}
}
