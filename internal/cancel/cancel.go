// Package cancel implements the generation-based end-to-end cancellation
// kernel: every in-flight job carries a guard that is checked before any
// visible effect is committed, so a new wake burst can invalidate every
// outstanding job in O(1) without ever touching the job itself.
package cancel

import "sync/atomic"

// token is the cancellable unit a TaskGeneration hands out. Once cancelled
// it stays cancelled; a fresh token is installed on every advance.
type token struct {
	cancelled atomic.Bool
}

// TaskGeneration is an atomic 64-bit generation counter paired with the
// currently-live cancellation token for one lane (P1, P2, or the shared
// root). Safe for concurrent use.
type TaskGeneration struct {
	generation atomic.Uint64
	current    atomic.Pointer[token]
}

// NewTaskGeneration returns a TaskGeneration at generation 0 with a fresh,
// uncancelled token.
func NewTaskGeneration() *TaskGeneration {
	tg := &TaskGeneration{}
	tg.current.Store(&token{})
	return tg
}

// Generation returns the current generation number.
func (tg *TaskGeneration) Generation() uint64 {
	return tg.generation.Load()
}

// Issue hands out a GenerationGuard bound to the current generation and
// token. Call this once per job at submission time.
func (tg *TaskGeneration) Issue() GenerationGuard {
	return GenerationGuard{
		lane:  tg,
		genAt: tg.generation.Load(),
		tok:   tg.current.Load(),
	}
}

// CancelAndAdvance (1) marks the current token cancelled, (2) increments the
// generation counter, (3) installs a fresh token, and returns a guard for
// the new generation. Existing guards issued before this call observe
// should_continue() == false forever after.
func (tg *TaskGeneration) CancelAndAdvance() GenerationGuard {
	tg.current.Load().cancelled.Store(true)
	tg.generation.Add(1)
	tg.current.Store(&token{})
	return tg.Issue()
}

// GenerationGuard is handed to a job on submit. Any side-effectful job step
// (enqueue a UI event, write to a cache, write to history) must call
// ShouldContinue first and skip the effect if it returns false.
type GenerationGuard struct {
	lane  *TaskGeneration
	genAt uint64
	tok   *token
}

// IsCurrent reports whether the generation this guard was issued against is
// still the lane's current generation.
func (g GenerationGuard) IsCurrent() bool {
	return g.genAt == g.lane.generation.Load()
}

// ShouldContinue reports whether the job holding this guard may still
// produce a visible effect: the token must not be cancelled and the
// generation must still be current. Callable from any goroutine.
func (g GenerationGuard) ShouldContinue() bool {
	return !g.tok.cancelled.Load() && g.IsCurrent()
}
