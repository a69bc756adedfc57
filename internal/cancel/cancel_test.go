package cancel_test

import (
	"sync"
	"testing"

	"ciallo/internal/cancel"
)

func TestGuard_ShouldContinue_FreshGuard(t *testing.T) {
	tg := cancel.NewTaskGeneration()
	g := tg.Issue()
	if !g.ShouldContinue() {
		t.Error("a freshly issued guard should continue")
	}
}

func TestGuard_ShouldContinue_AfterCancelAndAdvance(t *testing.T) {
	tg := cancel.NewTaskGeneration()
	g := tg.Issue()

	tg.CancelAndAdvance()

	if g.ShouldContinue() {
		t.Error("guard issued before CancelAndAdvance must stop continuing")
	}
}

func TestGuard_NewGuardAfterAdvanceContinues(t *testing.T) {
	tg := cancel.NewTaskGeneration()
	tg.Issue()

	newGuard := tg.CancelAndAdvance()
	if !newGuard.ShouldContinue() {
		t.Error("the guard returned by CancelAndAdvance should continue")
	}
}

func TestTaskGeneration_GenerationIncreasesMonotonically(t *testing.T) {
	tg := cancel.NewTaskGeneration()
	if tg.Generation() != 0 {
		t.Fatalf("initial generation = %d, want 0", tg.Generation())
	}
	tg.CancelAndAdvance()
	if tg.Generation() != 1 {
		t.Fatalf("generation after one advance = %d, want 1", tg.Generation())
	}
	tg.CancelAndAdvance()
	if tg.Generation() != 2 {
		t.Fatalf("generation after two advances = %d, want 2", tg.Generation())
	}
}

func TestCancelCoordinator_CancelAllAndAdvanceInvalidatesEveryLane(t *testing.T) {
	c := cancel.NewCancelCoordinator()

	gRoot := c.Issue(cancel.LaneRoot)
	gP1 := c.Issue(cancel.LaneP1)
	gP2 := c.Issue(cancel.LaneP2)

	c.CancelAllAndAdvance()

	if gRoot.ShouldContinue() || gP1.ShouldContinue() || gP2.ShouldContinue() {
		t.Error("all guards issued before CancelAllAndAdvance must stop continuing")
	}
}

func TestCancelCoordinator_IndependentLanes(t *testing.T) {
	c := cancel.NewCancelCoordinator()

	gP1 := c.Issue(cancel.LaneP1)
	gP2 := c.Issue(cancel.LaneP2)

	c.Lane(cancel.LaneP1).CancelAndAdvance()

	if gP1.ShouldContinue() {
		t.Error("P1 guard should no longer continue after P1-only advance")
	}
	if !gP2.ShouldContinue() {
		t.Error("P2 guard should be unaffected by a P1-only advance")
	}
}

func TestTaskGeneration_ConcurrentIssueAndAdvance(t *testing.T) {
	tg := cancel.NewTaskGeneration()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := tg.Issue()
			_ = g.ShouldContinue()
		}()
	}
	tg.CancelAndAdvance()
	wg.Wait()
}
