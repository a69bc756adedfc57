package cancel

// Lane identifies which of the coordinator's three generation counters a
// guard belongs to.
type Lane int

const (
	LaneRoot Lane = iota
	LaneP1
	LaneP2
)

// CancelCoordinator owns the three TaskGeneration instances (root, P1, P2)
// that together make up the cancellation kernel. CancelAllAndAdvance
// advances all three atomically (in the sense that no new guard can be
// issued against a stale generation once it returns) so that a fresh wake
// burst invalidates every in-flight job regardless of which lane it runs on.
type CancelCoordinator struct {
	root *TaskGeneration
	p1   *TaskGeneration
	p2   *TaskGeneration
}

// NewCancelCoordinator returns a coordinator with all three lanes at
// generation 0.
func NewCancelCoordinator() *CancelCoordinator {
	return &CancelCoordinator{
		root: NewTaskGeneration(),
		p1:   NewTaskGeneration(),
		p2:   NewTaskGeneration(),
	}
}

// Lane returns the TaskGeneration backing the given lane.
func (c *CancelCoordinator) Lane(l Lane) *TaskGeneration {
	switch l {
	case LaneP1:
		return c.p1
	case LaneP2:
		return c.p2
	default:
		return c.root
	}
}

// Issue hands out a guard for the given lane at its current generation.
func (c *CancelCoordinator) Issue(l Lane) GenerationGuard {
	return c.Lane(l).Issue()
}

// CancelAllAndAdvance cancels and advances all three lanes. It is O(1) and
// never waits for any in-flight job to finish — jobs self-drop the next time
// they check ShouldContinue.
func (c *CancelCoordinator) CancelAllAndAdvance() {
	c.root.CancelAndAdvance()
	c.p1.CancelAndAdvance()
	c.p2.CancelAndAdvance()
}
