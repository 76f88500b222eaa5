package engine

// ReadyToContinue is the level predicate behind the continuation gate:
// every contact in the batch has reached pending-disposition, nothing is
// ringing, and the answered slot is empty.
func ReadyToContinue(batch *Batch, reg *SessionRegistry) bool {
	if batch == nil || batch.Size() == 0 {
		return false
	}
	for _, c := range batch.Contacts {
		if !reg.IsPending(c.ID) {
			return false
		}
	}
	if reg.RingingCount() != 0 {
		return false
	}
	if answered, anon := reg.Answered(); answered != nil || anon {
		return false
	}
	return true
}

// ContinuationGate latches the ready-to-continue transition. It is
// evaluated after every registry mutation, not polled, and fires its
// callback exactly once per batch completion: gating on the edge rather
// than the level keeps the gate from re-opening once disposition
// collection has started emptying the pending set.
type ContinuationGate struct {
	open   bool
	onOpen func()
}

// NewContinuationGate creates a closed gate. onOpen may be nil.
func NewContinuationGate(onOpen func()) *ContinuationGate {
	return &ContinuationGate{onOpen: onOpen}
}

// Evaluate recomputes the predicate and fires onOpen on the closed->open
// transition. Returns the gate's current state.
func (g *ContinuationGate) Evaluate(batch *Batch, reg *SessionRegistry) bool {
	ready := ReadyToContinue(batch, reg)
	if ready && !g.open {
		g.open = true
		if g.onOpen != nil {
			g.onOpen()
		}
	}
	if !ready && !g.open {
		// Still in flight; nothing latched.
		return false
	}
	return g.open
}

// Open reports whether the gate has latched open for the current batch.
func (g *ContinuationGate) Open() bool {
	return g.open
}

// Reset closes the gate for the next batch round.
func (g *ContinuationGate) Reset() {
	g.open = false
}
