package engine

import "testing"

func TestReadyToContinue_EmptyBatchNeverReady(t *testing.T) {
	reg := NewSessionRegistry()
	if ReadyToContinue(nil, reg) {
		t.Fatalf("nil batch reported ready")
	}
	if ReadyToContinue(&Batch{}, reg) {
		t.Fatalf("empty batch reported ready")
	}
}

func TestReadyToContinue_RequiresEveryContactPending(t *testing.T) {
	reg := NewSessionRegistry()
	batch := twoContactBatch()

	reg.MarkPending(batch.Contacts[0])
	if ReadyToContinue(batch, reg) {
		t.Fatalf("ready with one contact unresolved")
	}
	reg.MarkPending(batch.Contacts[1])
	if !ReadyToContinue(batch, reg) {
		t.Fatalf("not ready with all contacts pending")
	}
}

func TestReadyToContinue_BlockedByRingingAndAnswered(t *testing.T) {
	reg := NewSessionRegistry()
	batch := twoContactBatch()
	reg.MarkPending(batch.Contacts[0])
	reg.MarkPending(batch.Contacts[1])

	extra := contact("x", "5550100009")
	reg.MarkRinging(extra)
	if ReadyToContinue(batch, reg) {
		t.Fatalf("ready while a leg is still ringing")
	}
	reg.MarkPending(extra)
	reg.Acknowledge("x")

	reg.MarkAnsweredAnonymous()
	if ReadyToContinue(batch, reg) {
		t.Fatalf("ready while the anonymous sentinel is up")
	}
	reg.ClearAnsweredAnonymous()
	if !ReadyToContinue(batch, reg) {
		t.Fatalf("not ready after clearing")
	}
}

func TestGate_FiresOncePerRound(t *testing.T) {
	reg := NewSessionRegistry()
	batch := twoContactBatch()
	fired := 0
	gate := NewContinuationGate(func() { fired++ })

	gate.Evaluate(batch, reg)
	if fired != 0 || gate.Open() {
		t.Fatalf("gate opened on fresh round")
	}

	reg.MarkPending(batch.Contacts[0])
	reg.MarkPending(batch.Contacts[1])
	gate.Evaluate(batch, reg)
	gate.Evaluate(batch, reg)
	if fired != 1 {
		t.Fatalf("gate fired %d times, want 1", fired)
	}
}

func TestGate_StaysLatchedWhileDispositionsDrain(t *testing.T) {
	reg := NewSessionRegistry()
	batch := twoContactBatch()
	gate := NewContinuationGate(nil)

	reg.MarkPending(batch.Contacts[0])
	reg.MarkPending(batch.Contacts[1])
	gate.Evaluate(batch, reg)

	// Consuming dispositions makes the level predicate false again; the
	// latched gate must not flap closed.
	reg.Acknowledge("a")
	if !gate.Evaluate(batch, reg) {
		t.Fatalf("gate closed while dispositions drain")
	}

	gate.Reset()
	if gate.Open() {
		t.Fatalf("gate open after reset")
	}
}
