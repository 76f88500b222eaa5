package engine

import (
	"testing"
	"time"
)

func contact(id, number string) *Contact {
	return &Contact{ID: id, Number: number, Name: "Contact " + id}
}

func TestRegistry_AnsweredSlotIsExclusive(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")
	b := contact("b", "5550100002")

	if !reg.MarkAnswered(a) {
		t.Fatalf("first answer refused")
	}
	if reg.MarkAnswered(b) {
		t.Fatalf("second contact took the answered slot")
	}
	answered, anon := reg.Answered()
	if answered == nil || answered.ID != "a" || anon {
		t.Fatalf("expected a to hold the slot, got %+v anon=%v", answered, anon)
	}
}

func TestRegistry_AnsweredRefusedForFinishedContact(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")

	reg.MarkPending(a)
	if reg.MarkAnswered(a) {
		t.Fatalf("finished contact re-acquired the answered slot")
	}
	if !reg.IsPending("a") {
		t.Fatalf("finished contact pulled out of pending")
	}
	if answered, _ := reg.Answered(); answered != nil {
		t.Fatalf("answered slot occupied by finished contact")
	}
}

func TestRegistry_MarkAnsweredIsIdempotentForHolder(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")

	reg.MarkAnswered(a)
	if !reg.MarkAnswered(a) {
		t.Fatalf("re-answering the holder should succeed")
	}
}

func TestRegistry_AnonymousRefusedWhileKnownHolds(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")

	reg.MarkAnswered(a)
	if reg.MarkAnsweredAnonymous() {
		t.Fatalf("anonymous sentinel set while known contact holds the slot")
	}
	if !reg.MarkAnswered(a) {
		t.Fatalf("known holder displaced")
	}
}

func TestRegistry_KnownAnswerRefusedWhileAnonymousSet(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")

	if !reg.MarkAnsweredAnonymous() {
		t.Fatalf("anonymous sentinel refused on empty slot")
	}
	// A known contact can still claim the slot: the anonymous marker carries
	// no identity, so the resolved answer wins.
	if !reg.MarkAnswered(a) {
		t.Fatalf("known contact refused while only the sentinel is up")
	}
	answered, anon := reg.Answered()
	if answered == nil || answered.ID != "a" || anon {
		t.Fatalf("expected known holder to replace sentinel, got %+v anon=%v", answered, anon)
	}
}

func TestRegistry_ContactInOneStateAtATime(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")

	reg.MarkRinging(a)
	if !reg.IsRinging("a") {
		t.Fatalf("contact not ringing after MarkRinging")
	}

	reg.MarkAnswered(a)
	if reg.IsRinging("a") {
		t.Fatalf("answered contact still in ringing set")
	}

	reg.MarkPending(a)
	if answered, _ := reg.Answered(); answered != nil {
		t.Fatalf("pending contact still holds answered slot")
	}
	if reg.IsRinging("a") {
		t.Fatalf("pending contact still in ringing set")
	}
	if !reg.IsPending("a") {
		t.Fatalf("contact not pending after MarkPending")
	}

	// A late ringing duplicate must not resurrect a finished contact.
	reg.MarkRinging(a)
	if reg.IsRinging("a") {
		t.Fatalf("pending contact pulled back into ringing by a duplicate")
	}
}

func TestRegistry_MarkRingingIdempotent(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")

	reg.MarkRinging(a)
	reg.MarkRinging(a)
	if reg.RingingCount() != 1 {
		t.Fatalf("expected 1 ringing, got %d", reg.RingingCount())
	}
}

func TestRegistry_AcknowledgeRemovesPending(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")

	reg.MarkPending(a)
	reg.Acknowledge("a")
	if reg.IsPending("a") {
		t.Fatalf("contact still pending after acknowledge")
	}
	if reg.PendingCount() != 0 {
		t.Fatalf("expected empty pending set, got %d", reg.PendingCount())
	}
}

func TestRegistry_UnbindHandleReportsDoubleDisconnect(t *testing.T) {
	reg := NewSessionRegistry()

	reg.BindHandle("h1", "a")
	id, ok := reg.UnbindHandle("h1")
	if !ok || id != "a" {
		t.Fatalf("first unbind: got (%q, %v)", id, ok)
	}
	if _, ok := reg.UnbindHandle("h1"); ok {
		t.Fatalf("second unbind reported a binding")
	}
}

func TestRegistry_HandleBoundTo(t *testing.T) {
	reg := NewSessionRegistry()

	reg.BindHandle("h1", "a")
	if !reg.HandleBoundTo("a") {
		t.Fatalf("expected live handle for a")
	}
	if reg.HandleBoundTo("b") {
		t.Fatalf("unexpected handle for b")
	}
	reg.UnbindHandle("h1")
	if reg.HandleBoundTo("a") {
		t.Fatalf("handle reported live after unbind")
	}
}

func TestRegistry_RingingOlderThan(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")
	b := contact("b", "5550100002")

	reg.MarkRinging(a)
	reg.MarkRinging(b)
	// Backdate a's first-seen time.
	reg.mu.Lock()
	reg.ringingSince["a"] = time.Now().Add(-2 * time.Minute)
	reg.mu.Unlock()

	stale := reg.RingingOlderThan(time.Minute)
	if len(stale) != 1 || stale[0].ID != "a" {
		t.Fatalf("expected only a stale, got %v", stale)
	}
}

func TestRegistry_ResetClearsEverything(t *testing.T) {
	reg := NewSessionRegistry()
	a := contact("a", "5550100001")
	b := contact("b", "5550100002")

	reg.MarkRinging(a)
	reg.MarkAnswered(b)
	reg.MarkPending(contact("c", "5550100003"))
	reg.BindHandle("h1", "b")

	reg.Reset()
	if reg.RingingCount() != 0 || reg.PendingCount() != 0 {
		t.Fatalf("sets survived reset")
	}
	if answered, anon := reg.Answered(); answered != nil || anon {
		t.Fatalf("answered slot survived reset")
	}
	if reg.HandleBoundTo("b") {
		t.Fatalf("handle binding survived reset")
	}
}
