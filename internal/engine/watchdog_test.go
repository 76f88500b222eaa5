package engine

import (
	"context"
	"testing"
	"time"
)

func TestWatchdog_SweepForcesTerminalForStaleRinging(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	if err := e.StartCampaign(context.Background(), contactList(1), ModeSingle); err != nil {
		t.Fatalf("start: %v", err)
	}
	run := e.RunToken()
	e.PostStatus(StatusEvent{Run: run, Number: "5550100001", Kind: StatusRinging})
	if _, err := e.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Backdate the first-seen time past the watchdog threshold.
	reg := e.Registry()
	reg.mu.Lock()
	reg.ringingSince["a"] = time.Now().Add(-5 * time.Minute)
	reg.mu.Unlock()

	w := NewRingWatchdog(e, time.Second, time.Minute)
	w.sweep()

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Ringing) != 0 {
		t.Fatalf("stale contact still ringing after sweep")
	}
	if len(snap.Pending) != 1 || snap.Pending[0].ID != "a" {
		t.Fatalf("stale contact not pending after sweep: %+v", snap.Pending)
	}
}

func TestWatchdog_SweepIgnoresFreshRinging(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	if err := e.StartCampaign(context.Background(), contactList(1), ModeSingle); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.PostStatus(StatusEvent{Run: e.RunToken(), Number: "5550100001", Kind: StatusRinging})
	if _, err := e.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	w := NewRingWatchdog(e, time.Second, time.Minute)
	w.sweep()

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Ringing) != 1 {
		t.Fatalf("fresh ringing contact swept")
	}
}

func TestWatchdog_StartStopIdempotent(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	w := NewRingWatchdog(e, 10*time.Millisecond, time.Minute)
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}
