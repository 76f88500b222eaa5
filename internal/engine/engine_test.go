package engine

import (
	"context"
	"sync"
	"testing"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

func newTestEngine(t *testing.T, placer CallPlacer, attempts AttemptLog, notifier Notifier) *Engine {
	t.Helper()
	e := New(placer, attempts, notifier, nil, nil)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func TestEngine_StaleEventsFromStoppedRunDropped(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	if err := e.StartCampaign(context.Background(), contactList(2), ModeParallel); err != nil {
		t.Fatalf("start: %v", err)
	}
	oldRun := e.RunToken()

	e.PostStatus(StatusEvent{Run: oldRun, Number: "5550100001", Kind: StatusConnected})
	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Answered == nil || snap.Answered.ID != "a" {
		t.Fatalf("live-run event not applied: %+v", snap.Answered)
	}

	if err := e.StopCampaign(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Queued stragglers from the stopped run carry the dead token.
	e.PostStatus(StatusEvent{Run: oldRun, Number: "5550100002", Kind: StatusRinging})
	e.PostHandle(HandleEvent{Run: oldRun, HandleID: "h1", Kind: HandleDisconnected})

	snap, err = e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Ringing) != 0 || snap.Answered != nil || snap.AnonymousAnswered {
		t.Fatalf("dead-run events mutated state: %+v", snap)
	}
}

func TestEngine_CurrentTokenEventAfterStopIsOrphan(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	if err := e.StartCampaign(context.Background(), contactList(1), ModeSingle); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.StopCampaign(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// A fresh event stamped after stop resolves against the empty batch and
	// is ignored as foreign.
	e.PostStatus(StatusEvent{Run: e.RunToken(), Number: "5550100001", Kind: StatusRinging})
	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Ringing) != 0 {
		t.Fatalf("post-stop event tracked: %+v", snap.Ringing)
	}
}

func TestEngine_SingleWinnerUnderConcurrentPosting(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	if err := e.StartCampaign(context.Background(), contactList(4), ModeAdvanced); err != nil {
		t.Fatalf("start: %v", err)
	}
	run := e.RunToken()

	numbers := []string{"5550100001", "5550100002", "5550100003", "5550100004"}
	var wg sync.WaitGroup
	for _, n := range numbers {
		wg.Add(1)
		go func(number string) {
			defer wg.Done()
			e.PostStatus(StatusEvent{Run: run, Number: number, Kind: StatusRinging})
			e.PostStatus(StatusEvent{Run: run, Number: number, Kind: StatusConnected})
		}(n)
	}
	wg.Wait()

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Answered == nil {
		t.Fatalf("no winner selected")
	}
	if snap.AnonymousAnswered {
		t.Fatalf("anonymous sentinel set during batch round")
	}
	for _, c := range snap.Ringing {
		if c.ID == snap.Answered.ID {
			t.Fatalf("winner %s still ringing", c.ID)
		}
	}
}

func TestEngine_ContinueBlockedUntilDispositionsAcknowledged(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	if err := e.StartCampaign(context.Background(), contactList(2), ModeSingle); err != nil {
		t.Fatalf("start: %v", err)
	}
	run := e.RunToken()
	e.PostStatus(StatusEvent{Run: run, Number: "5550100001", Kind: StatusTerminal, Detail: "busy"})

	if err := e.Continue(context.Background()); err != ErrDispositionsPending {
		t.Fatalf("continue with pending dispositions: %v", err)
	}
	if err := e.AcknowledgeDisposition("a"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := e.Continue(context.Background()); err != nil {
		t.Fatalf("continue after acknowledge: %v", err)
	}

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Cursor != 2 {
		t.Fatalf("cursor %d after continue, want 2", snap.Cursor)
	}
}

func TestEngine_TerminalClosesAttemptOnce(t *testing.T) {
	placer := &stubPlacer{}
	attempts := &stubAttempts{}
	e := newTestEngine(t, placer, attempts, nil)

	if err := e.StartCampaign(context.Background(), contactList(1), ModeSingle); err != nil {
		t.Fatalf("start: %v", err)
	}
	run := e.RunToken()
	e.PostStatus(StatusEvent{Run: run, Number: "5550100001", Kind: StatusTerminal, Detail: "no-answer"})

	if _, err := e.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(attempts.finished) != 1 {
		t.Fatalf("attempt closures: %d, want 1", len(attempts.finished))
	}
}

func TestEngine_GateEventPublishedOnce(t *testing.T) {
	placer := &stubPlacer{}
	notifier := &recordingNotifier{}
	e := newTestEngine(t, placer, nil, notifier)

	if err := e.StartCampaign(context.Background(), contactList(2), ModeParallel); err != nil {
		t.Fatalf("start: %v", err)
	}
	run := e.RunToken()
	e.PostStatus(StatusEvent{Run: run, Number: "5550100001", Kind: StatusTerminal, Detail: "busy"})
	e.PostStatus(StatusEvent{Run: run, Number: "5550100002", Kind: StatusTerminal, Detail: "busy"})
	// Duplicate terminal after the round completed.
	e.PostStatus(StatusEvent{Run: run, Number: "5550100002", Kind: StatusTerminal, Detail: "busy"})

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.GateOpen {
		t.Fatalf("gate not open after round")
	}
	if got := notifier.count(EventGateOpen); got != 1 {
		t.Fatalf("gate_open published %d times, want 1", got)
	}
}

func TestEngine_RestartAfterFinish(t *testing.T) {
	placer := &stubPlacer{}
	e := newTestEngine(t, placer, nil, nil)

	if err := e.StartCampaign(context.Background(), contactList(1), ModeSingle); err != nil {
		t.Fatalf("start: %v", err)
	}
	run := e.RunToken()
	e.PostStatus(StatusEvent{Run: run, Number: "5550100001", Kind: StatusTerminal, Detail: "busy"})
	if err := e.AcknowledgeDisposition("a"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := e.Continue(context.Background()); err != nil {
		t.Fatalf("continue: %v", err)
	}

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Finished {
		t.Fatalf("not finished after exhausting one contact")
	}

	if err := e.StartCampaign(context.Background(), contactList(2), ModeParallel); err != nil {
		t.Fatalf("restart after finish: %v", err)
	}
	if run == e.RunToken() {
		t.Fatalf("run token not rotated on restart")
	}
}
