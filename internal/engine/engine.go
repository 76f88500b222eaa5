package engine

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Console event names pushed through the Notifier.
const (
	EventCallRinging      = "call_ringing"
	EventCallAnswered     = "call_answered"
	EventCallEnded        = "call_ended"
	EventGateOpen         = "gate_open"
	EventBatchAdvanced    = "batch_advanced"
	EventCampaignFinished = "campaign_finished"
	EventCampaignStopped  = "campaign_stopped"
)

// Notifier receives engine events for the operator console. Implemented by
// the websocket hub; nil disables notification.
type Notifier interface {
	Notify(event string, data interface{})
}

// ContactView is the read-only contact shape exposed in snapshots.
type ContactView struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Name      string `json:"name"`
	Company   string `json:"company"`
	AttemptID string `json:"attemptId,omitempty"`
}

// Snapshot is a consistent view of the engine state, taken on the loop.
type Snapshot struct {
	Run               string        `json:"run"`
	Active            bool          `json:"active"`
	Finished          bool          `json:"finished"`
	GateOpen          bool          `json:"gateOpen"`
	Mode              string        `json:"mode"`
	Cursor            int           `json:"cursor"`
	Total             int           `json:"total"`
	Ringing           []ContactView `json:"ringing"`
	Answered          *ContactView  `json:"answered"`
	AnonymousAnswered bool          `json:"anonymousAnswered"`
	Pending           []ContactView `json:"pending"`
}

type command struct {
	fn   func()
	done chan struct{}
}

// Engine owns a campaign run. All state mutations are applied by a single
// goroutine consuming one ordered queue: both adapters post into it, and
// control operations travel through it as commands, so the registry never
// sees concurrent writers.
type Engine struct {
	registry   *SessionRegistry
	reconciler *Reconciler
	gate       *ContinuationGate
	controller *BatchController
	attempts   AttemptLog
	notifier   Notifier

	events   chan interface{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	run     string
}

// New wires an engine. attempts and notifier may be nil.
func New(placer CallPlacer, attempts AttemptLog, notifier Notifier, channelReady, deviceReady func() bool) *Engine {
	reg := NewSessionRegistry()
	e := &Engine{
		registry: reg,
		attempts: attempts,
		notifier: notifier,
		events:   make(chan interface{}, 1024),
		stopChan: make(chan struct{}),
		run:      uuid.NewString(),
	}
	e.reconciler = NewReconciler(reg)
	e.controller = NewBatchController(placer, reg, attempts, channelReady, deviceReady)
	e.gate = NewContinuationGate(func() {
		e.notify(EventGateOpen, e.snapshotLocked())
	})
	e.reconciler.OnChange(func() {
		e.gate.Evaluate(e.controller.CurrentBatch(), reg)
	})
	return e
}

// Registry exposes the registry for read-only inspection.
func (e *Engine) Registry() *SessionRegistry { return e.registry }

// Start launches the engine loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop()
	log.Println("[Engine] Event loop started")
}

// Stop shuts the loop down. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	log.Println("[Engine] Event loop stopped")
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopChan:
			return
		case ev := <-e.events:
			switch v := ev.(type) {
			case command:
				v.fn()
				close(v.done)
			case StatusEvent:
				e.applyStatus(v)
			case HandleEvent:
				e.applyHandle(v)
			}
		}
	}
}

// RunToken returns the current campaign run token. Adapters stamp every
// event with it at emit time; events from a dead run are dropped.
func (e *Engine) RunToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

func (e *Engine) bumpRun() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = uuid.NewString()
	return e.run
}

// PostStatus queues a carrier status event for serialized application.
func (e *Engine) PostStatus(ev StatusEvent) {
	select {
	case e.events <- ev:
	case <-e.stopChan:
	}
}

// PostHandle queues a telephony handle event for serialized application.
func (e *Engine) PostHandle(ev HandleEvent) {
	select {
	case e.events <- ev:
	case <-e.stopChan:
	}
}

// do runs fn on the engine loop and waits for it to complete.
func (e *Engine) do(fn func()) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return ErrEngineStopped
	}
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.events <- cmd:
	case <-e.stopChan:
		return ErrEngineStopped
	}
	select {
	case <-cmd.done:
		return nil
	case <-e.stopChan:
		return ErrEngineStopped
	}
}

func (e *Engine) applyStatus(ev StatusEvent) {
	if ev.Run != e.RunToken() {
		log.Printf("[Engine] Dropping status event from dead run %s (number=%s)", ev.Run, ev.Number)
		return
	}
	contact := e.reconciler.Batch().FindByNumber(ev.Number)
	e.reconciler.ApplyStatus(ev)

	switch ev.Kind {
	case StatusRinging:
		if contact != nil {
			e.notify(EventCallRinging, viewOf(contact))
		}
	case StatusConnected:
		if answered, anon := e.registry.Answered(); answered != nil {
			e.notify(EventCallAnswered, viewOf(answered))
		} else if anon {
			e.notify(EventCallAnswered, nil)
		}
	case StatusTerminal:
		if contact != nil && e.registry.IsPending(contact.ID) {
			e.finishAttempt(contact, ev.Detail)
			e.notify(EventCallEnded, viewOf(contact))
		}
	}
}

func (e *Engine) applyHandle(ev HandleEvent) {
	if ev.Run != e.RunToken() {
		log.Printf("[Engine] Dropping handle event from dead run %s (handle=%s)", ev.Run, ev.HandleID)
		return
	}
	var contact *Contact
	if ev.Kind == HandleDisconnected {
		if id, ok := e.registry.handleContact(ev.HandleID); ok {
			contact = e.reconciler.Batch().FindByID(id)
		}
	}
	e.reconciler.ApplyHandle(ev)

	if ev.Kind == HandleDisconnected {
		if contact != nil && e.registry.IsPending(contact.ID) {
			e.finishAttempt(contact, "hangup")
			e.notify(EventCallEnded, viewOf(contact))
		} else if contact == nil {
			e.notify(EventCallEnded, nil)
		}
	}
}

// finishAttempt closes the audit row for a contact's dial attempt. The
// repository update is conditional on the row still being open, so a
// duplicate terminal records nothing twice.
func (e *Engine) finishAttempt(c *Contact, detail string) {
	if e.attempts == nil || c.AttemptID == "" {
		return
	}
	if err := e.attempts.AttemptFinished(c.AttemptID, "COMPLETED", detail); err != nil {
		log.Printf("[Engine] Attempt log update failed for contact %s: %v", c.ID, err)
	}
}

// StartCampaign begins a new run over the contact list.
func (e *Engine) StartCampaign(ctx context.Context, contacts []*Contact, mode DialMode) error {
	var err error
	derr := e.do(func() {
		if e.controller.Active() && !e.controller.Finished() {
			err = ErrCampaignActive
			return
		}
		run := e.bumpRun()
		if err = e.controller.StartCampaign(ctx, run, contacts, mode); err != nil {
			return
		}
		e.reconciler.SetBatch(e.controller.CurrentBatch())
		e.reconciler.SetDialInProgress(false)
		e.gate.Reset()
		if e.controller.Finished() {
			e.notify(EventCampaignFinished, e.snapshotLocked())
		} else {
			e.notify(EventBatchAdvanced, e.snapshotLocked())
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

// StopCampaign cancels the active run and clears all state. Safe to call
// from any state; stray events from the stopped run are dropped by their
// dead run token or by resolving against the now-empty batch.
func (e *Engine) StopCampaign(ctx context.Context) error {
	var err error
	derr := e.do(func() {
		err = e.controller.StopCampaign(ctx)
		e.reconciler.SetBatch(nil)
		e.reconciler.SetDialInProgress(false)
		e.gate.Reset()
		e.bumpRun()
		e.notify(EventCampaignStopped, nil)
	})
	if derr != nil {
		return derr
	}
	return err
}

// Continue advances to the next batch once every disposition for the
// current one has been acknowledged.
func (e *Engine) Continue(ctx context.Context) error {
	var err error
	derr := e.do(func() {
		if !e.controller.Active() {
			err = ErrNoCampaign
			return
		}
		if e.registry.PendingCount() > 0 {
			err = ErrDispositionsPending
			return
		}
		if err = e.controller.RequestNextSlice(ctx); err != nil {
			return
		}
		e.reconciler.SetBatch(e.controller.CurrentBatch())
		e.gate.Reset()
		if e.controller.Finished() {
			e.notify(EventCampaignFinished, e.snapshotLocked())
		} else {
			e.notify(EventBatchAdvanced, e.snapshotLocked())
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

// DialSingle places a one-off call to a number with no contact context.
func (e *Engine) DialSingle(ctx context.Context, number string) error {
	var err error
	derr := e.do(func() {
		if err = e.controller.DialSingle(ctx, number); err != nil {
			return
		}
		e.reconciler.SetDialInProgress(true)
	})
	if derr != nil {
		return derr
	}
	return err
}

// AcknowledgeDisposition removes a contact from the pending set after its
// disposition has been consumed by the controlling caller.
func (e *Engine) AcknowledgeDisposition(contactID string) error {
	return e.do(func() {
		e.registry.Acknowledge(contactID)
	})
}

// Snapshot returns a consistent view of the engine state.
func (e *Engine) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := e.do(func() {
		snap = e.snapshotLocked()
	})
	return snap, err
}

// snapshotLocked builds a snapshot; must run on the engine loop.
func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Run:      e.controller.RunID(),
		Active:   e.controller.Active(),
		Finished: e.controller.Finished(),
		GateOpen: e.gate.Open(),
		Mode:     e.controller.Mode().String(),
		Cursor:   e.controller.Cursor(),
		Total:    len(e.controller.contacts),
		Ringing:  []ContactView{},
		Pending:  []ContactView{},
	}
	for _, c := range e.registry.RingingContacts() {
		snap.Ringing = append(snap.Ringing, viewOf(c))
	}
	for _, c := range e.registry.PendingContacts() {
		snap.Pending = append(snap.Pending, viewOf(c))
	}
	answered, anon := e.registry.Answered()
	if answered != nil {
		v := viewOf(answered)
		snap.Answered = &v
	}
	snap.AnonymousAnswered = anon
	return snap
}

func (e *Engine) notify(event string, data interface{}) {
	if e.notifier != nil {
		e.notifier.Notify(event, data)
	}
}

func viewOf(c *Contact) ContactView {
	return ContactView{
		ID:        c.ID,
		Number:    c.Number,
		Name:      c.Name,
		Company:   c.Company,
		AttemptID: c.AttemptID,
	}
}
