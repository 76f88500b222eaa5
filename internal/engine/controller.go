package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// PlacedCall is the placement API's record of one requested leg.
type PlacedCall struct {
	ContactID string
	HandleID  string
}

// CallPlacer is the outbound call-placement surface the controller drives.
// Implemented by the placement package; stubbed in tests.
type CallPlacer interface {
	PlaceBatch(ctx context.Context, contacts []*Contact) ([]PlacedCall, error)
	PlaceSingle(ctx context.Context, number string) error
	StopAll(ctx context.Context) error
}

// AttemptLog records call attempts for the audit trail. Implementations
// must tolerate being called from the engine loop; errors are logged and
// never block dialing.
type AttemptLog interface {
	AttemptStarted(runID, attemptID string, c *Contact) error
	AttemptFinished(attemptID, status, detail string) error
}

// BatchController drives the outer campaign loop: compute the next slice
// of contacts, request placement, advance the cursor, and decide when the
// campaign is finished.
type BatchController struct {
	placer   CallPlacer
	registry *SessionRegistry
	attempts AttemptLog

	// Preconditions for dialing; both transports must be up before a
	// slice is placed.
	channelReady func() bool
	deviceReady  func() bool

	contacts []*Contact
	cursor   int
	mode     DialMode
	runID    string
	active   bool
	finished bool
	batch    *Batch
}

// NewBatchController creates a controller. channelReady/deviceReady may be
// nil, in which case the corresponding precondition is not enforced.
func NewBatchController(placer CallPlacer, reg *SessionRegistry, attempts AttemptLog, channelReady, deviceReady func() bool) *BatchController {
	return &BatchController{
		placer:       placer,
		registry:     reg,
		attempts:     attempts,
		channelReady: channelReady,
		deviceReady:  deviceReady,
	}
}

// StartCampaign resets the controller for a new run over the contact list
// and places the first slice.
func (bc *BatchController) StartCampaign(ctx context.Context, runID string, contacts []*Contact, mode DialMode) error {
	if bc.active && !bc.finished {
		return ErrCampaignActive
	}
	bc.contacts = contacts
	bc.cursor = 0
	bc.mode = mode
	bc.runID = runID
	bc.finished = false
	bc.batch = nil
	bc.registry.Reset()
	bc.active = true

	log.Printf("[BatchController] Campaign %s started: %d contacts, mode=%s", runID, len(contacts), mode)
	if err := bc.RequestNextSlice(ctx); err != nil {
		bc.active = false
		return err
	}
	return nil
}

// RequestNextSlice places the next slice of contacts. On exhaustion the
// campaign is marked finished (not an error). On placement failure nothing
// is mutated: a failed placement must never silently occupy a batch slot.
func (bc *BatchController) RequestNextSlice(ctx context.Context) error {
	if !bc.active {
		return ErrNoCampaign
	}
	if err := bc.checkTransports(); err != nil {
		return err
	}

	if bc.cursor >= len(bc.contacts) {
		bc.finished = true
		bc.batch = nil
		log.Printf("[BatchController] Campaign %s finished: contact source exhausted", bc.runID)
		return nil
	}

	end := bc.cursor + bc.mode.SliceSize()
	if end > len(bc.contacts) {
		end = len(bc.contacts)
	}
	slice := bc.contacts[bc.cursor:end]

	// Attempt ids are assigned before placement so both adapters can carry
	// them back through their side channels.
	for _, c := range slice {
		c.AttemptID = uuid.NewString()
	}

	placed, err := bc.placer.PlaceBatch(ctx, slice)
	if err != nil {
		return fmt.Errorf("placing batch at cursor %d: %w", bc.cursor, err)
	}

	bc.batch = &Batch{Contacts: slice}
	bc.cursor = end

	if bc.attempts != nil {
		for _, c := range slice {
			if err := bc.attempts.AttemptStarted(bc.runID, c.AttemptID, c); err != nil {
				log.Printf("[BatchController] Attempt log write failed for contact %s: %v", c.ID, err)
			}
		}
	}
	log.Printf("[BatchController] Placed slice of %d (cursor now %d/%d): %v", len(slice), bc.cursor, len(bc.contacts), placedIDs(placed))
	return nil
}

// DialSingle places a one-off call outside any campaign batch.
func (bc *BatchController) DialSingle(ctx context.Context, number string) error {
	if err := bc.checkTransports(); err != nil {
		return err
	}
	if err := bc.placer.PlaceSingle(ctx, number); err != nil {
		return fmt.Errorf("placing single call: %w", err)
	}
	return nil
}

// StopCampaign cancels the run: external teardown is requested and local
// state cleared immediately, without waiting for teardown to complete.
// Idempotent.
func (bc *BatchController) StopCampaign(ctx context.Context) error {
	if !bc.active && bc.batch == nil {
		return nil
	}
	if err := bc.placer.StopAll(ctx); err != nil {
		// Teardown is best effort; local state is cleared regardless so a
		// wedged carrier cannot pin the operator in a dead run.
		log.Printf("[BatchController] StopAll failed (state cleared anyway): %v", err)
	}
	bc.registry.Reset()
	bc.batch = nil
	bc.active = false
	bc.finished = false
	log.Printf("[BatchController] Campaign %s stopped", bc.runID)
	return nil
}

func (bc *BatchController) checkTransports() error {
	if bc.channelReady != nil && !bc.channelReady() {
		return ErrChannelNotReady
	}
	if bc.deviceReady != nil && !bc.deviceReady() {
		return ErrNotRegistered
	}
	return nil
}

// CurrentBatch returns the batch being dialed, nil between rounds.
func (bc *BatchController) CurrentBatch() *Batch { return bc.batch }

// Active reports whether a campaign run is in flight.
func (bc *BatchController) Active() bool { return bc.active }

// Finished reports whether the contact source has been exhausted.
func (bc *BatchController) Finished() bool { return bc.finished }

// Cursor returns the index of the next contact to dial.
func (bc *BatchController) Cursor() int { return bc.cursor }

// Mode returns the run's dialing mode.
func (bc *BatchController) Mode() DialMode { return bc.mode }

// RunID returns the current run id, empty when idle.
func (bc *BatchController) RunID() string { return bc.runID }

func placedIDs(placed []PlacedCall) []string {
	out := make([]string, 0, len(placed))
	for _, p := range placed {
		out = append(out, p.ContactID)
	}
	return out
}
