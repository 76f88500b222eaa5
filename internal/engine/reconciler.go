package engine

import "log"

// Reconciler merges the two adapters' event streams against the current
// batch and mutates the SessionRegistry under the engine invariants.
//
// The two streams describe the same calls from different vantage points
// (carrier status by number, client-side leg by handle) with no shared
// transaction id and no ordering guarantee between them. The reconciler is
// correct under either stream arriving first, last, or interleaved
// arbitrarily, including duplicates.
type Reconciler struct {
	registry *SessionRegistry
	batch    *Batch

	// dialInProgress marks a one-off dial whose leg has no contact
	// identity; cleared when the unbound handle disconnects.
	dialInProgress bool

	// onChange fires after every mutation so the gate can be re-evaluated
	// on transitions rather than polled.
	onChange func()
}

// NewReconciler creates a reconciler over the given registry.
func NewReconciler(reg *SessionRegistry) *Reconciler {
	return &Reconciler{registry: reg}
}

// SetBatch replaces the batch events are resolved against.
func (rc *Reconciler) SetBatch(b *Batch) {
	rc.batch = b
}

// Batch returns the batch currently being reconciled.
func (rc *Reconciler) Batch() *Batch {
	return rc.batch
}

// OnChange registers the post-mutation callback.
func (rc *Reconciler) OnChange(fn func()) {
	rc.onChange = fn
}

// SetDialInProgress marks a one-off dial as in flight.
func (rc *Reconciler) SetDialInProgress(v bool) {
	rc.dialInProgress = v
}

func (rc *Reconciler) changed() {
	if rc.onChange != nil {
		rc.onChange()
	}
}

// ApplyStatus applies a carrier status event.
func (rc *Reconciler) ApplyStatus(ev StatusEvent) {
	contact := rc.batch.FindByNumber(ev.Number)

	switch ev.Kind {
	case StatusRinging:
		if contact == nil {
			// A call this engine did not place, or a one-off dial without
			// contact metadata. Nothing to track yet.
			log.Printf("[Reconciler] Ringing for number outside batch, ignored: %s", ev.Number)
			return
		}
		rc.registry.MarkRinging(contact)
		rc.changed()

	case StatusConnected:
		if contact != nil {
			// Winner selection: the first connected contact in the round
			// takes the answered slot; the losers keep ringing until their
			// own terminals arrive.
			if rc.registry.MarkAnswered(contact) {
				rc.changed()
			}
			return
		}
		// One-off dial without contact metadata: somebody answered, we
		// just do not know who. Anonymous sentinel rather than a failure.
		if rc.registry.MarkAnsweredAnonymous() {
			rc.changed()
		}

	case StatusTerminal:
		rc.applyTerminal(ev, contact)
	}
}

func (rc *Reconciler) applyTerminal(ev StatusEvent, contact *Contact) {
	if contact == nil {
		// Terminal for an unresolved number only matters if the anonymous
		// sentinel is up; stray terminals for foreign numbers are dropped.
		_, anon := rc.registry.Answered()
		if anon {
			rc.registry.ClearAnsweredAnonymous()
			rc.changed()
		} else {
			log.Printf("[Reconciler] Terminal for number outside batch, ignored: %s (%s)", ev.Number, ev.Detail)
		}
		return
	}

	// Race guard: the carrier reports teardown mechanics before the
	// client-side leg has hung up. While a live handle is still bound to
	// the answered contact, the handle disconnect (not this event) is the
	// authoritative end of the call.
	if answered, _ := rc.registry.Answered(); answered != nil && answered.ID == contact.ID {
		if rc.registry.HandleBoundTo(contact.ID) {
			log.Printf("[Reconciler] Carrier terminal for live answered contact %s deferred to handle disconnect", contact.ID)
			return
		}
	}

	rc.registry.MarkPending(contact)
	rc.changed()
}

// ApplyHandle applies a client-side telephony handle event.
func (rc *Reconciler) ApplyHandle(ev HandleEvent) {
	switch ev.Kind {
	case HandleIncoming:
		// Outbound leg bridged back to the operator. Bind it to its
		// contact when the side-channel id resolves within the batch;
		// otherwise it stays an unbound (one-off) leg.
		if c := rc.batch.FindByID(ev.ContactID); c != nil {
			rc.registry.BindHandle(ev.HandleID, c.ID)
			rc.changed()
		}

	case HandleDisconnected:
		// Authoritative end-of-call signal.
		contactID, bound := rc.registry.UnbindHandle(ev.HandleID)
		if bound {
			if c := rc.batch.FindByID(contactID); c != nil {
				rc.registry.MarkPending(c)
			} else if answered, _ := rc.registry.Answered(); answered != nil && answered.ID == contactID {
				rc.registry.ClearAnswered()
			}
			rc.changed()
			return
		}
		// Unbound leg: clear the anonymous sentinel and the one-off dial
		// flag. A second disconnect for the same handle lands here too and
		// changes nothing.
		_, anon := rc.registry.Answered()
		if anon || rc.dialInProgress {
			rc.registry.ClearAnsweredAnonymous()
			rc.dialInProgress = false
			rc.changed()
		}

	case HandleVolume:
		// Level metering is a UI concern; nothing to reconcile.
	}
}
