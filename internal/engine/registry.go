package engine

import (
	"log"
	"sync"
	"time"
)

// SessionRegistry holds the authoritative state for the active batch:
// which contacts are ringing, which single contact (if any) is answered,
// which contacts have finished and await a disposition, and the binding
// from handle ids to contacts.
//
// Mutations happen only from the engine loop (via the reconciler and the
// controller); the lock exists so the API and console feed can read
// snapshots from their own goroutines.
type SessionRegistry struct {
	mu sync.RWMutex

	ringing      map[string]*Contact  // contact id -> contact
	ringingSince map[string]time.Time // contact id -> first RINGING seen
	pending      map[string]*Contact  // contact id -> contact, awaiting disposition

	// The single answered slot. answeredAnon marks the anonymous sentinel:
	// some leg is connected but carries no contact identity (one-off dials).
	// answered != nil and answeredAnon are mutually exclusive.
	answered     *Contact
	answeredAnon bool

	handleToContact map[string]string // handle id -> contact id
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		ringing:         make(map[string]*Contact),
		ringingSince:    make(map[string]time.Time),
		pending:         make(map[string]*Contact),
		handleToContact: make(map[string]string),
	}
}

// MarkRinging puts a contact into the ringing set. Idempotent; a contact
// already answered or pending is left where it is.
func (r *SessionRegistry) MarkRinging(c *Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.pending[c.ID]; done {
		return
	}
	if r.answered != nil && r.answered.ID == c.ID {
		return
	}
	if _, ok := r.ringing[c.ID]; !ok {
		r.ringingSince[c.ID] = time.Now()
	}
	r.ringing[c.ID] = c
}

// MarkAnswered moves a contact into the single answered slot, removing it
// from ringing. Refused when another contact already holds the slot (the
// slot is the one mutually-exclusive resource in the engine) or when the
// contact has already reached pending-disposition: a late or duplicate
// connected report must not resurrect a finished contact. Returns false
// when refused.
func (r *SessionRegistry) MarkAnswered(c *Contact) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.pending[c.ID]; done {
		log.Printf("[Registry] Refusing answered slot for finished contact %s", c.ID)
		return false
	}
	if r.answered != nil && r.answered.ID != c.ID {
		log.Printf("[Registry] Refusing answered slot for contact %s: slot held by %s", c.ID, r.answered.ID)
		return false
	}
	delete(r.ringing, c.ID)
	delete(r.ringingSince, c.ID)
	r.answered = c
	r.answeredAnon = false
	return true
}

// MarkAnsweredAnonymous sets the anonymous answered sentinel: a connected
// leg with no contact identity. Refused while a known contact holds the slot.
func (r *SessionRegistry) MarkAnsweredAnonymous() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.answered != nil {
		return false
	}
	r.answeredAnon = true
	return true
}

// MarkPending moves a contact into the pending-disposition set, removing it
// from ringing and, if it held it, the answered slot. Idempotent.
func (r *SessionRegistry) MarkPending(c *Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.ringing, c.ID)
	delete(r.ringingSince, c.ID)
	if r.answered != nil && r.answered.ID == c.ID {
		r.answered = nil
	}
	r.pending[c.ID] = c
}

// ClearAnswered empties the answered slot, whatever occupies it.
func (r *SessionRegistry) ClearAnswered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = nil
	r.answeredAnon = false
}

// ClearAnsweredAnonymous drops the sentinel only; a known answered contact
// is left untouched.
func (r *SessionRegistry) ClearAnsweredAnonymous() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answeredAnon = false
}

// Acknowledge removes a contact from the pending set once its disposition
// has been consumed by the controlling caller.
func (r *SessionRegistry) Acknowledge(contactID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, contactID)
}

// BindHandle records that a handle belongs to a contact.
func (r *SessionRegistry) BindHandle(handleID, contactID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handleToContact[handleID] = contactID
}

// UnbindHandle removes a handle binding and returns the contact id it was
// bound to. The second return is false for unknown (or already unbound)
// handles, which makes a double disconnect a no-op for the caller.
func (r *SessionRegistry) UnbindHandle(handleID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.handleToContact[handleID]
	if ok {
		delete(r.handleToContact, handleID)
	}
	return id, ok
}

// handleContact looks up the contact a handle is bound to without
// unbinding it.
func (r *SessionRegistry) handleContact(handleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.handleToContact[handleID]
	return id, ok
}

// HandleBoundTo reports whether any live handle is bound to the contact.
// This answers the reconciler's race guard: a carrier terminal for the
// answered contact is ignored while the client-side leg is still up.
func (r *SessionRegistry) HandleBoundTo(contactID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cid := range r.handleToContact {
		if cid == contactID {
			return true
		}
	}
	return false
}

// RingingContacts returns a copy of the ringing set.
func (r *SessionRegistry) RingingContacts() []*Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Contact, 0, len(r.ringing))
	for _, c := range r.ringing {
		out = append(out, c)
	}
	return out
}

// IsRinging reports whether the contact is in the ringing set.
func (r *SessionRegistry) IsRinging(contactID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ringing[contactID]
	return ok
}

// Answered returns the contact holding the answered slot, or nil. The
// second return reports the anonymous sentinel; the three observable
// states are (nil,false) nobody, (c,false) known winner, (nil,true)
// anonymous leg.
func (r *SessionRegistry) Answered() (*Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.answered, r.answeredAnon
}

// PendingContacts returns a copy of the pending-disposition set.
func (r *SessionRegistry) PendingContacts() []*Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Contact, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, c)
	}
	return out
}

// IsPending reports whether the contact awaits a disposition.
func (r *SessionRegistry) IsPending(contactID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pending[contactID]
	return ok
}

// PendingCount returns the number of contacts awaiting a disposition.
func (r *SessionRegistry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// RingingCount returns the number of ringing contacts.
func (r *SessionRegistry) RingingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ringing)
}

// RingingOlderThan returns contacts that have been ringing longer than
// maxAge. Used by the watchdog to force a terminal for legs the carrier
// never resolved.
func (r *SessionRegistry) RingingOlderThan(maxAge time.Duration) []*Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	threshold := time.Now().Add(-maxAge)
	var stale []*Contact
	for id, c := range r.ringing {
		if since, ok := r.ringingSince[id]; ok && since.Before(threshold) {
			stale = append(stale, c)
		}
	}
	return stale
}

// Reset clears all state. Used when a campaign run starts or stops.
func (r *SessionRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ringing = make(map[string]*Contact)
	r.ringingSince = make(map[string]time.Time)
	r.pending = make(map[string]*Contact)
	r.answered = nil
	r.answeredAnon = false
	r.handleToContact = make(map[string]string)
}
