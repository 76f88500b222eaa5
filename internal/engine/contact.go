package engine

// Contact is a single call target within a campaign run.
// Display fields are denormalized at load time; the only field that
// changes after placement is AttemptID, assigned when the call is placed.
type Contact struct {
	ID        string
	Number    string
	Name      string
	Company   string
	AttemptID string
}

// DialMode determines how many contacts are dialed concurrently per batch.
type DialMode int

const (
	ModeSingle   DialMode = iota // one line at a time
	ModeParallel                 // two lines
	ModeAdvanced                 // four lines
)

// SliceSize returns the number of contacts dialed per batch for the mode.
func (m DialMode) SliceSize() int {
	switch m {
	case ModeParallel:
		return 2
	case ModeAdvanced:
		return 4
	default:
		return 1
	}
}

func (m DialMode) String() string {
	switch m {
	case ModeParallel:
		return "parallel"
	case ModeAdvanced:
		return "advanced"
	default:
		return "single"
	}
}

// ParseDialMode maps a mode name to a DialMode. Unknown names fall back
// to single-line mode rather than erroring.
func ParseDialMode(s string) DialMode {
	switch s {
	case "parallel":
		return ModeParallel
	case "advanced":
		return ModeAdvanced
	default:
		return ModeSingle
	}
}

// Batch is the ordered slice of contacts being dialed in one round.
// Its size is fixed at creation time.
type Batch struct {
	Contacts []*Contact
}

// FindByNumber resolves a contact by normalized destination number.
// Returns nil if the number does not belong to this batch.
func (b *Batch) FindByNumber(normalized string) *Contact {
	if b == nil {
		return nil
	}
	for _, c := range b.Contacts {
		if NormalizeNumber(c.Number) == normalized {
			return c
		}
	}
	return nil
}

// FindByID resolves a contact by its id.
func (b *Batch) FindByID(id string) *Contact {
	if b == nil || id == "" {
		return nil
	}
	for _, c := range b.Contacts {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Size returns the number of contacts in the batch.
func (b *Batch) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Contacts)
}

// NormalizeNumber strips everything but digits so numbers coming from the
// carrier ("+1 (555) 010-0001") and numbers stored on contacts compare equal.
func NormalizeNumber(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
