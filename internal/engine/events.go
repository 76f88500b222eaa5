package engine

// Internal event vocabulary. Both adapters normalize their transport's
// payloads into these types before posting them to the engine loop; the
// reconciler never sees carrier or SDK specifics.

// StatusKind classifies a carrier status event.
type StatusKind int

const (
	StatusRinging StatusKind = iota
	StatusConnected
	StatusTerminal
)

func (k StatusKind) String() string {
	switch k {
	case StatusRinging:
		return "ringing"
	case StatusConnected:
		return "connected"
	default:
		return "terminal"
	}
}

// StatusEvent is a carrier-side status report keyed by destination number.
// Number is already normalized (digits only). Detail carries the raw
// carrier status string for terminals; the terminal status set is an open,
// externally-defined enumeration and is never switched on exhaustively.
type StatusEvent struct {
	Run    string
	Number string
	Kind   StatusKind
	Detail string
}

// HandleKind classifies a client-side telephony handle event.
type HandleKind int

const (
	HandleIncoming HandleKind = iota
	HandleDisconnected
	HandleVolume
)

// HandleEvent is a client-side leg lifecycle report keyed by the adapter's
// handle id. ContactID is the side-channel binding read from the handle's
// parameter bag at accept time; empty for unbound (one-off) legs.
type HandleEvent struct {
	Run       string
	HandleID  string
	Kind      HandleKind
	ContactID string
	InputVol  float64
	OutputVol float64
}
