package telephony

// Handle is the per-leg contract exposed by the external telephony SDK.
// A handle is the only reliable identity for one specific call leg; it is
// never reused across legs and is not comparable across processes, which
// is why the adapter assigns every accepted handle a string id and the
// engine only ever sees that id.
//
// Incoming handles carry an opaque parameter bag; the adapter reads the
// "outbound", "contactId", "attemptId" and "callId" keys from it.
type Handle interface {
	Accept() error
	Reject() error
	Disconnect() error
	SendDigits(digits string) error
	Mute(muted bool) error
	IsMuted() bool
	Params() map[string]string
	OnDisconnect(fn func())
	OnVolume(fn func(input, output float64))
}

// Param bag keys read by the adapter.
const (
	ParamOutbound  = "outbound"
	ParamContactID = "contactId"
	ParamAttemptID = "attemptId"
	ParamCallID    = "callId"
)
