package engine

import "errors"

var (
	// ErrChannelNotReady blocks call placement while the status channel's
	// join handshake has not been acknowledged. Events arriving on an
	// unacknowledged channel would be discarded, so dialing is refused
	// rather than risking lost dispositions.
	ErrChannelNotReady = errors.New("status channel not ready")

	// ErrNotRegistered blocks call placement while the telephony device
	// registration has not completed.
	ErrNotRegistered = errors.New("telephony device not registered")

	// ErrCampaignActive is returned when a campaign start is requested
	// while a run is already in flight.
	ErrCampaignActive = errors.New("campaign already active")

	// ErrNoCampaign is returned for operations that need an active run.
	ErrNoCampaign = errors.New("no active campaign")

	// ErrDispositionsPending refuses batch advancement while contacts are
	// still awaiting a human-entered disposition.
	ErrDispositionsPending = errors.New("dispositions pending")

	// ErrEngineStopped is returned when the engine loop is not running.
	ErrEngineStopped = errors.New("engine not running")
)
