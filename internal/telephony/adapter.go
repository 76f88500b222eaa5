package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"powerdial/internal/engine"
)

// Adapter wraps the telephony client SDK: device registration against the
// external API, routing of incoming handles, and pass-through call
// controls. Only outbound legs bridged back as "incoming" are routed into
// the engine; true inbound calls go to the pluggable inbound handler.
type Adapter struct {
	registrarURL string
	deviceID     string
	httpClient   *http.Client

	mu         sync.Mutex
	registered bool
	token      string
	tokenExp   time.Time
	live       map[string]Handle // handle id -> live handle
	sink       func(engine.HandleEvent)
	inbound    func(Handle)
}

// New creates an adapter for the given device identity.
func New(registrarURL, deviceID string) *Adapter {
	return &Adapter{
		registrarURL: registrarURL,
		deviceID:     deviceID,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		live:         make(map[string]Handle),
	}
}

// SetSink registers the normalized-event consumer.
func (a *Adapter) SetSink(fn func(engine.HandleEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = fn
}

// SetInboundHandler registers the flow true inbound calls are handed to.
// Without one, true inbound handles are rejected.
func (a *Adapter) SetInboundHandler(fn func(Handle)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbound = fn
}

// Register obtains a session token for the device from the external API.
// Registration failure is fatal to the session: the engine refuses to dial
// while the adapter is unregistered.
func (a *Adapter) Register(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"deviceId": a.deviceID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.registrarURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registering device %s: %w", a.deviceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registering device %s: status %d", a.deviceID, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding registration response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("registration for device %s returned no token", a.deviceID)
	}

	a.mu.Lock()
	a.registered = true
	a.token = out.Token
	a.tokenExp = tokenExpiry(out.Token)
	a.mu.Unlock()

	log.Printf("[Telephony] Device %s registered (token expires %s)", a.deviceID, a.tokenExpString())
	return nil
}

// tokenExpiry decodes the session token's expiry without verifying the
// signature; the registrar owns the signing key, we only need the clock.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (a *Adapter) tokenExpString() string {
	if a.tokenExp.IsZero() {
		return "never"
	}
	return a.tokenExp.Format(time.RFC3339)
}

// Registered reports whether the device holds a live registration.
func (a *Adapter) Registered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.registered {
		return false
	}
	if !a.tokenExp.IsZero() && time.Now().After(a.tokenExp) {
		return false
	}
	return true
}

// Token returns the current session token, empty when unregistered.
func (a *Adapter) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// OnIncoming is the SDK's callback for each new call leg offered to the
// device. Outbound legs bridged back to the operator are accepted and
// routed into the engine; true inbound calls never reach it.
func (a *Adapter) OnIncoming(h Handle) {
	params := h.Params()
	if params[ParamOutbound] != "true" {
		a.mu.Lock()
		inbound := a.inbound
		a.mu.Unlock()
		if inbound != nil {
			inbound(h)
			return
		}
		log.Println("[Telephony] True inbound call with no inbound flow, rejecting")
		if err := h.Reject(); err != nil {
			log.Printf("[Telephony] Reject failed: %v", err)
		}
		return
	}

	id := handleID(params)
	if err := h.Accept(); err != nil {
		log.Printf("[Telephony] Accept failed for handle %s: %v", id, err)
		return
	}

	a.mu.Lock()
	a.live[id] = h
	a.mu.Unlock()

	// The disconnect callback is the authoritative end-of-call signal; the
	// live map makes it fire into the engine exactly once per handle.
	h.OnDisconnect(func() {
		a.handleDisconnected(id)
	})
	h.OnVolume(func(in, out float64) {
		a.emit(engine.HandleEvent{Kind: engine.HandleVolume, HandleID: id, InputVol: in, OutputVol: out})
	})

	log.Printf("[Telephony] Accepted outbound-bridged handle %s (contact=%q)", id, params[ParamContactID])
	a.emit(engine.HandleEvent{
		Kind:      engine.HandleIncoming,
		HandleID:  id,
		ContactID: params[ParamContactID],
	})
}

// handleID prefers the placement-time attempt id carried through the side
// channel, then the SDK's call id, then a generated id. Handles are never
// used as map keys themselves.
func handleID(params map[string]string) string {
	if id := params[ParamAttemptID]; id != "" {
		return id
	}
	if id := params[ParamCallID]; id != "" {
		return id
	}
	return uuid.NewString()
}

func (a *Adapter) handleDisconnected(id string) {
	a.mu.Lock()
	_, ok := a.live[id]
	if ok {
		delete(a.live, id)
	}
	a.mu.Unlock()

	if !ok {
		// Second disconnect for the same handle; no-op.
		return
	}
	log.Printf("[Telephony] Handle %s disconnected", id)
	a.emit(engine.HandleEvent{Kind: engine.HandleDisconnected, HandleID: id})
}

// SendDigits passes a DTMF digit to the leg. No-op on stale handles.
func (a *Adapter) SendDigits(handleID, digits string) error {
	h := a.lookup(handleID)
	if h == nil {
		return nil
	}
	return h.SendDigits(digits)
}

// SetMuted toggles the leg's microphone. No-op on stale handles.
func (a *Adapter) SetMuted(handleID string, muted bool) error {
	h := a.lookup(handleID)
	if h == nil {
		return nil
	}
	return h.Mute(muted)
}

// Disconnect hangs up the leg. No-op on stale handles; the state change
// flows through the handle's disconnect callback, not from here.
func (a *Adapter) Disconnect(handleID string) error {
	h := a.lookup(handleID)
	if h == nil {
		return nil
	}
	return h.Disconnect()
}

// LiveHandles returns the ids of currently live handles.
func (a *Adapter) LiveHandles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.live))
	for id := range a.live {
		out = append(out, id)
	}
	return out
}

func (a *Adapter) lookup(id string) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live[id]
}

func (a *Adapter) emit(ev engine.HandleEvent) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}
