package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"powerdial/internal/engine"
)

// fakeHandle implements Handle for routing tests.
type fakeHandle struct {
	params       map[string]string
	accepted     bool
	rejected     bool
	disconnected bool
	muted        bool
	digits       string
	onDisconnect func()
	onVolume     func(in, out float64)
}

func (f *fakeHandle) Accept() error { f.accepted = true; return nil }
func (f *fakeHandle) Reject() error { f.rejected = true; return nil }

func (f *fakeHandle) Disconnect() error {
	f.disconnected = true
	if f.onDisconnect != nil {
		f.onDisconnect()
	}
	return nil
}

func (f *fakeHandle) SendDigits(d string) error         { f.digits += d; return nil }
func (f *fakeHandle) Mute(m bool) error                 { f.muted = m; return nil }
func (f *fakeHandle) IsMuted() bool                     { return f.muted }
func (f *fakeHandle) Params() map[string]string         { return f.params }
func (f *fakeHandle) OnDisconnect(fn func())            { f.onDisconnect = fn }
func (f *fakeHandle) OnVolume(fn func(in, out float64)) { f.onVolume = fn }

func outboundHandle(contactID, attemptID string) *fakeHandle {
	return &fakeHandle{params: map[string]string{
		ParamOutbound:  "true",
		ParamContactID: contactID,
		ParamAttemptID: attemptID,
	}}
}

func sinkChan(a *Adapter) chan engine.HandleEvent {
	ch := make(chan engine.HandleEvent, 16)
	a.SetSink(func(ev engine.HandleEvent) { ch <- ev })
	return ch
}

func TestAdapter_OutboundLegAcceptedAndRouted(t *testing.T) {
	a := New("http://registrar", "dev-1")
	events := sinkChan(a)

	h := outboundHandle("contact-1", "attempt-1")
	a.OnIncoming(h)

	if !h.accepted {
		t.Fatalf("outbound leg not accepted")
	}
	ev := <-events
	if ev.Kind != engine.HandleIncoming || ev.HandleID != "attempt-1" || ev.ContactID != "contact-1" {
		t.Fatalf("unexpected incoming event: %+v", ev)
	}
	if got := a.LiveHandles(); len(got) != 1 || got[0] != "attempt-1" {
		t.Fatalf("live handles: %v", got)
	}
}

func TestAdapter_TrueInboundGoesToInboundFlow(t *testing.T) {
	a := New("http://registrar", "dev-1")
	sinkChan(a)

	var routed Handle
	a.SetInboundHandler(func(h Handle) { routed = h })

	h := &fakeHandle{params: map[string]string{}}
	a.OnIncoming(h)

	if routed != h {
		t.Fatalf("inbound call not routed to inbound flow")
	}
	if h.accepted || h.rejected {
		t.Fatalf("adapter touched a handle owned by the inbound flow")
	}
	if len(a.LiveHandles()) != 0 {
		t.Fatalf("inbound call tracked as outbound leg")
	}
}

func TestAdapter_TrueInboundRejectedWithoutFlow(t *testing.T) {
	a := New("http://registrar", "dev-1")
	h := &fakeHandle{params: map[string]string{}}
	a.OnIncoming(h)
	if !h.rejected {
		t.Fatalf("inbound call not rejected without a flow")
	}
}

func TestAdapter_DisconnectFiresExactlyOnce(t *testing.T) {
	a := New("http://registrar", "dev-1")
	events := sinkChan(a)

	h := outboundHandle("contact-1", "attempt-1")
	a.OnIncoming(h)
	<-events // incoming

	h.onDisconnect()
	h.onDisconnect()

	ev := <-events
	if ev.Kind != engine.HandleDisconnected || ev.HandleID != "attempt-1" {
		t.Fatalf("unexpected disconnect event: %+v", ev)
	}
	select {
	case ev := <-events:
		t.Fatalf("duplicate disconnect emitted: %+v", ev)
	default:
	}
	if len(a.LiveHandles()) != 0 {
		t.Fatalf("handle still live after disconnect")
	}
}

func TestAdapter_ControlsNoOpOnStaleHandles(t *testing.T) {
	a := New("http://registrar", "dev-1")
	sinkChan(a)

	if err := a.SendDigits("gone", "5"); err != nil {
		t.Fatalf("digits to stale handle errored: %v", err)
	}
	if err := a.SetMuted("gone", true); err != nil {
		t.Fatalf("mute on stale handle errored: %v", err)
	}
	if err := a.Disconnect("gone"); err != nil {
		t.Fatalf("disconnect on stale handle errored: %v", err)
	}

	h := outboundHandle("contact-1", "attempt-1")
	a.OnIncoming(h)
	if err := a.SendDigits("attempt-1", "7"); err != nil {
		t.Fatalf("digits: %v", err)
	}
	if h.digits != "7" {
		t.Fatalf("digits not passed through: %q", h.digits)
	}
	if err := a.SetMuted("attempt-1", true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !h.muted {
		t.Fatalf("mute not passed through")
	}
}

func TestAdapter_HandleIDFallbackChain(t *testing.T) {
	if id := handleID(map[string]string{ParamAttemptID: "att", ParamCallID: "call"}); id != "att" {
		t.Fatalf("attempt id not preferred: %q", id)
	}
	if id := handleID(map[string]string{ParamCallID: "call"}); id != "call" {
		t.Fatalf("call id not used: %q", id)
	}
	if id := handleID(map[string]string{}); id == "" {
		t.Fatalf("no generated fallback id")
	}
}

func TestAdapter_RegisterStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["deviceId"] != "dev-1" {
			t.Errorf("unexpected registration body: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "opaque-session-token"})
	}))
	defer srv.Close()

	a := New(srv.URL, "dev-1")
	if a.Registered() {
		t.Fatalf("registered before Register")
	}
	if err := a.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !a.Registered() {
		t.Fatalf("not registered after Register")
	}
	if a.Token() != "opaque-session-token" {
		t.Fatalf("token %q", a.Token())
	}
}

func TestAdapter_RegisterRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	a := New(srv.URL, "dev-1")
	if err := a.Register(context.Background()); err == nil {
		t.Fatalf("register accepted empty token")
	}
	if a.Registered() {
		t.Fatalf("registered on failed registration")
	}
}
