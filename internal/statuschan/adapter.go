package statuschan

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"powerdial/internal/engine"
)

// Adapter subscribes to the per-operator status topic and normalizes the
// server-pushed call status events into the engine's vocabulary.
//
// Events are only trusted after a join handshake has been acknowledged;
// anything received while not ready is discarded, never queued, so a
// reconnecting channel can never replay stale state into the engine. On
// transport reconnect the handshake is redone before readiness returns.
type Adapter struct {
	url               string
	operatorID        string
	joinTimeout       time.Duration
	reconnectInterval time.Duration

	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	ready  bool
	closed bool
	sink   func(engine.StatusEvent)

	done chan struct{}
}

// frame is the channel's wire shape: either a join ack or a status event.
type frame struct {
	OK     *bool  `json:"ok,omitempty"`
	To     string `json:"to,omitempty"`
	Status string `json:"status,omitempty"`
}

type joinRequest struct {
	Action   string `json:"action"`
	Operator string `json:"operator"`
}

// New creates an adapter for the operator's status topic.
func New(url, operatorID string, joinTimeout, reconnectInterval time.Duration) *Adapter {
	if joinTimeout <= 0 {
		joinTimeout = 5 * time.Second
	}
	if reconnectInterval <= 0 {
		reconnectInterval = 3 * time.Second
	}
	return &Adapter{
		url:               url,
		operatorID:        operatorID,
		joinTimeout:       joinTimeout,
		reconnectInterval: reconnectInterval,
		dialer:            websocket.DefaultDialer,
		done:              make(chan struct{}),
	}
}

// SetSink registers the normalized-event consumer. Must be set before
// Connect; events arriving with no sink are dropped.
func (a *Adapter) SetSink(fn func(engine.StatusEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = fn
}

// Ready reports whether the join handshake has been acknowledged on the
// current connection. Call placement is refused while false.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Connect dials the channel, performs the join handshake, and starts the
// read pump. The handshake must complete before Ready turns true. Fails on
// a closed adapter, so a reconnect attempt racing Close cannot leave a live
// connection behind.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("status channel closed")
	}
	a.mu.Unlock()

	log.Printf("[StatusChannel] Connecting to %s (operator=%s)", a.url, a.operatorID)

	conn, _, err := a.dialer.Dial(a.url, nil)
	if err != nil {
		return fmt.Errorf("dialing status channel: %w", err)
	}

	if err := a.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return fmt.Errorf("status channel closed")
	}
	a.conn = conn
	a.ready = true
	a.mu.Unlock()

	log.Printf("[StatusChannel] Joined topic for operator %s", a.operatorID)
	go a.readLoop(conn)
	return nil
}

// handshake sends the join request and waits for an affirmative ack within
// the bounded timeout. Status frames arriving before the ack belong to an
// unacknowledged channel and are discarded.
func (a *Adapter) handshake(conn *websocket.Conn) error {
	join := joinRequest{Action: "join", Operator: a.operatorID}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("sending join request: %w", err)
	}

	deadline := time.Now().Add(a.joinTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("awaiting join ack: %w", err)
		}
		if f.OK == nil {
			// Not the ack. The channel is not ready yet, so this event
			// cannot be trusted; drop it.
			continue
		}
		if !*f.OK {
			return fmt.Errorf("join rejected for operator %s", a.operatorID)
		}
		return nil
	}
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-a.done:
			return
		default:
		}

		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			select {
			case <-a.done:
				return
			default:
			}
			log.Printf("[StatusChannel] Read error: %v", err)
			a.reconnect()
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Printf("[StatusChannel] Malformed frame, ignored: %v", err)
			continue
		}
		if f.OK != nil {
			// Duplicate ack after readiness; nothing to do.
			continue
		}
		if f.To == "" || f.Status == "" {
			continue
		}
		a.emit(f)
	}
}

func (a *Adapter) emit(f frame) {
	a.mu.Lock()
	ready := a.ready
	sink := a.sink
	a.mu.Unlock()

	if !ready || sink == nil {
		return
	}
	sink(engine.StatusEvent{
		Number: engine.NormalizeNumber(f.To),
		Kind:   normalizeStatus(f.Status),
		Detail: f.Status,
	})
}

// normalizeStatus maps the channel's status strings onto the internal
// kinds. The terminal set is an open enumeration: anything that is not
// ringing or in-progress ends the leg, with the raw string kept as detail.
func normalizeStatus(s string) engine.StatusKind {
	switch s {
	case "ringing":
		return engine.StatusRinging
	case "in-progress":
		return engine.StatusConnected
	default:
		return engine.StatusTerminal
	}
}

// reconnect re-dials and re-joins until it succeeds or the adapter is
// closed. Readiness stays false the whole time.
func (a *Adapter) reconnect() {
	a.mu.Lock()
	a.ready = false
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()

	for {
		select {
		case <-a.done:
			return
		case <-time.After(a.reconnectInterval):
		}

		log.Printf("[StatusChannel] Reconnecting to %s", a.url)
		if err := a.Connect(); err != nil {
			log.Printf("[StatusChannel] Reconnect failed: %v", err)
			continue
		}
		return
	}
}

// Close stops the adapter. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.ready = false
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	close(a.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
