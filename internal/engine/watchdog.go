package engine

import (
	"log"
	"sync"
	"time"
)

// RingWatchdog forces a terminal for contacts the carrier left ringing
// forever. Without it a dropped terminal event would strand a contact in
// the ringing set and the continuation gate would never open.
//
// The synthetic event travels through the normal engine queue, so it gets
// the same serialization and idempotence as a real carrier terminal: if
// the real one arrives first, the synthetic one is a no-op.
type RingWatchdog struct {
	engine *Engine

	interval   time.Duration
	maxRingAge time.Duration

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewRingWatchdog creates a watchdog over the engine's registry.
func NewRingWatchdog(e *Engine, interval, maxRingAge time.Duration) *RingWatchdog {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxRingAge <= 0 {
		maxRingAge = 60 * time.Second
	}
	return &RingWatchdog{
		engine:     e,
		interval:   interval,
		maxRingAge: maxRingAge,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the watchdog worker.
func (w *RingWatchdog) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()

	go w.run()
	log.Printf("[Watchdog] Started (maxRingAge=%s)", w.maxRingAge)
}

// Stop stops the watchdog worker.
func (w *RingWatchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	log.Println("[Watchdog] Stopped")
}

func (w *RingWatchdog) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *RingWatchdog) sweep() {
	stale := w.engine.Registry().RingingOlderThan(w.maxRingAge)
	if len(stale) == 0 {
		return
	}
	run := w.engine.RunToken()
	for _, c := range stale {
		log.Printf("[Watchdog] Contact %s ringing past %s, forcing no-answer", c.ID, w.maxRingAge)
		w.engine.PostStatus(StatusEvent{
			Run:    run,
			Number: NormalizeNumber(c.Number),
			Kind:   StatusTerminal,
			Detail: "no-answer-timeout",
		})
	}
}
