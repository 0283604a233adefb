// Package network publishes connectivity state for the sync orchestrator.
package network

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// State is the current connectivity snapshot.
type State struct {
	Connected bool
	Transport string // "wifi", "cellular", "ethernet"; "" when unknown
}

// Observer probes a lightweight endpoint on an interval and notifies
// subscribers on state changes. SetState exists for platform hooks and
// tests that know the state without probing.
type Observer struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu          sync.Mutex
	state       State
	subscribers []func(State)
	cancel      context.CancelFunc
}

func NewObserver(probeURL string, interval time.Duration) *Observer {
	return &Observer{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Subscribe registers a callback invoked on every state change, from the
// observer's goroutine. Subscribers must not block.
func (o *Observer) Subscribe(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

// Current returns the last observed state.
func (o *Observer) Current() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetState overrides the observed state, notifying subscribers on change.
func (o *Observer) SetState(s State) {
	o.mu.Lock()
	changed := s != o.state
	o.state = s
	subs := make([]func(State), len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.Unlock()

	if !changed {
		return
	}
	log.Printf("Connectivity changed: connected=%v transport=%s", s.Connected, s.Transport)
	for _, fn := range subs {
		fn(s)
	}
}

// Start begins the probe loop. The first probe runs immediately so the
// orchestrator has a real state before its first decision.
func (o *Observer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	go func() {
		o.probe(ctx)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop.
func (o *Observer) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Observer) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, o.probeURL, nil)
	if err != nil {
		o.SetState(State{Connected: false})
		return
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.SetState(State{Connected: false})
		return
	}
	resp.Body.Close()
	o.SetState(State{Connected: true, Transport: "ethernet"})
}
