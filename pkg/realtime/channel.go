package realtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zoff-tech/petsync/pkg/api"
	"github.com/zoff-tech/petsync/pkg/config"
	"github.com/zoff-tech/petsync/pkg/notify"
)

// ConnectionState is the observable status of the realtime channel.
type ConnectionState struct {
	Connected         bool
	LastEventType     string
	LastError         string
	ReconnectAttempts int
}

// Channel maintains a long-lived event-stream connection, dispatches parsed
// events to its handlers, and self-heals with exponential backoff. Disconnect
// is the sole cancellation primitive; it suppresses automatic reconnection
// until the next Connect or Reconnect.
type Channel struct {
	streamURL      string
	tokens         api.TokenStore
	handlers       Handlers
	notifier       notify.Notifier
	listener       func(ConnectionState)
	maxAttempts    int
	initialBackoff time.Duration

	// No client timeout: a streaming response is expected to outlive any
	// sane deadline. Liveness comes from the reconnect state machine.
	httpClient *http.Client

	mu             sync.Mutex
	state          ConnectionState
	connecting     bool
	suppressed     bool
	cancelStream   context.CancelFunc
	reconnectTimer *time.Timer
	expBackoff     *backoff.ExponentialBackOff

	// test hook, called with each scheduled reconnect delay
	onReconnectScheduled func(attempt int, delay time.Duration)
}

// NewChannel wires a channel; handlers and listener may have nil members.
func NewChannel(cfg config.RealtimeSettings, tokens api.TokenStore, handlers Handlers, notifier notify.Notifier, listener func(ConnectionState)) *Channel {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	return &Channel{
		streamURL:      cfg.StreamURL,
		tokens:         tokens,
		handlers:       handlers,
		notifier:       notifier,
		listener:       listener,
		maxAttempts:    cfg.MaxReconnectAttempts,
		initialBackoff: cfg.InitialBackoff,
		httpClient:     &http.Client{},
		expBackoff:     b,
	}
}

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection attempt. A channel already connected or
// connecting ignores the call. A pending automatic reconnect is replaced by
// the immediate attempt so at most one stream is ever live.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.connecting || c.state.Connected {
		c.mu.Unlock()
		return
	}
	c.suppressed = false
	c.connecting = true
	timer := c.reconnectTimer
	c.reconnectTimer = nil
	prevCancel := c.cancelStream
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancelStream = cancel
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if prevCancel != nil {
		prevCancel()
	}
	go c.run(streamCtx)
}

// Disconnect cancels any in-flight request and pending reconnect timer and
// suppresses automatic reconnection. It is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.suppressed = true
	c.connecting = false
	c.state.Connected = false
	cancel := c.cancelStream
	c.cancelStream = nil
	timer := c.reconnectTimer
	c.reconnectTimer = nil
	st := c.state
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	c.publish(st)
}

// Reconnect resets the attempt counter and connects immediately. It is the
// manual recovery path after the automatic retries are exhausted, and the
// way to pick up a rotated credential.
func (c *Channel) Reconnect(ctx context.Context) {
	c.Disconnect()
	c.mu.Lock()
	c.state.ReconnectAttempts = 0
	c.state.LastError = ""
	c.expBackoff.Reset()
	c.mu.Unlock()
	c.Connect(ctx)
}

func (c *Channel) run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL, nil)
	if err != nil {
		c.handleFailure(ctx, fmt.Sprintf("invalid stream URL: %v", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.tokens != nil {
		if token, err := c.tokens.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return // explicit disconnect, state already published
		}
		c.handleFailure(ctx, err.Error())
		return
	}
	defer resp.Body.Close()

	// A non-2xx response is handled exactly like a mid-stream transport
	// error: schedule a reconnect.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.handleFailure(ctx, fmt.Sprintf("stream returned status %d", resp.StatusCode))
		return
	}

	c.markConnected()

	p := &parser{}
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range p.feed(buf[:n]) {
				c.handleEvent(ev)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.handleFailure(ctx, err.Error())
			return
		}
	}
}

func (c *Channel) markConnected() {
	c.mu.Lock()
	c.connecting = false
	c.state.Connected = true
	c.state.LastError = ""
	// Any successful connection restarts the delay sequence at its base.
	c.state.ReconnectAttempts = 0
	c.expBackoff.Reset()
	st := c.state
	c.mu.Unlock()

	log.Printf("Event stream connected")
	c.publish(st)
}

func (c *Channel) handleFailure(ctx context.Context, msg string) {
	c.mu.Lock()
	c.connecting = false
	c.state.Connected = false
	c.state.LastError = msg

	if c.suppressed || ctx.Err() != nil {
		st := c.state
		c.mu.Unlock()
		c.publish(st)
		return
	}

	c.state.ReconnectAttempts++
	attempt := c.state.ReconnectAttempts
	if attempt > c.maxAttempts {
		c.state.ReconnectAttempts = c.maxAttempts
		c.state.LastError = fmt.Sprintf("connection lost after %d attempts: %s", c.maxAttempts, msg)
		st := c.state
		c.mu.Unlock()
		log.Printf("Event stream gave up after %d reconnect attempts", c.maxAttempts)
		c.publish(st)
		return
	}

	delay := c.expBackoff.NextBackOff()
	hook := c.onReconnectScheduled
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reattempt(ctx) })
	st := c.state
	c.mu.Unlock()

	log.Printf("Event stream disconnected (%s), reconnect attempt %d in %s", msg, attempt, delay)
	if hook != nil {
		hook(attempt, delay)
	}
	c.publish(st)
}

func (c *Channel) reattempt(ctx context.Context) {
	c.mu.Lock()
	if c.suppressed || ctx.Err() != nil || c.connecting || c.state.Connected {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()
	c.run(ctx)
}

func (c *Channel) handleEvent(ev rawEvent) {
	notification, err := c.handlers.dispatch(ev.Name, ev.Data)
	if err != nil {
		// One malformed event must not break the stream.
		log.Printf("Dropping malformed %s event: %v", ev.Name, err)
		return
	}

	c.mu.Lock()
	c.state.LastEventType = string(ev.Name)
	st := c.state
	c.mu.Unlock()
	c.publish(st)

	if notification != nil && c.notifier != nil {
		if err := c.notifier.Publish(context.Background(), notification); err != nil {
			log.Printf("Failed to publish notification for %s: %v", ev.Name, err)
		}
	}
}

func (c *Channel) publish(st ConnectionState) {
	if c.listener != nil {
		c.listener(st)
	}
}
