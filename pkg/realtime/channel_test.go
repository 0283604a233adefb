package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/petsync/pkg/config"
)

type staticTokens struct {
	token string
}

func (s *staticTokens) Token() (string, error) { return s.token, nil }

func (s *staticTokens) Invalidate() {}

type scheduled struct {
	attempt int
	delay   time.Duration
}

func awaitSchedule(t *testing.T, ch <-chan scheduled) scheduled {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a scheduled reconnect")
		return scheduled{}
	}
}

func realtimeSettings(url string) config.RealtimeSettings {
	return config.RealtimeSettings{
		StreamURL:            url,
		MaxReconnectAttempts: 5,
		InitialBackoff:       time.Millisecond,
	}
}

func TestConnect_DispatchesEvents(t *testing.T) {
	received := make(chan TagScannedEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: tag_scanned\ndata: {\"tag_id\":\"t1\",\"pet_id\":\"p1\",\"petName\":\"Rex\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	handlers := Handlers{TagScanned: func(ev TagScannedEvent) { received <- ev }}
	ch := NewChannel(realtimeSettings(srv.URL), &staticTokens{token: "token-1"}, handlers, nil, nil)
	defer ch.Disconnect()

	ch.Connect(context.Background())

	select {
	case ev := <-received:
		assert.Equal(t, "p1", ev.PetID)
		assert.Equal(t, "Rex", ev.PetName)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the tag_scanned event")
	}

	state := ch.State()
	assert.True(t, state.Connected)
	assert.Equal(t, string(EventTagScanned), state.LastEventType)
	assert.Zero(t, state.ReconnectAttempts)
}

func TestConnect_SecondCallIgnored(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ch := NewChannel(realtimeSettings(srv.URL), nil, Handlers{}, nil, nil)
	defer ch.Disconnect()

	ch.Connect(context.Background())
	ch.Connect(context.Background())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestReconnect_DelaysDoubleUntilLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	scheds := make(chan scheduled, 10)
	terminal := make(chan ConnectionState, 1)
	listener := func(st ConnectionState) {
		if strings.Contains(st.LastError, "connection lost") {
			select {
			case terminal <- st:
			default:
			}
		}
	}

	ch := NewChannel(realtimeSettings(srv.URL), nil, Handlers{}, nil, listener)
	ch.onReconnectScheduled = func(attempt int, delay time.Duration) {
		scheds <- scheduled{attempt: attempt, delay: delay}
	}
	defer ch.Disconnect()

	ch.Connect(context.Background())

	var delays []time.Duration
	for i := 1; i <= 5; i++ {
		s := awaitSchedule(t, scheds)
		assert.Equal(t, i, s.attempt)
		delays = append(delays, s.delay)
	}

	expected := []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		8 * time.Millisecond,
		16 * time.Millisecond,
	}
	assert.Equal(t, expected, delays)

	select {
	case st := <-terminal:
		assert.False(t, st.Connected)
		assert.Equal(t, 5, st.ReconnectAttempts, "the attempt counter stays capped at the limit")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the terminal state")
	}
	assert.Empty(t, scheds, "no reconnect may be scheduled past the limit")
}

func TestReconnect_SuccessResetsDelay(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		// A short-lived stream: connect succeeds, then the body
		// ends and forces another reconnect round.
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: connected\ndata: {\"message\":\"ok\"}\n\n")
	}))
	defer srv.Close()

	scheds := make(chan scheduled, 10)
	ch := NewChannel(realtimeSettings(srv.URL), nil, Handlers{}, nil, nil)
	ch.onReconnectScheduled = func(attempt int, delay time.Duration) {
		scheds <- scheduled{attempt: attempt, delay: delay}
	}
	defer ch.Disconnect()

	ch.Connect(context.Background())

	first := awaitSchedule(t, scheds)
	second := awaitSchedule(t, scheds)

	assert.Equal(t, 1, first.attempt)
	assert.Equal(t, 1, second.attempt, "a successful connection must reset the attempt counter")
	assert.Equal(t, time.Millisecond, first.delay)
	assert.Equal(t, time.Millisecond, second.delay, "a successful connection must reset the delay")
}

func TestDisconnect_SuppressesReconnect(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	scheds := make(chan scheduled, 10)
	settings := realtimeSettings(srv.URL)
	settings.InitialBackoff = 50 * time.Millisecond

	ch := NewChannel(settings, nil, Handlers{}, nil, nil)
	ch.onReconnectScheduled = func(attempt int, delay time.Duration) {
		scheds <- scheduled{attempt: attempt, delay: delay}
	}

	ch.Connect(context.Background())
	awaitSchedule(t, scheds)
	ch.Disconnect()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	assert.False(t, ch.State().Connected)
}

func TestConnect_WhileReconnectPendingKeepsOneStream(t *testing.T) {
	var requests, open int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		atomic.AddInt32(&open, 1)
		defer atomic.AddInt32(&open, -1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	scheds := make(chan scheduled, 10)
	settings := realtimeSettings(srv.URL)
	settings.InitialBackoff = time.Minute

	ch := NewChannel(settings, nil, Handlers{}, nil, nil)
	ch.onReconnectScheduled = func(attempt int, delay time.Duration) {
		scheds <- scheduled{attempt: attempt, delay: delay}
	}

	ch.Connect(context.Background())
	awaitSchedule(t, scheds)

	// A manual connect while a reconnect timer is armed must replace the
	// scheduled attempt, not stack a second stream on top of it.
	ch.Connect(context.Background())

	require.Eventually(t, func() bool { return ch.State().Connected }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Equal(t, int32(1), atomic.LoadInt32(&open))

	ch.Disconnect()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&open) == 0
	}, 5*time.Second, 10*time.Millisecond, "Disconnect must cancel the live stream")
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests), "the stopped timer must not open another stream")
}

func TestReconnect_RestartsAfterGivingUp(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	scheds := make(chan scheduled, 10)
	terminal := make(chan struct{}, 1)
	listener := func(st ConnectionState) {
		if strings.Contains(st.LastError, "connection lost") {
			select {
			case terminal <- struct{}{}:
			default:
			}
		}
	}

	settings := realtimeSettings(srv.URL)
	settings.MaxReconnectAttempts = 2

	ch := NewChannel(settings, nil, Handlers{}, nil, listener)
	ch.onReconnectScheduled = func(attempt int, delay time.Duration) {
		scheds <- scheduled{attempt: attempt, delay: delay}
	}
	defer ch.Disconnect()

	ch.Connect(context.Background())

	require.Equal(t, 1, awaitSchedule(t, scheds).attempt)
	require.Equal(t, 2, awaitSchedule(t, scheds).attempt)
	select {
	case <-terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the terminal state")
	}

	before := atomic.LoadInt32(&requests)
	ch.Reconnect(context.Background())

	s := awaitSchedule(t, scheds)
	assert.Equal(t, 1, s.attempt, "Reconnect must restart the attempt counter")
	assert.Equal(t, time.Millisecond, s.delay)
	assert.Greater(t, atomic.LoadInt32(&requests), before)
}
