package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetState_NotifiesOnChangeOnly(t *testing.T) {
	o := NewObserver("http://unused.invalid", time.Minute)

	var calls int32
	o.Subscribe(func(State) { atomic.AddInt32(&calls, 1) })

	o.SetState(State{Connected: true})
	o.SetState(State{Connected: true}) // no change, no notification
	o.SetState(State{Connected: false})

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.False(t, o.Current().Connected)
}

func TestStart_ProbesImmediately(t *testing.T) {
	var probed int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probed, 1)
	}))
	defer server.Close()

	o := NewObserver(server.URL, time.Hour)
	done := make(chan State, 1)
	o.Subscribe(func(s State) { done <- s })

	o.Start(context.Background())
	defer o.Stop()

	select {
	case s := <-done:
		assert.True(t, s.Connected)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate probe on Start")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&probed), int32(1))
}

func TestProbe_FailureMarksDisconnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	o := NewObserver(server.URL, time.Hour)
	o.SetState(State{Connected: true})
	o.probe(context.Background())

	assert.False(t, o.Current().Connected)
}
