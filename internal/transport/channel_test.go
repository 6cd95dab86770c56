package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type scheduled struct {
	delay time.Duration
	fire  func()
}

// failingChannel returns a channel whose dials always fail and whose retry
// timers are delivered on the returned chan instead of real timers.
func failingChannel(opts Options, dials *atomic.Int32) (*Channel, chan scheduled) {
	timers := make(chan scheduled, 16)
	c := NewChannel(opts, zerolog.Nop())
	c.dial = func(string) (*websocket.Conn, *http.Response, error) {
		dials.Add(1)
		return nil, nil, errors.New("connection refused")
	}
	c.afterFunc = func(d time.Duration, f func()) *time.Timer {
		timers <- scheduled{delay: d, fire: f}
		return time.NewTimer(time.Hour)
	}
	return c, timers
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLinearBackoffThenExhausted(t *testing.T) {
	var dials atomic.Int32
	base := 5 * time.Second
	c, timers := failingChannel(Options{PlatformURL: "http://platform", BaseInterval: base, MaxAttempts: 3}, &dials)

	c.Connect("tok")

	for n := 1; n <= 3; n++ {
		select {
		case timer := <-timers:
			if timer.delay != time.Duration(n)*base {
				t.Fatalf("retry %d: expected delay %v, got %v", n, time.Duration(n)*base, timer.delay)
			}
			timer.fire()
		case <-time.After(2 * time.Second):
			t.Fatalf("retry %d was never scheduled", n)
		}
	}

	// The final failed attempt exceeds the cap: no further timer, terminal state
	waitFor(t, func() bool { return c.State() == types.ConnExhausted }, "expected exhausted state")
	select {
	case <-timers:
		t.Fatal("no retry may be scheduled after exhaustion")
	case <-time.After(50 * time.Millisecond):
	}
	if got := dials.Load(); got != 4 {
		t.Errorf("expected 4 dial attempts (initial + 3 retries), got %d", got)
	}
}

func TestAttemptCounterResetsOnSuccessfulOpen(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var dials atomic.Int32
	timers := make(chan scheduled, 16)
	c := NewChannel(Options{PlatformURL: srv.URL, BaseInterval: time.Second, MaxAttempts: 5}, zerolog.Nop())
	realDial := c.dial
	c.dial = func(urlStr string) (*websocket.Conn, *http.Response, error) {
		if dials.Add(1) <= 2 {
			return nil, nil, errors.New("connection refused")
		}
		return realDial(urlStr)
	}
	c.afterFunc = func(d time.Duration, f func()) *time.Timer {
		timers <- scheduled{delay: d, fire: f}
		return time.NewTimer(time.Hour)
	}

	c.Connect("tok")
	for n := 1; n <= 2; n++ {
		select {
		case timer := <-timers:
			timer.fire()
		case <-time.After(2 * time.Second):
			t.Fatalf("retry %d was never scheduled", n)
		}
	}

	waitFor(t, func() bool { return c.State() == types.ConnConnected }, "channel never recovered")
	// A later drop must restart backoff from the beginning, not from where
	// the failed attempts left off
	if got := c.Attempts(); got != 0 {
		t.Fatalf("expected attempt counter reset after successful open, got %d", got)
	}
	c.Disconnect()
}

func TestSendDoesNotBlockStateWhilePeerStalls(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never read: the client's socket buffers fill and writes block
		<-stall
	}))
	defer srv.Close()
	defer close(stall)

	c := NewChannel(Options{PlatformURL: srv.URL, WriteTimeout: 3 * time.Second}, zerolog.Nop())
	c.Connect("tok")
	waitFor(t, func() bool { return c.State() == types.ConnConnected }, "channel never connected")

	payload := json.RawMessage(`"` + strings.Repeat("x", 1<<20) + `"`)
	go func() {
		for i := 0; i < 8; i++ {
			if err := c.Send(types.Envelope{Type: "bulk", Payload: payload}); err != nil {
				return
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	c.State()
	c.Attempts()
	off := c.OnMessage(func(types.Envelope) {})
	off()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("state queries blocked for %v behind a stalled write", elapsed)
	}
	c.Disconnect()
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	var dials atomic.Int32
	c, timers := failingChannel(Options{PlatformURL: "http://platform", BaseInterval: time.Second, MaxAttempts: 5}, &dials)

	c.Connect("tok")
	timer := <-timers
	c.Disconnect()

	// A stale timer firing after Disconnect must not dial again
	before := dials.Load()
	timer.fire()
	time.Sleep(50 * time.Millisecond)
	if dials.Load() != before {
		t.Errorf("stale retry dialed after disconnect: %d -> %d", before, dials.Load())
	}
	if c.State() != types.ConnDisconnected {
		t.Errorf("expected disconnected, got %s", c.State())
	}
	if c.Attempts() != 0 {
		t.Errorf("expected attempt counter reset, got %d", c.Attempts())
	}
}

func TestConnectWhileConnectingIsNoOp(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})
	c := NewChannel(Options{PlatformURL: "http://platform"}, zerolog.Nop())
	c.dial = func(string) (*websocket.Conn, *http.Response, error) {
		dials.Add(1)
		<-release
		return nil, nil, errors.New("refused")
	}
	c.afterFunc = func(d time.Duration, f func()) *time.Timer { return time.NewTimer(time.Hour) }

	c.Connect("tok")
	waitFor(t, func() bool { return dials.Load() == 1 }, "first dial never started")
	c.Connect("tok")
	c.Connect("tok")
	time.Sleep(50 * time.Millisecond)
	if dials.Load() != 1 {
		t.Errorf("expected a single in-flight dial, got %d", dials.Load())
	}
	close(release)
}

func TestSendWhenDisconnected(t *testing.T) {
	c := NewChannel(Options{PlatformURL: "http://platform"}, zerolog.Nop())
	err := c.Send(types.Envelope{Type: "agentStatusIntent"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDispatchOrderAndUnsubscribe(t *testing.T) {
	c := NewChannel(Options{PlatformURL: "http://platform"}, zerolog.Nop())

	var got []string
	c.OnMessage(func(types.Envelope) { got = append(got, "first") })
	off := c.OnMessage(func(types.Envelope) { got = append(got, "second") })
	c.OnMessage(func(types.Envelope) { got = append(got, "third") })

	c.dispatch(types.Envelope{Type: "x"})
	if len(got) != 3 || got[0] != "first" || got[1] != "second" || got[2] != "third" {
		t.Fatalf("expected registration order, got %v", got)
	}

	got = nil
	off()
	c.dispatch(types.Envelope{Type: "x"})
	if len(got) != 2 || got[0] != "first" || got[1] != "third" {
		t.Fatalf("expected second handler removed, got %v", got)
	}
}

func TestDeriveWSURL(t *testing.T) {
	if got := deriveWSURL("http://localhost:8080"); got != "ws://localhost:8080/ws/agent" {
		t.Errorf("unexpected ws url: %s", got)
	}
	if got := deriveWSURL("https://platform.example.com"); got != "wss://platform.example.com/ws/agent" {
		t.Errorf("unexpected wss url: %s", got)
	}
}

func TestRoundTripAgainstLiveServer(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	inbound := make(chan types.Envelope, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/agent" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Push one event to the agent, then echo back whatever it sends
		conn.WriteJSON(types.Envelope{Type: "agentStatusUpdate", Payload: json.RawMessage(`{"agentId":"a-1","status":"available"}`)})
		var env types.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		inbound <- env
	}))
	defer srv.Close()

	c := NewChannel(Options{PlatformURL: srv.URL}, zerolog.Nop())
	received := make(chan types.Envelope, 1)
	c.OnMessage(func(env types.Envelope) { received <- env })

	c.Connect("tok")
	waitFor(t, func() bool { return c.State() == types.ConnConnected }, "channel never connected")

	select {
	case env := <-received:
		if env.Type != "agentStatusUpdate" {
			t.Errorf("expected agentStatusUpdate, got %s", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server push never dispatched")
	}

	env, err := types.NewEnvelope(types.MsgAgentRaisedHand, types.RaisedHand{AgentID: "a-1"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if err := c.Send(env); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	select {
	case env := <-inbound:
		if env.Type != types.MsgAgentRaisedHand {
			t.Errorf("expected %s, got %s", types.MsgAgentRaisedHand, env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the outbound message")
	}

	c.Disconnect()
	if c.State() != types.ConnDisconnected {
		t.Errorf("expected disconnected after close, got %s", c.State())
	}
}
