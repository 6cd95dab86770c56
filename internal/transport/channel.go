// Package transport maintains the single persistent duplex connection to
// the contact-center platform. It owns the reconnection policy and fans
// inbound messages out to registered handlers; it has no business knowledge.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultBaseInterval = 5 * time.Second
	defaultMaxAttempts  = 10
	defaultWriteTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Send when the channel is down. Messages
// are never queued: delivery is at-most-once, fire-and-forget.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives every inbound envelope, in registration order
type Handler func(types.Envelope)

// StateListener observes connection lifecycle transitions
type StateListener func(state types.ConnectionState, attempts int)

// Options configures a Channel
type Options struct {
	// PlatformURL is the http(s) origin of the platform; the ws endpoint
	// and scheme are derived from it.
	PlatformURL string
	// BaseInterval is the backoff unit: the n-th retry waits n × BaseInterval
	BaseInterval time.Duration
	// MaxAttempts caps consecutive failed attempts before the channel
	// gives up until the next explicit Connect.
	MaxAttempts  int
	WriteTimeout time.Duration
}

// Channel is the duplex connection manager. All methods are safe for
// concurrent use.
type Channel struct {
	mu sync.Mutex
	// writeMu serializes writes separately so a slow peer stalls only
	// senders, not state queries or handler registration
	writeMu  sync.Mutex
	conn     *websocket.Conn
	state    types.ConnectionState
	token    string
	attempts int

	// generation invalidates read loops and retry timers belonging to a
	// previous connection after Disconnect or a new Connect
	generation int
	retryTimer *time.Timer

	handlers      map[int]Handler
	order         []int
	nextHandlerID int

	stateListener StateListener

	wsURL        string
	baseInterval time.Duration
	maxAttempts  int
	writeTimeout time.Duration
	logger       zerolog.Logger

	// injectable for tests
	dial      func(urlStr string) (*websocket.Conn, *http.Response, error)
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewChannel creates a disconnected Channel
func NewChannel(opts Options, logger zerolog.Logger) *Channel {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = defaultBaseInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Channel{
		state:        types.ConnDisconnected,
		handlers:     make(map[int]Handler),
		wsURL:        deriveWSURL(opts.PlatformURL),
		baseInterval: opts.BaseInterval,
		maxAttempts:  opts.MaxAttempts,
		writeTimeout: opts.WriteTimeout,
		logger:       logger.With().Str("component", "transport").Logger(),
		dial: func(urlStr string) (*websocket.Conn, *http.Response, error) {
			return websocket.DefaultDialer.Dial(urlStr, nil)
		},
		afterFunc: time.AfterFunc,
	}
}

// deriveWSURL turns the platform http(s) origin into the ws(s) endpoint
func deriveWSURL(platformURL string) string {
	wsURL := platformURL + "/ws/agent"
	if len(wsURL) > 4 && wsURL[:4] == "http" {
		wsURL = "ws" + wsURL[4:]
	}
	return wsURL
}

// Connect opens the channel with the given credential. Calling it while
// already connected or connecting is a no-op. A failed dial does not
// surface an error: the channel falls into its reconnect loop.
func (c *Channel) Connect(authToken string) {
	c.mu.Lock()
	if c.state == types.ConnConnected || c.state == types.ConnConnecting {
		c.mu.Unlock()
		return
	}
	c.token = authToken
	c.attempts = 0
	c.generation++
	gen := c.generation
	c.setStateLocked(types.ConnConnecting)
	c.mu.Unlock()

	go c.attempt(gen)
}

// attempt dials once; on failure it schedules the next retry
func (c *Channel) attempt(gen int) {
	c.mu.Lock()
	if gen != c.generation || c.token == "" {
		c.mu.Unlock()
		return
	}
	target := c.wsURL + "?token=" + url.QueryEscape(c.token)
	c.setStateLocked(types.ConnConnecting)
	c.mu.Unlock()

	conn, resp, err := c.dial(target)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("dial failed")
		c.scheduleRetry(gen)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		// Disconnect raced the dial
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(types.ConnConnected)
	c.mu.Unlock()

	c.logger.Info().Msg("channel connected")
	go c.readLoop(conn, gen)
}

// scheduleRetry applies the linear backoff: the n-th retry waits
// n × baseInterval; after maxAttempts the channel gives up until the next
// explicit Connect.
func (c *Channel) scheduleRetry(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.token == "" {
		return
	}
	if c.attempts >= c.maxAttempts {
		c.logger.Error().Int("attempts", c.attempts).Msg("reconnect attempts exhausted")
		c.setStateLocked(types.ConnExhausted)
		return
	}
	c.attempts++
	delay := time.Duration(c.attempts) * c.baseInterval
	c.setStateLocked(types.ConnDisconnected)
	c.logger.Info().Int("attempt", c.attempts).Dur("retry_in", delay).Msg("scheduling reconnect")
	c.retryTimer = c.afterFunc(delay, func() { c.attempt(gen) })
}

// readLoop delivers inbound envelopes until the connection drops
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosure(conn, gen, err)
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed inbound message")
			continue
		}
		c.dispatch(env)
	}
}

// dispatch invokes all registered handlers in registration order
func (c *Channel) dispatch(env types.Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.order))
	for _, id := range c.order {
		if h, ok := c.handlers[id]; ok {
			hs = append(hs, h)
		}
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
}

// handleClosure reacts to an unexpected connection drop
func (c *Channel) handleClosure(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	intentional := c.token == ""
	c.setStateLocked(types.ConnDisconnected)
	c.mu.Unlock()

	if intentional {
		return
	}
	c.logger.Warn().Err(err).Msg("connection lost")
	c.scheduleRetry(gen)
}

// Send transmits one envelope immediately. When the channel is down the
// message is dropped and ErrNotConnected returned.
func (c *Channel) Send(env types.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == types.ConnConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// OnMessage registers a handler for every inbound envelope and returns a
// function that removes exactly that handler.
func (c *Channel) OnMessage(h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextHandlerID
	c.nextHandlerID++
	c.handlers[id] = h
	c.order = append(c.order, id)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// SetStateListener installs the single connection-state observer
func (c *Channel) SetStateListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListener = l
}

// setStateLocked updates the state and notifies the listener. Callers hold mu.
func (c *Channel) setStateLocked(s types.ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.stateListener != nil {
		// Listener runs outside the lock to keep it free to call back in
		l := c.stateListener
		state := s
		attempts := c.attempts
		go l(state, attempts)
	}
}

// State returns the current connection state
func (c *Channel) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current reconnect attempt counter
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Disconnect marks the channel intentionally closed: the credential is
// cleared, the connection torn down, and no reconnection happens until
// Connect is called again.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.token = ""
	c.generation++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.setStateLocked(types.ConnDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info().Msg("channel closed")
}
