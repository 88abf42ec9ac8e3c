// Package gateway implements the client core for the moltis gateway
// websocket protocol: a connection manager with reconnect backoff, an RPC
// correlator matching response frames to requests by id, and an event bus for
// server-push frames.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zhubby/moltis-sub001/pkg/observe"
	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

// ConnState describes the connection lifecycle.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Config configures a Client. Zero values fall back to the defaults below.
type Config struct {
	// URL is the gateway websocket endpoint, e.g. ws://127.0.0.1:18789/ws.
	URL string

	// Reconnect backoff policy: wait InitialReconnectDelay after the first
	// drop, multiply by BackoffFactor per failed attempt, cap at
	// MaxReconnectDelay. Reset on every successful open.
	InitialReconnectDelay time.Duration
	BackoffFactor         float64
	MaxReconnectDelay     time.Duration

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

const (
	defaultInitialReconnectDelay = time.Second
	defaultBackoffFactor         = 2
	defaultMaxReconnectDelay     = 10 * time.Second
)

// Client owns the persistent gateway connection and the RPC/event plumbing on
// top of it. It is the single composition root for the connection handle, the
// pending-request map, and the subscriber lists; nothing in this package is
// ambient global state.
type Client struct {
	cfg        Config
	dialer     *websocket.Dialer
	state      *observe.Value[ConnState]
	correlator *correlator
	bus        *eventBus

	conn *connection
}

// NewClient validates cfg and builds a client. The connection is not opened
// until Start is called.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway client URL is empty")
	}
	if cfg.InitialReconnectDelay <= 0 {
		cfg.InitialReconnectDelay = defaultInitialReconnectDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = defaultBackoffFactor
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c := &Client{
		cfg:        cfg,
		dialer:     dialer,
		state:      observe.NewValue(StateClosed),
		correlator: newCorrelator(),
		bus:        newEventBus(),
	}
	c.conn = newConnection(c)
	return c, nil
}

// Start opens the persistent connection and keeps it alive until Close:
// every drop fails the pending calls and schedules a reconnect per the
// backoff policy.
func (c *Client) Start() {
	c.conn.start()
}

// Close tears the connection down for good; no further reconnects are
// scheduled and every pending call fails with a transport-lost outcome.
func (c *Client) Close() {
	c.conn.shutdown()
}

// ConnState exposes the connection lifecycle for UI indicators such as a
// non-blocking "reconnecting" banner.
func (c *Client) ConnState() *observe.Value[ConnState] {
	return c.state
}

// On subscribes handler to a push-event topic; the returned func
// unsubscribes.
func (c *Client) On(topic string, handler EventHandler) func() {
	return c.bus.On(topic, handler)
}

// Call performs one RPC round-trip. It never panics and never surfaces a
// transport problem as anything but a failure outcome:
//
//   - connection not open → immediate NOT_CONNECTED outcome, no id allocated
//   - connection drops mid-flight → TRANSPORT_LOST outcome
//   - server rejects → the server's error shape, verbatim
//   - ctx cancelled → CANCELLED outcome; the eventual response is dropped
func (c *Client) Call(ctx context.Context, method string, params any) Outcome {
	if c.state.Get() != StateOpen {
		return Failure(protocol.ErrCodeNotConnected, "not connected")
	}
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Failure(protocol.ErrCodeInvalidRequest, errors.Wrap(err, "marshaling params").Error())
		}
		raw = b
	}

	p := c.correlator.register(method)
	frame, err := protocol.EncodeRequest(p.id, method, raw)
	if err != nil {
		c.correlator.discard(p.id)
		return Failure(protocol.ErrCodeInvalidRequest, err.Error())
	}
	if err := c.conn.send(frame); err != nil {
		c.correlator.discard(p.id)
		return Failure(protocol.ErrCodeTransportLost, err.Error())
	}

	select {
	case o := <-p.done:
		return o
	case <-ctx.Done():
		c.correlator.discard(p.id)
		return Failure("CANCELLED", ctx.Err().Error())
	}
}
