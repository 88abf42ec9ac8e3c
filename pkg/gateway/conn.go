package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

// connection is the connection-manager half of the client: it owns the live
// websocket, the reconnect timer, and the backoff schedule. At most one dial
// attempt or live socket exists at a time.
type connection struct {
	client *Client

	mu      sync.Mutex
	writeMu sync.Mutex
	ws      *websocket.Conn
	backoff *reconnectDelay
	timer   *time.Timer
	dialing bool
	closed  bool
}

func newConnection(c *Client) *connection {
	return &connection{
		client:  c,
		backoff: newReconnectDelay(c.cfg.InitialReconnectDelay, c.cfg.BackoffFactor, c.cfg.MaxReconnectDelay),
	}
}

func (cn *connection) start() {
	cn.mu.Lock()
	if cn.closed || cn.dialing || cn.ws != nil {
		cn.mu.Unlock()
		return
	}
	cn.dialing = true
	cn.mu.Unlock()
	go cn.dial()
}

func (cn *connection) dial() {
	cn.client.state.Set(StateConnecting)
	ws, resp, err := cn.client.dialer.Dial(cn.client.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Warn().Str("component", "gateway").Err(err).Str("url", cn.client.cfg.URL).Msg("gateway dial failed")
		cn.mu.Lock()
		cn.dialing = false
		cn.mu.Unlock()
		cn.dropped()
		return
	}

	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		_ = ws.Close()
		return
	}
	cn.ws = ws
	cn.dialing = false
	cn.backoff.Reset()
	cn.mu.Unlock()

	log.Info().Str("component", "gateway").Str("url", cn.client.cfg.URL).Msg("gateway connection open")
	cn.client.state.Set(StateOpen)
	go cn.readPump(ws)
}

// readPump decodes inbound frames and routes them: responses to the
// correlator, events to the bus. Malformed frames are logged and dropped
// without halting the loop. Exits when the socket errors, which triggers the
// disconnect path.
func (cn *connection) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			cn.teardown(ws, err)
			return
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			log.Warn().Str("component", "gateway").Err(err).Msg("dropping malformed frame")
			continue
		}
		switch frame.Type {
		case protocol.FrameTypeResponse:
			rf := frame.Response
			if rf.OK {
				cn.client.correlator.complete(rf.ID, Success(rf.Payload))
			} else {
				cn.client.correlator.complete(rf.ID, FailureShape(rf.Error))
			}
		case protocol.FrameTypeEvent:
			cn.client.bus.dispatch(frame.Event.Event, frame.Event.Payload)
		}
	}
}

// send transmits one frame on the live socket. Writers are serialized; a nil
// socket reports not-connected so the caller can surface a structured
// failure.
func (cn *connection) send(data []byte) error {
	cn.mu.Lock()
	ws := cn.ws
	cn.mu.Unlock()
	if ws == nil {
		return errors.New("not connected")
	}
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

// teardown handles a socket-level failure. Only the first caller for a given
// socket wins; a reconnect that already replaced the socket makes this a
// no-op.
func (cn *connection) teardown(ws *websocket.Conn, cause error) {
	cn.mu.Lock()
	if cn.ws != ws {
		cn.mu.Unlock()
		return
	}
	cn.ws = nil
	cn.mu.Unlock()
	_ = ws.Close()
	log.Warn().Str("component", "gateway").Err(cause).Msg("gateway connection lost")
	cn.dropped()
}

// dropped runs the shared disconnect path: mark closed, fail every pending
// call so none hangs, then schedule the next attempt per the backoff
// schedule.
func (cn *connection) dropped() {
	cn.client.state.Set(StateClosed)
	cn.client.correlator.failAll(protocol.NewError(protocol.ErrCodeTransportLost, "connection lost"))

	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	delay := cn.backoff.Next()
	cn.timer = time.AfterFunc(delay, func() {
		cn.mu.Lock()
		if cn.closed || cn.dialing || cn.ws != nil {
			cn.mu.Unlock()
			return
		}
		cn.dialing = true
		cn.mu.Unlock()
		cn.dial()
	})
	cn.mu.Unlock()
	log.Info().Str("component", "gateway").Dur("delay", delay).Msg("reconnect scheduled")
}

func (cn *connection) shutdown() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	if cn.timer != nil {
		cn.timer.Stop()
		cn.timer = nil
	}
	ws := cn.ws
	cn.ws = nil
	cn.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	cn.client.state.Set(StateClosed)
	cn.client.correlator.failAll(protocol.NewError(protocol.ErrCodeTransportLost, "client closed"))
}
