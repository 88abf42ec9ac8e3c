// Package gatewaysim is an in-process moltis gateway used by integration
// tests and the demo command. It speaks the real wire protocol over a
// websocket endpoint: request frames dispatch to registered method handlers,
// and push events flow through a watermill pub/sub whose subscriber forwards
// event frames to every connected client.
package gatewaysim

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

const eventsTopic = "gateway.events"

// HandlerFunc serves one RPC method. A non-nil error shape produces a failed
// response frame.
type HandlerFunc func(params json.RawMessage) (any, *protocol.ErrorShape)

// Server is the simulator. Register handlers, mount it on an HTTP server,
// and publish push events; clients connect with the real gateway client.
type Server struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	conns    map[*websocket.Conn]*sync.Mutex
	seq      uint64

	pubsub *gochannel.GoChannel
	cancel context.CancelFunc
	group  *errgroup.Group
}

func New() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		handlers: map[string]HandlerFunc{},
		conns:    map[*websocket.Conn]*sync.Mutex{},
		pubsub:   gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)

	events, err := s.pubsub.Subscribe(ctx, eventsTopic)
	if err != nil {
		// gochannel subscribe only fails once the pubsub is closed.
		panic(errors.Wrap(err, "subscribing simulator event topic"))
	}
	s.group.Go(func() error {
		s.forward(events)
		return nil
	})
	return s
}

// Close stops the forwarder and drops every connection.
func (s *Server) Close() {
	s.cancel()
	_ = s.pubsub.Close()
	_ = s.group.Wait()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = map[*websocket.Conn]*sync.Mutex{}
	s.mu.Unlock()
}

// Handle registers fn for an RPC method name.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
}

// Publish fans a push event out to every connected client through the
// pub/sub.
func (s *Server) Publish(topic string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Str("component", "gatewaysim").Err(err).Msg("dropping unmarshalable event payload")
		return
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	frame, err := json.Marshal(protocol.EventFrame{
		Type:    protocol.FrameTypeEvent,
		Event:   topic,
		Payload: b,
		Seq:     &seq,
	})
	if err != nil {
		return
	}
	if err := s.pubsub.Publish(eventsTopic, message.NewMessage(watermill.NewUUID(), frame)); err != nil {
		log.Warn().Str("component", "gatewaysim").Err(err).Msg("event publish failed")
	}
}

// forward is the pub/sub subscriber loop: each published frame is written to
// every live connection.
func (s *Server) forward(events <-chan *message.Message) {
	for msg := range events {
		s.mu.Lock()
		targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
		for conn, mu := range s.conns {
			targets[conn] = mu
		}
		s.mu.Unlock()
		for conn, mu := range targets {
			mu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, msg.Payload)
			mu.Unlock()
			if err != nil {
				s.drop(conn)
			}
		}
		msg.Ack()
	}
}

// ServeHTTP upgrades the request and runs the per-connection read loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = writeMu
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.drop(conn)
			return
		}
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil || req.Type != protocol.FrameTypeRequest || req.ID == "" {
			log.Warn().Str("component", "gatewaysim").Msg("ignoring malformed request frame")
			continue
		}
		resp := s.dispatch(req)
		b, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, b)
		writeMu.Unlock()
		if err != nil {
			s.drop(conn)
			return
		}
	}
}

func (s *Server) dispatch(req protocol.RequestFrame) protocol.ResponseFrame {
	s.mu.Lock()
	fn, ok := s.handlers[req.Method]
	s.mu.Unlock()
	if !ok {
		return protocol.ResponseFrame{
			Type:  protocol.FrameTypeResponse,
			ID:    req.ID,
			Error: protocol.NewError(protocol.ErrCodeInvalidRequest, "unknown method "+req.Method),
		}
	}
	payload, shape := fn(req.Params)
	if shape != nil {
		return protocol.ResponseFrame{Type: protocol.FrameTypeResponse, ID: req.ID, Error: shape}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return protocol.ResponseFrame{
			Type:  protocol.FrameTypeResponse,
			ID:    req.ID,
			Error: protocol.NewError(protocol.ErrCodeUnavailable, err.Error()),
		}
	}
	return protocol.ResponseFrame{Type: protocol.FrameTypeResponse, ID: req.ID, OK: true, Payload: b}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// DropConnections closes every live connection without stopping the
// simulator, emulating a transport blip clients must recover from.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = map[*websocket.Conn]*sync.Mutex{}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// ConnCount reports live connections, for tests.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
