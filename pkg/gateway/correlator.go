package gateway

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

// pendingRequest tracks one in-flight RPC until its response frame arrives or
// the transport fails.
type pendingRequest struct {
	id        string
	method    string
	done      chan Outcome
	createdAt time.Time
}

// correlator matches response frames to in-flight requests by id. Ids come
// from a monotonic counter and are consumed exactly once: a request is
// resolved by its response, discarded by its caller, or failed en masse on
// disconnect.
type correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[string]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{pending: map[string]*pendingRequest{}}
}

// register allocates the next request id and tracks a pending entry under it.
func (c *correlator) register(method string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	p := &pendingRequest{
		id:        strconv.FormatUint(c.nextID, 10),
		method:    method,
		done:      make(chan Outcome, 1),
		createdAt: time.Now(),
	}
	c.pending[p.id] = p
	return p
}

// complete resolves the pending request registered under id. A response whose
// id is unknown (already discarded or failed) is dropped silently.
func (c *correlator) complete(id string, o Outcome) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("component", "gateway").Str("req_id", id).Msg("dropping response for unknown request id")
		return
	}
	p.done <- o
}

// discard removes a pending entry without resolving it; its eventual response
// will be dropped by complete.
func (c *correlator) discard(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll resolves every pending request with a transport-failure outcome.
// Called by the connection manager whenever the connection drops so no call
// hangs across a reconnect.
func (c *correlator) failAll(shape *protocol.ErrorShape) {
	c.mu.Lock()
	drained := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		drained = append(drained, p)
	}
	c.pending = map[string]*pendingRequest{}
	c.mu.Unlock()

	for _, p := range drained {
		p.done <- FailureShape(shape)
	}
	if len(drained) > 0 {
		log.Warn().Str("component", "gateway").Int("count", len(drained)).Msg("failed pending calls on transport loss")
	}
}

func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
