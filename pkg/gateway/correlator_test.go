package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

func TestCorrelatorAssignsMonotonicIds(t *testing.T) {
	c := newCorrelator()
	first := c.register("sessions.list")
	second := c.register("sessions.resolve")
	require.Equal(t, "1", first.id)
	require.Equal(t, "2", second.id)
	require.Equal(t, 2, c.pendingCount())
}

func TestCorrelatorCompletesExactlyOnce(t *testing.T) {
	c := newCorrelator()
	p := c.register("chat.send")

	c.complete(p.id, Success(json.RawMessage(`{"seq":1}`)))
	// Duplicate response for a consumed id is dropped silently.
	c.complete(p.id, Success(json.RawMessage(`{"seq":2}`)))

	o := <-p.done
	require.True(t, o.OK)
	require.JSONEq(t, `{"seq":1}`, string(o.Payload))
	select {
	case <-p.done:
		t.Fatal("request resolved more than once")
	default:
	}
}

func TestCorrelatorUnknownIdDropped(t *testing.T) {
	c := newCorrelator()
	// Must not panic or register anything.
	c.complete("999", Success(nil))
	require.Equal(t, 0, c.pendingCount())
}

func TestCorrelatorFailAllResolvesEveryPending(t *testing.T) {
	c := newCorrelator()
	a := c.register("sessions.list")
	b := c.register("chat.history")

	c.failAll(protocol.NewError(protocol.ErrCodeTransportLost, "connection lost"))

	for _, p := range []*pendingRequest{a, b} {
		o := <-p.done
		require.False(t, o.OK)
		require.Equal(t, protocol.ErrCodeTransportLost, o.Err.Code)
	}
	require.Equal(t, 0, c.pendingCount())

	// Late responses after the mass failure are dropped.
	c.complete(a.id, Success(nil))
	select {
	case <-a.done:
		t.Fatal("request resolved after transport failure")
	default:
	}
}

func TestCorrelatorDiscardMakesResponseSilent(t *testing.T) {
	c := newCorrelator()
	p := c.register("sessions.resolve")
	c.discard(p.id)
	c.complete(p.id, Success(nil))
	select {
	case <-p.done:
		t.Fatal("discarded request must not resolve")
	default:
	}
}
