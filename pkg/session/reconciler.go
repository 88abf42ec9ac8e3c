package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

// Phase of the per-switch reconciliation state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReplaying
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReplaying:
		return "replaying"
	case PhaseLive:
		return "live"
	default:
		return "idle"
	}
}

// Renderer is the view surface the reconciler drives. Implementations render
// messages by role; they are never handed the same message twice.
type Renderer interface {
	Clear()
	Append(msg Message)
	ShowWelcome()
}

// ErrSwitchSuperseded reports that a switch's history fetch resolved after a
// newer switch took over. The stale result has been discarded; callers
// normally ignore this error.
var ErrSwitchSuperseded = errors.New("session switch superseded")

// Reconciler replays fetched history and deduplicates it against live push
// events so each message renders exactly once, with no delivery or ordering
// guarantee from the transport. The watermark is the highest history index
// already rendered for the active session; push events at or below it are
// duplicates of replayed history and are dropped.
type Reconciler struct {
	caller   Caller
	renderer Renderer
	usage    *UsageAccumulator

	mu        sync.Mutex
	phase     Phase
	target    string
	epoch     uint64
	watermark int
	nextSeq   uint64
	streamBuf strings.Builder
	deferred  []ChatEvent
}

func NewReconciler(caller Caller, renderer Renderer, usage *UsageAccumulator) *Reconciler {
	return &Reconciler{
		caller:    caller,
		renderer:  renderer,
		usage:     usage,
		watermark: -1,
	}
}

// Switch makes key the active target and replays its history. It clears all
// transient state up front, fetches {entry, history} with one RPC, and —
// before touching the view — re-checks that no newer switch has taken over
// while the fetch was in flight; a superseded fetch is discarded entirely so
// stale content never renders over a session the user already left.
//
// Switches are not queued: a new Switch pre-empts a prior in-flight one.
func (r *Reconciler) Switch(ctx context.Context, key string) error {
	r.mu.Lock()
	r.epoch++
	myEpoch := r.epoch
	r.target = key
	r.phase = PhaseLoading
	r.watermark = -1
	r.streamBuf.Reset()
	r.deferred = nil
	r.usage.Reset()
	r.renderer.Clear()
	r.mu.Unlock()

	o := r.caller.Call(ctx, protocol.MethodSessionsResolve, map[string]any{"key": key})
	var result ResolveResult
	decodeErr := o.Decode(&result)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != myEpoch {
		// A newer switch superseded this one while the fetch was in
		// flight; its result must not touch the view.
		log.Debug().Str("component", "session").Str("key", key).Str("current", r.target).Msg("discarding superseded history fetch")
		return ErrSwitchSuperseded
	}
	if decodeErr != nil {
		r.phase = PhaseIdle
		return decodeErr
	}

	r.phase = PhaseReplaying
	var maxSeq uint64
	for _, msg := range result.History {
		r.renderer.Append(msg)
		r.usage.AddMessage(msg)
		if msg.Role == RoleUser && msg.Seq > maxSeq {
			maxSeq = msg.Seq
		}
	}
	r.watermark = len(result.History) - 1
	if len(result.History) == 0 {
		r.renderer.ShowWelcome()
	}
	// Resume, never reset: composed messages keep a strictly increasing
	// sequence across reloads.
	r.nextSeq = maxSeq
	r.phase = PhaseLive

	// Events that arrived while the fetch was in flight now pass through
	// the watermark filter like any other live push.
	deferred := r.deferred
	r.deferred = nil
	for _, ev := range deferred {
		r.applyLiveLocked(ev)
	}
	return nil
}

// HandleChatEvent is the bus handler for "chat" push frames.
func (r *Reconciler) HandleChatEvent(payload json.RawMessage) {
	var ev ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Str("component", "session").Err(err).Msg("dropping malformed chat event")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.SessionKey != r.target {
		return
	}
	switch r.phase {
	case PhaseLoading, PhaseReplaying:
		// The replay owns the view until it finishes; park the event and
		// let the watermark decide afterwards.
		r.deferred = append(r.deferred, ev)
	case PhaseLive:
		r.applyLiveLocked(ev)
	case PhaseIdle:
		// No active session; nothing to reconcile against.
	}
}

func (r *Reconciler) applyLiveLocked(ev ChatEvent) {
	if ev.State == ChatStateDelta {
		r.streamBuf.WriteString(ev.Text)
		return
	}
	if ev.Message == nil || ev.HistoryIndex == nil {
		return
	}
	if *ev.HistoryIndex <= r.watermark {
		// Duplicate of already-rendered history.
		return
	}
	r.renderer.Append(*ev.Message)
	r.usage.AddMessage(*ev.Message)
	r.watermark = *ev.HistoryIndex
	r.streamBuf.Reset()
	if ev.Message.Role == RoleUser && ev.Message.Seq > r.nextSeq {
		r.nextSeq = ev.Message.Seq
	}
}

// AllocSeq returns the next outbound sequence number for a composed user
// message.
func (r *Reconciler) AllocSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	return r.nextSeq
}

// Target returns the current active target key.
func (r *Reconciler) Target() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Phase returns the current state-machine phase.
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Watermark returns the highest rendered history index, -1 when nothing has
// rendered for the active session.
func (r *Reconciler) Watermark() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermark
}

// StreamingText returns the partial assistant text accumulated from delta
// events since the last rendered message.
func (r *Reconciler) StreamingText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamBuf.String()
}
