// Package authflow runs the external-authorization flow for a provider:
// start the flow, hand the verification URL to the user, poll status on a
// fixed interval with a bounded attempt budget, and surface the terminal
// state. The explicit state machine replaces what would otherwise be a
// nested callback chain, so the timeout behavior is visible and testable.
package authflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhubby/moltis-sub001/pkg/gateway"
	"github.com/zhubby/moltis-sub001/pkg/observe"
	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

// Caller is the RPC surface the flow needs.
type Caller interface {
	Call(ctx context.Context, method string, params any) gateway.Outcome
}

// State of the authorization flow.
type State int

const (
	StateIdle State = iota
	StateStarting
	StatePolling
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "idle"
	}
}

const (
	defaultPollInterval  = 2 * time.Second
	defaultAttemptBudget = 60
)

// Result is the terminal outcome of one flow run.
type Result struct {
	State           State
	VerificationURL string
	Err             *protocol.ErrorShape
}

// Flow drives one provider authorization. It is single-use.
type Flow struct {
	caller   Caller
	provider string
	interval time.Duration
	budget   int
	sleep    func(ctx context.Context, d time.Duration) error
	state    *observe.Value[State]
}

// Option tweaks a Flow, mainly for tests.
type Option func(*Flow)

// WithPollInterval overrides the 2-second status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(f *Flow) { f.interval = d }
}

// WithAttemptBudget overrides the 60-attempt budget.
func WithAttemptBudget(n int) Option {
	return func(f *Flow) { f.budget = n }
}

// WithSleeper replaces the timer so tests can run the schedule synchronously.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Flow) { f.sleep = sleep }
}

func New(caller Caller, provider string, opts ...Option) *Flow {
	f := &Flow{
		caller:   caller,
		provider: provider,
		interval: defaultPollInterval,
		budget:   defaultAttemptBudget,
		state:    observe.NewValue(StateIdle),
	}
	f.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// States exposes the flow state for UI display.
func (f *Flow) States() *observe.Value[State] { return f.state }

// Run executes the flow to a terminal state. The verification URL is
// published through onURL as soon as the gateway hands it out, before
// polling begins.
func (f *Flow) Run(ctx context.Context, onURL func(url string)) Result {
	f.state.Set(StateStarting)
	o := f.caller.Call(ctx, protocol.MethodOAuthStart, map[string]any{"provider": f.provider})
	var started struct {
		FlowID          string `json:"flowId"`
		VerificationURL string `json:"verificationUrl"`
	}
	if err := o.Decode(&started); err != nil {
		return f.fail(o)
	}
	if onURL != nil {
		onURL(started.VerificationURL)
	}

	f.state.Set(StatePolling)
	for attempt := 0; attempt < f.budget; attempt++ {
		if err := f.sleep(ctx, f.interval); err != nil {
			f.state.Set(StateFailed)
			return Result{State: StateFailed, VerificationURL: started.VerificationURL, Err: protocol.NewError("CANCELLED", err.Error())}
		}
		o := f.caller.Call(ctx, protocol.MethodOAuthStatus, map[string]any{"flowId": started.FlowID})
		var status struct {
			Status string          `json:"status"`
			Error  json.RawMessage `json:"error,omitempty"`
		}
		if err := o.Decode(&status); err != nil {
			return f.fail(o)
		}
		switch status.Status {
		case "pending":
			continue
		case "complete":
			f.state.Set(StateCompleted)
			return Result{State: StateCompleted, VerificationURL: started.VerificationURL}
		default:
			log.Warn().Str("component", "authflow").Str("provider", f.provider).Str("status", status.Status).Msg("authorization flow failed")
			f.state.Set(StateFailed)
			return Result{
				State:           StateFailed,
				VerificationURL: started.VerificationURL,
				Err:             protocol.NewError(protocol.ErrCodeUnavailable, "authorization "+status.Status),
			}
		}
	}

	f.state.Set(StateTimedOut)
	return Result{
		State:           StateTimedOut,
		VerificationURL: started.VerificationURL,
		Err:             protocol.NewError(protocol.ErrCodeAgentTimeout, "authorization not confirmed in time"),
	}
}

func (f *Flow) fail(o gateway.Outcome) Result {
	f.state.Set(StateFailed)
	shape := o.Err
	if shape == nil {
		shape = protocol.NewError(protocol.ErrCodeUnavailable, "authorization flow failed")
	}
	return Result{State: StateFailed, Err: shape}
}
