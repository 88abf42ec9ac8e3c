// Package app is the composition root for the moltis client core. It owns
// the gateway client, the session store, and the history reconciler, and
// exposes the narrow surface UI layers consume: Call, On, SwitchSession,
// FetchSessions, and read-only session/usage state. All cross-component
// wiring lives here; the components themselves never reach for globals.
package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zhubby/moltis-sub001/pkg/gateway"
	"github.com/zhubby/moltis-sub001/pkg/observe"
	"github.com/zhubby/moltis-sub001/pkg/protocol"
	"github.com/zhubby/moltis-sub001/pkg/session"
)

// App wires the client core together.
type App struct {
	gw         *gateway.Client
	store      *session.Store
	usage      *session.UsageAccumulator
	reconciler *session.Reconciler
}

// New builds the core around cfg and the renderer the UI provides. Start
// must be called to open the connection.
func New(cfg gateway.Config, renderer session.Renderer) (*App, error) {
	gw, err := gateway.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	usage := session.NewUsageAccumulator()
	store := session.NewStore(gw)
	reconciler := session.NewReconciler(gw, renderer, usage)

	a := &App{gw: gw, store: store, usage: usage, reconciler: reconciler}
	gw.On(protocol.TopicChat, reconciler.HandleChatEvent)
	gw.ConnState().Subscribe(a.onConnState)
	return a, nil
}

// Start opens the gateway connection; reconnects are automatic from here.
func (a *App) Start() { a.gw.Start() }

// Close tears everything down.
func (a *App) Close() { a.gw.Close() }

// onConnState re-syncs after every reconnect: the session list is re-fetched
// and the active session re-switched. Replay dedup makes the re-switch safe
// against push events delivered in the meantime.
func (a *App) onConnState(s gateway.ConnState) {
	if s != gateway.StateOpen {
		return
	}
	target := a.reconciler.Target()
	go func() {
		ctx := context.Background()
		if _, err := a.store.Fetch(ctx); err != nil {
			log.Warn().Str("component", "app").Err(err).Msg("session re-fetch after reconnect failed")
		}
		if target == "" {
			return
		}
		if err := a.SwitchSession(ctx, target); err != nil {
			log.Warn().Str("component", "app").Err(err).Str("key", target).Msg("session re-switch after reconnect failed")
		}
	}()
}

// Call passes a domain RPC through the correlator opaquely.
func (a *App) Call(ctx context.Context, method string, params any) gateway.Outcome {
	return a.gw.Call(ctx, method, params)
}

// On subscribes to a push-event topic.
func (a *App) On(topic string, handler gateway.EventHandler) func() {
	return a.gw.On(topic, handler)
}

// ConnState exposes the connection lifecycle read-only.
func (a *App) ConnState() *observe.Value[gateway.ConnState] { return a.gw.ConnState() }

// Sessions exposes the session cache.
func (a *App) Sessions() *session.Store { return a.store }

// Usage exposes the active session's token totals read-only.
func (a *App) Usage() *session.UsageAccumulator { return a.usage }

// Reconciler exposes the history reconciliation state machine.
func (a *App) Reconciler() *session.Reconciler { return a.reconciler }

// FetchSessions refreshes the session cache with one RPC.
func (a *App) FetchSessions(ctx context.Context) ([]session.Session, error) {
	return a.store.Fetch(ctx)
}

// SwitchSession makes key the active session: it updates the store pointer
// and runs the replay/reconcile state machine. A superseded switch is not an
// error to the caller.
func (a *App) SwitchSession(ctx context.Context, key string) error {
	a.store.ActiveKey().Set(key)
	err := a.reconciler.Switch(ctx, key)
	if err == session.ErrSwitchSuperseded {
		return nil
	}
	return err
}

// DeleteSession deletes key and, when it was the active session, switches to
// the deterministic fallback.
func (a *App) DeleteSession(ctx context.Context, key string) error {
	wasActive := a.store.ActiveKey().Get() == key
	fallback, err := a.store.Delete(ctx, key)
	if err != nil {
		return err
	}
	if wasActive {
		return a.SwitchSession(ctx, fallback)
	}
	return nil
}

// SendMessage composes a user message on the active session with the next
// outbound sequence number. The assistant reply arrives as a chat push
// event; the returned outcome only acknowledges acceptance.
func (a *App) SendMessage(ctx context.Context, text string) gateway.Outcome {
	params := map[string]any{
		"key":  a.reconciler.Target(),
		"text": text,
		"seq":  a.reconciler.AllocSeq(),
	}
	return a.gw.Call(ctx, protocol.MethodChatSend, params)
}

// ContextWindow fetches the model's context-window size for the active
// session, for the usage percentage display.
func (a *App) ContextWindow(ctx context.Context) (int, error) {
	o := a.gw.Call(ctx, protocol.MethodChatContext, map[string]any{"key": a.reconciler.Target()})
	var payload struct {
		WindowSize int `json:"windowSize"`
	}
	if err := o.Decode(&payload); err != nil {
		return 0, err
	}
	return payload.WindowSize, nil
}
