package gatewaysim

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhubby/moltis-sub001/pkg/app"
	"github.com/zhubby/moltis-sub001/pkg/authflow"
	"github.com/zhubby/moltis-sub001/pkg/gateway"
	"github.com/zhubby/moltis-sub001/pkg/session"
)

type recordingRenderer struct {
	mu       chan struct{}
	rendered []session.Message
	welcomed int
}

func newRecordingRenderer() *recordingRenderer {
	r := &recordingRenderer{mu: make(chan struct{}, 1)}
	r.mu <- struct{}{}
	return r
}

func (r *recordingRenderer) lock()   { <-r.mu }
func (r *recordingRenderer) unlock() { r.mu <- struct{}{} }

func (r *recordingRenderer) Clear() {
	r.lock()
	r.rendered = nil
	r.unlock()
}

func (r *recordingRenderer) Append(msg session.Message) {
	r.lock()
	r.rendered = append(r.rendered, msg)
	r.unlock()
}

func (r *recordingRenderer) ShowWelcome() {
	r.lock()
	r.welcomed++
	r.unlock()
}

func (r *recordingRenderer) contents() []string {
	r.lock()
	defer r.unlock()
	var out []string
	for _, m := range r.rendered {
		out = append(out, m.Content)
	}
	return out
}

func startStack(t *testing.T) (*app.App, *Server, *Fixtures, *recordingRenderer) {
	t.Helper()
	sim := New()
	fixtures := InstallFixtures(sim)
	srv := httptest.NewServer(sim)
	t.Cleanup(func() {
		srv.Close()
		sim.Close()
	})

	renderer := newRecordingRenderer()
	a, err := app.New(gateway.Config{
		URL:                   "ws" + strings.TrimPrefix(srv.URL, "http"),
		InitialReconnectDelay: 20 * time.Millisecond,
	}, renderer)
	require.NoError(t, err)
	a.Start()
	t.Cleanup(a.Close)
	require.Eventually(t, func() bool {
		return a.ConnState().Get() == gateway.StateOpen
	}, 2*time.Second, 5*time.Millisecond)
	return a, sim, fixtures, renderer
}

func TestEndToEndChatRoundTrip(t *testing.T) {
	a, _, _, renderer := startStack(t)
	ctx := context.Background()

	sessions, err := a.FetchSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, session.MainKey, sessions[0].Key)

	require.NoError(t, a.SwitchSession(ctx, session.MainKey))
	require.Equal(t, 1, renderer.welcomed)

	o := a.SendMessage(ctx, "hello gateway")
	require.True(t, o.OK)

	require.Eventually(t, func() bool {
		return len(renderer.contents()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"hello gateway", "echo: hello gateway"}, renderer.contents())
	require.Equal(t, 1, a.Reconciler().Watermark())

	usage := a.Usage().Snapshot()
	require.Equal(t, len("hello gateway"), usage.InputTokens)
	require.Equal(t, len("hello gateway")+6, usage.OutputTokens)
}

func TestReswitchAfterChatDoesNotDuplicate(t *testing.T) {
	a, _, _, renderer := startStack(t)
	ctx := context.Background()

	require.NoError(t, a.SwitchSession(ctx, session.MainKey))
	require.True(t, a.SendMessage(ctx, "one").OK)
	require.Eventually(t, func() bool { return len(renderer.contents()) == 2 }, 2*time.Second, 5*time.Millisecond)

	// Replaying the same history again must yield the identical rendered
	// sequence and identical token totals.
	before := a.Usage().Snapshot()
	require.NoError(t, a.SwitchSession(ctx, session.MainKey))
	require.Equal(t, []string{"one", "echo: one"}, renderer.contents())
	require.Equal(t, before, a.Usage().Snapshot())
}

func TestForkAndDeleteFallback(t *testing.T) {
	a, _, _, _ := startStack(t)
	ctx := context.Background()

	_, err := a.FetchSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, a.SwitchSession(ctx, session.MainKey))

	childKey, err := a.Sessions().Fork(ctx, session.MainKey, "experiment")
	require.NoError(t, err)
	require.NoError(t, a.SwitchSession(ctx, childKey))

	child, ok := a.Sessions().Get(childKey)
	require.True(t, ok)
	require.Equal(t, session.MainKey, child.ParentSessionKey)

	// Deleting the active fork falls back to its parent.
	require.NoError(t, a.DeleteSession(ctx, childKey))
	require.Equal(t, session.MainKey, a.Sessions().ActiveKey().Get())
	require.Equal(t, session.MainKey, a.Reconciler().Target())
}

func TestSeqResumesAcrossReswitch(t *testing.T) {
	a, _, fixtures, _ := startStack(t)
	ctx := context.Background()

	fixtures.Seed(session.Session{Key: "work"}, []session.Message{
		{Role: session.RoleUser, Content: "earlier", Seq: 41},
		{Role: session.RoleAssistant, Content: "earlier reply", Seq: 41},
	})

	require.NoError(t, a.SwitchSession(ctx, "work"))
	require.True(t, a.SendMessage(ctx, "later").OK)

	require.Eventually(t, func() bool {
		return a.Reconciler().Watermark() == 3
	}, 2*time.Second, 5*time.Millisecond)

	// The outbound counter resumed at 41, so "later" went out as 42.
	o := a.Call(ctx, "sessions.resolve", map[string]any{"key": "work"})
	var result session.ResolveResult
	require.NoError(t, o.Decode(&result))
	require.EqualValues(t, 42, result.History[2].Seq)
}

func TestAuthFlowAgainstSimulator(t *testing.T) {
	a, _, _, _ := startStack(t)

	flow := authflow.New(a, "anthropic",
		authflow.WithPollInterval(time.Millisecond),
	)
	var url string
	res := flow.Run(context.Background(), func(u string) { url = u })
	require.Equal(t, authflow.StateCompleted, res.State)
	require.Contains(t, url, "https://auth.example/device/")
}

func TestClientResyncsAfterConnectionDrop(t *testing.T) {
	a, sim, _, renderer := startStack(t)
	ctx := context.Background()

	require.NoError(t, a.SwitchSession(ctx, session.MainKey))
	require.True(t, a.SendMessage(ctx, "before drop").OK)
	require.Eventually(t, func() bool { return len(renderer.contents()) == 2 }, 2*time.Second, 5*time.Millisecond)

	// Kill the transport out from under the client. It reconnects on its
	// own and re-switches the active session; the replay must render the
	// history exactly once, with usage totals identical to before.
	usageBefore := a.Usage().Snapshot()
	sim.DropConnections()

	require.Eventually(t, func() bool {
		if a.ConnState().Get() != gateway.StateOpen {
			return false
		}
		got := renderer.contents()
		return len(got) == 2 && got[0] == "before drop"
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"before drop", "echo: before drop"}, renderer.contents())
	require.Equal(t, usageBefore, a.Usage().Snapshot())
	require.Equal(t, 1, a.Reconciler().Watermark())

	// The resumed connection still carries live traffic.
	require.True(t, a.SendMessage(ctx, "after drop").OK)
	require.Eventually(t, func() bool { return len(renderer.contents()) == 4 }, 2*time.Second, 5*time.Millisecond)
}
