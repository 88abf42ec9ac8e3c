package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhubby/moltis-sub001/pkg/gateway"
	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

func resolveCaller(histories map[string][]Message) callerFunc {
	return func(_ context.Context, method string, params any) gateway.Outcome {
		if method != protocol.MethodSessionsResolve {
			return okOutcome(map[string]any{})
		}
		key := params.(map[string]any)["key"].(string)
		return okOutcome(ResolveResult{
			Entry:   Session{Key: key},
			History: histories[key],
		})
	}
}

func TestSwitchReplaysHistoryAndSetsWatermark(t *testing.T) {
	history := []Message{
		userMsg("hello", 1),
		assistantMsg("hi there", 10, 20),
		userMsg("more", 2),
		assistantMsg("sure", 5, 7),
	}
	renderer := &recordingRenderer{}
	usage := NewUsageAccumulator()
	r := NewReconciler(resolveCaller(map[string][]Message{"main": history}), renderer, usage)

	require.NoError(t, r.Switch(context.Background(), "main"))

	require.Equal(t, PhaseLive, r.Phase())
	require.Equal(t, 3, r.Watermark())
	require.Equal(t, []string{"hello", "hi there", "more", "sure"}, renderer.contents())
	require.Equal(t, Usage{InputTokens: 15, OutputTokens: 27}, usage.Snapshot())
}

func TestSwitchEmptyHistoryShowsWelcome(t *testing.T) {
	renderer := &recordingRenderer{}
	r := NewReconciler(resolveCaller(map[string][]Message{}), renderer, NewUsageAccumulator())

	require.NoError(t, r.Switch(context.Background(), "fresh"))

	require.Equal(t, -1, r.Watermark())
	require.Equal(t, 1, renderer.welcomed)
	require.Empty(t, renderer.messages())
	require.Equal(t, PhaseLive, r.Phase())
}

func TestSwitchResumesOutboundSeq(t *testing.T) {
	history := []Message{
		userMsg("a", 3),
		assistantMsg("b", 0, 0),
		userMsg("c", 7),
	}
	r := NewReconciler(resolveCaller(map[string][]Message{"main": history}), &recordingRenderer{}, NewUsageAccumulator())
	require.NoError(t, r.Switch(context.Background(), "main"))

	require.EqualValues(t, 8, r.AllocSeq())
	require.EqualValues(t, 9, r.AllocSeq())
}

func TestLivePushDedupAgainstReplay(t *testing.T) {
	// N=3 replayed entries; M=2 push events whose indices span the replayed
	// range and beyond. Final rendered count must be exactly N+M... the two
	// overlapping duplicates are dropped.
	history := []Message{
		userMsg("u1", 1),
		assistantMsg("a1", 1, 1),
		userMsg("u2", 2),
	}
	renderer := &recordingRenderer{}
	usage := NewUsageAccumulator()
	r := NewReconciler(resolveCaller(map[string][]Message{"main": history}), renderer, usage)
	require.NoError(t, r.Switch(context.Background(), "main"))

	push := func(idx int, msg Message) {
		r.HandleChatEvent(chatEventJSON(ChatEvent{
			SessionKey:   "main",
			State:        ChatStateFinal,
			HistoryIndex: intPtr(idx),
			Message:      &msg,
		}))
	}
	// Duplicates of replayed history: dropped.
	push(0, userMsg("u1", 1))
	push(2, userMsg("u2", 2))
	// New content: appended.
	push(3, assistantMsg("a2", 2, 3))
	push(4, assistantMsg("a3", 1, 1))

	require.Equal(t, []string{"u1", "a1", "u2", "a2", "a3"}, renderer.contents())
	require.Equal(t, 4, r.Watermark())
	require.Equal(t, Usage{InputTokens: 4, OutputTokens: 5}, usage.Snapshot())
}

func TestWatermarkNeverDecreases(t *testing.T) {
	renderer := &recordingRenderer{}
	r := NewReconciler(resolveCaller(map[string][]Message{}), renderer, NewUsageAccumulator())
	require.NoError(t, r.Switch(context.Background(), "main"))

	indices := []int{0, 2, 1, 2, 0, 3}
	last := r.Watermark()
	for _, idx := range indices {
		msg := assistantMsg("x", 0, 0)
		r.HandleChatEvent(chatEventJSON(ChatEvent{
			SessionKey:   "main",
			HistoryIndex: intPtr(idx),
			Message:      &msg,
		}))
		require.GreaterOrEqual(t, r.Watermark(), last)
		last = r.Watermark()
	}
	require.Equal(t, 3, r.Watermark())
	// 0, 2, 3 rendered; the rest were stale.
	require.Len(t, renderer.messages(), 3)
}

func TestReswitchIsIdempotent(t *testing.T) {
	history := []Message{
		userMsg("q", 1),
		assistantMsg("a", 11, 13),
	}
	renderer := &recordingRenderer{}
	usage := NewUsageAccumulator()
	r := NewReconciler(resolveCaller(map[string][]Message{"main": history}), renderer, usage)

	require.NoError(t, r.Switch(context.Background(), "main"))
	first := renderer.contents()
	firstUsage := usage.Snapshot()

	require.NoError(t, r.Switch(context.Background(), "main"))
	require.Equal(t, first, renderer.contents())
	require.Equal(t, firstUsage, usage.Snapshot())
}

func TestStaleSwitchResultDiscarded(t *testing.T) {
	// switch("session:old") is in flight when switch("session:abc") is
	// issued; old's fetch resolves last and must be discarded wholesale.
	oldRelease := make(chan struct{})
	caller := callerFunc(func(_ context.Context, method string, params any) gateway.Outcome {
		key := params.(map[string]any)["key"].(string)
		if key == "session:old" {
			<-oldRelease
			return okOutcome(ResolveResult{History: []Message{userMsg("stale content", 1)}})
		}
		return okOutcome(ResolveResult{History: []Message{userMsg("fresh content", 1)}})
	})
	renderer := &recordingRenderer{}
	r := NewReconciler(caller, renderer, NewUsageAccumulator())

	oldDone := make(chan error, 1)
	go func() { oldDone <- r.Switch(context.Background(), "session:old") }()
	require.Eventually(t, func() bool { return r.Target() == "session:old" }, time.Second, time.Millisecond)

	require.NoError(t, r.Switch(context.Background(), "session:abc"))
	require.Equal(t, []string{"fresh content"}, renderer.contents())

	close(oldRelease)
	require.ErrorIs(t, <-oldDone, ErrSwitchSuperseded)

	// No flicker of stale data: the view still shows only session:abc.
	require.Equal(t, []string{"fresh content"}, renderer.contents())
	require.Equal(t, "session:abc", r.Target())
	require.Equal(t, 0, r.Watermark())
}

func TestEventsDuringLoadingDeferredThroughWatermark(t *testing.T) {
	release := make(chan struct{})
	caller := callerFunc(func(_ context.Context, _ string, _ any) gateway.Outcome {
		<-release
		return okOutcome(ResolveResult{History: []Message{
			userMsg("u1", 1),
			assistantMsg("a1", 1, 1),
		}})
	})
	renderer := &recordingRenderer{}
	r := NewReconciler(caller, renderer, NewUsageAccumulator())

	done := make(chan error, 1)
	go func() { done <- r.Switch(context.Background(), "main") }()
	require.Eventually(t, func() bool { return r.Phase() == PhaseLoading }, time.Second, time.Millisecond)

	// Arrives mid-fetch: index 1 duplicates the incoming history, index 2 is
	// genuinely new.
	dup := assistantMsg("a1", 1, 1)
	fresh := userMsg("u2", 2)
	r.HandleChatEvent(chatEventJSON(ChatEvent{SessionKey: "main", HistoryIndex: intPtr(1), Message: &dup}))
	r.HandleChatEvent(chatEventJSON(ChatEvent{SessionKey: "main", HistoryIndex: intPtr(2), Message: &fresh}))

	close(release)
	require.NoError(t, <-done)

	require.Equal(t, []string{"u1", "a1", "u2"}, renderer.contents())
	require.Equal(t, 2, r.Watermark())
}

func TestEventsForOtherSessionsIgnored(t *testing.T) {
	renderer := &recordingRenderer{}
	r := NewReconciler(resolveCaller(map[string][]Message{}), renderer, NewUsageAccumulator())
	require.NoError(t, r.Switch(context.Background(), "main"))

	msg := assistantMsg("belongs elsewhere", 0, 0)
	r.HandleChatEvent(chatEventJSON(ChatEvent{
		SessionKey:   "cron-nightly",
		HistoryIndex: intPtr(0),
		Message:      &msg,
	}))
	require.Empty(t, renderer.messages())
	require.Equal(t, -1, r.Watermark())
}

func TestDeltaEventsFeedStreamingBuffer(t *testing.T) {
	renderer := &recordingRenderer{}
	r := NewReconciler(resolveCaller(map[string][]Message{}), renderer, NewUsageAccumulator())
	require.NoError(t, r.Switch(context.Background(), "main"))

	r.HandleChatEvent(chatEventJSON(ChatEvent{SessionKey: "main", State: ChatStateDelta, Text: "thinking"}))
	r.HandleChatEvent(chatEventJSON(ChatEvent{SessionKey: "main", State: ChatStateDelta, Text: " harder"}))
	require.Equal(t, "thinking harder", r.StreamingText())
	require.Empty(t, renderer.messages())

	final := assistantMsg("thinking harder", 1, 2)
	r.HandleChatEvent(chatEventJSON(ChatEvent{SessionKey: "main", State: ChatStateFinal, HistoryIndex: intPtr(0), Message: &final}))
	require.Empty(t, r.StreamingText())
	require.Equal(t, []string{"thinking harder"}, renderer.contents())
}

func TestFailedSwitchReturnsToIdle(t *testing.T) {
	caller := callerFunc(func(_ context.Context, _ string, _ any) gateway.Outcome {
		return gateway.Failure(protocol.ErrCodeTransportLost, "connection lost")
	})
	r := NewReconciler(caller, &recordingRenderer{}, NewUsageAccumulator())

	err := r.Switch(context.Background(), "main")
	require.Error(t, err)
	require.Equal(t, PhaseIdle, r.Phase())
}
