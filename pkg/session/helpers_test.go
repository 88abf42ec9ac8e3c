package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/zhubby/moltis-sub001/pkg/gateway"
)

// callerFunc adapts a func to the Caller interface.
type callerFunc func(ctx context.Context, method string, params any) gateway.Outcome

func (f callerFunc) Call(ctx context.Context, method string, params any) gateway.Outcome {
	return f(ctx, method, params)
}

func okOutcome(v any) gateway.Outcome {
	b, _ := json.Marshal(v)
	return gateway.Success(b)
}

// recordingRenderer captures everything the reconciler renders.
type recordingRenderer struct {
	mu       sync.Mutex
	rendered []Message
	cleared  int
	welcomed int
}

func (r *recordingRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = nil
	r.cleared++
}

func (r *recordingRenderer) Append(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, msg)
}

func (r *recordingRenderer) ShowWelcome() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.welcomed++
}

func (r *recordingRenderer) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.rendered))
	copy(out, r.rendered)
	return out
}

func (r *recordingRenderer) contents() []string {
	var out []string
	for _, m := range r.messages() {
		out = append(out, m.Content)
	}
	return out
}

func intPtr(i int) *int { return &i }

func userMsg(content string, seq uint64) Message {
	return Message{Role: RoleUser, Content: content, Seq: seq}
}

func assistantMsg(content string, in, out int) Message {
	return Message{Role: RoleAssistant, Content: content, InputTokens: in, OutputTokens: out}
}

func chatEventJSON(ev ChatEvent) json.RawMessage {
	b, _ := json.Marshal(ev)
	return b
}
