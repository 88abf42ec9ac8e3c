package gatewaysim

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhubby/moltis-sub001/pkg/protocol"
	"github.com/zhubby/moltis-sub001/pkg/session"
)

// Fixtures backs the default method handlers with an in-memory session
// store, so the simulator behaves like a small real gateway: sessions can be
// listed, resolved, patched, forked, and deleted, and chat.send produces an
// echoed assistant reply plus the matching chat push events.
type Fixtures struct {
	srv *Server

	mu         sync.Mutex
	ordered    []session.Session
	histories  map[string][]session.Message
	forkSerial int
	oauthPolls map[string]int
}

// InstallFixtures seeds the simulator with a "main" session and registers
// handlers for the core methods.
func InstallFixtures(s *Server) *Fixtures {
	f := &Fixtures{
		srv:        s,
		histories:  map[string][]session.Message{},
		oauthPolls: map[string]int{},
	}
	f.ensureLocked(session.MainKey)

	s.Handle(protocol.MethodSessionsList, f.handleList)
	s.Handle(protocol.MethodSessionsResolve, f.handleResolve)
	s.Handle(protocol.MethodSessionsPatch, f.handlePatch)
	s.Handle(protocol.MethodSessionsDelete, f.handleDelete)
	s.Handle(protocol.MethodSessionsFork, f.handleFork)
	s.Handle(protocol.MethodChatSend, f.handleChatSend)
	s.Handle(protocol.MethodChatAbort, f.handleChatAbort)
	s.Handle(protocol.MethodChatHistory, f.handleChatHistory)
	s.Handle(protocol.MethodChatContext, f.handleChatContext)
	s.Handle(protocol.MethodOAuthStart, f.handleOAuthStart)
	s.Handle(protocol.MethodOAuthStatus, f.handleOAuthStatus)
	return f
}

// Seed adds a session with a prebuilt history.
func (f *Fixtures) Seed(entry session.Session, history []session.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ordered = append(f.ordered, entry)
	f.histories[entry.Key] = history
}

func (f *Fixtures) ensureLocked(key string) *session.Session {
	for i := range f.ordered {
		if f.ordered[i].Key == key {
			return &f.ordered[i]
		}
	}
	f.ordered = append(f.ordered, session.Session{
		ID:        uuid.NewString(),
		Key:       key,
		UpdatedAt: time.Now().UnixMilli(),
	})
	return &f.ordered[len(f.ordered)-1]
}

func keyParam(params json.RawMessage) (string, *protocol.ErrorShape) {
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return "", protocol.NewError(protocol.ErrCodeInvalidRequest, "missing 'key' parameter")
	}
	return p.Key, nil
}

func (f *Fixtures) handleList(json.RawMessage) (any, *protocol.ErrorShape) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Session, len(f.ordered))
	copy(out, f.ordered)
	return out, nil
}

func (f *Fixtures) handleResolve(params json.RawMessage) (any, *protocol.ErrorShape) {
	key, shape := keyParam(params)
	if shape != nil {
		return nil, shape
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.ensureLocked(key)
	history := make([]session.Message, len(f.histories[key]))
	copy(history, f.histories[key])
	return session.ResolveResult{Entry: *entry, History: history}, nil
}

func (f *Fixtures) handlePatch(params json.RawMessage) (any, *protocol.ErrorShape) {
	var p struct {
		Key   string `json:"key"`
		Label string `json:"label"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, protocol.NewError(protocol.ErrCodeInvalidRequest, "missing 'key' parameter")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.ordered {
		if f.ordered[i].Key != p.Key {
			continue
		}
		if p.Label != "" {
			if f.ordered[i].ChannelBinding != "" {
				return nil, protocol.NewError(protocol.ErrCodeInvalidRequest, "cannot rename a channel-bound session")
			}
			f.ordered[i].Label = p.Label
		}
		if p.Model != "" {
			f.ordered[i].Model = p.Model
		}
		f.ordered[i].UpdatedAt = time.Now().UnixMilli()
		return map[string]any{"ok": true}, nil
	}
	return nil, protocol.NewError(protocol.ErrCodeInvalidRequest, fmt.Sprintf("session %q not found", p.Key))
}

func (f *Fixtures) handleDelete(params json.RawMessage) (any, *protocol.ErrorShape) {
	key, shape := keyParam(params)
	if shape != nil {
		return nil, shape
	}
	f.mu.Lock()
	kept := f.ordered[:0:0]
	for _, s := range f.ordered {
		if s.Key != key {
			kept = append(kept, s)
		}
	}
	f.ordered = kept
	delete(f.histories, key)
	f.mu.Unlock()

	f.srv.Publish(protocol.TopicSession, map[string]any{"kind": "deleted", "key": key})
	return map[string]any{"ok": true}, nil
}

func (f *Fixtures) handleFork(params json.RawMessage) (any, *protocol.ErrorShape) {
	var p struct {
		Key   string `json:"key"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, protocol.NewError(protocol.ErrCodeInvalidRequest, "missing 'key' parameter")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parent := f.ensureLocked(p.Key)
	f.forkSerial++
	forkPoint := len(f.histories[p.Key])
	child := session.Session{
		ID:               uuid.NewString(),
		Key:              fmt.Sprintf("%s-fork-%d", p.Key, f.forkSerial),
		Label:            p.Label,
		ParentSessionKey: parent.Key,
		ForkPoint:        &forkPoint,
		UpdatedAt:        time.Now().UnixMilli(),
	}
	f.ordered = append(f.ordered, child)
	f.histories[child.Key] = append([]session.Message(nil), f.histories[p.Key]...)
	return map[string]any{"key": child.Key}, nil
}

// handleChatSend appends the user message, echoes an assistant reply, and
// publishes both as chat push events carrying their history indices.
func (f *Fixtures) handleChatSend(params json.RawMessage) (any, *protocol.ErrorShape) {
	var p struct {
		Key  string `json:"key"`
		Text string `json:"text"`
		Seq  uint64 `json:"seq"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" || p.Text == "" {
		return nil, protocol.NewError(protocol.ErrCodeInvalidRequest, "missing 'key' or 'text' parameter")
	}

	f.mu.Lock()
	entry := f.ensureLocked(p.Key)
	now := time.Now().UnixMilli()
	userMsg := session.Message{Role: session.RoleUser, Content: p.Text, Seq: p.Seq, CreatedAt: now}
	userIdx := len(f.histories[p.Key])
	f.histories[p.Key] = append(f.histories[p.Key], userMsg)

	reply := session.Message{
		Role:         session.RoleAssistant,
		Content:      "echo: " + p.Text,
		Seq:          p.Seq,
		CreatedAt:    now,
		InputTokens:  len(p.Text),
		OutputTokens: len(p.Text) + 6,
	}
	replyIdx := len(f.histories[p.Key])
	f.histories[p.Key] = append(f.histories[p.Key], reply)
	entry.MessageCount = len(f.histories[p.Key])
	entry.UpdatedAt = now
	f.mu.Unlock()

	f.srv.Publish(protocol.TopicChat, session.ChatEvent{
		SessionKey:   p.Key,
		State:        session.ChatStateFinal,
		HistoryIndex: &userIdx,
		Message:      &userMsg,
	})
	f.srv.Publish(protocol.TopicChat, session.ChatEvent{
		SessionKey:   p.Key,
		State:        session.ChatStateFinal,
		HistoryIndex: &replyIdx,
		Message:      &reply,
	})
	return map[string]any{"runId": uuid.NewString()}, nil
}

// handleChatAbort acknowledges; the echo handler finishes synchronously so
// there is never a run to interrupt.
func (f *Fixtures) handleChatAbort(params json.RawMessage) (any, *protocol.ErrorShape) {
	key, shape := keyParam(params)
	if shape != nil {
		return nil, shape
	}
	f.srv.Publish(protocol.TopicChat, session.ChatEvent{SessionKey: key, State: session.ChatStateError, Text: "aborted"})
	return map[string]any{"ok": true}, nil
}

func (f *Fixtures) handleChatHistory(params json.RawMessage) (any, *protocol.ErrorShape) {
	key, shape := keyParam(params)
	if shape != nil {
		return nil, shape
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	history := make([]session.Message, len(f.histories[key]))
	copy(history, f.histories[key])
	return map[string]any{"history": history}, nil
}

func (f *Fixtures) handleChatContext(json.RawMessage) (any, *protocol.ErrorShape) {
	return map[string]any{"windowSize": 200000}, nil
}

func (f *Fixtures) handleOAuthStart(params json.RawMessage) (any, *protocol.ErrorShape) {
	flowID := uuid.NewString()
	f.mu.Lock()
	f.oauthPolls[flowID] = 0
	f.mu.Unlock()
	return map[string]any{
		"flowId":          flowID,
		"verificationUrl": "https://auth.example/device/" + flowID,
	}, nil
}

// handleOAuthStatus reports pending for the first two polls, then complete.
func (f *Fixtures) handleOAuthStatus(params json.RawMessage) (any, *protocol.ErrorShape) {
	var p struct {
		FlowID string `json:"flowId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.FlowID == "" {
		return nil, protocol.NewError(protocol.ErrCodeInvalidRequest, "missing 'flowId' parameter")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	polls, ok := f.oauthPolls[p.FlowID]
	if !ok {
		return nil, protocol.NewError(protocol.ErrCodeInvalidRequest, "unknown flow")
	}
	f.oauthPolls[p.FlowID] = polls + 1
	if polls < 2 {
		return map[string]any{"status": "pending"}, nil
	}
	return map[string]any{"status": "complete"}, nil
}
