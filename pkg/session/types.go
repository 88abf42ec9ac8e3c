// Package session holds the client-side session cache, the tree derivation
// for forked sessions, and the history reconciler that keeps a multi-session
// chat view consistent across reconnects, switches, and live push events.
package session

import "encoding/json"

// MainKey is the reserved key of the default session. Prefix conventions on
// other keys denote origin: cron-, channel-bound, or fork-derived keys.
const MainKey = "main"

// Session mirrors one gateway session entry. The list and key index are
// replaced wholesale on every fetch; entries are plain values, never linked
// to each other by pointer.
type Session struct {
	ID               string `json:"id,omitempty"`
	Key              string `json:"key"`
	Label            string `json:"label,omitempty"`
	Model            string `json:"model,omitempty"`
	CreatedAt        int64  `json:"createdAt,omitempty"`
	UpdatedAt        int64  `json:"updatedAt,omitempty"`
	MessageCount     int    `json:"messageCount,omitempty"`
	ProjectID        string `json:"projectId,omitempty"`
	Archived         bool   `json:"archived,omitempty"`
	WorktreeBranch   string `json:"worktreeBranch,omitempty"`
	SandboxEnabled   *bool  `json:"sandboxEnabled,omitempty"`
	SandboxImage     string `json:"sandboxImage,omitempty"`
	ChannelBinding   string `json:"channelBinding,omitempty"`
	ActiveChannel    bool   `json:"activeChannel,omitempty"`
	ParentSessionKey string `json:"parentSessionKey,omitempty"`
	ForkPoint        *int   `json:"forkPoint,omitempty"`
	Preview          string `json:"preview,omitempty"`
	Version          uint64 `json:"version,omitempty"`
}

// Role of a chat message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
	RoleSystem     Role = "system"
)

// Message is one history entry. Seq is the per-session monotonic sequence
// assigned by the client to user messages; assistant replies echo the seq of
// the user message they answer.
type Message struct {
	Role         Role            `json:"role"`
	Content      string          `json:"content"`
	CreatedAt    int64           `json:"createdAt,omitempty"`
	Seq          uint64          `json:"seq,omitempty"`
	Model        string          `json:"model,omitempty"`
	InputTokens  int             `json:"inputTokens,omitempty"`
	OutputTokens int             `json:"outputTokens,omitempty"`
	Audio        string          `json:"audio,omitempty"`
	Channel      json.RawMessage `json:"channel,omitempty"`
}

// ResolveResult is the payload of a sessions.resolve call: the session entry
// plus its full UI-visible history.
type ResolveResult struct {
	Entry   Session   `json:"entry"`
	History []Message `json:"history"`
}

// ChatEvent is the payload of a "chat" push frame. Events that carry a
// message and its history index participate in watermark reconciliation;
// delta events only feed the streaming buffer.
type ChatEvent struct {
	SessionKey   string   `json:"sessionKey"`
	State        string   `json:"state,omitempty"`
	HistoryIndex *int     `json:"historyIndex,omitempty"`
	Message      *Message `json:"message,omitempty"`
	Text         string   `json:"text,omitempty"`
}

// Chat event states emitted by the gateway.
const (
	ChatStateDelta       = "delta"
	ChatStateFinal       = "final"
	ChatStateChannelUser = "channel_user"
	ChatStateError       = "error"
)
