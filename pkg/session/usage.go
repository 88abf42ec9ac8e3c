package session

import (
	"sync"

	"github.com/zhubby/moltis-sub001/pkg/observe"
)

// Usage is the running token total for the active session.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// UsageAccumulator tracks token usage for the active session only. Totals are
// monotonically non-decreasing within one active-session lifetime; a session
// switch resets them to zero. Each assistant message is counted exactly once
// as it is rendered, whether it came from replay or live push.
type UsageAccumulator struct {
	mu    sync.Mutex
	total Usage
	value *observe.Value[Usage]
}

func NewUsageAccumulator() *UsageAccumulator {
	return &UsageAccumulator{value: observe.NewValue(Usage{})}
}

// AddMessage accumulates token counts from a rendered message. Only
// assistant messages carry usage.
func (u *UsageAccumulator) AddMessage(msg Message) {
	if msg.Role != RoleAssistant {
		return
	}
	u.mu.Lock()
	u.total.InputTokens += msg.InputTokens
	u.total.OutputTokens += msg.OutputTokens
	snapshot := u.total
	u.mu.Unlock()
	u.value.Set(snapshot)
}

// Reset zeroes the totals. Called on every session switch.
func (u *UsageAccumulator) Reset() {
	u.mu.Lock()
	u.total = Usage{}
	u.mu.Unlock()
	u.value.Set(Usage{})
}

// Snapshot returns the current totals.
func (u *UsageAccumulator) Snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// Observe exposes the totals read-only for usage-bar display.
func (u *UsageAccumulator) Observe() *observe.Value[Usage] {
	return u.value
}

// ContextPercent reports total usage as a percentage of the model's context
// window, clamped to [0,100]. The window size comes from a separate
// chat.context fetch.
func (u *UsageAccumulator) ContextPercent(windowSize int) float64 {
	if windowSize <= 0 {
		return 0
	}
	s := u.Snapshot()
	pct := float64(s.InputTokens+s.OutputTokens) / float64(windowSize) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
