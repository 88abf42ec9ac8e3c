package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhubby/moltis-sub001/pkg/gateway"
	"github.com/zhubby/moltis-sub001/pkg/observe"
	"github.com/zhubby/moltis-sub001/pkg/protocol"
)

// Caller is the RPC surface the session layer needs from the gateway client.
type Caller interface {
	Call(ctx context.Context, method string, params any) gateway.Outcome
}

// Store is the authoritative client-side cache of sessions. Every fetch
// replaces the ordered list and the key index wholesale; patch/delete/fork
// invalidate and re-fetch instead of merging optimistically, because
// server-side side effects (worktree teardown among them) can diverge from a
// locally guessed state.
type Store struct {
	caller Caller

	mu      sync.Mutex
	ordered []Session
	byKey   map[string]int

	active *observe.Value[string]
}

func NewStore(caller Caller) *Store {
	return &Store{
		caller: caller,
		byKey:  map[string]int{},
		active: observe.NewValue(MainKey),
	}
}

// Fetch performs one sessions.list round-trip and replaces the local cache.
func (s *Store) Fetch(ctx context.Context) ([]Session, error) {
	o := s.caller.Call(ctx, protocol.MethodSessionsList, nil)
	var list []Session
	if err := o.Decode(&list); err != nil {
		return nil, err
	}
	s.replace(list)
	return list, nil
}

func (s *Store) replace(list []Session) {
	byKey := make(map[string]int, len(list))
	for i, entry := range list {
		byKey[entry.Key] = i
	}
	s.mu.Lock()
	s.ordered = list
	s.byKey = byKey
	s.mu.Unlock()
}

// List returns the cached list in server order.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Tree returns the cached list in render order with depths.
func (s *Store) Tree() []TreeNode {
	return BuildTree(s.List())
}

// Get looks a session up by key.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byKey[key]
	if !ok {
		return Session{}, false
	}
	return s.ordered[i], true
}

// ActiveKey exposes the active-session pointer. Exactly one session is
// active at any time.
func (s *Store) ActiveKey() *observe.Value[string] {
	return s.active
}

// Patch applies fields to a session server-side, then re-fetches the list.
func (s *Store) Patch(ctx context.Context, key string, fields map[string]any) error {
	params := map[string]any{"key": key}
	for k, v := range fields {
		params[k] = v
	}
	o := s.caller.Call(ctx, protocol.MethodSessionsPatch, params)
	if err := o.Decode(&struct{}{}); err != nil {
		return err
	}
	_, err := s.Fetch(ctx)
	return err
}

// Fork creates a child session derived from key's history, then re-fetches.
// It returns the new session key.
func (s *Store) Fork(ctx context.Context, key, label string) (string, error) {
	o := s.caller.Call(ctx, protocol.MethodSessionsFork, map[string]any{"key": key, "label": label})
	var payload struct {
		Key string `json:"key"`
	}
	if err := o.Decode(&payload); err != nil {
		return "", err
	}
	if _, err := s.Fetch(ctx); err != nil {
		return "", err
	}
	return payload.Key, nil
}

// Delete removes a session server-side, re-fetches the list, and returns the
// key that should become active if the deleted session was active. Fallback
// order: the deleted session's parent if still present, the next session in
// list order, the previous one, and finally "main" when the list is empty.
func (s *Store) Delete(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	idx, known := s.byKey[key]
	var parent, next, prev string
	if known {
		parent = s.ordered[idx].ParentSessionKey
		if idx+1 < len(s.ordered) {
			next = s.ordered[idx+1].Key
		}
		if idx > 0 {
			prev = s.ordered[idx-1].Key
		}
	}
	s.mu.Unlock()

	o := s.caller.Call(ctx, protocol.MethodSessionsDelete, map[string]any{"key": key})
	if err := o.Decode(&struct{}{}); err != nil {
		return "", err
	}
	if _, err := s.Fetch(ctx); err != nil {
		return "", err
	}

	fallback := MainKey
	s.mu.Lock()
	for _, candidate := range []string{parent, next, prev} {
		if candidate == "" {
			continue
		}
		if _, ok := s.byKey[candidate]; ok {
			fallback = candidate
			break
		}
	}
	s.mu.Unlock()
	log.Debug().Str("component", "session").Str("deleted", key).Str("fallback", fallback).Msg("active-session fallback selected")
	return fallback, nil
}
