// Package observe provides a small observable state holder used to expose
// core state (connection status, active session, usage totals) to UI layers
// without tying the core to any reactivity framework.
package observe

import "sync"

// Value holds a single piece of state and a listener list invoked on every
// mutation. Listeners run in registration order against a snapshot taken
// before notification begins, so subscribing or cancelling from inside a
// listener does not affect the in-flight notification pass.
type Value[T any] struct {
	mu        sync.Mutex
	current   T
	listeners []*listener[T]
}

type listener[T any] struct {
	fn func(T)
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores the new state and notifies subscribers.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	v.current = next
	snapshot := make([]*listener[T], len(v.listeners))
	copy(snapshot, v.listeners)
	v.mu.Unlock()

	for _, l := range snapshot {
		l.fn(next)
	}
}

// Subscribe registers fn and returns a cancel func. Cancelling twice is a
// no-op.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	l := &listener[T]{fn: fn}
	v.mu.Lock()
	v.listeners = append(v.listeners, l)
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			for i, cur := range v.listeners {
				if cur == l {
					v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
					break
				}
			}
			v.mu.Unlock()
		})
	}
}
