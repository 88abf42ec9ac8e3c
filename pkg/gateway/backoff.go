package gateway

import "time"

// reconnectDelay implements the multiplicative backoff policy for reconnect
// scheduling: each failed attempt waits the current delay, then the delay
// grows by factor up to max. A successful open resets it to the initial
// value.
type reconnectDelay struct {
	initial time.Duration
	factor  float64
	max     time.Duration
	current time.Duration
}

func newReconnectDelay(initial time.Duration, factor float64, max time.Duration) *reconnectDelay {
	if initial <= 0 {
		initial = time.Second
	}
	if factor < 1 {
		factor = 2
	}
	if max < initial {
		max = initial
	}
	return &reconnectDelay{initial: initial, factor: factor, max: max, current: initial}
}

// Next returns the delay to wait before the upcoming attempt and advances the
// schedule.
func (d *reconnectDelay) Next() time.Duration {
	delay := d.current
	grown := time.Duration(float64(d.current) * d.factor)
	if grown > d.max {
		grown = d.max
	}
	d.current = grown
	return delay
}

// Reset restores the initial delay. Called on every successful open.
func (d *reconnectDelay) Reset() {
	d.current = d.initial
}
