package observe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueGetSet(t *testing.T) {
	v := NewValue(3)
	require.Equal(t, 3, v.Get())
	v.Set(7)
	require.Equal(t, 7, v.Get())
}

func TestValueNotifiesInRegistrationOrder(t *testing.T) {
	v := NewValue("")
	var order []string
	v.Subscribe(func(s string) { order = append(order, "a:"+s) })
	v.Subscribe(func(s string) { order = append(order, "b:"+s) })
	v.Set("x")
	require.Equal(t, []string{"a:x", "b:x"}, order)
}

func TestValueCancelStopsDelivery(t *testing.T) {
	v := NewValue(0)
	calls := 0
	cancel := v.Subscribe(func(int) { calls++ })
	v.Set(1)
	cancel()
	cancel() // second cancel is a no-op
	v.Set(2)
	require.Equal(t, 1, calls)
}

func TestValueMidNotifySubscribeDoesNotJoinCurrentPass(t *testing.T) {
	v := NewValue(0)
	lateCalls := 0
	v.Subscribe(func(n int) {
		if n == 1 {
			v.Subscribe(func(int) { lateCalls++ })
		}
	})
	v.Set(1)
	require.Equal(t, 0, lateCalls)
	v.Set(2)
	require.Equal(t, 1, lateCalls)
}
