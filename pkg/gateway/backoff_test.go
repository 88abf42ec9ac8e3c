package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnectDelaySchedule(t *testing.T) {
	d := newReconnectDelay(1000*time.Millisecond, 2, 10000*time.Millisecond)

	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, d.Next())
	}
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	require.Equal(t, want, got)
}

func TestReconnectDelayResetsOnOpen(t *testing.T) {
	d := newReconnectDelay(1000*time.Millisecond, 2, 10000*time.Millisecond)
	d.Next()
	d.Next()
	d.Reset()
	require.Equal(t, 1000*time.Millisecond, d.Next())
	require.Equal(t, 2000*time.Millisecond, d.Next())
}

func TestReconnectDelayDefaults(t *testing.T) {
	d := newReconnectDelay(0, 0, 0)
	require.Equal(t, time.Second, d.Next())
	require.Equal(t, 2*time.Second, d.Next())
}
