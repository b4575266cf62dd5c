package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDefaults(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0, 0)
	require.Equal(t, 3, b.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, b.BaseDelay)
	require.Equal(t, 5*time.Second, b.MaxDelay)
}

func TestDelayDoublesAndStaysBounded(t *testing.T) {
	t.Parallel()

	b := NewBackoff(5, 100*time.Millisecond, time.Second)
	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second, // still capped
	}
	for attempt, exp := range expected {
		for i := 0; i < 20; i++ {
			d := b.Delay(attempt + 1)
			require.GreaterOrEqual(t, d, exp/2, "attempt %d", attempt+1)
			require.Less(t, d, exp, "attempt %d", attempt+1)
		}
	}
}

func TestDelayClampsLowAttempts(t *testing.T) {
	t.Parallel()

	b := NewBackoff(3, 100*time.Millisecond, time.Second)
	d := b.Delay(0)
	require.GreaterOrEqual(t, d, 50*time.Millisecond)
	require.Less(t, d, 100*time.Millisecond)
}
