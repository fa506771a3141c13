package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryTimerFiresOnDeadline(t *testing.T) {
	clk := newFakeClock()
	timer := NewExpiryTimer(clk.Now().Add(time.Minute),
		WithTimerClock(clk), WithResolution(time.Millisecond))
	defer timer.Stop()

	select {
	case <-timer.Expired():
		t.Fatal("fired before the deadline")
	case <-time.After(10 * time.Millisecond):
	}
	assert.Equal(t, time.Minute, timer.Remaining())

	clk.Advance(61 * time.Second)
	select {
	case <-timer.Expired():
	case <-time.After(time.Second):
		t.Fatal("never fired after the deadline passed")
	}
	assert.Equal(t, time.Duration(0), timer.Remaining())
}

func TestExpiryTimerPastDeadlineFiresImmediately(t *testing.T) {
	clk := newFakeClock()
	timer := NewExpiryTimer(clk.Now().Add(-time.Second),
		WithTimerClock(clk), WithResolution(time.Millisecond))
	defer timer.Stop()

	select {
	case <-timer.Expired():
	case <-time.After(time.Second):
		t.Fatal("deadline in the past must fire at once")
	}
}

func TestExpiryTimerStopSuppressesFire(t *testing.T) {
	clk := newFakeClock()
	timer := NewExpiryTimer(clk.Now().Add(time.Minute),
		WithTimerClock(clk), WithResolution(time.Millisecond))

	timer.Stop()
	timer.Stop() // idempotent

	select {
	case <-timer.Stopped():
	default:
		t.Fatal("Stopped channel not closed")
	}

	clk.Advance(2 * time.Minute)
	select {
	case <-timer.Expired():
		t.Fatal("stopped timer must never fire")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestExpiryTimerRemainingTracksClock(t *testing.T) {
	clk := newFakeClock()
	deadline := clk.Now().Add(5 * time.Minute)
	timer := NewExpiryTimer(deadline, WithTimerClock(clk), WithResolution(time.Hour))
	defer timer.Stop()

	require.Equal(t, deadline, timer.ExpiresAt())
	clk.Advance(2 * time.Minute)
	assert.Equal(t, 3*time.Minute, timer.Remaining())
}
