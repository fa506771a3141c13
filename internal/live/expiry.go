package live

import (
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ExpiryTimer counts down to a server-issued absolute deadline. The deadline
// is never derived from a local duration, so the countdown stays correct
// across clock drift or a suspended process: every tick re-reads the clock.
type ExpiryTimer struct {
	expiresAt  time.Time
	clock      Clock
	resolution time.Duration

	expired  chan struct{}
	stopCh   chan struct{}
	fireOnce sync.Once
	stopOnce sync.Once
}

// TimerOption configures an ExpiryTimer.
type TimerOption func(*ExpiryTimer)

// WithTimerClock overrides the wall clock.
func WithTimerClock(c Clock) TimerOption {
	return func(t *ExpiryTimer) { t.clock = c }
}

// WithResolution overrides the 1-second countdown resolution.
func WithResolution(d time.Duration) TimerOption {
	return func(t *ExpiryTimer) {
		if d > 0 {
			t.resolution = d
		}
	}
}

// NewExpiryTimer starts a countdown to expiresAt.
func NewExpiryTimer(expiresAt time.Time, opts ...TimerOption) *ExpiryTimer {
	t := &ExpiryTimer{
		expiresAt:  expiresAt,
		clock:      realClock{},
		resolution: time.Second,
		expired:    make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run()
	return t
}

func (t *ExpiryTimer) run() {
	if !t.clock.Now().Before(t.expiresAt) {
		t.fire()
		return
	}

	ticker := time.NewTicker(t.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			if !t.clock.Now().Before(t.expiresAt) {
				t.fire()
				return
			}
		}
	}
}

// Expired is closed exactly once when the deadline passes.
func (t *ExpiryTimer) Expired() <-chan struct{} {
	return t.expired
}

// Stopped is closed when the timer is cancelled.
func (t *ExpiryTimer) Stopped() <-chan struct{} {
	return t.stopCh
}

// Remaining returns the time left until expiry, floored at zero.
func (t *ExpiryTimer) Remaining() time.Duration {
	d := t.expiresAt.Sub(t.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// ExpiresAt returns the absolute deadline.
func (t *ExpiryTimer) ExpiresAt() time.Time {
	return t.expiresAt
}

// Stop cancels the countdown. Idempotent; an already-fired timer stays fired,
// but a stopped timer never fires afterwards.
func (t *ExpiryTimer) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *ExpiryTimer) fire() {
	t.fireOnce.Do(func() { close(t.expired) })
}
