// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package live implements the demo stream session controller: source
// selection, broker session lifecycle, protocol adapter attachment, bounded
// session expiry and automatic failover across ranked candidate sources.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halocam/livedemo/internal/adapter"
	"github.com/halocam/livedemo/internal/broker"
	"github.com/halocam/livedemo/internal/fsm"
	"github.com/halocam/livedemo/internal/log"
	"github.com/halocam/livedemo/internal/metrics"
	"github.com/halocam/livedemo/internal/source"
)

var (
	// ErrSuperseded reports that a newer user action won over this one while
	// it was in flight. The stale result has been discarded and cleaned up.
	ErrSuperseded = errors.New("live: action superseded by a newer request")

	// ErrNoSources reports an empty candidate list for the active category.
	ErrNoSources = errors.New("live: no playable sources for category")
)

// Broker is the session broker seen by the controller.
type Broker interface {
	Start(ctx context.Context, category, sourceID string) (*broker.Session, error)
	Stop(ctx context.Context, sessionID string) error
}

// Catalog lists ranked candidate sources for a category.
type Catalog interface {
	List(ctx context.Context, category string) ([]source.Source, error)
}

// AdapterFactory maps a protocol to a fresh adapter. Pure, no I/O.
type AdapterFactory func(p source.Protocol) adapter.Adapter

// fallbackCursor is the ephemeral state of one fallback walk. The candidate
// list is snapshotted once per walk; a concurrent catalog refresh never
// mutates a walk that is already in progress.
type fallbackCursor struct {
	candidates []source.Source
	index      int
	inProgress bool
}

// Controller owns the playback surface and all session state. All transitions
// are driven through a strict FSM; async completions (broker responses,
// adapter errors, timer signals) carry the generation they were issued under
// and are discarded when a newer user action has advanced the generation.
type Controller struct {
	broker     Broker
	catalog    Catalog
	surface    adapter.Surface
	newAdapter AdapterFactory
	resolution time.Duration
	clock      Clock
	logger     zerolog.Logger

	machine *fsm.Machine[State, Event]

	mu         sync.Mutex
	gen        uint64
	category   string
	candidates []source.Source
	selectedID string
	sess       *broker.Session
	act        adapter.Adapter
	timer      *ExpiryTimer
	cursor     fallbackCursor
	lastNotice *Notice
	notices    chan Notice
}

// Option configures a Controller.
type Option func(*Controller)

// WithAdapterFactory overrides protocol adapter construction, mainly for tests.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(c *Controller) { c.newAdapter = f }
}

// WithExpiryResolution overrides the countdown resolution of session timers.
func WithExpiryResolution(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.resolution = d
		}
	}
}

// WithClock overrides the wall clock used for session expiry.
func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func NewController(b Broker, cat Catalog, surface adapter.Surface, opts ...Option) (*Controller, error) {
	machine, err := newMachine()
	if err != nil {
		return nil, err
	}
	c := &Controller{
		broker:     b,
		catalog:    cat,
		surface:    surface,
		newAdapter: adapter.Select,
		resolution: time.Second,
		clock:      realClock{},
		logger:     log.WithComponent("controller"),
		machine:    machine,
		notices:    make(chan Notice, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	return c.machine.State()
}

// ActiveSession returns a copy of the bound session, or nil.
func (c *Controller) ActiveSession() *broker.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	s := *c.sess
	return &s
}

// Candidates returns the most recent ranked candidate list.
func (c *Controller) Candidates() []source.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]source.Source(nil), c.candidates...)
}

// Selected returns the pre-selected (not necessarily playing) source id.
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID
}

// Category returns the active analytic category.
func (c *Controller) Category() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.category
}

// LastNotice returns the most recent user-visible notice, or nil.
func (c *Controller) LastNotice() *Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastNotice == nil {
		return nil
	}
	n := *c.lastNotice
	return &n
}

// Notices exposes the notice feed. Slow consumers lose notices.
func (c *Controller) Notices() <-chan Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notices
}

// Remaining returns the time left on the active session, zero when idle.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return 0
	}
	return c.timer.Remaining()
}

// SetCategory switches the analytic category: any in-flight session is stopped
// first, a stale fallback walk is cancelled, and the candidate list is
// refetched. The first ranked candidate becomes the pre-selected source. A
// catalog failure is recoverable: the list comes back empty alongside the
// error and the controller stays usable.
func (c *Controller) SetCategory(ctx context.Context, category string) error {
	c.mu.Lock()
	c.gen++
	myGen := c.gen
	c.cursor.inProgress = false
	c.category = category
	c.mu.Unlock()

	c.stopCurrent(ctx)

	list, err := c.catalog.List(ctx, category)

	c.mu.Lock()
	if c.gen == myGen {
		c.candidates = list
		c.selectedID = ""
		if len(list) > 0 {
			c.selectedID = list[0].ID
		}
	}
	c.mu.Unlock()

	c.logger.Info().
		Str(log.FieldCategory, category).
		Int("candidates", len(list)).
		Err(err).
		Msg("category changed")
	return err
}

// Start begins a manual session against one specific source. Manual start
// failures are surfaced to the caller and never auto-retried; only automatic
// flows walk the candidate list.
func (c *Controller) Start(ctx context.Context, sourceID string) error {
	began := time.Now()

	c.mu.Lock()
	c.gen++
	myGen := c.gen
	c.cursor.inProgress = false
	category := c.category
	c.mu.Unlock()

	// Session A is always stopped before session B starts. Exhausted holds no
	// resources, so a restart from it takes the direct edge to Requesting.
	if c.machine.State() != StateExhausted {
		c.stopCurrent(ctx)
	}

	if _, err := c.machine.Fire(ctx, eventStart); err != nil {
		return err
	}

	sess, err := c.broker.Start(ctx, category, sourceID)
	if err == nil {
		err = c.activate(ctx, myGen, sess)
	}
	if err != nil {
		_, _ = c.machine.Fire(ctx, eventAbort)
		metrics.IncSessionStart(false, startFailureReason(err), "manual")
		return err
	}

	metrics.IncSessionStart(true, "", "manual")
	metrics.ObserveTimeToActive(string(sess.Protocol), time.Since(began))
	c.mu.Lock()
	c.selectedID = sourceID
	c.mu.Unlock()
	return nil
}

// StartAuto runs the automatic seeding flow: walk the ranked candidate list
// from the top until one source plays or the list is exhausted.
func (c *Controller) StartAuto(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	myGen := c.gen
	snapshot := append([]source.Source(nil), c.candidates...)
	if len(snapshot) == 0 {
		c.mu.Unlock()
		return ErrNoSources
	}
	c.cursor = fallbackCursor{candidates: snapshot, index: 0, inProgress: true}
	c.mu.Unlock()

	if c.machine.State() != StateExhausted {
		c.stopCurrent(ctx)
	}
	return c.walk(ctx, myGen)
}

// Stop terminates the active session. Calling it while idle is a no-op: no
// broker call is made and no error is returned.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.machine.State() == StateIdle && c.sess == nil {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	c.cursor.inProgress = false
	c.mu.Unlock()

	c.stopCurrent(ctx)
	return nil
}

// Close shuts the controller down: stops any session and closes the notice feed.
func (c *Controller) Close(ctx context.Context) {
	_ = c.Stop(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notices != nil {
		close(c.notices)
		c.notices = nil
	}
}

// stopCurrent tears down whatever session flow is underway: detach the
// adapter synchronously, cancel the timer, stop the broker session (errors
// swallowed by the client) and drive the machine back to Idle.
func (c *Controller) stopCurrent(ctx context.Context) {
	c.mu.Lock()
	sess, act, timer := c.takeLocked()
	c.mu.Unlock()

	if act != nil {
		act.Detach()
	}
	if timer != nil {
		timer.Stop()
	}
	if sess != nil {
		_ = c.broker.Stop(ctx, sess.ID)
	}

	switch c.machine.State() {
	case StateActive, StateRequesting, StateRetrying, StateExhausted:
		_, _ = c.machine.Fire(ctx, eventStop)
		_, _ = c.machine.Fire(ctx, eventStopped)
	}
}

// takeLocked clears and returns the bound session resources. Caller holds mu.
func (c *Controller) takeLocked() (*broker.Session, adapter.Adapter, *ExpiryTimer) {
	sess, act, timer := c.sess, c.act, c.timer
	c.sess, c.act, c.timer = nil, nil, nil
	return sess, act, timer
}

// activate binds a broker session: constructs the matching adapter, attaches
// it to the surface and arms the expiry timer. Generation checks bracket the
// attach suspension point: the surface belongs to exactly one adapter, so a
// stale activation must never touch it, and a supersession during the attach
// itself detaches again and releases the session instead of binding it.
func (c *Controller) activate(ctx context.Context, myGen uint64, sess *broker.Session) error {
	c.mu.Lock()
	stale := c.gen != myGen
	c.mu.Unlock()
	if stale {
		c.releaseSession(sess.ID)
		return ErrSuperseded
	}

	ad := c.newAdapter(sess.Protocol)
	ad.OnError(func(err error) {
		// Detach waits for the adapter loop, so never unwind from inside it.
		go c.onPlaybackError(myGen, err)
	})

	if err := ad.Attach(ctx, c.surface, sess.StreamURL); err != nil {
		c.releaseSession(sess.ID)
		return fmt.Errorf("attach %s: %w", sess.Protocol, err)
	}

	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		ad.Detach()
		c.releaseSession(sess.ID)
		return ErrSuperseded
	}
	c.sess = sess
	c.act = ad
	timer := NewExpiryTimer(sess.ExpiresAt, WithTimerClock(c.clock), WithResolution(c.resolution))
	c.timer = timer
	c.mu.Unlock()

	if _, err := c.machine.Fire(ctx, eventAttached); err != nil {
		c.mu.Lock()
		c.takeLocked()
		c.mu.Unlock()
		ad.Detach()
		timer.Stop()
		c.releaseSession(sess.ID)
		return ErrSuperseded
	}

	go c.watchExpiry(myGen, timer)

	c.logger.Info().
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldSourceID, sess.SourceID).
		Str(log.FieldProtocol, string(sess.Protocol)).
		Time(log.FieldExpiresAt, sess.ExpiresAt).
		Msg("session active")
	return nil
}

// releaseSession stops an orphaned broker session, fire-and-forget.
func (c *Controller) releaseSession(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.broker.Stop(ctx, sessionID)
	}()
}

func (c *Controller) watchExpiry(myGen uint64, timer *ExpiryTimer) {
	select {
	case <-timer.Expired():
		c.onExpiry(myGen)
	case <-timer.Stopped():
	}
}

// onExpiry handles the one-shot expiry signal. Expiry is an expected terminal
// outcome of a bounded demo session, not a failure: the controller returns to
// Idle without any fallback attempt.
func (c *Controller) onExpiry(myGen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	if c.gen != myGen || c.machine.State() != StateActive {
		c.mu.Unlock()
		return
	}
	c.gen++
	sess, act, timer := c.takeLocked()
	_, ferr := c.machine.Fire(ctx, eventExpire)
	c.mu.Unlock()

	// Cleanup runs even when the transition lost a race: the resources are
	// already taken and nobody else will release them.
	if act != nil {
		act.Detach()
	}
	if timer != nil {
		timer.Stop()
	}
	if sess != nil {
		_ = c.broker.Stop(ctx, sess.ID)
		c.logger.Info().
			Str(log.FieldSessionID, sess.ID).
			Str(log.FieldSourceID, sess.SourceID).
			Msg("session reached its time limit")
	}
	if ferr != nil {
		return
	}

	metrics.SessionExpiriesTotal.Inc()
	c.notify(Notice{Kind: NoticeExpired})
	_, _ = c.machine.Fire(ctx, eventExpired)
}

// onPlaybackError handles an unrecoverable adapter error: stop the broken
// session (fire-and-forget) and advance to the next ranked candidate.
func (c *Controller) onPlaybackError(myGen uint64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	c.mu.Lock()
	if c.gen != myGen || c.machine.State() != StateActive {
		c.mu.Unlock()
		return
	}
	c.gen++
	walkGen := c.gen
	sess, act, timer := c.takeLocked()

	// Snapshot once per walk: a concurrent catalog refresh must not feed a
	// half-updated list into a walk that is already running.
	if !c.cursor.inProgress {
		snapshot := append([]source.Source(nil), c.candidates...)
		start := 0
		if sess != nil {
			start = indexAfter(snapshot, sess.SourceID)
		}
		c.cursor = fallbackCursor{candidates: snapshot, index: start, inProgress: true}
	}
	_, ferr := c.machine.Fire(ctx, eventPlaybackError)
	c.mu.Unlock()

	// Cleanup runs even when the transition lost a race: the resources are
	// already taken and nobody else will release them.
	if act != nil {
		act.Detach()
	}
	if timer != nil {
		timer.Stop()
	}
	if sess != nil {
		c.releaseSession(sess.ID)
		c.logger.Warn().
			Err(cause).
			Str(log.FieldSessionID, sess.ID).
			Str(log.FieldSourceID, sess.SourceID).
			Msg("playback error, advancing to next candidate")
	}
	if ferr != nil {
		return
	}

	_ = c.walk(ctx, walkGen)
}

// walk drives one fallback walk to completion: Active on some candidate,
// exhaustion, or supersession by a newer user action.
func (c *Controller) walk(ctx context.Context, myGen uint64) error {
	tried := 0
	for {
		c.mu.Lock()
		if c.gen != myGen || !c.cursor.inProgress {
			c.mu.Unlock()
			return ErrSuperseded
		}
		if c.cursor.index >= len(c.cursor.candidates) {
			c.cursor.inProgress = false
			_, ferr := c.machine.Fire(ctx, eventExhausted)
			c.mu.Unlock()

			if tried > 0 {
				metrics.FallbackDepth.Observe(float64(tried))
			}
			if ferr != nil {
				return ErrSuperseded
			}
			metrics.SessionExhaustedTotal.Inc()
			c.notify(Notice{Kind: NoticeExhausted})
			c.logger.Warn().Msg("candidate list exhausted, no playable sources")
			return ErrNoSources
		}
		cand := c.cursor.candidates[c.cursor.index]
		c.cursor.index++
		category := c.category

		// Enter Requesting from whichever state this walk iteration is in.
		// Firing under the lock keeps the generation check and the transition
		// atomic: a Stop that bumped the generation has already moved the
		// machine before this walk can observe the stale state.
		event := eventStart
		if c.machine.State() == StateRetrying {
			event = eventNextCandidate
		}
		_, ferr := c.machine.Fire(ctx, event)
		c.mu.Unlock()
		if ferr != nil {
			return ErrSuperseded
		}

		tried++
		metrics.FallbackAttemptsTotal.Inc()

		began := time.Now()
		sess, err := c.broker.Start(ctx, category, cand.ID)
		if err == nil {
			err = c.activate(ctx, myGen, sess)
		}
		if err == nil {
			c.mu.Lock()
			c.cursor.inProgress = false
			c.selectedID = cand.ID
			c.mu.Unlock()
			metrics.IncSessionStart(true, "", "auto")
			metrics.ObserveTimeToActive(string(sess.Protocol), time.Since(began))
			metrics.FallbackDepth.Observe(float64(tried))
			return nil
		}
		if errors.Is(err, ErrSuperseded) {
			return err
		}

		metrics.IncSessionStart(false, startFailureReason(err), "auto")
		_, _ = c.machine.Fire(ctx, eventStartFailed)
		c.notify(Notice{Kind: NoticeTryingNext, SourceID: cand.ID})
		c.logger.Info().
			Err(err).
			Str(log.FieldSourceID, cand.ID).
			Msg("candidate failed, trying next source")
	}
}

func (c *Controller) notify(n Notice) {
	n.Message = n.Kind.message()
	n.At = time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastNotice = &n
	if c.notices == nil {
		return
	}
	select {
	case c.notices <- n:
	default:
		// Notice feed is best effort; a slow consumer loses notices.
	}
}

// indexAfter returns the candidate index right after sourceID, or 0 when the
// source is not in the snapshot.
func indexAfter(candidates []source.Source, sourceID string) int {
	for i, s := range candidates {
		if s.ID == sourceID {
			return i + 1
		}
	}
	return 0
}

func startFailureReason(err error) string {
	switch {
	case errors.Is(err, broker.ErrRejected):
		return "rejected"
	case errors.Is(err, broker.ErrTimeout):
		return "timeout"
	case errors.Is(err, broker.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, broker.ErrBadResponse):
		return "bad_response"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	default:
		return "attach_failed"
	}
}
