// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/halocam/livedemo/internal/adapter"
	"github.com/halocam/livedemo/internal/broker"
	"github.com/halocam/livedemo/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a settable wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBroker hands out sessions and records every call in order.
type fakeBroker struct {
	mu    sync.Mutex
	clock Clock
	ttl   time.Duration
	fail  map[string]error
	hold  map[string]*holdPoint
	ops   []string
	seq   int
}

type holdPoint struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newFakeBroker(clk Clock) *fakeBroker {
	return &fakeBroker{clock: clk, ttl: time.Hour, fail: map[string]error{}}
}

// Hold parks Start calls for sourceID until the returned release func runs.
// The channel closes once a call has entered the broker and is parked.
func (b *fakeBroker) Hold(sourceID string) (<-chan struct{}, func()) {
	h := &holdPoint{entered: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	if b.hold == nil {
		b.hold = map[string]*holdPoint{}
	}
	b.hold[sourceID] = h
	b.mu.Unlock()
	return h.entered, func() { close(h.release) }
}

func (b *fakeBroker) Start(_ context.Context, category, sourceID string) (*broker.Session, error) {
	b.mu.Lock()
	h := b.hold[sourceID]
	b.mu.Unlock()
	if h != nil {
		h.once.Do(func() { close(h.entered) })
		<-h.release
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[sourceID]; err != nil {
		b.ops = append(b.ops, "start_fail:"+sourceID)
		return nil, err
	}
	b.seq++
	id := fmt.Sprintf("sess-%d", b.seq)
	b.ops = append(b.ops, "start:"+sourceID)
	return &broker.Session{
		ID:        id,
		SourceID:  sourceID,
		Category:  category,
		StreamURL: "http://broker.test/stream/" + sourceID,
		Protocol:  source.ProtocolSegmented,
		ExpiresAt: b.clock.Now().Add(b.ttl),
	}, nil
}

func (b *fakeBroker) Stop(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, "stop:"+sessionID)
	return nil
}

func (b *fakeBroker) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

func (b *fakeBroker) stopCount(sessionID string) int {
	n := 0
	for _, op := range b.calls() {
		if op == "stop:"+sessionID {
			n++
		}
	}
	return n
}

// fakeCatalog returns a fixed ranked list.
type fakeCatalog struct {
	mu      sync.Mutex
	sources []source.Source
	err     error
}

func (c *fakeCatalog) List(context.Context, string) ([]source.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return append([]source.Source(nil), c.sources...), nil
}

// fakeAdapter attaches instantly and lets the test inject playback errors.
type fakeAdapter struct {
	mu        sync.Mutex
	attachErr error
	onError   func(error)
	url       string
	attached  bool
	detached  bool
}

func (a *fakeAdapter) OnError(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = fn
}

func (a *fakeAdapter) Attach(_ context.Context, _ adapter.Surface, streamURL string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attachErr != nil {
		return a.attachErr
	}
	a.url = streamURL
	a.attached = true
	return nil
}

func (a *fakeAdapter) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detached = true
}

func (a *fakeAdapter) fail(err error) {
	a.mu.Lock()
	fn := a.onError
	a.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (a *fakeAdapter) isDetached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detached
}

// fakeFactory hands out fakeAdapters and remembers them in creation order.
type fakeFactory struct {
	mu   sync.Mutex
	made []*fakeAdapter
}

func (f *fakeFactory) new(source.Protocol) adapter.Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &fakeAdapter{}
	f.made = append(f.made, a)
	return a
}

func (f *fakeFactory) get(i int) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.made) {
		return nil
	}
	return f.made[i]
}

func rankedSources(ids ...string) []source.Source {
	out := make([]source.Source, 0, len(ids))
	conf := 1.0
	for _, id := range ids {
		out = append(out, source.Source{
			ID: id, Name: id, Protocol: source.ProtocolSegmented,
			Confidence: conf, Active: true,
		})
		conf -= 0.1
	}
	return out
}

type fixture struct {
	ctrl    *Controller
	broker  *fakeBroker
	catalog *fakeCatalog
	factory *fakeFactory
	clock   *fakeClock
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	clk := newFakeClock()
	b := newFakeBroker(clk)
	cat := &fakeCatalog{sources: rankedSources(ids...)}
	f := &fakeFactory{}
	ctrl, err := NewController(b, cat, adapter.NewFrameBuffer(640, 360),
		WithAdapterFactory(f.new),
		WithClock(clk),
		WithExpiryResolution(time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close(context.Background()) })
	require.NoError(t, ctrl.SetCategory(context.Background(), "people_count"))
	return &fixture{ctrl: ctrl, broker: b, catalog: cat, factory: f, clock: clk}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		2*time.Second, time.Millisecond, "state never reached %s (now %s)", want, c.State())
}

func TestStartBindsSession(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	ctx := context.Background()

	require.NoError(t, fx.ctrl.Start(ctx, "cam-a"))
	assert.Equal(t, StateActive, fx.ctrl.State())

	sess := fx.ctrl.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, "cam-a", sess.SourceID)
	assert.Equal(t, "cam-a", fx.ctrl.Selected())
	assert.True(t, fx.ctrl.Remaining() > 0)
	assert.Equal(t, []string{"start:cam-a"}, fx.broker.calls())
}

func TestManualStartFailureDoesNotFallBack(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	fx.broker.fail["cam-a"] = &broker.Error{Sentinel: broker.ErrRejected, Operation: "start"}

	err := fx.ctrl.Start(context.Background(), "cam-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrRejected)
	assert.Equal(t, StateIdle, fx.ctrl.State())

	// The healthy cam-b was never tried: manual starts do not walk the list.
	assert.Equal(t, []string{"start_fail:cam-a"}, fx.broker.calls())
	assert.Nil(t, fx.ctrl.ActiveSession())
}

func TestStartStopsPreviousSessionFirst(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	ctx := context.Background()

	require.NoError(t, fx.ctrl.Start(ctx, "cam-a"))
	require.NoError(t, fx.ctrl.Start(ctx, "cam-b"))

	assert.Equal(t, []string{"start:cam-a", "stop:sess-1", "start:cam-b"}, fx.broker.calls())
	assert.True(t, fx.factory.get(0).isDetached())

	sess := fx.ctrl.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, "cam-b", sess.SourceID)
}

func TestDelayedStartIsSuperseded(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	ctx := context.Background()

	entered, release := fx.broker.Hold("cam-a")
	errCh := make(chan error, 1)
	go func() { errCh <- fx.ctrl.Start(ctx, "cam-a") }()
	<-entered

	// A second start wins while the first is still parked in the broker.
	require.NoError(t, fx.ctrl.Start(ctx, "cam-b"))
	release()

	err := <-errCh
	require.ErrorIs(t, err, ErrSuperseded)

	assert.Equal(t, StateActive, fx.ctrl.State())
	sess := fx.ctrl.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, "cam-b", sess.SourceID)

	// The stale session is released, the winner keeps its session, and the
	// loser never built an adapter to contend for the surface.
	require.Eventually(t, func() bool { return fx.broker.stopCount("sess-2") == 1 },
		2*time.Second, time.Millisecond)
	assert.Equal(t, 0, fx.broker.stopCount("sess-1"))
	assert.Nil(t, fx.factory.get(1))
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	fx := newFixture(t, "cam-a")

	require.NoError(t, fx.ctrl.Stop(context.Background()))
	assert.Equal(t, StateIdle, fx.ctrl.State())
	assert.Empty(t, fx.broker.calls())
}

func TestStopReleasesEverything(t *testing.T) {
	fx := newFixture(t, "cam-a")
	ctx := context.Background()

	require.NoError(t, fx.ctrl.Start(ctx, "cam-a"))
	require.NoError(t, fx.ctrl.Stop(ctx))

	assert.Equal(t, StateIdle, fx.ctrl.State())
	assert.Nil(t, fx.ctrl.ActiveSession())
	assert.True(t, fx.factory.get(0).isDetached())
	assert.Equal(t, 1, fx.broker.stopCount("sess-1"))
}

func TestAutoSeedWalksToFirstPlayable(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b", "cam-c")
	fx.broker.fail["cam-a"] = &broker.Error{Sentinel: broker.ErrUnavailable, Operation: "start"}
	fx.broker.fail["cam-b"] = &broker.Error{Sentinel: broker.ErrRejected, Operation: "start"}

	require.NoError(t, fx.ctrl.StartAuto(context.Background()))
	assert.Equal(t, StateActive, fx.ctrl.State())

	sess := fx.ctrl.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, "cam-c", sess.SourceID)
	assert.Equal(t, []string{"start_fail:cam-a", "start_fail:cam-b", "start:cam-c"}, fx.broker.calls())

	n := fx.ctrl.LastNotice()
	require.NotNil(t, n)
	assert.Equal(t, NoticeTryingNext, n.Kind)
}

func TestPlaybackErrorAdvancesToNextCandidate(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b", "cam-c")
	ctx := context.Background()

	require.NoError(t, fx.ctrl.StartAuto(ctx))
	require.Equal(t, "cam-a", fx.ctrl.ActiveSession().SourceID)

	fx.factory.get(0).fail(errors.New("decode failure"))

	require.Eventually(t, func() bool {
		s := fx.ctrl.ActiveSession()
		return s != nil && s.SourceID == "cam-b"
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, StateActive, fx.ctrl.State())
	assert.True(t, fx.factory.get(0).isDetached())
	require.Eventually(t, func() bool { return fx.broker.stopCount("sess-1") == 1 },
		2*time.Second, time.Millisecond)

	// Second failure walks on from where the first walk left off.
	fx.factory.get(1).fail(errors.New("decode failure"))
	require.Eventually(t, func() bool {
		s := fx.ctrl.ActiveSession()
		return s != nil && s.SourceID == "cam-c"
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return fx.broker.stopCount("sess-2") == 1 },
		2*time.Second, time.Millisecond)
}

func TestExhaustionIsTerminalForAutomaticFlows(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	fx.broker.fail["cam-a"] = &broker.Error{Sentinel: broker.ErrUnavailable, Operation: "start"}
	fx.broker.fail["cam-b"] = &broker.Error{Sentinel: broker.ErrUnavailable, Operation: "start"}

	err := fx.ctrl.StartAuto(context.Background())
	require.ErrorIs(t, err, ErrNoSources)
	assert.Equal(t, StateExhausted, fx.ctrl.State())

	n := fx.ctrl.LastNotice()
	require.NotNil(t, n)
	assert.Equal(t, NoticeExhausted, n.Kind)

	before := len(fx.broker.calls())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, fx.broker.calls(), before, "exhausted state must not retry on its own")

	// An explicit user start leaves Exhausted.
	delete(fx.broker.fail, "cam-b")
	require.NoError(t, fx.ctrl.Start(context.Background(), "cam-b"))
	assert.Equal(t, StateActive, fx.ctrl.State())
}

func TestExpiryStopsOnceAndReturnsToIdle(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	ctx := context.Background()

	require.NoError(t, fx.ctrl.Start(ctx, "cam-a"))
	startsBefore := len(fx.broker.calls())

	fx.clock.Advance(2 * time.Hour)
	waitForState(t, fx.ctrl, StateIdle)

	assert.Nil(t, fx.ctrl.ActiveSession())
	assert.Equal(t, 1, fx.broker.stopCount("sess-1"))
	assert.True(t, fx.factory.get(0).isDetached())

	n := fx.ctrl.LastNotice()
	require.NotNil(t, n)
	assert.Equal(t, NoticeExpired, n.Kind)

	// Expiry is a session boundary, not a failure: no fallback start happened.
	calls := fx.broker.calls()
	assert.Equal(t, startsBefore+1, len(calls))
	assert.Equal(t, "stop:sess-1", calls[len(calls)-1])
}

func TestStaleAdapterErrorIsDiscarded(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	ctx := context.Background()

	require.NoError(t, fx.ctrl.Start(ctx, "cam-a"))
	stale := fx.factory.get(0)
	require.NoError(t, fx.ctrl.Start(ctx, "cam-b"))

	stale.fail(errors.New("late decode failure"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateActive, fx.ctrl.State())
	sess := fx.ctrl.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, "cam-b", sess.SourceID)
	assert.Equal(t, 0, fx.broker.stopCount("sess-2"))
}

func TestSetCategoryStopsSessionAndRefetches(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	ctx := context.Background()

	require.NoError(t, fx.ctrl.Start(ctx, "cam-a"))

	fx.catalog.mu.Lock()
	fx.catalog.sources = rankedSources("lot-1", "lot-2")
	fx.catalog.mu.Unlock()

	require.NoError(t, fx.ctrl.SetCategory(ctx, "vehicle_count"))
	assert.Equal(t, StateIdle, fx.ctrl.State())
	assert.Equal(t, 1, fx.broker.stopCount("sess-1"))
	assert.Equal(t, "vehicle_count", fx.ctrl.Category())
	assert.Equal(t, "lot-1", fx.ctrl.Selected())

	ids := func() []string {
		var out []string
		for _, s := range fx.ctrl.Candidates() {
			out = append(out, s.ID)
		}
		return out
	}()
	assert.Equal(t, []string{"lot-1", "lot-2"}, ids)
}

func TestSetCategoryFailureIsRecoverable(t *testing.T) {
	fx := newFixture(t, "cam-a")

	fx.catalog.mu.Lock()
	fx.catalog.err = errors.New("catalog down")
	fx.catalog.mu.Unlock()

	err := fx.ctrl.SetCategory(context.Background(), "people_count")
	require.Error(t, err)
	assert.Empty(t, fx.ctrl.Candidates())
	assert.Empty(t, fx.ctrl.Selected())

	fx.catalog.mu.Lock()
	fx.catalog.err = nil
	fx.catalog.mu.Unlock()

	require.NoError(t, fx.ctrl.SetCategory(context.Background(), "people_count"))
	assert.Equal(t, "cam-a", fx.ctrl.Selected())
	require.NoError(t, fx.ctrl.Start(context.Background(), "cam-a"))
}

func TestStartAutoWithEmptyCatalog(t *testing.T) {
	fx := newFixture(t, "cam-a")

	fx.catalog.mu.Lock()
	fx.catalog.sources = nil
	fx.catalog.mu.Unlock()
	require.NoError(t, fx.ctrl.SetCategory(context.Background(), "people_count"))

	err := fx.ctrl.StartAuto(context.Background())
	require.ErrorIs(t, err, ErrNoSources)
	assert.Equal(t, StateIdle, fx.ctrl.State())
	assert.Empty(t, fx.broker.calls())
}

func TestAttachFailureReleasesBrokerSession(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")

	// First adapter refuses to attach, so the auto walk releases that
	// session and moves on to the next candidate.
	orig := fx.factory
	broken := true
	var mu sync.Mutex
	factory := func(p source.Protocol) adapter.Adapter {
		a := orig.new(p).(*fakeAdapter)
		mu.Lock()
		if broken {
			a.attachErr = errors.New("playlist malformed")
			broken = false
		}
		mu.Unlock()
		return a
	}

	ctrl, err := NewController(fx.broker, fx.catalog, adapter.NewFrameBuffer(640, 360),
		WithAdapterFactory(factory),
		WithClock(fx.clock),
		WithExpiryResolution(time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close(context.Background()) })
	require.NoError(t, ctrl.SetCategory(context.Background(), "people_count"))

	require.NoError(t, ctrl.StartAuto(context.Background()))
	sess := ctrl.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, "cam-b", sess.SourceID)

	// The orphaned cam-a session is stopped in the background.
	require.Eventually(t, func() bool { return fx.broker.stopCount("sess-1") == 1 },
		2*time.Second, time.Millisecond)
}

func TestNoticeFeedDeliversInOrder(t *testing.T) {
	fx := newFixture(t, "cam-a", "cam-b")
	fx.broker.fail["cam-a"] = &broker.Error{Sentinel: broker.ErrUnavailable, Operation: "start"}
	fx.broker.fail["cam-b"] = &broker.Error{Sentinel: broker.ErrUnavailable, Operation: "start"}

	_ = fx.ctrl.StartAuto(context.Background())

	var kinds []NoticeKind
	for len(kinds) < 3 {
		select {
		case n := <-fx.ctrl.Notices():
			kinds = append(kinds, n.Kind)
		case <-time.After(time.Second):
			t.Fatalf("notice feed stalled after %v", kinds)
		}
	}
	assert.Equal(t, []NoticeKind{NoticeTryingNext, NoticeTryingNext, NoticeExhausted}, kinds)
}
