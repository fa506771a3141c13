package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/halocam/livedemo/internal/hls"
	"github.com/halocam/livedemo/internal/log"
)

// stallPolls is the number of consecutive polls without media-sequence
// progress after which a live playlist is considered stalled.
const stallPolls = 3

// Segmented plays adaptive segmented streams by polling the media playlist and
// presenting new segments to the surface. Retry policy belongs to the session
// controller: any unrecoverable fetch, parse or stall condition fires the
// error callback exactly once and stops the loop.
type Segmented struct {
	http *http.Client

	mu      sync.Mutex
	onError func(error)
	cancel  context.CancelFunc
	done    chan struct{}
	errOnce *sync.Once
}

// SegmentedOption configures a Segmented adapter.
type SegmentedOption func(*Segmented)

// WithSegmentedHTTPClient overrides the default HTTP client.
func WithSegmentedHTTPClient(c *http.Client) SegmentedOption {
	return func(a *Segmented) { a.http = c }
}

func NewSegmented(opts ...SegmentedOption) *Segmented {
	a := &Segmented{
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Segmented) OnError(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = fn
}

// Attach validates the playlist synchronously, then streams segments in the
// background until Detach or a playback error.
func (a *Segmented) Attach(ctx context.Context, surface Surface, playlistURL string) error {
	first, err := a.fetchPlaylist(ctx, playlistURL)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return fmt.Errorf("segmented adapter already attached")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.errOnce = &sync.Once{}
	done := a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.run(loopCtx, surface, playlistURL, first)
	}()
	return nil
}

// Detach stops the segment loop and waits for it to exit, releasing the
// decode pipeline completely. Safe to call repeatedly.
func (a *Segmented) Detach() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Segmented) run(ctx context.Context, surface Surface, playlistURL string, pl *hls.Playlist) {
	logger := log.WithComponent("adapter.segmented")

	var (
		lastSeq   = pl.MediaSequence
		presented int64 // absolute index of the last presented segment
		stalled   int
	)
	presented = pl.MediaSequence - 1

	for {
		presentedNow, err := a.presentNew(ctx, surface, playlistURL, pl, &presented)
		if err != nil {
			if ctx.Err() == nil {
				a.fireError(err)
			}
			return
		}

		if pl.Ended {
			a.fireError(fmt.Errorf("segmented stream ended"))
			return
		}

		if pl.MediaSequence > lastSeq || presentedNow {
			stalled = 0
		} else {
			stalled++
			if stalled >= stallPolls {
				a.fireError(fmt.Errorf("playlist stalled at media sequence %d", lastSeq))
				return
			}
		}
		lastSeq = pl.MediaSequence

		select {
		case <-ctx.Done():
			return
		case <-time.After(pl.PollInterval()):
		}

		pl, err = a.fetchPlaylist(ctx, playlistURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.fireError(err)
			return
		}
		logger.Debug().
			Int64("media_sequence", pl.MediaSequence).
			Int("segments", len(pl.Segments)).
			Msg("playlist refreshed")
	}
}

// presentNew fetches and presents every segment beyond *presented.
func (a *Segmented) presentNew(ctx context.Context, surface Surface, playlistURL string, pl *hls.Playlist, presented *int64) (bool, error) {
	any := false
	for i, seg := range pl.Segments {
		abs := pl.MediaSequence + int64(i)
		if abs <= *presented {
			continue
		}
		data, err := a.fetchSegment(ctx, playlistURL, seg.URI)
		if err != nil {
			return any, err
		}
		if err := surface.Present(Frame{Data: data, ContentType: "video/mp2t"}); err != nil {
			return any, fmt.Errorf("present segment %d: %w", abs, err)
		}
		*presented = abs
		any = true
	}
	return any, nil
}

func (a *Segmented) fetchPlaylist(ctx context.Context, playlistURL string) (*hls.Playlist, error) {
	body, err := a.get(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	pl, err := hls.Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	return pl, nil
}

func (a *Segmented) fetchSegment(ctx context.Context, playlistURL, segURI string) ([]byte, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(segURI)
	if err != nil {
		return nil, err
	}
	return a.get(ctx, base.ResolveReference(ref).String())
}

func (a *Segmented) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u, res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

func (a *Segmented) fireError(err error) {
	a.mu.Lock()
	fn, once := a.onError, a.errOnce
	a.mu.Unlock()
	if fn == nil || once == nil {
		return
	}
	once.Do(func() { fn(err) })
}
