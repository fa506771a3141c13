package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultFrameInterval paces single-image fetches when the caller does not
// override it.
const defaultFrameInterval = 250 * time.Millisecond

// Image renders a continuous-image stream by repeatedly fetching a single
// image resource. A failed load is reported once and ends the loop; the
// adapter never retries internally, retry policy belongs to the controller.
type Image struct {
	http     *http.Client
	interval time.Duration

	mu      sync.Mutex
	onError func(error)
	cancel  context.CancelFunc
	done    chan struct{}
	errOnce *sync.Once
}

// ImageOption configures an Image adapter.
type ImageOption func(*Image)

// WithImageHTTPClient overrides the default HTTP client.
func WithImageHTTPClient(c *http.Client) ImageOption {
	return func(a *Image) { a.http = c }
}

// WithFrameInterval overrides the fetch pacing interval.
func WithFrameInterval(d time.Duration) ImageOption {
	return func(a *Image) {
		if d > 0 {
			a.interval = d
		}
	}
}

func NewImage(opts ...ImageOption) *Image {
	a := &Image{
		http:     &http.Client{Timeout: 10 * time.Second},
		interval: defaultFrameInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Image) OnError(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = fn
}

// Attach fetches the first frame synchronously, then keeps refreshing it in
// the background until Detach or a load failure.
func (a *Image) Attach(ctx context.Context, surface Surface, imageURL string) error {
	frame, err := a.fetch(ctx, imageURL)
	if err != nil {
		return err
	}
	if err := surface.Present(frame); err != nil {
		return err
	}

	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return fmt.Errorf("image adapter already attached")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.errOnce = &sync.Once{}
	done := a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.run(loopCtx, surface, imageURL)
	}()
	return nil
}

// Detach stops the fetch loop and waits for it to exit. Safe to call repeatedly.
func (a *Image) Detach() {
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

func (a *Image) run(ctx context.Context, surface Surface, imageURL string) {
	limiter := rate.NewLimiter(rate.Every(a.interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		frame, err := a.fetch(ctx, imageURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.fireError(err)
			return
		}
		if err := surface.Present(frame); err != nil {
			a.fireError(err)
			return
		}
	}
}

func (a *Image) fetch(ctx context.Context, imageURL string) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Frame{}, err
	}
	res, err := a.http.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("image load failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("image load failed: unexpected status %d", res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Frame{}, fmt.Errorf("image load failed: %w", err)
	}
	ct := res.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/jpeg"
	}
	return Frame{Data: data, ContentType: ct}, nil
}

func (a *Image) fireError(err error) {
	a.mu.Lock()
	fn, once := a.onError, a.errOnce
	a.mu.Unlock()
	if fn == nil || once == nil {
		return
	}
	once.Do(func() { fn(err) })
}
