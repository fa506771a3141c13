package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestImagePresentsFrames(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	}))
	defer srv.Close()

	a := NewImage(WithFrameInterval(10 * time.Millisecond))
	a.OnError(func(err error) { t.Errorf("unexpected error: %v", err) })

	fb := NewFrameBuffer(640, 360)
	require.NoError(t, a.Attach(context.Background(), fb, srv.URL+"/frame.jpg"))
	defer a.Detach()

	require.Eventually(t, func() bool {
		return fb.FrameCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "image/jpeg", fb.LastFrame().ContentType)
}

func TestImageAttachFailsSynchronously(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewImage()
	err := a.Attach(context.Background(), NewFrameBuffer(640, 360), srv.URL+"/frame.jpg")
	require.Error(t, err)
	a.Detach()
}

func TestImageNoInternalRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 2 {
			http.Error(w, "cut", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte{0xFF, 0xD8})
	}))
	defer srv.Close()

	var errCount atomic.Int32
	a := NewImage(WithFrameInterval(10 * time.Millisecond))
	a.OnError(func(err error) { errCount.Add(1) })

	fb := NewFrameBuffer(640, 360)
	require.NoError(t, a.Attach(context.Background(), fb, srv.URL+"/frame.jpg"))
	defer a.Detach()

	require.Eventually(t, func() bool {
		return errCount.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The loop must stop after the first failure: no further fetch attempts.
	stable := hits.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, stable, hits.Load(), "image adapter must not retry internally")
	require.Equal(t, int32(1), errCount.Load())
}
