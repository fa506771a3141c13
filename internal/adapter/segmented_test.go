package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halocam/livedemo/internal/source"
)

func TestSelectIsTotal(t *testing.T) {
	t.Parallel()

	require.IsType(t, &Segmented{}, Select(source.ProtocolSegmented))
	require.IsType(t, &Image{}, Select(source.ProtocolImage))
	require.IsType(t, Unsupported{}, Select(source.ProtocolUnsupported))
	require.IsType(t, Unsupported{}, Select(source.Protocol("garbage")))
}

// playlistServer serves a live playlist whose content can be swapped at runtime.
type playlistServer struct {
	*httptest.Server
	mu       sync.Mutex
	playlist string
	status   int
}

func newPlaylistServer(playlist string) *playlistServer {
	ps := &playlistServer{playlist: playlist, status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		body, status := ps.playlist, ps.status
		ps.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("segment-bytes:" + r.URL.Path))
	})
	ps.Server = httptest.NewServer(mux)
	return ps
}

func (ps *playlistServer) set(playlist string, status int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.playlist = playlist
	ps.status = status
}

func livePlaylist(seq int, n int) string {
	out := fmt.Sprintf("#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:%d\n", seq)
	for i := 0; i < n; i++ {
		out += fmt.Sprintf("#EXTINF:1.0,\nseg%d.ts\n", seq+i)
	}
	return out
}

func TestSegmentedPresentsSegments(t *testing.T) {
	t.Parallel()

	ps := newPlaylistServer(livePlaylist(10, 3))
	defer ps.Close()

	a := NewSegmented()
	a.OnError(func(err error) { t.Errorf("unexpected playback error: %v", err) })

	fb := NewFrameBuffer(1280, 720)
	require.NoError(t, a.Attach(context.Background(), fb, ps.URL+"/index.m3u8"))
	defer a.Detach()

	require.Eventually(t, func() bool {
		return fb.FrameCount() >= 3
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, "video/mp2t", fb.LastFrame().ContentType)
}

func TestSegmentedAttachFailsOnBadPlaylist(t *testing.T) {
	t.Parallel()

	ps := newPlaylistServer("this is not a playlist")
	defer ps.Close()

	a := NewSegmented()
	err := a.Attach(context.Background(), NewFrameBuffer(640, 360), ps.URL+"/index.m3u8")
	require.Error(t, err)

	// Detach on a never-attached adapter is a no-op.
	a.Detach()
}

func TestSegmentedReportsErrorOnce(t *testing.T) {
	t.Parallel()

	ps := newPlaylistServer(livePlaylist(0, 2))
	defer ps.Close()

	var errCount atomic.Int32
	a := NewSegmented()
	a.OnError(func(err error) { errCount.Add(1) })

	fb := NewFrameBuffer(640, 360)
	require.NoError(t, a.Attach(context.Background(), fb, ps.URL+"/index.m3u8"))
	defer a.Detach()

	// Playlist fetch starts failing; exactly one error must surface.
	ps.set("", http.StatusInternalServerError)

	require.Eventually(t, func() bool {
		return errCount.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), errCount.Load())
}

func TestSegmentedEndOfStreamIsPlaybackError(t *testing.T) {
	t.Parallel()

	ps := newPlaylistServer("#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXTINF:1.0,\nseg0.ts\n#EXT-X-ENDLIST\n")
	defer ps.Close()

	errCh := make(chan error, 1)
	a := NewSegmented()
	a.OnError(func(err error) { errCh <- err })

	require.NoError(t, a.Attach(context.Background(), NewFrameBuffer(640, 360), ps.URL+"/index.m3u8"))
	defer a.Detach()

	select {
	case err := <-errCh:
		require.Contains(t, err.Error(), "ended")
	case <-time.After(3 * time.Second):
		t.Fatal("expected end-of-stream to be reported")
	}
}

func TestSegmentedDetachReleasesLoop(t *testing.T) {
	t.Parallel()

	ps := newPlaylistServer(livePlaylist(0, 2))
	defer ps.Close()

	fb := NewFrameBuffer(640, 360)
	for i := 0; i < 3; i++ {
		a := NewSegmented()
		a.OnError(func(err error) {})
		require.NoError(t, a.Attach(context.Background(), fb, ps.URL+"/index.m3u8"))
		a.Detach()
		a.Detach() // repeated detach is safe
	}

	before := fb.FrameCount()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, before, fb.FrameCount(), "no frames may arrive after detach")
}
