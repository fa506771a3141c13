package adapter

import "sync"

// FrameBuffer is an in-memory playback surface. It keeps the most recent frame
// and its rendered dimensions; overlay rendering reads both.
type FrameBuffer struct {
	mu     sync.RWMutex
	w, h   int
	last   Frame
	frames uint64
}

func NewFrameBuffer(w, h int) *FrameBuffer {
	return &FrameBuffer{w: w, h: h}
}

func (f *FrameBuffer) Present(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	frame.Sequence = f.frames
	f.last = frame
	return nil
}

func (f *FrameBuffer) RenderedSize() (int, int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.w, f.h
}

// Resize updates the rendered dimensions, e.g. on a window resize.
func (f *FrameBuffer) Resize(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.w, f.h = w, h
}

// LastFrame returns the most recently presented frame.
func (f *FrameBuffer) LastFrame() Frame {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last
}

// FrameCount returns the number of frames presented so far.
func (f *FrameBuffer) FrameCount() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frames
}
