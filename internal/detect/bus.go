// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package detect

import (
	"context"
	"sync"

	"github.com/halocam/livedemo/internal/metrics"
)

const subscriberBuffer = 64

// Subscriber is one live view onto the merged detection sequence.
// A new subscription starts empty; history is never replayed.
type Subscriber interface {
	C() <-chan Event
	Close() error
}

// Bus merges the push channel and the local computation stream into one
// per-camera sequence. Delivery preserves arrival order per source stream;
// the two streams are not merged by timestamp. There is no backpressure:
// a slow subscriber loses events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Publish delivers ev to every subscriber of its camera. Full subscriber
// channels drop the event and count the drop; Publish never blocks.
func (b *Bus) Publish(origin string, ev Event) {
	// Sends stay under the read lock: Close and Subscriber.Close take the
	// write lock before closing a channel, and sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	metrics.IncDetectionEvent(origin)
	for _, ch := range b.subs[ev.CameraID] {
		select {
		case ch <- ev:
		default:
			metrics.IncDetectionDrop(ev.CameraID, "subscriber_full")
		}
	}
}

// Subscribe returns a fresh subscription filtered to cameraID.
func (b *Bus) Subscribe(cameraID string) Subscriber {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return &sub{b: b, camera: cameraID, ch: ch, detached: true}
	}
	b.subs[cameraID] = append(b.subs[cameraID], ch)
	b.mu.Unlock()

	return &sub{b: b, camera: cameraID, ch: ch}
}

// AttachLocal pumps a locally computed detection stream into the bus until the
// channel closes or ctx is done. The caller owns the channel lifecycle.
func (b *Bus) AttachLocal(ctx context.Context, events <-chan Event) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				b.Publish(OriginLocal, ev)
			}
		}
	}()
}

// Close detaches every subscriber. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chs := range b.subs {
		for _, ch := range chs {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan Event)
}

type sub struct {
	b        *Bus
	camera   string
	ch       chan Event
	mu       sync.Mutex
	detached bool
}

func (s *sub) C() <-chan Event {
	return s.ch
}

func (s *sub) Close() error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return nil
	}
	s.detached = true
	s.mu.Unlock()

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.closed {
		return nil
	}

	lst := s.b.subs[s.camera]
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.camera)
	} else {
		s.b.subs[s.camera] = out
	}
	close(s.ch) // Signal subscriber to stop
	return nil
}
