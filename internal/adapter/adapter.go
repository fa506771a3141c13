// Package adapter contains the protocol adapters that bind a stream URL to a
// playback surface. The variant set is closed; selection is a pure function of
// the source protocol and performs no I/O.
package adapter

import (
	"context"

	"github.com/halocam/livedemo/internal/source"
)

// Frame is one unit of media handed to the playback surface: a transport
// segment for segmented streams, a single encoded image for image streams.
type Frame struct {
	Data        []byte
	ContentType string
	Sequence    uint64
}

// Surface is the playback target. It is exclusively owned by the session
// controller for the duration of one active session.
type Surface interface {
	Present(Frame) error
	// RenderedSize returns the surface's current on-screen dimensions, which
	// can differ from the stream's native resolution and change at any time.
	RenderedSize() (w, h int)
}

// Adapter attaches one source to a playback surface.
//
// OnError must be called before Attach. The error callback fires at most once
// per attach cycle and maps into the controller's playback-error transition.
// Detach is synchronous: when it returns, the fetch loop has exited and no
// further frames or errors will be delivered.
type Adapter interface {
	Attach(ctx context.Context, surface Surface, url string) error
	Detach()
	OnError(fn func(error))
}

// Select maps a protocol to its adapter variant. Pure, cannot fail; sources
// with unsupported protocols are filtered out before ranking, so the
// unsupported variant is a defensive no-op.
func Select(p source.Protocol) Adapter {
	switch p {
	case source.ProtocolSegmented:
		return NewSegmented()
	case source.ProtocolImage:
		return NewImage()
	default:
		return Unsupported{}
	}
}
