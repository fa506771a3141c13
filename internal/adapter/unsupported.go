package adapter

import "context"

// Unsupported is the terminal no-op variant. Catalog filtering keeps sources
// with unsupported protocols away from the controller, so this adapter only
// exists to keep Select total.
type Unsupported struct{}

func (Unsupported) Attach(context.Context, Surface, string) error { return nil }
func (Unsupported) Detach()                                       {}
func (Unsupported) OnError(func(error))                           {}
