package turn

import "context"

// Cancel is the stop token shared by the controller, the recognizer abort
// predicate and the generation loop.
type Cancel struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancel derives a token from parent; it fires when parent is done or
// Cancel is called.
func NewCancel(parent context.Context) *Cancel {
	ctx, cancel := context.WithCancel(parent)
	return &Cancel{ctx: ctx, cancel: cancel}
}

func (c *Cancel) Cancel() { c.cancel() }

func (c *Cancel) Cancelled() bool { return c.ctx.Err() != nil }

func (c *Cancel) Done() <-chan struct{} { return c.ctx.Done() }

// Context is cancelled together with the token.
func (c *Cancel) Context() context.Context { return c.ctx }
