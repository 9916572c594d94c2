package engine

import (
	"context"
)

// Loop serializes all access to the Processor. NATS consumers and the HTTP
// query surface hand closures to the loop instead of locking, so every batch
// observes and produces a consistent state and outcome records carry a total
// order.
type Loop struct {
	proc *Processor
	work chan func(*Processor)
}

func NewLoop(proc *Processor, depth int) *Loop {
	if depth <= 0 {
		depth = 256
	}
	return &Loop{
		proc: proc,
		work: make(chan func(*Processor), depth),
	}
}

// Run drains the work queue until the context is cancelled. It must run in
// exactly one goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.work:
			fn(l.proc)
		}
	}
}

// Do enqueues work without waiting for it.
func (l *Loop) Do(ctx context.Context, fn func(*Processor)) error {
	select {
	case l.work <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop and blocks until it finishes. Used by the query
// surface and by callers that need the result inline.
func (l *Loop) Call(ctx context.Context, fn func(*Processor)) error {
	done := make(chan struct{})
	wrapped := func(p *Processor) {
		fn(p)
		close(done)
	}
	select {
	case l.work <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue reports the number of pending work items.
func (l *Loop) Queue() int {
	return len(l.work)
}
