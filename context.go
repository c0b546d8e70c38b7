package dflow

import (
	"sync"

	"github.com/kestrelrun/dflow/internal/diag"
)

// resettable is implemented by every collection type, so Context.UnsafeReset
// can clear them all without a type switch over every collection kind.
type resettable interface {
	unsafeReset()
}

// Context owns one dataflow graph's scheduler, collections, and
// diagnostics. Collections are constructed against a Context (see
// NewItemCollection, NewTagCollection) and live until UnsafeReset or the
// Context is discarded; there is no explicit teardown, matching the
// original's context_base ownership model (DESIGN.md, "Context").
type Context struct {
	cfg       config
	scheduler *scheduler
	tracer    *diag.Tracer

	mu          sync.Mutex
	resettables []resettable
}

// NewContext constructs a Context and starts its worker pool. Workers
// default to runtime.GOMAXPROCS(0) after go.uber.org/automaxprocs has
// adjusted it to the container's CPU quota; see WithWorkers to override.
func NewContext(opts ...Option) *Context {
	cfg := resolveConfig(opts)
	ctx := &Context{
		cfg:       cfg,
		scheduler: newScheduler(cfg.workers, cfg.mode),
		tracer:    diag.NewTracer(cfg.logger, cfg.traceRate),
	}
	return ctx
}

// Wait blocks until the graph is quiescent: no step instance is running,
// suspended-but-not-yet-woken, or queued, and no range-driver split is
// outstanding (spec.md §4.D, §8 property 1).
//
// Wait must not race with a concurrent Put/PutRange from a goroutine the
// caller does not already know Wait is waiting on (the same requirement
// sync.WaitGroup.Wait places on a concurrent Add): every Put made by step
// bodies themselves is safe, since it happens while the graph is already
// known non-quiescent.
func (ctx *Context) Wait() {
	ctx.scheduler.wait()
}

// CancelAll cooperatively cancels every tag, on every tag collection
// constructed against this Context, not yet dispatched. Already-running
// step attempts finish normally.
func (ctx *Context) CancelAll() {
	ctx.scheduler.cancelAll()
}

// UnsafeReset clears every collection registered against ctx, for re-use
// of the same Context (and its worker pool) across independent graph
// runs. Returns ErrResetWhileActive if the graph is not quiescent: the
// caller must Wait first.
func (ctx *Context) UnsafeReset() error {
	if ctx.scheduler.inflight.Load() != 0 {
		return ErrResetWhileActive
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for _, r := range ctx.resettables {
		r.unsafeReset()
	}
	return nil
}

// Close stops the worker pool permanently. The Context must already be
// quiescent (call Wait first); Close does not itself wait for in-flight
// work to drain.
func (ctx *Context) Close() {
	ctx.scheduler.stop()
}

func (ctx *Context) registerResettable(r resettable) {
	ctx.mu.Lock()
	ctx.resettables = append(ctx.resettables, r)
	ctx.mu.Unlock()
}

func (ctx *Context) trace(category string, fields func() (string, string)) {
	if ctx.tracer == nil {
		return
	}
	ctx.tracer.Trace(category, func(b *diag.Builder) {
		if fields == nil {
			return
		}
		k, v := fields()
		b.Str(k, v)
	})
}
