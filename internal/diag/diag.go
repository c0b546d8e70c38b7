// Package diag wires the runtime's structured logging and diagnostic
// tracing. It is a one-way dependency of the dflow package: nothing here
// reaches back into item/tag/step/scheduler internals.
package diag

import (
	"os"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger used throughout dflow, backed by
// stumpy's zero-allocation JSON event writer.
type Logger = logiface.Logger[*stumpy.Event]

// Builder is the field-builder passed to Tracer.Trace's fields callback.
type Builder = logiface.Builder[*stumpy.Event]

// NewLogger builds the default logger, writing newline-delimited JSON to
// w (os.Stderr if nil) at the given minimum level.
func NewLogger(w *os.File, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := []logiface.Option[*stumpy.Event]{
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	}
	if level != logiface.LevelInformational {
		opts = append(opts, logiface.WithLevel[*stumpy.Event](level))
	}
	return stumpy.L.New(opts...)
}

// Tracer rate-limits a high-frequency class of diagnostic events (item
// suspend/resume, step replay) so logging them never becomes the
// bottleneck or the log-storm that naive per-event logging at graph scale
// would cause. Built on catrate's sliding-window limiter, the same
// category-keyed rate limiter the catrate package documents for exactly
// this "don't emit more than N of these per window" use case.
type Tracer struct {
	logger  *Logger
	limiter *catrate.Limiter
}

// NewTracer returns a Tracer that permits at most maxPerSecond trace
// events, per category, per second, and at most 10x that per 10 seconds
// (a short burst allowance without unbounded drift). A zero maxPerSecond
// disables throttling and every call to Trace logs.
func NewTracer(logger *Logger, maxPerSecond int) *Tracer {
	if maxPerSecond <= 0 {
		return &Tracer{logger: logger}
	}
	return &Tracer{
		logger: logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second:     maxPerSecond,
			10 * time.Second: maxPerSecond * 10,
		}),
	}
}

// Trace logs one trace-level event for the given category, subject to the
// tracer's rate limit. category is typically the kind of event (e.g.
// "item.suspend", "step.replay") so each kind gets its own budget.
func (t *Tracer) Trace(category string, fields func(b *Builder)) {
	if t == nil || t.logger == nil {
		return
	}
	if t.limiter != nil {
		if _, ok := t.limiter.Allow(category); !ok {
			return
		}
	}
	b := t.logger.Trace()
	if fields != nil {
		fields(b)
	}
	b.Str("category", category).Log("trace")
}
