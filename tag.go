package dflow

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// TagCollection is a concurrent set of control tags: putting a tag is
// idempotent and, on first insertion, instantiates one step instance per
// step-collection this tag-collection prescribes (spec.md §3, §4.B).
type TagCollection[T comparable] struct {
	ctx *Context

	mu   sync.Mutex
	seen map[T]struct{}
	// order preserves insertion order so ForEach and Prescribes-time
	// replay are deterministic.
	order []T
	seq   atomic.Int64

	prescribedMu sync.RWMutex
	prescribed   []runnableFactory[T]

	cancel CancelTuner[T]
}

// runnableFactory materializes a step instance for tag t against one
// prescribed step-collection.
type runnableFactory[T any] struct {
	submit func(t T, seq int64, canceled func() bool)
}

// NewTagCollection returns a new, empty tag collection.
func NewTagCollection[T comparable](ctx *Context) *TagCollection[T] {
	tc := &TagCollection[T]{
		ctx:  ctx,
		seen: make(map[T]struct{}),
	}
	ctx.registerResettable(tc)
	return tc
}

// Prescribes wires sc so that every tag put into tc (past, via replay, and
// future) instantiates one step instance in sc.
func (tc *TagCollection[T]) Prescribes(sc *StepCollection[T]) {
	tc.prescribedMu.Lock()
	tc.prescribed = append(tc.prescribed, runnableFactory[T]{submit: sc.instantiate})
	tc.prescribedMu.Unlock()

	// memoization: a wiring established after some tags were already
	// put must still see them, per spec.md §3.
	tc.mu.Lock()
	already := append([]T(nil), tc.order...)
	tc.mu.Unlock()
	for i, t := range already {
		sc.instantiate(t, int64(i), tc.canceledFunc(t))
	}
}

// Put inserts t, idempotently. First insertion fans out to every
// prescribed step-collection.
func (tc *TagCollection[T]) Put(t T) {
	tc.mu.Lock()
	if _, ok := tc.seen[t]; ok {
		tc.mu.Unlock()
		return
	}
	tc.seen[t] = struct{}{}
	tc.order = append(tc.order, t)
	seq := tc.seq.Add(1) - 1
	tc.mu.Unlock()

	tc.ctx.trace("tag.put", func() (string, string) { return "seq", strconv.Itoa(int(seq)) })

	tc.prescribedMu.RLock()
	factories := tc.prescribed
	tc.prescribedMu.RUnlock()
	canceled := tc.canceledFunc(t)
	for _, f := range factories {
		f.submit(t, seq, canceled)
	}
}

func (tc *TagCollection[T]) canceledFunc(t T) func() bool {
	return func() bool { return tc.cancel.IsCanceled(t) }
}

// Cancel marks t canceled: every step instance for t not yet dispatched,
// or about to be replayed after a suspend, is skipped instead of run.
// Cooperative only — an attempt already running to completion is not
// interrupted (spec.md §7).
func (tc *TagCollection[T]) Cancel(t T) { tc.cancel.Cancel(t) }

// CancelAll marks every tag, past and future, canceled.
func (tc *TagCollection[T]) CancelAll() { tc.cancel.CancelAll() }

// IsCanceled reports whether t (or the whole collection) is canceled.
func (tc *TagCollection[T]) IsCanceled(t T) bool { return tc.cancel.IsCanceled(t) }

// ForEach calls fn once per distinct tag ever put, in Put order.
func (tc *TagCollection[T]) ForEach(fn func(T)) {
	tc.mu.Lock()
	snapshot := append([]T(nil), tc.order...)
	tc.mu.Unlock()
	for _, t := range snapshot {
		fn(t)
	}
}

// unsafeReset clears every tag seen, for use by Context.UnsafeReset.
func (tc *TagCollection[T]) unsafeReset() {
	tc.mu.Lock()
	tc.seen = make(map[T]struct{})
	tc.order = nil
	tc.seq.Store(0)
	tc.mu.Unlock()
	tc.cancel.unsafeReset()
}

// Integer constrains Range/PutRange to integer-keyed tags, since
// splitting and striding require arithmetic.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}
