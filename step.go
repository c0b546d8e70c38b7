package dflow

import (
	"fmt"
	"sync"
)

// StepResult is the outcome of one step-body attempt. Unlike the original
// implementation's panic-based unwinding between an outer
// {Completed, Suspended} status and an inner {Success, NeedsSequentialize}
// result (see DESIGN.md's "Open questions resolved"), dflow merges both into a single
// three-valued result: the Go step signature already threads *StepContext
// explicitly, so a suspending Get can return ErrNotReady directly to the
// step body, which responds with Suspend instead of unwinding a panic.
type StepResult int

const (
	// Success means the step instance finished; its get-list is flushed
	// (every Get it made is decremented) and the scheduler marks this
	// unit of work complete.
	Success StepResult = iota
	// NeedsSequentialize releases this instance's place in its step
	// collection's sequentialize gate (see StepTuner.Sequentialize) and
	// re-queues it for another attempt, which does not wait on the gate
	// again. Returning it from a collection with no Sequentialize tuner
	// panics with a ContractViolation.
	NeedsSequentialize
	// Suspend means the step tried to Get an absent item; it has already
	// registered to be woken on that item's next Put, and will be
	// replayed (re-run from the top, with a fresh get-list) once woken.
	Suspend
)

// StepFunc is the user computation kernel for one (tag, step-collection)
// pair. A non-nil error is always fatal (spec.md §7's "user error returned
// by step"), regardless of the returned StepResult.
type StepFunc[T any] func(sc *StepContext, t T) (StepResult, error)

// getListEntry is one recorded Get made during a step-instance attempt;
// decrement() undoes or releases the corresponding reference, matching
// itemGetRef (item.go).
type getListEntry interface {
	decrement()
}

// StepContext is passed to every step-body invocation. It carries the
// id of the worker running the attempt and the get-list for the
// in-flight attempt. Work the step body submits (tag Puts, and the
// wake-ups of its own replays) goes to the shared injector, not to this
// worker's deque.
type StepContext struct {
	ctx      *Context
	workerID int
	getList  []getListEntry
	resume   func()
}

// Ctx returns the owning Context, for steps that need to Put further tags
// or reach other collections constructed against it.
func (sc *StepContext) Ctx() *Context { return sc.ctx }

func (sc *StepContext) appendGet(e getListEntry) {
	sc.getList = append(sc.getList, e)
}

// wakeFunc returns a closure that, called from any goroutine, re-submits
// this step instance for another attempt. It is handed to ItemCollection
// slots as a waiter.
func (sc *StepContext) wakeFunc() func() {
	return sc.resume
}

// StepTuner configures a StepCollection's optional policies.
type StepTuner[T any] struct {
	// Sequentialize, if non-nil, routes every instance of this collection
	// through a gate: an instance runs only after every earlier-Put tag's
	// instance (on the same collection) has released the gate by a
	// terminal Success, by cancellation, or by returning
	// NeedsSequentialize. A suspended instance keeps holding the gate.
	// The predicate's result is not consulted: instances for which it
	// reports false are gated as well.
	Sequentialize func(t T) bool
	// Depends, if non-nil, pre-declares t's dependencies before execute
	// runs. The scheduler checks them all via StepContext.FlushGets: if
	// every one is already present, execute runs with them already
	// committed to the get-list; if any is missing, the instance is
	// pre-suspended on the missing ones without ever calling execute,
	// skipping a wasted replay (spec.md §4.D's "prepare"/"depends" hook).
	Depends func(t T) []Dependency
}

// StepOption configures a StepCollection at construction time.
type StepOption[T any] func(*StepTuner[T])

// WithSequentialize installs a sequentialize predicate.
func WithSequentialize[T any](f func(t T) bool) StepOption[T] {
	return func(tu *StepTuner[T]) { tu.Sequentialize = f }
}

// WithDepends installs a dependency pre-declaration hook.
func WithDepends[T any](f func(t T) []Dependency) StepOption[T] {
	return func(tu *StepTuner[T]) { tu.Depends = f }
}

// StepCollection binds one computation kernel to however many tag
// collections prescribe it (spec.md §3, §4.B).
type StepCollection[T any] struct {
	ctx   *Context
	fn    StepFunc[T]
	tuner StepTuner[T]
	seq   *sequentializer
}

// NewStepCollection returns a step collection running fn for every tag
// instance it is prescribed.
func NewStepCollection[T any](ctx *Context, fn StepFunc[T], opts ...StepOption[T]) *StepCollection[T] {
	sc := &StepCollection[T]{ctx: ctx, fn: fn}
	for _, o := range opts {
		o(&sc.tuner)
	}
	if sc.tuner.Sequentialize != nil {
		sc.seq = newSequentializer()
	}
	ctx.registerResettable(sc)
	return sc
}

func (c *StepCollection[T]) unsafeReset() {
	if c.seq != nil {
		c.seq = newSequentializer()
	}
}

// instantiate creates and submits one step instance for tag t, called by
// the prescribing TagCollection on first Put and on Prescribes-time
// replay of already-seen tags.
func (c *StepCollection[T]) instantiate(t T, seq int64, canceled func() bool) {
	inst := &stepInstance[T]{coll: c, tag: t, seq: seq, canceled: canceled}
	c.ctx.scheduler.submit(-1, inst.attempt)
}

// stepInstance is one (tag, step-collection) execution, possibly
// attempted more than once (suspend/replay, sequentialize/retry).
type stepInstance[T any] struct {
	coll     *StepCollection[T]
	tag      T
	seq      int64
	canceled func() bool

	// attemptMu serializes attempt(): a Depends pre-declaration can
	// register waiters on more than one item, so two of them resolving
	// concurrently could otherwise wake this instance twice at once.
	attemptMu sync.Mutex

	// cleared is set once this instance has passed the sequentialize
	// gate, so later attempts (a replay after Suspend, or a retry after
	// NeedsSequentialize) go straight to the step body rather than
	// queueing on the gate again.
	cleared bool

	// done is set once this instance has reached a terminal state
	// (Success, or canceled). A Depends pre-declaration can leave more
	// than one wake closure registered at once; if two fire concurrently,
	// the second attempt() to acquire attemptMu must see done and no-op
	// rather than re-running an already-finished step body.
	done bool
}

// resubmit re-queues an already-inflight-counted attempt: a suspended
// step woken by a Put, or a NeedsSequentialize retry. It must go through
// scheduler.resume, not submit, or inflight would double-count this
// instance and Wait would never see quiescence.
func (inst *stepInstance[T]) resubmit() {
	inst.coll.ctx.scheduler.resume(-1, inst.attempt)
}

func (inst *stepInstance[T]) attempt(workerID int) {
	// a Depends pre-declaration can register waiters on several items at
	// once; serialize attempts so two of them resolving concurrently
	// can't run this instance's body twice at the same time.
	inst.attemptMu.Lock()
	defer inst.attemptMu.Unlock()

	if inst.done {
		// already reached a terminal state; a second wake closure from a
		// multi-dependency pre-suspend fired after the first had already
		// carried this instance to completion.
		return
	}

	// the sequence gate must be acquired (and, below, released) on every
	// path, cancellation included, or a canceled instance would leave the
	// gate stuck and block every later-sequenced instance forever.
	if inst.coll.seq != nil && !inst.cleared {
		if !inst.coll.seq.acquire(inst.seq, inst.resubmit) {
			// parked: the sequentializer will resubmit us once every
			// earlier-sequenced instance has released its slot.
			return
		}
		inst.cleared = true
	}

	if inst.coll.ctx.scheduler.isCanceled() || (inst.canceled != nil && inst.canceled()) {
		inst.done = true
		if inst.coll.seq != nil {
			inst.coll.seq.release(inst.seq)
		}
		inst.coll.ctx.scheduler.complete()
		return
	}

	sc := &StepContext{ctx: inst.coll.ctx, workerID: workerID, resume: inst.resubmit}

	if inst.coll.tuner.Depends != nil {
		if deps := inst.coll.tuner.Depends(inst.tag); len(deps) > 0 && !sc.FlushGets(deps...) {
			// pre-suspended on whichever dependencies are still missing,
			// without ever calling the step body (spec.md §4.D's
			// depends/prepare hook): inflight remains counted until a
			// later attempt, once every dependency has arrived, succeeds.
			return
		}
	}

	result, err := inst.coll.fn(sc, inst.tag)

	// Success alone decrements the attempt's get-list. NeedsSequentialize
	// and Suspend both discard it instead: a replayed attempt starts with
	// a fresh get-list and re-acquires whatever it still needs, so
	// decrementing here would release a reference this same logical step
	// instance is still holding (spec.md §4.D) — double-releasing a
	// get_count-tracked item before the step that needs it ever reaches
	// Success.
	if result == Success {
		for _, e := range sc.getList {
			e.decrement()
		}
	}

	if err != nil {
		panic(&StepError{Tag: inst.tag, Err: err})
	}

	switch result {
	case Success:
		inst.done = true
		if inst.coll.seq != nil {
			inst.coll.seq.release(inst.seq)
		}
		inst.coll.ctx.scheduler.complete()
	case NeedsSequentialize:
		if inst.coll.seq == nil {
			panic(newContractViolation(ErrStepFailed, fmt.Sprintf("NeedsSequentialize returned with no Sequentialize tuner, tag=%v", inst.tag)))
		}
		inst.coll.seq.release(inst.seq)
		// still the same inflight-counted unit: re-queue without
		// incrementing inflight again.
		inst.resubmit()
	case Suspend:
		// wake closures were already registered on the absent slots'
		// waiters during this attempt's Get calls; nothing further to
		// do. inflight remains counted until a later attempt succeeds.
	default:
		panic(newContractViolation(ErrStepFailed, fmt.Sprintf("step returned unknown result %d, tag=%v", result, inst.tag)))
	}
}

// StepError wraps a non-nil error returned by a step body: a fatal,
// location-tagged failure distinct from a ContractViolation, matching
// spec.md §7's "user error returned by step" error kind.
type StepError struct {
	Tag any
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("dflow: step failed for tag %v: %v", e.Tag, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// sequentializer enforces that sequence index N's instance only runs
// (or re-runs, after a NeedsSequentialize release) once every index below
// N has itself reached a release point, per spec.md §4.D. Grounded on the
// same "ticket order" idea as a ticket lock, generalized to release out of
// strict FIFO order by buffering not-yet-ready waiters in a map.
type sequentializer struct {
	mu      sync.Mutex
	next    int64
	waiting map[int64]func()
}

func newSequentializer() *sequentializer {
	return &sequentializer{waiting: make(map[int64]func())}
}

// acquire reports whether seq may proceed immediately. If not, resume is
// stashed and will be called (from whichever goroutine releases the
// blocking index) once it is seq's turn.
func (s *sequentializer) acquire(seq int64, resume func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == s.next {
		return true
	}
	s.waiting[seq] = resume
	return false
}

// release advances the gate past seq, waking whichever buffered waiter
// (if any) is next in line, transitively.
func (s *sequentializer) release(seq int64) {
	s.mu.Lock()
	if seq == s.next {
		s.next++
		for {
			resume, ok := s.waiting[s.next]
			if !ok {
				break
			}
			delete(s.waiting, s.next)
			s.next++
			s.mu.Unlock()
			resume()
			s.mu.Lock()
		}
	}
	s.mu.Unlock()
}
