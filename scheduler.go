package dflow

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelrun/dflow/internal/queue"
)

// runnable is one unit of scheduler work: a step-instance attempt or a
// range-split task. It receives the id of the worker running it, so work
// it submits itself (see scheduler.submit) can land on that worker's own
// deque instead of the shared injector.
type runnable func(workerID int)

// scheduler is a LIFO-local, FIFO-steal work-stealing pool, grounded on
// the teacher's ring-buffer selector idiom but generalized from a single
// shared queue to one local Deque per worker plus a shared Injector,
// following internal/queue's Chase-Lev-style deque/Michael-Scott queue
// pair (spec.md §4.C, §6).
type scheduler struct {
	mode   SchedulerMode
	deques []*queue.Deque[runnable]
	global *queue.Injector[runnable]

	inflight atomic.Int64

	quiesceMu   sync.Mutex
	quiesceCond *sync.Cond

	stopCh chan struct{}
	group  *errgroup.Group

	canceled atomic.Bool
}

func newScheduler(workers int, mode SchedulerMode) *scheduler {
	s := &scheduler{
		mode:   mode,
		deques: make([]*queue.Deque[runnable], workers),
		global: queue.NewInjector[runnable](),
		stopCh: make(chan struct{}),
	}
	s.quiesceCond = sync.NewCond(&s.quiesceMu)
	for i := range s.deques {
		s.deques[i] = queue.NewDeque[runnable](256)
	}
	s.group = new(errgroup.Group)
	for i := 0; i < workers; i++ {
		id := i
		s.group.Go(func() error {
			s.workerLoop(id)
			return nil
		})
	}
	return s
}

// submit enqueues fn, counting it against inflight immediately: the count
// must rise before fn can possibly be observed complete, so Wait never
// reports quiescence with work still outstanding. workerID >= 0 pushes to
// that worker's own deque (LIFO, cache-hot: used for range-driver
// splits); workerID < 0 (tag Puts, whether from a step body or from
// outside the pool) goes to the shared injector.
func (s *scheduler) submit(workerID int, fn runnable) {
	s.inflight.Add(1)
	s.enqueue(workerID, fn)
}

// resume re-enqueues a unit of work that is already counted in inflight
// (a suspended step instance being woken, or a NeedsSequentialize retry):
// unlike submit, it must not increment inflight again, since doing so
// would count the same logical step instance twice and inflight would
// never return to zero.
func (s *scheduler) resume(workerID int, fn runnable) {
	s.enqueue(workerID, fn)
}

func (s *scheduler) enqueue(workerID int, fn runnable) {
	if workerID >= 0 && s.mode == LIFOSteal && s.deques[workerID].PushBottom(fn) {
		return
	}
	s.global.Push(fn)
}

// complete records that one previously submitted unit of work has fully
// finished (a step reached Success, or a leaf range task is done, or a
// split task finished fanning out). It must be called exactly once per
// submit, from whichever attempt actually finishes the work: a step that
// suspends must NOT call complete until the attempt that eventually
// succeeds does.
func (s *scheduler) complete() {
	if s.inflight.Add(-1) == 0 {
		s.quiesceMu.Lock()
		s.quiesceCond.Broadcast()
		s.quiesceMu.Unlock()
	}
}

func (s *scheduler) wait() {
	s.quiesceMu.Lock()
	for s.inflight.Load() != 0 {
		s.quiesceCond.Wait()
	}
	s.quiesceMu.Unlock()
}

func (s *scheduler) cancelAll() { s.canceled.Store(true) }

func (s *scheduler) isCanceled() bool { return s.canceled.Load() }

// stop tears down the worker pool; only used by tests and process
// shutdown, never by the steady-state Wait/Put cycle.
func (s *scheduler) stop() {
	close(s.stopCh)
	_ = s.group.Wait()
}

func (s *scheduler) workerLoop(id int) {
	d := s.deques[id]
	backoff := time.Microsecond
	for {
		fn, ok := d.PopBottom()
		if !ok {
			fn, ok = s.global.Pop()
		}
		if !ok {
			fn, ok = s.steal(id)
		}
		if !ok {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoff):
				if backoff < time.Millisecond {
					backoff *= 2
				}
				continue
			}
		}
		backoff = time.Microsecond
		fn(id)
	}
}

// steal tries every other worker's deque once, round-robin from id+1, a
// single pass per idle spin rather than spinning hot against one victim.
func (s *scheduler) steal(id int) (runnable, bool) {
	n := len(s.deques)
	for i := 1; i < n; i++ {
		victim := (id + i) % n
		if fn, ok := s.deques[victim].Steal(); ok {
			return fn, true
		}
	}
	return nil, false
}
