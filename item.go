package dflow

import (
	"fmt"
	"sync"
)

// Get-count sentinels, mirroring the original implementation's
// NO_GET_COUNT / UNSET_GET_COUNT (see SPEC_FULL.md §4).
const (
	// NoGetCount marks a key whose value lives until context teardown;
	// Get never appends it to a get-list and DecrementRefCount is a
	// no-op for it.
	NoGetCount = -1
	// unsetGetCount marks a key whose count has not yet been
	// established by a tuner or by the dynamic (WithDynamicGetCount)
	// regime.
	unsetGetCount = -2
)

// itemSlot holds one key's value and bookkeeping. Concurrency is
// per-slot: the mutex guards state transitions (absent -> present),
// the suspend group, and the get-count, matching spec.md §5's "modified
// under slot lock; read with acquire ordering" and the original's note
// that a suspend_group "is not thread-safe ... use appropriate locking".
type itemSlot[V any] struct {
	mu       sync.Mutex
	present  bool
	released bool
	value    V
	getCount int64 // NoGetCount, unsetGetCount, or >= 0
	waiters  []func() // wake closures; resubmits the waiting step instance
}

// ItemTuner supplies per-key get-count policy for an ItemCollection.
// The zero ItemTuner means "no-count": items live until context teardown.
type ItemTuner[K any] struct {
	// GetCount, if non-nil, returns the fixed number of Gets a key will
	// receive before its value is released, or NoGetCount.
	GetCount func(k K) int
	// Dynamic, if true, switches to the "set_or_increment" regime:
	// every Get call (beyond the one that installs the initial count)
	// increments the live count instead of reading a fixed count.
	Dynamic bool
}

// ItemCollection is a concurrent, write-once, read-many associative store
// keyed by K, holding values of type V. See spec.md §3 and §4.A.
type ItemCollection[K comparable, V any] struct {
	ctx   *Context
	tuner ItemTuner[K]

	mu   sync.RWMutex
	hash map[K]*itemSlot[V]

	// vector variant: populated only after SetMax, for integer keys.
	vec     []*itemSlot[V]
	vecUsed bool

	name string
}

// NewItemCollection returns a hash-map-backed item collection.
func NewItemCollection[K comparable, V any](ctx *Context, opts ...ItemOption[K]) *ItemCollection[K, V] {
	ic := &ItemCollection[K, V]{
		ctx:  ctx,
		hash: make(map[K]*itemSlot[V]),
	}
	for _, o := range opts {
		o(&ic.tuner)
	}
	ctx.registerResettable(ic)
	return ic
}

// ItemOption configures an ItemCollection's tuner at construction time.
type ItemOption[K any] func(*ItemTuner[K])

// WithGetCount installs a fixed-or-NoGetCount tuner (spec.md §4.F regime 2).
func WithGetCount[K any](f func(k K) int) ItemOption[K] {
	return func(t *ItemTuner[K]) { t.GetCount = f }
}

// WithDynamicGetCount installs the set_or_increment regime (spec.md §4.F
// regime 3): the first Get for a key installs its live count at 1,
// subsequent Gets increment it. DecrementRefCount must still be driven
// externally (typically by consumer steps) to ever reach zero.
func WithDynamicGetCount[K any]() ItemOption[K] {
	return func(t *ItemTuner[K]) { t.Dynamic = true }
}

// SetMax switches the collection to the dense-vector variant, reserving
// capacity for keys in [0, n). Only K = int uses the vector; for any
// other K, SetMax leaves the hash variant in place. Panics if the hash
// variant already holds a slot for any key (a Put, Get or UnsafeGet
// creates one), since a variant switch after first use would be
// ambiguous.
func (ic *ItemCollection[K, V]) SetMax(n int) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if len(ic.hash) != 0 {
		panic(newContractViolation(ErrAlreadyPresent, "SetMax called after puts into the hash variant"))
	}
	if _, ok := any(*new(K)).(int); !ok {
		return
	}
	ic.vec = make([]*itemSlot[V], n)
	ic.vecUsed = true
}

func (ic *ItemCollection[K, V]) slotIndex(k K) (int, bool) {
	if !ic.vecUsed {
		return 0, false
	}
	i, ok := any(k).(int)
	return i, ok
}

// slotFor returns the slot for k, creating it (in the pending/absent
// state) if necessary.
func (ic *ItemCollection[K, V]) slotFor(k K) *itemSlot[V] {
	if idx, ok := ic.slotIndex(k); ok {
		ic.mu.Lock()
		if ic.vec[idx] == nil {
			ic.vec[idx] = &itemSlot[V]{getCount: unsetGetCount}
		}
		s := ic.vec[idx]
		ic.mu.Unlock()
		return s
	}

	ic.mu.RLock()
	s, ok := ic.hash[k]
	ic.mu.RUnlock()
	if ok {
		return s
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()
	if s, ok = ic.hash[k]; ok {
		return s
	}
	s = &itemSlot[V]{getCount: unsetGetCount}
	ic.hash[k] = s
	return s
}

// markTracked performs the get-count bookkeeping for a slot already known
// present, and reports whether the access should be recorded in a
// get-list (false for a NoGetCount key). Caller must hold s.mu.
func (ic *ItemCollection[K, V]) markTracked(s *itemSlot[V]) bool {
	switch {
	case ic.tuner.Dynamic:
		if s.getCount == int64(unsetGetCount) {
			s.getCount = 1
		} else {
			s.getCount++
		}
		return true
	case ic.tuner.GetCount != nil:
		// fixed count, already installed at Put; nothing to do here
		// besides tracking the access, unless the key is NoGetCount.
		return s.getCount != int64(NoGetCount)
	default:
		return false
	}
}

func (ic *ItemCollection[K, V]) initialGetCount(k K) int64 {
	switch {
	case ic.tuner.GetCount != nil:
		return int64(ic.tuner.GetCount(k))
	case ic.tuner.Dynamic:
		// left unset; the dynamic regime installs the count lazily,
		// from the first Get, per spec.md §4.F regime 3.
		return int64(unsetGetCount)
	default:
		return int64(NoGetCount)
	}
}

// Put inserts value for key k. Returns ErrAlreadyPresent if k already has
// a value: the single-assignment violation is a contract error at the
// Context level (the caller should treat a non-nil error here as fatal,
// matching spec.md §7), but Put itself returns the error rather than
// panicking so that exactly one of several racing putters can observe
// success and the rest can report failure without crashing the process
// mid-race.
func (ic *ItemCollection[K, V]) Put(k K, value V) error {
	s := ic.slotFor(k)
	s.mu.Lock()
	if s.present {
		s.mu.Unlock()
		return fmt.Errorf("%w: key=%v", ErrAlreadyPresent, k)
	}
	s.value = value
	s.present = true
	if s.getCount == unsetGetCount {
		s.getCount = ic.initialGetCount(k)
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, wake := range waiters {
		wake()
	}
	ic.ctx.trace("item.put", func() (string, string) { return "key", fmt.Sprint(k) })
	return nil
}

// Get returns the value for k. If absent, it registers sc's step instance
// to be woken on the next Put (or decrement-to-release, which never
// un-suspends a Get — only Put does) and returns ErrNotReady: sc's step
// body must respond by returning Suspend.
func (ic *ItemCollection[K, V]) Get(sc *StepContext, k K) (V, error) {
	s := ic.slotFor(k)
	s.mu.Lock()
	if s.present && !s.released {
		v := s.value
		tracked := ic.markTracked(s)
		s.mu.Unlock()
		if tracked {
			sc.appendGet(itemGetRef[K, V]{ic, k})
		}
		return v, nil
	}
	if s.released {
		s.mu.Unlock()
		var zero V
		return zero, fmt.Errorf("%w: key=%v (value already released)", ErrNotReady, k)
	}
	s.waiters = append(s.waiters, sc.wakeFunc())
	s.mu.Unlock()
	sc.ctx.trace("item.suspend", func() (string, string) { return "key", fmt.Sprint(k) })
	var zero V
	return zero, fmt.Errorf("%w: key=%v", ErrNotReady, k)
}

// UnsafeGet polls for a value without suspending the caller.
func (ic *ItemCollection[K, V]) UnsafeGet(k K) (V, bool) {
	s := ic.slotFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present || s.released {
		var zero V
		return zero, false
	}
	return s.value, true
}

// DecrementRefCount decrements k's get-count by one, releasing (and
// discarding) the value at zero. Decrementing a NoGetCount key is a
// no-op. It is a contract error, reported as ErrBadDecrement, to
// decrement past zero or to decrement a key whose get-count was never
// established.
func (ic *ItemCollection[K, V]) DecrementRefCount(k K) error {
	s := ic.slotFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.getCount {
	case int64(NoGetCount):
		return nil
	case int64(unsetGetCount):
		return fmt.Errorf("%w: key=%v (get-count never established)", ErrBadDecrement, k)
	}
	if s.getCount <= 0 {
		return fmt.Errorf("%w: key=%v", ErrBadDecrement, k)
	}
	s.getCount--
	if s.getCount == 0 {
		var zero V
		s.value = zero
		s.released = true
	}
	return nil
}

// Size reports the number of keys currently holding a live (unreleased)
// value.
func (ic *ItemCollection[K, V]) Size() int {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	n := 0
	if ic.vecUsed {
		for _, s := range ic.vec {
			if s == nil {
				continue
			}
			s.mu.Lock()
			if s.present && !s.released {
				n++
			}
			s.mu.Unlock()
		}
		return n
	}
	for _, s := range ic.hash {
		s.mu.Lock()
		if s.present && !s.released {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// ForEach calls fn for every key currently holding a live value. fn must
// not call back into this collection.
func (ic *ItemCollection[K, V]) ForEach(fn func(k K, v V)) {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	if ic.vecUsed {
		for i, s := range ic.vec {
			if s == nil {
				continue
			}
			s.mu.Lock()
			if s.present && !s.released {
				v := s.value
				s.mu.Unlock()
				fn(any(i).(K), v)
				continue
			}
			s.mu.Unlock()
		}
		return
	}
	for k, s := range ic.hash {
		s.mu.Lock()
		if s.present && !s.released {
			v := s.value
			s.mu.Unlock()
			fn(k, v)
			continue
		}
		s.mu.Unlock()
	}
}

// unsafeReset clears every key, for use by Context.UnsafeReset only
// (caller guarantees quiescence).
func (ic *ItemCollection[K, V]) unsafeReset() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.hash = make(map[K]*itemSlot[V])
	if ic.vecUsed {
		for i := range ic.vec {
			ic.vec[i] = nil
		}
	}
}

// itemGetRef is the type-erased get-list entry for ItemCollection[K, V]:
// decrementing it decrements the referenced key's get-count.
type itemGetRef[K comparable, V any] struct {
	coll *ItemCollection[K, V]
	key  K
}

func (r itemGetRef[K, V]) decrement() {
	if err := r.coll.DecrementRefCount(r.key); err != nil {
		panic(newContractViolation(err, "get-list flush"))
	}
}
