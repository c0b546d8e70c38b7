package queue

import "sync/atomic"

// cacheLinePad is sized to push hot fields onto separate cache lines,
// mirroring the padding the teacher's ring-buffer uses to avoid false
// sharing between writer- and reader-owned state.
type cacheLinePad [8]uint64

// Deque is a single-owner, multi-thief work-stealing deque: the owning
// worker pushes and pops from the bottom (LIFO), stealing goroutines take
// from the top (FIFO), so a worker's most recently submitted (and so
// most cache-hot) work is what it resumes first, while idle workers steal
// older work and are less likely to contend with the owner.
//
// Backed by a power-of-2 ring buffer with CAS'd slot indices, the same
// sizing idiom (power-of-2 capacity, index masking instead of modulo) the
// teacher's ZenQ ring buffer uses, rather than the Chase-Lev resizable
// array deque's dynamic growth: a fixed capacity keeps the hot path
// allocation-free, and overflow is pushed to the shared Injector instead.
type Deque[T any] struct {
	_pad0 cacheLinePad
	top   atomic.Uint64
	_pad1 cacheLinePad
	bottom atomic.Uint64
	_pad2  cacheLinePad
	mask   uint64
	buf    []atomic.Pointer[T]
	_pad3  cacheLinePad
}

// NewDeque returns a deque with capacity rounded up to the next power of
// two, with a minimum capacity of 32.
func NewDeque[T any](capacity int) *Deque[T] {
	size := uint64(32)
	for size < uint64(capacity) {
		size <<= 1
	}
	d := &Deque[T]{
		mask: size - 1,
		buf:  make([]atomic.Pointer[T], size),
	}
	return d
}

// PushBottom pushes value onto the bottom of the deque, for exclusive use
// by the owning worker. Returns false if the deque is full, in which case
// the caller should fall back to the shared Injector.
func (d *Deque[T]) PushBottom(value T) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t >= uint64(len(d.buf)) {
		return false
	}
	v := value
	d.buf[b&d.mask].Store(&v)
	d.bottom.Store(b + 1)
	return true
}

// PopBottom pops from the bottom of the deque, for exclusive use by the
// owning worker. ok is false if the deque was empty.
func (d *Deque[T]) PopBottom() (value T, ok bool) {
	b := d.bottom.Load()
	if b == d.top.Load() {
		return value, false
	}
	b--
	d.bottom.Store(b)
	t := d.top.Load()
	if t > b {
		// a thief raced us and emptied the deque; restore invariants
		d.bottom.Store(t)
		return value, false
	}
	slot := d.buf[b&d.mask].Load()
	if t == b {
		// last element: race a thief for it via CAS on top
		if !d.top.CompareAndSwap(t, t+1) {
			d.bottom.Store(t + 1)
			return value, false
		}
		d.bottom.Store(t + 1)
	}
	if slot == nil {
		return value, false
	}
	return *slot, true
}

// Steal takes from the top of the deque, for use by any goroutine other
// than the owner. ok is false if the deque was empty or lost a race with
// another thief / the owner's PopBottom.
func (d *Deque[T]) Steal() (value T, ok bool) {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return value, false
	}
	slot := d.buf[t&d.mask].Load()
	if !d.top.CompareAndSwap(t, t+1) {
		return value, false
	}
	if slot == nil {
		return value, false
	}
	return *slot, true
}

// Len reports the approximate number of elements currently held; it is
// racy with respect to concurrent Push/Pop/Steal and is intended only for
// idle/quiescence heuristics, never for correctness decisions.
func (d *Deque[T]) Len() int {
	b := d.bottom.Load()
	t := d.top.Load()
	if b < t {
		return 0
	}
	return int(b - t)
}
