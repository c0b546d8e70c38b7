package dflow

// Range is a half-open interval [Low, High) with an optional Stride,
// following the original implementation's strided_range (see
// SPEC_FULL.md §4, grounded on original_source/cnc/internal/strided_range.h).
type Range[T Integer] struct {
	Low, High T
	// Stride defaults to 1 when zero.
	Stride T
}

func (r Range[T]) stride() T {
	if r.Stride == 0 {
		return 1
	}
	return r.Stride
}

func (r Range[T]) len() int64 {
	if r.High <= r.Low {
		return 0
	}
	return (int64(r.High) - int64(r.Low) + int64(r.stride()) - 1) / int64(r.stride())
}

// Partitioner decides when a Range stops being split further, for the
// range/parallel-for driver (spec.md §4.G).
type Partitioner[T Integer] interface {
	// IsDivisible reports whether r should still be split.
	IsDivisible(r Range[T]) bool
	// Split divides r into two sub-ranges.
	Split(r Range[T]) (Range[T], Range[T])
}

// defaultPartitioner splits in half until a range holds at most grain
// elements.
type defaultPartitioner[T Integer] struct{ grain int64 }

func (p defaultPartitioner[T]) IsDivisible(r Range[T]) bool { return r.len() > p.grain }

func (p defaultPartitioner[T]) Split(r Range[T]) (Range[T], Range[T]) {
	mid := r.Low + T(r.len()/2)*r.stride()
	return Range[T]{Low: r.Low, High: mid, Stride: r.stride()},
		Range[T]{Low: mid, High: r.High, Stride: r.stride()}
}

// DefaultPartitioner returns a Partitioner that recursively bisects until
// each leaf range holds at most grain elements (grain defaults to 1 if
// <= 0, i.e. split down to individual tags).
func DefaultPartitioner[T Integer](grain int64) Partitioner[T] {
	if grain <= 0 {
		grain = 1
	}
	return defaultPartitioner[T]{grain: grain}
}

// PutRange puts every element of r into tc. It is observationally
// equivalent to putting every element individually (spec.md §8 property
// 6), except for scheduling order: the driver recursively bisects r via
// partitioner (DefaultPartitioner(1) if nil), submitting each half as its
// own unit of scheduler work so the split tree is load-balanced across
// workers instead of walked by the calling goroutine alone (spec.md §4.G).
//
// T is a free type parameter distinct from TagCollection[T]'s own: the
// Integer constraint is a strict subset of comparable, so a Range[T] can
// always address a TagCollection[T], but a method on TagCollection could
// not itself introduce the tighter constraint (TagCollection's receiver
// is fixed to whatever constraint it was declared with).
func PutRange[T Integer](tc *TagCollection[T], r Range[T], partitioner Partitioner[T]) {
	if partitioner == nil {
		partitioner = DefaultPartitioner[T](1)
	}
	tc.ctx.scheduler.submit(-1, func(workerID int) {
		doSplit(tc, r, partitioner, workerID)
		tc.ctx.scheduler.complete()
	})
}

// doSplit recursively bisects r, submitting the left half as its own,
// independently-counted unit of scheduler work and continuing
// synchronously into the right half on the same goroutine, until reaching
// a leaf small enough per partitioner, where every element is put
// individually. Each call is paired with exactly one complete() call made
// by its submitter (PutRange, or the submit callback below), regardless
// of how deep its synchronous right-hand recursion goes.
func doSplit[T Integer](tc *TagCollection[T], r Range[T], p Partitioner[T], workerID int) {
	if p.IsDivisible(r) {
		left, right := p.Split(r)
		tc.ctx.scheduler.submit(workerID, func(w int) {
			doSplit(tc, left, p, w)
			tc.ctx.scheduler.complete()
		})
		doSplit(tc, right, p, workerID)
		return
	}
	for t := r.Low; t < r.High; t += r.stride() {
		tc.Put(t)
	}
}
