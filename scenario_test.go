package dflow_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/dflow"
)

// S1 — Fibonacci via memoized tags.
func TestFibonacciMemoizedTags(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	fib := dflow.NewItemCollection[int, int64](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, n int) (dflow.StepResult, error) {
		if n < 2 {
			return dflow.Success, fib.Put(n, int64(n))
		}
		a, err := fib.Get(sc, n-1)
		if err != nil {
			return dflow.Suspend, nil
		}
		b, err := fib.Get(sc, n-2)
		if err != nil {
			return dflow.Suspend, nil
		}
		return dflow.Success, fib.Put(n, a+b)
	}))

	for n := 0; n <= 20; n++ {
		tags.Put(n)
	}
	ctx.Wait()

	v, ok := fib.UnsafeGet(20)
	require.True(t, ok)
	require.EqualValues(t, 6765, v)
}

// S2 — Primes up to N.
func TestPrimesUpToN(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	primes := dflow.NewItemCollection[int, int](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	isPrime := func(k int) bool {
		for d := 2; d*d <= k; d++ {
			if k%d == 0 {
				return false
			}
		}
		return k >= 2
	}

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, k int) (dflow.StepResult, error) {
		if isPrime(k) {
			return dflow.Success, primes.Put(k, k)
		}
		return dflow.Success, nil
	}))

	for k := 3; k <= 100; k += 2 {
		tags.Put(k)
	}
	ctx.Wait()

	require.Equal(t, 25, primes.Size()+1)
}

// S3 — Put-before-get chain: step for tag t puts item (t+1, t), then gets
// item (t, _); for tags 0..999 every get must eventually succeed.
func TestPutBeforeGetChain(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	const n = 1000

	items := dflow.NewItemCollection[int, int](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	seen := make(chan int, n)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		if tg+1 < n {
			if err := items.Put(tg+1, tg); err != nil {
				return dflow.Success, err
			}
		}
		v, err := items.Get(sc, tg)
		if err != nil {
			return dflow.Suspend, nil
		}
		seen <- v
		return dflow.Success, nil
	}))

	require.NoError(t, items.Put(0, 0))
	for tg := 0; tg < n; tg++ {
		tags.Put(tg)
	}
	ctx.Wait()

	close(seen)
	count := 0
	for range seen {
		count++
	}
	require.Equal(t, n, count)
}

// S5 — Sequentialize: odd tags execute strictly in order. The gate does
// not consult the predicate, so even tags are run in Put order as well.
func TestSequentializeOddTags(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	var mu sync.Mutex
	var order []int

	tags := dflow.NewTagCollection[int](ctx)
	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		if tg%2 == 1 {
			mu.Lock()
			order = append(order, tg)
			mu.Unlock()
		}
		return dflow.Success, nil
	}, dflow.WithSequentialize(func(tg int) bool { return tg%2 == 1 })))

	for tg := 0; tg < 40; tg++ {
		tags.Put(tg)
	}
	ctx.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i := 1; i < len(order); i++ {
		require.Less(t, order[i-1], order[i])
	}
}

// S6 — Garbage collection: N items each with get_count=2, consumed twice;
// only item 0 and item N-1 (marked NoGetCount) remain live afterward.
func TestGetCountReleasesValues(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	const n = 16

	items := dflow.NewItemCollection[int, int](ctx, dflow.WithGetCount(func(k int) int {
		if k == 0 || k == n-1 {
			return dflow.NoGetCount
		}
		return 2
	}))

	for k := 0; k < n; k++ {
		require.NoError(t, items.Put(k, k))
	}

	for k := 1; k < n-1; k++ {
		_, ok := items.UnsafeGet(k)
		require.True(t, ok, "key %d should still be live before any decrement", k)
		require.NoError(t, items.DecrementRefCount(k))
		_, ok = items.UnsafeGet(k)
		require.True(t, ok, "key %d should survive a single decrement (get_count=2)", k)
		require.NoError(t, items.DecrementRefCount(k))
		_, ok = items.UnsafeGet(k)
		require.False(t, ok, "key %d should be released after its second decrement", k)
	}

	_, ok0 := items.UnsafeGet(0)
	require.True(t, ok0, "NoGetCount key 0 must never be released")
	_, okLast := items.UnsafeGet(n - 1)
	require.True(t, okLast, "NoGetCount key n-1 must never be released")

	require.ErrorIs(t, items.DecrementRefCount(1), dflow.ErrBadDecrement)
}

// From tests/simple/multiple_contexts.cpp: two independent Contexts never
// interfere with each other, since nothing in dflow uses process-global
// state — every collection is scoped to the Context it was constructed
// against.
func TestMultipleContexts(t *testing.T) {
	ctxA := dflow.NewContext()
	defer ctxA.Close()
	ctxB := dflow.NewContext()
	defer ctxB.Close()

	itemsA := dflow.NewItemCollection[int, int](ctxA)
	tagsA := dflow.NewTagCollection[int](ctxA)
	tagsA.Prescribes(dflow.NewStepCollection(ctxA, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		return dflow.Success, itemsA.Put(tg, tg*2)
	}))

	itemsB := dflow.NewItemCollection[int, int](ctxB)
	tagsB := dflow.NewTagCollection[int](ctxB)
	tagsB.Prescribes(dflow.NewStepCollection(ctxB, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		return dflow.Success, itemsB.Put(tg, tg*3)
	}))

	for tg := 0; tg < 10; tg++ {
		tagsA.Put(tg)
		tagsB.Put(tg)
	}
	ctxA.Wait()
	ctxB.Wait()

	for tg := 0; tg < 10; tg++ {
		va, ok := itemsA.UnsafeGet(tg)
		require.True(t, ok)
		require.Equal(t, tg*2, va)
		vb, ok := itemsB.UnsafeGet(tg)
		require.True(t, ok)
		require.Equal(t, tg*3, vb)
	}
}

// From tests/pass_on/pass_on_all.cpp: a step that receives item (tg, v)
// passes it on to item (tg+1, v) unchanged, forming a chain; complements
// S3's put-before-get ordering with the simpler "forward everything"
// shape.
func TestPassOnChain(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	const n = 200

	items := dflow.NewItemCollection[int, int](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		v, err := items.Get(sc, tg)
		if err != nil {
			return dflow.Suspend, nil
		}
		if tg+1 >= n {
			return dflow.Success, nil
		}
		return dflow.Success, items.Put(tg+1, v)
	}))

	require.NoError(t, items.Put(0, 42))
	for tg := 0; tg < n; tg++ {
		tags.Put(tg)
	}
	ctx.Wait()

	v, ok := items.UnsafeGet(n - 1)
	require.True(t, ok)
	require.Equal(t, 42, v)
}

// From tests/join/join.cpp: a step depends on two items from distinct
// suspend groups and must not run until both have arrived, exercising the
// Depends pre-declaration hook (spec.md §4.D) rather than a manual
// suspend-on-first-absent-Get chain.
func TestJoinDependency(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	left := dflow.NewItemCollection[int, int](ctx)
	right := dflow.NewItemCollection[int, int](ctx)
	sums := dflow.NewItemCollection[int, int](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		a, _ := left.UnsafeGet(tg)
		b, _ := right.UnsafeGet(tg)
		return dflow.Success, sums.Put(tg, a+b)
	}, dflow.WithDepends(func(tg int) []dflow.Dependency {
		return []dflow.Dependency{left.Depend(tg), right.Depend(tg)}
	})))

	const n = 50
	for tg := 0; tg < n; tg++ {
		tags.Put(tg)
	}
	// put the two halves of each join out of order, and with a gap
	// between them, so most instances pre-suspend on at least one side.
	for tg := 0; tg < n; tg++ {
		require.NoError(t, right.Put(tg, tg*10))
	}
	for tg := 0; tg < n; tg++ {
		require.NoError(t, left.Put(tg, tg))
	}
	ctx.Wait()

	for tg := 0; tg < n; tg++ {
		v, ok := sums.UnsafeGet(tg)
		require.True(t, ok)
		require.Equal(t, tg+tg*10, v)
	}
}
