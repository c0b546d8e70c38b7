package dflow_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/dflow"
)

// Property 6: PutRange(r) is observationally equivalent to putting every
// element of r individually, modulo scheduling order.
func TestPutRangeEquivalentToIndividualPuts(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	var mu sync.Mutex
	var seen []int

	tags := dflow.NewTagCollection[int](ctx)
	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		mu.Lock()
		seen = append(seen, tg)
		mu.Unlock()
		return dflow.Success, nil
	}))

	dflow.PutRange(tags, dflow.Range[int]{Low: 0, High: 500}, dflow.DefaultPartitioner[int](32))
	ctx.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 500)
	sort.Ints(seen)
	for i, v := range seen {
		require.Equal(t, i, v)
	}
}

func TestPutRangeWithStride(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	var mu sync.Mutex
	var seen []int

	tags := dflow.NewTagCollection[int](ctx)
	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		mu.Lock()
		seen = append(seen, tg)
		mu.Unlock()
		return dflow.Success, nil
	}))

	dflow.PutRange(tags, dflow.Range[int]{Low: 0, High: 20, Stride: 2}, nil)
	ctx.Wait()

	mu.Lock()
	defer mu.Unlock()
	sort.Ints(seen)
	require.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, seen)
}
