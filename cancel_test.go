package dflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelrun/dflow"
)

// S4 — Cancellation: step for tag t cancels t+1 then puts (t, t). Putting
// tags 100..109 in order, tag 100 runs and cancels 101; 101 is skipped, so
// it never cancels 102, which runs and cancels 103, and so on: the
// even-offset tags put their items and the odd-offset tags are skipped.
func TestCancellationSkipsLaterTags(t *testing.T) {
	// a single worker processes the global injector strictly FIFO here,
	// making the chain deterministic: cancellation is otherwise only
	// checked cooperatively at dispatch time, so with more than one
	// worker a later tag could already be dispatched before the earlier
	// one cancels it (spec.md §7's "cooperative, not preemptive").
	ctx := dflow.NewContext(dflow.WithWorkers(1))
	defer ctx.Close()

	items := dflow.NewItemCollection[int, int](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		tags.Cancel(tg + 1)
		return dflow.Success, items.Put(tg, tg)
	}))

	for tg := 100; tg < 110; tg++ {
		tags.Put(tg)
	}
	ctx.Wait()

	_, ok := items.UnsafeGet(100)
	require.True(t, ok, "the first tag always runs before any cancellation takes effect")
	for tg := 101; tg < 110; tg++ {
		_, ok := items.UnsafeGet(tg)
		if (tg-100)%2 == 1 {
			require.False(t, ok, "tag %d should have been canceled by the tag before it", tg)
		} else {
			require.True(t, ok, "tag %d should run, since the skipped tag before it never canceled it", tg)
		}
	}
}

// CancelAll must stop every not-yet-dispatched instance across the board.
func TestCancelAllStopsSubsequentPuts(t *testing.T) {
	ctx := dflow.NewContext()
	defer ctx.Close()

	items := dflow.NewItemCollection[int, int](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, tg int) (dflow.StepResult, error) {
		return dflow.Success, items.Put(tg, tg)
	}))

	ctx.CancelAll()
	for tg := 0; tg < 10; tg++ {
		tags.Put(tg)
	}
	ctx.Wait()

	require.Equal(t, 0, items.Size())
}
