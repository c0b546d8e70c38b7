// Package dflow implements a runtime for a dynamic, deterministic dataflow
// programming model. A program is a graph of three collection kinds: item
// collections (write-once, read-many associative stores), tag collections
// (multisets of control tags that prescribe step execution), and step
// collections (pure computation kernels). Steps read and write items and
// may put further tags; the runtime executes every prescribed step
// instance in any order consistent with data availability, using a
// work-stealing pool of worker goroutines.
//
// A typical program builds a Context, wires tag collections to step
// collections via Prescribes, puts a handful of seed tags, and calls
// Wait to block until the graph reaches quiescence:
//
//	ctx := dflow.NewContext()
//	fib := dflow.NewItemCollection[int, int](ctx)
//	tags := dflow.NewTagCollection[int](ctx)
//	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, t int) (dflow.StepResult, error) {
//	        if t < 2 {
//	                return dflow.Success, fib.Put(t, t)
//	        }
//	        a, err := fib.Get(sc, t-1)
//	        if err != nil {
//	                return dflow.Suspend, nil
//	        }
//	        b, err := fib.Get(sc, t-2)
//	        if err != nil {
//	                return dflow.Suspend, nil
//	        }
//	        return dflow.Success, fib.Put(t, a+b)
//	}))
//	for t := 0; t <= 20; t++ {
//	        tags.Put(t)
//	}
//	ctx.Wait()
package dflow
