// Command fib computes Fibonacci numbers via memoized tags (S1): a tag
// collection seeded with 0..n prescribes a step that reads fib[t-1] and
// fib[t-2] from an item collection and writes fib[t], suspending on a
// missing dependency until the scheduler replays it.
package main

import (
	"flag"
	"fmt"

	"github.com/kestrelrun/dflow"
)

func main() {
	n := flag.Int("n", 20, "compute the n-th Fibonacci number")
	flag.Parse()

	ctx := dflow.NewContext()
	defer ctx.Close()

	fib := dflow.NewItemCollection[int, int64](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, t int) (dflow.StepResult, error) {
		if t < 2 {
			return dflow.Success, fib.Put(t, int64(t))
		}
		a, err := fib.Get(sc, t-1)
		if err != nil {
			return dflow.Suspend, nil
		}
		b, err := fib.Get(sc, t-2)
		if err != nil {
			return dflow.Suspend, nil
		}
		return dflow.Success, fib.Put(t, a+b)
	}))

	for t := 0; t <= *n; t++ {
		tags.Put(t)
	}
	ctx.Wait()

	v, ok := fib.UnsafeGet(*n)
	if !ok {
		fmt.Printf("fib(%d): not computed\n", *n)
		return
	}
	fmt.Printf("fib(%d) = %d\n", *n, v)
}
