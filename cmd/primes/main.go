// Command primes counts primes up to N (S2): one step per odd candidate
// tests primality independently and puts (k, k) into an item collection
// on success; after Wait, Size()+1 is pi(N) (the +1 accounts for 2, never
// tested as an odd candidate).
package main

import (
	"flag"
	"fmt"

	"github.com/kestrelrun/dflow"
)

func isPrime(k int) bool {
	if k < 2 {
		return false
	}
	for d := 2; d*d <= k; d++ {
		if k%d == 0 {
			return false
		}
	}
	return true
}

func main() {
	n := flag.Int("n", 100, "count primes up to n")
	flag.Parse()

	ctx := dflow.NewContext()
	defer ctx.Close()

	found := dflow.NewItemCollection[int, int](ctx)
	tags := dflow.NewTagCollection[int](ctx)

	tags.Prescribes(dflow.NewStepCollection(ctx, func(sc *dflow.StepContext, k int) (dflow.StepResult, error) {
		if isPrime(k) {
			return dflow.Success, found.Put(k, k)
		}
		return dflow.Success, nil
	}))

	for k := 3; k <= *n; k += 2 {
		tags.Put(k)
	}
	ctx.Wait()

	fmt.Printf("pi(%d) = %d\n", *n, found.Size()+1)
}
