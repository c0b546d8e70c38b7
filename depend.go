package dflow

// Dependency is one pre-declarable (collection, key) pair, returned by
// ItemCollection.Depend. It is consumed either by a StepTuner's Depends
// hook (checked before execute runs) or directly by StepContext.FlushGets
// from inside a step body, matching spec.md §4.D's depends(tag, ctx,
// consumer) tuner hook.
type Dependency interface {
	ready() bool
	registerWaiter(wake func())
	commit(sc *StepContext)
}

// itemDependency is the Dependency implementation for ItemCollection.
type itemDependency[K comparable, V any] struct {
	coll *ItemCollection[K, V]
	key  K
}

func (d itemDependency[K, V]) ready() bool {
	s := d.coll.slotFor(d.key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present && !s.released
}

func (d itemDependency[K, V]) registerWaiter(wake func()) {
	s := d.coll.slotFor(d.key)
	s.mu.Lock()
	if s.present && !s.released {
		s.mu.Unlock()
		wake()
		return
	}
	s.waiters = append(s.waiters, wake)
	s.mu.Unlock()
}

func (d itemDependency[K, V]) commit(sc *StepContext) {
	s := d.coll.slotFor(d.key)
	s.mu.Lock()
	if !s.present || s.released {
		s.mu.Unlock()
		return
	}
	tracked := d.coll.markTracked(s)
	s.mu.Unlock()
	if tracked {
		sc.appendGet(itemGetRef[K, V]{d.coll, d.key})
	}
}

// Depend returns a pre-declarable dependency on key k: present or absent
// checks on it never suspend by themselves (unlike Get), so it is safe to
// evaluate several of them together before committing to any one of them
// (spec.md §4.D).
func (ic *ItemCollection[K, V]) Depend(k K) Dependency {
	return itemDependency[K, V]{ic, k}
}

// FlushGets checks every dep together. If all are currently present, each
// is committed into sc's get-list exactly as a direct Get call would
// record it, and FlushGets returns true. If any is missing, FlushGets
// registers sc's step instance to be woken when each missing one
// arrives (every woken attempt checks the whole set again) and returns
// false without committing anything — the caller must then return
// Suspend. This lets a step register on all its absent items at once
// instead of discovering them one wasted replay at a time, per spec.md
// §4.I / Open Question (a): "commit the current get-list and, if any
// recorded item was not-ready at commit time, suspend now."
func (sc *StepContext) FlushGets(deps ...Dependency) bool {
	for _, d := range deps {
		if !d.ready() {
			for _, pending := range deps {
				if !pending.ready() {
					pending.registerWaiter(sc.wakeFunc())
				}
			}
			return false
		}
	}
	for _, d := range deps {
		d.commit(sc)
	}
	return true
}

// FlushGets is Context-level sugar for sc.FlushGets, matching the
// original's Context::flush_gets() entry point (spec.md §6).
func (ctx *Context) FlushGets(sc *StepContext, deps ...Dependency) bool {
	return sc.FlushGets(deps...)
}
