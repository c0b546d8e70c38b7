package dflow

import "errors"

// Sentinel errors returned by ItemCollection and Context operations.
//
// ErrNotReady is a transient control signal, not a program error: it is
// the only way Get communicates "not present yet" to the step body, which
// is expected to return Suspend in response (see StepResult). Get returns
// it wrapped with the key, so match it with errors.Is. It must never be
// logged as a failure or surfaced past the step body.
var (
	// ErrAlreadyPresent is returned by Put when the key already has a
	// value: a single-assignment violation. Contract violation, fatal.
	ErrAlreadyPresent = errors.New("dflow: item already present (single-assignment violation)")

	// ErrNotReady is returned by Get when the key has no value yet.
	ErrNotReady = errors.New("dflow: item not ready")

	// ErrBadDecrement is returned by DecrementRefCount when it would
	// take an item's get-count below zero. Contract violation, fatal.
	ErrBadDecrement = errors.New("dflow: get-count decremented past zero")

	// ErrResetWhileActive is returned by Context.UnsafeReset when the
	// context is not quiescent.
	ErrResetWhileActive = errors.New("dflow: unsafe_reset called while graph is active")

	// ErrStepFailed is the error inside the ContractViolation panic raised
	// when a step body returns a result other than Success,
	// NeedsSequentialize or Suspend, or returns NeedsSequentialize from a
	// collection with no Sequentialize tuner. A non-nil error returned by
	// a step body is raised as a StepError instead.
	ErrStepFailed = errors.New("dflow: step failed")
)

// ContractViolation is a fatal, unrecoverable programming error: a bad
// get-count decrement during a step's get-list flush, SetMax called after
// the hash variant is in use, or an invalid step result. It is raised with
// panic on the goroutine that detects it (a worker running the step
// attempt, or the caller of SetMax), carrying the originating key/tag so
// the location is diagnosable; user code is not expected to recover from
// it, matching spec.md §7's "abort with a location-tagged message; do not
// attempt recovery". A double Put and a reset of a non-quiescent context
// are reported as plain returned errors (ErrAlreadyPresent,
// ErrResetWhileActive), not as a ContractViolation.
type ContractViolation struct {
	Err    error
	Detail string
}

func (e *ContractViolation) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ContractViolation) Unwrap() error { return e.Err }

func newContractViolation(err error, detail string) *ContractViolation {
	return &ContractViolation{Err: err, Detail: detail}
}
