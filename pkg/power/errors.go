package power

import "errors"

// Error kinds surfaced by the registry, the aggregation engine, and the
// forwarding gate. Every mutating and indexed-read operation fails
// immediately with one of these; none are swallowed or retried internally.
var (
	// ErrNoPowerSource means the identifier is not registered.
	ErrNoPowerSource = errors.New("no power source")

	// ErrInvalidSourceKind means the declared source kind is unrecognized.
	ErrInvalidSourceKind = errors.New("invalid source kind")

	// ErrInvalidSource means the sanity probe against a candidate source failed.
	ErrInvalidSource = errors.New("invalid source")

	// ErrSourceAlreadyAdded means the identifier is already registered.
	ErrSourceAlreadyAdded = errors.New("source already added")

	// ErrTooManySources means the registry is at capacity.
	ErrTooManySources = errors.New("too many sources")

	// ErrZeroWeight rejects a zero weight on add or reweight.
	ErrZeroWeight = errors.New("zero weight")

	// ErrSameWeight rejects a reweight to the current value. No-op calls are
	// rejected, not silently accepted, so callers always observe a genuine
	// state change.
	ErrSameWeight = errors.New("same weight")

	// ErrAccessDenied means the authorization collaborator refused the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrActionDenied means the sender holds no voting power.
	ErrActionDenied = errors.New("action denied")

	// ErrSourceCallFailed means an external source call did not succeed during
	// aggregation. The whole aggregation fails; no partial sums are returned.
	ErrSourceCallFailed = errors.New("source call failed")

	// ErrInvalidSelector means an unreachable combination of call kind and
	// source kind was dispatched.
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrArithmeticOverflow means a weighted term or the running total
	// overflowed. Overflow is fatal, never wrapped.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrIndexOutOfRange means an indexed history lookup was out of bounds.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrSourceEnabled rejects enabling a source whose latest activation
	// period is still open.
	ErrSourceEnabled = errors.New("source already enabled")

	// ErrSourceDisabled rejects disabling a source with no open activation
	// period.
	ErrSourceDisabled = errors.New("source already disabled")
)
