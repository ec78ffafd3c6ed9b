package keypool

import "errors"

// Error conditions surfaced by the key pool. None of them is fatal to the
// process; callers retry by policy (selection on the next request, probes on
// the next cycle).
var (
	// ErrKeyNotFound indicates a mutation targeted an unknown key id.
	ErrKeyNotFound = errors.New("keypool: key not found")
	// ErrNoActiveKey indicates selection ran against an empty active set.
	ErrNoActiveKey = errors.New("keypool: no active key available")
	// ErrMalformedKey indicates a candidate secret failed format validation.
	ErrMalformedKey = errors.New("keypool: malformed key")
	// ErrDuplicateKey indicates a candidate secret already exists in the store.
	ErrDuplicateKey = errors.New("keypool: duplicate key")
	// ErrInvalidStatus indicates a status value outside the closed enumeration.
	ErrInvalidStatus = errors.New("keypool: invalid status")
	// ErrCycleRunning indicates a validation cycle is already in flight.
	ErrCycleRunning = errors.New("keypool: validation cycle already running")
)
