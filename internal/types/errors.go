package types

import "errors"

// Error taxonomy surfaced over the control protocol. Every failure a
// client can observe maps onto exactly one of these sentinels; handlers
// wrap them with context and the transport layer extracts the code.
var (
	// ErrNotFound reports an unknown session, turn, or approval id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition reports an illegal state-machine edge. The
	// session state is left unchanged; the edge is never coerced.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict reports a duplicate pending approval or an attempt to
	// resolve an approval that is no longer pending.
	ErrConflict = errors.New("conflict")

	// ErrStorageUnavailable reports that the persistence layer cannot be
	// reached. Retryable; the affected operation did not apply partially.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAdapterFailure reports that the agent engine failed. The session
	// transitions to failed with the reason recorded; never retried.
	ErrAdapterFailure = errors.New("adapter failure")
)

// ErrorCode returns the wire code for err, or "internal" when the error
// does not belong to the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrAdapterFailure):
		return "adapter_failure"
	default:
		return "internal"
	}
}

// JSON-RPC error codes for the taxonomy, shared by every control
// transport so clients see the same code whichever way they connect.
const (
	CodeServerError        = -32000
	CodeNotFound           = -32001
	CodeInvalidTransition  = -32002
	CodeConflict           = -32003
	CodeStorageUnavailable = -32004
	CodeAdapterFailure     = -32005
)

// JSONRPCCode returns the JSON-RPC error code for err.
func JSONRPCCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	case errors.Is(err, ErrAdapterFailure):
		return CodeAdapterFailure
	default:
		return CodeServerError
	}
}

// Retryable reports whether a client may safely retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
