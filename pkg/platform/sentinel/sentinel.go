package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and clients return these (optionally
// wrapped) so services can translate them into domain decisions.
//
//   - ErrNotFound: row does not exist in the store
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrUnavailable: store, broker or cache temporarily unreachable
//   - ErrCircuitOpen: a breaker is shedding calls to a failing dependency
//   - ErrClosed: the client was closed and cannot serve the call
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrCircuitOpen = errors.New("circuit open")
	ErrClosed      = errors.New("closed")
)
