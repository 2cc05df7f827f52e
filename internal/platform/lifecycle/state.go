// Package lifecycle carries the process liveness and readiness flags shared by the
// ingestion loops and the HTTP server.
package lifecycle

import "sync/atomic"

// State is safe for concurrent use. The zero value is neither alive nor ready.
type State struct {
	alive atomic.Bool
	ready atomic.Bool
}

// New returns a state that is alive and not yet ready.
func New() *State {
	s := &State{}
	s.alive.Store(true)
	return s
}

func (s *State) Alive() bool { return s.alive.Load() }
func (s *State) Ready() bool { return s.ready.Load() }

func (s *State) SetReady(ready bool) { s.ready.Store(ready) }

// Shutdown flips the state to not alive and not ready. Loops stop after their current batch.
func (s *State) Shutdown() {
	s.ready.Store(false)
	s.alive.Store(false)
}
