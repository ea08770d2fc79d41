// Package flow: cooperative cancellation.
package flow

import "sync/atomic"

// StopFlag is the cooperative cancellation flag shared between the engine and
// whatever control surface requests a stop. It is owned by the caller, reset
// explicitly at batch start, and polled by the engine at least once per
// respondent and once per segment. Setting it never rolls back in-flight
// work; the engine stops issuing new generation calls and returns the
// answers and errors already merged.
type StopFlag struct {
	stopped atomic.Bool
}

// Set requests cancellation.
func (f *StopFlag) Set() {
	f.stopped.Store(true)
}

// Reset clears the flag. Called at batch start, never implicitly.
func (f *StopFlag) Reset() {
	f.stopped.Store(false)
}

// Stopped reports whether cancellation has been requested.
func (f *StopFlag) Stopped() bool {
	return f.stopped.Load()
}
