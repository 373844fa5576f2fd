// Package lifecycle holds the process readiness state read by the health handler.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle phase.
type Phase int32

const (
	// Starting: listener may be up but startup work (key check, warming) is not done.
	Starting Phase = iota
	Ready
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// Set moves the process to p. ShuttingDown is terminal: later calls are ignored
// unless reset with Reset.
func Set(p Phase) {
	for {
		cur := phase.Load()
		if Phase(cur) == ShuttingDown {
			return
		}
		if phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// SetShuttingDown marks the process as draining. Call when SIGTERM/SIGINT received.
func SetShuttingDown() {
	phase.Store(int32(ShuttingDown))
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == ShuttingDown
}

// Reset returns to Starting. For tests only.
func Reset() {
	phase.Store(int32(Starting))
}
