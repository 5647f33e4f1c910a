package store

import "time"

// CheckpointGate decides when an in-flight draft's accumulated content is worth
// persisting: a checkpoint fires when the buffer has grown by minChars bytes since
// the last checkpoint, or when interval has elapsed, whichever comes first. The
// proxy builds one gate per in-flight response, and its response sinks call
// ShouldCheckpoint after every content delta.
type CheckpointGate struct {
	minChars int
	interval time.Duration
	enabled  bool

	lastLen int
	lastAt  time.Time
}

// NewCheckpointGate builds a gate. If enabled is false, ShouldCheckpoint always returns
// false, matching "checkpointing is disabled entirely when checkpoint.enabled=false".
func NewCheckpointGate(minChars int, interval time.Duration, enabled bool) *CheckpointGate {
	return &CheckpointGate{minChars: minChars, interval: interval, enabled: enabled, lastAt: time.Now()}
}

// ShouldCheckpoint reports whether currentLen (the accumulated buffer length) warrants
// a checkpoint write right now. Callers that checkpoint must also call Reset with the
// same length immediately afterward.
func (g *CheckpointGate) ShouldCheckpoint(currentLen int) bool {
	if !g.enabled {
		return false
	}
	if currentLen-g.lastLen >= g.minChars {
		return true
	}
	return time.Since(g.lastAt) >= g.interval
}

// Reset records that a checkpoint just happened at currentLen.
func (g *CheckpointGate) Reset(currentLen int) {
	g.lastLen = currentLen
	g.lastAt = time.Now()
}
