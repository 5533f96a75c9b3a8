package correlate

import "time"

// Policy is the timing contract of the correlation heuristic. It is a
// correctness-relevant knob set, not an implementation detail: operators tune
// it against the target application's observed latency.
type Policy struct {
	// GraceWindow is the maximum |capture − observation| gap for a
	// submission and an identifier to be considered the same event.
	GraceWindow time.Duration

	// PendingTimeout is how long a submission waits for an identifier
	// before it is flushed unmatched.
	PendingTimeout time.Duration

	// IdentifierRetention is how long an unconsumed identifier is kept for
	// a submission that has not been observed yet.
	IdentifierRetention time.Duration
}

// DefaultPolicy mirrors the target application's typical assignment latency:
// the identifier usually lands within a second or two of the submit.
func DefaultPolicy() Policy {
	return Policy{
		GraceWindow:         5 * time.Second,
		PendingTimeout:      5 * time.Second,
		IdentifierRetention: 10 * time.Second,
	}
}

// Normalize fills zero fields from the defaults so a partial policy file
// cannot disable matching outright.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.GraceWindow <= 0 {
		p.GraceWindow = def.GraceWindow
	}
	if p.PendingTimeout <= 0 {
		p.PendingTimeout = def.PendingTimeout
	}
	if p.IdentifierRetention < p.GraceWindow {
		p.IdentifierRetention = p.GraceWindow * 2
	}
	return p
}
