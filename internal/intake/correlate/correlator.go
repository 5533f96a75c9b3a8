// Package correlate reconciles captured submissions with the identifiers the
// target application assigns asynchronously.
package correlate

import (
	"time"

	"intakewatch/internal/intake/models"
)

// pending is a submission waiting for its identifier.
type pending struct {
	record models.PatientRecord
}

// Correlator holds the pending submissions (oldest first) and the recently
// seen identifiers, and pairs them by time-window adjacency. Matching is
// oldest-pending-first with at-most-one pairing each way; no content-based
// matching is attempted because the identifier payload does not reliably
// carry names or phone numbers.
//
// A Correlator is owned by exactly one goroutine (the monitor loop). It is
// not safe for concurrent use, and deliberately so: match decisions are
// read-then-write and must see a consistent view.
type Correlator struct {
	policy      Policy
	pending     []pending
	identifiers []models.IdentifierEvent
}

// New creates a Correlator with the given policy.
func New(policy Policy) *Correlator {
	return &Correlator{policy: policy.Normalize()}
}

// SetPolicy swaps the policy. Takes effect for subsequent decisions only;
// already-pending submissions keep their original capture timestamps.
func (c *Correlator) SetPolicy(policy Policy) {
	c.policy = policy.Normalize()
}

// Policy returns the active policy.
func (c *Correlator) Policy() Policy {
	return c.policy
}

// PendingCount reports how many submissions are awaiting an identifier.
func (c *Correlator) PendingCount() int {
	return len(c.pending)
}

// Add registers a freshly captured submission. If an already-seen identifier
// falls inside the grace window the merged record and the consumed event are
// returned immediately; otherwise the submission is left pending and ok is
// false. The identifier may legitimately have arrived before the submit event
// finished, since the network call races the DOM event.
func (c *Correlator) Add(sub models.CapturedSubmission) (models.PatientRecord, models.IdentifierEvent, bool) {
	record := models.NewPatientRecord(sub)
	for i, event := range c.identifiers {
		if within(sub.CapturedAt, event.ObservedAt, c.policy.GraceWindow) {
			c.identifiers = append(c.identifiers[:i], c.identifiers[i+1:]...)
			record.EMRID = event.EMRID
			record.Matched = true
			return record, event, true
		}
	}
	c.pending = append(c.pending, pending{record: record})
	return models.PatientRecord{}, models.IdentifierEvent{}, false
}

// Match pairs an identifier with the oldest pending submission inside the
// grace window. On success both sides are consumed and the merged record is
// returned. A non-match is not an error: the caller decides whether to
// back-fill storage or hand the event back via Retain.
func (c *Correlator) Match(event models.IdentifierEvent) (models.PatientRecord, bool) {
	for i, p := range c.pending {
		if within(p.record.CapturedAt, event.ObservedAt, c.policy.GraceWindow) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			record := p.record
			record.EMRID = event.EMRID
			record.Matched = true
			return record, true
		}
	}
	return models.PatientRecord{}, false
}

// Retain keeps an unconsumed identifier for the retention period. It may
// belong to a submission the listener has not seen yet, or to unrelated
// background traffic; the latter ages out silently.
func (c *Correlator) Retain(event models.IdentifierEvent) {
	c.identifiers = append(c.identifiers, event)
}

// Expire flushes every pending submission older than the pending timeout as
// an unmatched record, and discards identifiers past their retention. Call it
// on a wall-clock tick; permanently unmatched is a valid terminal state.
func (c *Correlator) Expire(now time.Time) []models.PatientRecord {
	var flushed []models.PatientRecord
	kept := c.pending[:0]
	for _, p := range c.pending {
		if now.Sub(p.record.CapturedAt) >= c.policy.PendingTimeout {
			flushed = append(flushed, p.record)
			continue
		}
		kept = append(kept, p)
	}
	c.pending = kept

	keptIDs := c.identifiers[:0]
	for _, event := range c.identifiers {
		if now.Sub(event.ObservedAt) < c.policy.IdentifierRetention {
			keptIDs = append(keptIDs, event)
		}
	}
	c.identifiers = keptIDs
	return flushed
}

// Drain flushes every pending submission unconditionally. Used at session
// teardown so nothing captured is silently dropped.
func (c *Correlator) Drain() []models.PatientRecord {
	flushed := make([]models.PatientRecord, 0, len(c.pending))
	for _, p := range c.pending {
		flushed = append(flushed, p.record)
	}
	c.pending = c.pending[:0]
	c.identifiers = c.identifiers[:0]
	return flushed
}

func within(a, b time.Time, window time.Duration) bool {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	return gap <= window
}
