// Package sink persists merged patient records. Two independent idempotent
// sinks sit behind one interface: an append-only JSON log (the durability
// fallback) and a relational store. Either may fail without blocking the
// other.
package sink

import (
	"context"
	"time"

	"intakewatch/internal/intake/models"
)

// ConflictPolicy controls what an insert does when the uniqueness key
// (subject proxy, location, capture timestamp) already exists.
type ConflictPolicy string

const (
	// ConflictIgnore keeps the first-seen row and skips duplicates silently.
	ConflictIgnore ConflictPolicy = "ignore"
	// ConflictUpdate overwrites all non-key fields and advances updated_at.
	ConflictUpdate ConflictPolicy = "update"
)

// Valid reports whether the policy is a known value.
func (p ConflictPolicy) Valid() bool {
	return p == ConflictIgnore || p == ConflictUpdate
}

// Sink accepts patient records, matched or unmatched.
type Sink interface {
	// Save persists a record under the configured conflict policy.
	Save(ctx context.Context, record models.PatientRecord) error

	// Backfill attaches a late-arriving identifier to the stored unmatched
	// record whose capture time is nearest to observedAt within the window.
	// The identifier column is always updated in place regardless of the
	// insert conflict policy: a null-to-value transition never loses
	// information. Returns sentinel.ErrNotFound when no record qualifies.
	Backfill(ctx context.Context, emrID string, observedAt time.Time, window time.Duration) error

	Close() error
}
