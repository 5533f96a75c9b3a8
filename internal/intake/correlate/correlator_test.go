package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"intakewatch/internal/intake/models"
)

type CorrelatorSuite struct {
	suite.Suite
	base       time.Time
	correlator *Correlator
}

func TestCorrelatorSuite(t *testing.T) {
	suite.Run(t, new(CorrelatorSuite))
}

func (s *CorrelatorSuite) SetupTest() {
	s.base = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	s.correlator = New(Policy{
		GraceWindow:         5 * time.Second,
		PendingTimeout:      5 * time.Second,
		IdentifierRetention: 10 * time.Second,
	})
}

func (s *CorrelatorSuite) submission(name string, at time.Time) models.CapturedSubmission {
	return models.CapturedSubmission{
		LocationID:     "AXjwbE",
		LegalFirstName: name,
		LegalLastName:  "Tester",
		CapturedAt:     at,
	}
}

func (s *CorrelatorSuite) event(emrID string, at time.Time) models.IdentifierEvent {
	return models.IdentifierEvent{EMRID: emrID, ObservedAt: at, RequestPath: "/api/patients"}
}

func (s *CorrelatorSuite) TestIdentifierAfterSubmission() {
	_, _, ok := s.correlator.Add(s.submission("Alice", s.base))
	s.False(ok)
	s.Equal(1, s.correlator.PendingCount())

	record, ok := s.correlator.Match(s.event("emr-1", s.base.Add(2*time.Second)))
	s.Require().True(ok)
	s.Equal("emr-1", record.EMRID)
	s.True(record.Matched)
	s.Equal("Alice", record.LegalFirstName)
	s.Equal(0, s.correlator.PendingCount())
}

func (s *CorrelatorSuite) TestIdentifierBeforeSubmission() {
	// Network call lands before the DOM submit handler finishes. The loop
	// hands the unconsumed event back via Retain, and the following Add
	// consumes it.
	_, ok := s.correlator.Match(s.event("emr-1", s.base))
	s.False(ok)
	s.correlator.Retain(s.event("emr-1", s.base))

	record, consumed, ok := s.correlator.Add(s.submission("Alice", s.base.Add(time.Second)))
	s.Require().True(ok)
	s.Equal("emr-1", record.EMRID)
	s.Equal("emr-1", consumed.EMRID)
	s.True(record.Matched)
	s.Equal(0, s.correlator.PendingCount())
}

func (s *CorrelatorSuite) TestIdentifierOutsideWindow() {
	_, _, ok := s.correlator.Add(s.submission("Alice", s.base))
	s.False(ok)

	_, ok = s.correlator.Match(s.event("emr-1", s.base.Add(6*time.Second)))
	s.False(ok)
	s.Equal(1, s.correlator.PendingCount())
}

func (s *CorrelatorSuite) TestOldestPendingWinsTie() {
	s.correlator.Add(s.submission("Alice", s.base))
	s.correlator.Add(s.submission("Bob", s.base.Add(time.Second)))

	// Both are inside the window; the older pending submission wins.
	record, ok := s.correlator.Match(s.event("emr-1", s.base.Add(2*time.Second)))
	s.Require().True(ok)
	s.Equal("Alice", record.LegalFirstName)

	record, ok = s.correlator.Match(s.event("emr-2", s.base.Add(2*time.Second)))
	s.Require().True(ok)
	s.Equal("Bob", record.LegalFirstName)
}

func (s *CorrelatorSuite) TestAtMostOnePairing() {
	s.correlator.Add(s.submission("Alice", s.base))

	_, ok := s.correlator.Match(s.event("emr-1", s.base.Add(time.Second)))
	s.Require().True(ok)

	// The submission is consumed; a second identifier finds nothing.
	_, ok = s.correlator.Match(s.event("emr-2", s.base.Add(time.Second)))
	s.False(ok)
}

func (s *CorrelatorSuite) TestRetainedIdentifierConsumedOnce() {
	s.correlator.Retain(s.event("emr-1", s.base))

	_, _, ok := s.correlator.Add(s.submission("Alice", s.base.Add(time.Second)))
	s.Require().True(ok)

	// Consumed: the next submission goes pending instead of reusing it.
	_, _, ok = s.correlator.Add(s.submission("Bob", s.base.Add(2*time.Second)))
	s.False(ok)
	s.Equal(1, s.correlator.PendingCount())
}

func (s *CorrelatorSuite) TestExpireFlushesTimedOutPending() {
	s.correlator.Add(s.submission("Alice", s.base))
	s.correlator.Add(s.submission("Bob", s.base.Add(4*time.Second)))

	flushed := s.correlator.Expire(s.base.Add(5 * time.Second))
	s.Require().Len(flushed, 1)
	s.Equal("Alice", flushed[0].LegalFirstName)
	s.False(flushed[0].Matched)
	s.Empty(flushed[0].EMRID)
	s.Equal(1, s.correlator.PendingCount())

	// A record is flushed exactly once.
	s.Empty(s.correlator.Expire(s.base.Add(6 * time.Second)))
}

func (s *CorrelatorSuite) TestExpireAgesOutIdentifiers() {
	s.correlator.Retain(s.event("emr-1", s.base))
	s.correlator.Expire(s.base.Add(11 * time.Second))

	// The identifier is gone; a submission at a matching offset goes pending.
	_, _, ok := s.correlator.Add(s.submission("Alice", s.base.Add(12*time.Second)))
	s.False(ok)
}

func (s *CorrelatorSuite) TestDrainFlushesEverything() {
	s.correlator.Add(s.submission("Alice", s.base))
	s.correlator.Add(s.submission("Bob", s.base.Add(time.Second)))
	s.correlator.Retain(s.event("emr-1", s.base))

	flushed := s.correlator.Drain()
	s.Len(flushed, 2)
	s.Equal(0, s.correlator.PendingCount())

	s.Empty(s.correlator.Drain())
}

func (s *CorrelatorSuite) TestSetPolicyAffectsSubsequentDecisions() {
	s.correlator.Add(s.submission("Alice", s.base))
	s.correlator.SetPolicy(Policy{GraceWindow: 30 * time.Second})

	record, ok := s.correlator.Match(s.event("emr-1", s.base.Add(20*time.Second)))
	s.Require().True(ok)
	s.Equal("Alice", record.LegalFirstName)
}

func TestPolicyNormalize(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

type PolicySuite struct {
	suite.Suite
}

func (s *PolicySuite) TestZeroValuesGetDefaults() {
	p := Policy{}.Normalize()
	s.Equal(DefaultPolicy(), p)
}

func (s *PolicySuite) TestRetentionNeverBelowGrace() {
	p := Policy{
		GraceWindow:         8 * time.Second,
		PendingTimeout:      4 * time.Second,
		IdentifierRetention: 2 * time.Second,
	}.Normalize()
	s.Equal(16*time.Second, p.IdentifierRetention)
}
