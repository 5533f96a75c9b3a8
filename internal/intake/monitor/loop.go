// Package monitor runs the process-wide capture loop: it watches the session
// for form activity, hands submissions and identifiers to the correlator, and
// flushes resolved records to the sinks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"intakewatch/internal/browser"
	"intakewatch/internal/intake/capture"
	"intakewatch/internal/intake/correlate"
	"intakewatch/internal/intake/metrics"
	"intakewatch/internal/intake/models"
	"intakewatch/internal/intake/sink"
	"intakewatch/pkg/platform/sentinel"
)

// State is where the loop is in the capture cycle.
type State int

const (
	// StateIdle: session open, no form on screen.
	StateIdle State = iota
	// StateFormOpen: the intake form has been detected.
	StateFormOpen
	// StateCaptured: a submit was observed and extraction handed the
	// snapshot to the correlator. Transient; the loop re-arms immediately
	// without waiting for the correlation to resolve.
	StateCaptured
)

func (s State) String() string {
	switch s {
	case StateFormOpen:
		return "form_open"
	case StateCaptured:
		return "captured"
	default:
		return "idle"
	}
}

// Loop owns the correlator. All correlator mutation happens on the Run
// goroutine; the DOM path and the network path are both funneled through its
// select, which is what makes the at-most-one-pairing invariant enforceable.
type Loop struct {
	session     browser.Session
	extractor   *capture.Extractor
	identifiers <-chan models.IdentifierEvent
	correlator  *correlate.Correlator
	sink        sink.Sink
	metrics     *metrics.Metrics
	logger      *slog.Logger

	policyUpdates <-chan correlate.Policy
	tick          time.Duration
	state         State
}

// Config wires a Loop.
type Config struct {
	Session     browser.Session
	Extractor   *capture.Extractor
	Identifiers <-chan models.IdentifierEvent
	Correlator  *correlate.Correlator
	Sink        sink.Sink
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// PolicyUpdates delivers hot-reloaded correlation policies. Optional.
	PolicyUpdates <-chan correlate.Policy

	// Tick is the expiry sweep interval. Defaults to 500ms. Expiry decisions
	// themselves compare wall-clock deadlines, so the tick only bounds how
	// late a flush can be, never whether it happens.
	Tick time.Duration
}

// New creates a Loop.
func New(cfg Config) *Loop {
	tick := cfg.Tick
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	return &Loop{
		session:       cfg.Session,
		extractor:     cfg.Extractor,
		identifiers:   cfg.Identifiers,
		correlator:    cfg.Correlator,
		sink:          cfg.Sink,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		policyUpdates: cfg.PolicyUpdates,
		tick:          tick,
	}
}

// Run drives the loop until the context is cancelled or the session drops.
// Both exits flush still-pending submissions as unmatched before returning;
// a dropped session is fatal and reported, never silently absorbed.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drain(ctx)
			return ctx.Err()

		case _, ok := <-l.session.SubmitEvents():
			if !ok {
				l.drain(ctx)
				return fmt.Errorf("submit event stream: %w", sentinel.ErrClosed)
			}
			l.handleSubmit(ctx)

		case event, ok := <-l.identifiers:
			if !ok {
				l.drain(ctx)
				return fmt.Errorf("identifier stream: %w", sentinel.ErrClosed)
			}
			l.handleIdentifier(ctx, event)

		case policy := <-l.policyUpdates:
			l.correlator.SetPolicy(policy)
			l.logger.InfoContext(ctx, "correlation policy updated",
				"grace_window", policy.GraceWindow,
				"pending_timeout", policy.PendingTimeout,
			)

		case <-ticker.C:
			l.observeForm(ctx)
			l.expire(ctx, time.Now())
		}
	}
}

// handleSubmit runs the DOM path: extract, hand to correlator, re-arm.
func (l *Loop) handleSubmit(ctx context.Context) {
	l.setState(ctx, StateCaptured)
	// Re-arm happens by falling back to idle below regardless of whether
	// the correlation has resolved.
	defer l.setState(ctx, StateIdle)

	sub, err := l.extractor.Capture(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "field extraction failed", "error", err)
		return
	}
	l.metrics.Captures.Inc()
	l.logger.InfoContext(ctx, "submission captured",
		"subject", models.SubjectProxy(sub.LegalFirstName, sub.LegalLastName),
		"location_id", sub.LocationID,
	)

	if record, event, ok := l.correlator.Add(sub); ok {
		l.emitMatched(ctx, record, event.ObservedAt)
	}
	l.metrics.PendingSubmission.Set(float64(l.correlator.PendingCount()))
}

// handleIdentifier runs the network path: match a pending submission, or
// back-fill a stored record, or retain the identifier for a submission the
// DOM path has not delivered yet.
func (l *Loop) handleIdentifier(ctx context.Context, event models.IdentifierEvent) {
	l.metrics.IdentifiersSeen.Inc()

	if record, ok := l.correlator.Match(event); ok {
		l.emitMatched(ctx, record, event.ObservedAt)
		l.metrics.PendingSubmission.Set(float64(l.correlator.PendingCount()))
		return
	}

	window := l.correlator.Policy().GraceWindow
	err := l.sink.Backfill(ctx, event.EMRID, event.ObservedAt, window)
	switch {
	case err == nil:
		l.metrics.Backfills.Inc()
		l.logger.InfoContext(ctx, "late identifier back-filled", "emr_id", event.EMRID)
	case errors.Is(err, sentinel.ErrNotFound):
		// Likely a listener-registration race or unrelated traffic. Keep it
		// around; the submission may still show up.
		l.correlator.Retain(event)
	default:
		l.logger.ErrorContext(ctx, "back-fill failed", "emr_id", event.EMRID, "error", err)
		l.correlator.Retain(event)
	}
}

func (l *Loop) emitMatched(ctx context.Context, record models.PatientRecord, observedAt time.Time) {
	l.metrics.Matches.Inc()
	l.metrics.ObserveMatchLatency(record.CapturedAt, observedAt)
	l.persist(ctx, record)
}

// expire flushes timed-out submissions as unmatched. Informational, not an
// error: permanently unmatched is a valid terminal state.
func (l *Loop) expire(ctx context.Context, now time.Time) {
	for _, record := range l.correlator.Expire(now) {
		l.metrics.Timeouts.Inc()
		l.logger.InfoContext(ctx, "correlation timeout, persisting unmatched",
			"record_id", record.RecordID,
			"subject", models.SubjectProxy(record.LegalFirstName, record.LegalLastName),
		)
		l.persist(ctx, record)
	}
	l.metrics.PendingSubmission.Set(float64(l.correlator.PendingCount()))
}

// drain flushes everything still pending at teardown so a shutdown never
// silently drops a captured submission.
func (l *Loop) drain(ctx context.Context) {
	drained := l.correlator.Drain()
	if len(drained) == 0 {
		return
	}
	// The run context is usually already cancelled here; give the final
	// writes their own deadline.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, record := range drained {
		l.metrics.Timeouts.Inc()
		l.logger.InfoContext(flushCtx, "flushing pending submission at shutdown",
			"record_id", record.RecordID,
		)
		l.persist(flushCtx, record)
	}
	l.metrics.PendingSubmission.Set(0)
}

func (l *Loop) persist(ctx context.Context, record models.PatientRecord) {
	// The fan-out sink logs per-sink failures with enough context for
	// manual recovery; nothing more to do here on error.
	_ = l.sink.Save(ctx, record)
}

// observeForm keeps the Idle/FormOpen states honest. Purely observational:
// capture is driven by submit events, not by this poll.
func (l *Loop) observeForm(ctx context.Context) {
	if l.state == StateCaptured {
		return
	}
	visible, err := l.session.FormVisible(ctx)
	if err != nil {
		return
	}
	switch {
	case visible && l.state == StateIdle:
		l.setState(ctx, StateFormOpen)
	case !visible && l.state == StateFormOpen:
		l.setState(ctx, StateIdle)
	}
}

func (l *Loop) setState(ctx context.Context, next State) {
	if l.state == next {
		return
	}
	l.logger.DebugContext(ctx, "monitor state change", "from", l.state.String(), "to", next.String())
	l.state = next
}
