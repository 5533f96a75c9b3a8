package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"intakewatch/internal/intake/models"
	"intakewatch/pkg/platform/sentinel"
)

// Multi fans a record out to every sink. All writes are always attempted: a
// relational-store failure must not discard the JSON log write and vice
// versa, since they have different durability and retry characteristics.
// There is deliberately no transaction spanning the sinks.
type Multi struct {
	sinks     map[string]Sink
	order     []string
	logger    *slog.Logger
	onFailure func(sink string)
}

// NewMulti builds a fan-out over named sinks. Names appear in logs and are
// passed to onFailure so the operator knows which store needs manual
// recovery. onFailure may be nil.
func NewMulti(logger *slog.Logger, onFailure func(sink string), names []string, sinks ...Sink) *Multi {
	if onFailure == nil {
		onFailure = func(string) {}
	}
	m := &Multi{
		sinks:     make(map[string]Sink, len(sinks)),
		logger:    logger,
		onFailure: onFailure,
	}
	for i, s := range sinks {
		m.sinks[names[i]] = s
		m.order = append(m.order, names[i])
	}
	return m
}

// Save writes to every sink and joins the failures. A partial failure is
// surfaced but the successful writes stand.
func (m *Multi) Save(ctx context.Context, record models.PatientRecord) error {
	var errs []error
	for _, name := range m.order {
		if err := m.sinks[name].Save(ctx, record); err != nil {
			m.onFailure(name)
			m.logger.ErrorContext(ctx, "sink write failed",
				"sink", name,
				"record_id", record.RecordID,
				"subject", models.SubjectProxy(record.LegalFirstName, record.LegalLastName),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Backfill propagates a late identifier to every sink. Success in any sink
// counts: a sink that never stored the record reports ErrNotFound, which is
// only an error if every sink says so.
func (m *Multi) Backfill(ctx context.Context, emrID string, observedAt time.Time, window time.Duration) error {
	var errs []error
	found := false
	for _, name := range m.order {
		err := m.sinks[name].Backfill(ctx, emrID, observedAt, window)
		switch {
		case err == nil:
			found = true
		case errors.Is(err, sentinel.ErrNotFound):
			errs = append(errs, err)
		default:
			m.onFailure(name)
			m.logger.ErrorContext(ctx, "sink backfill failed",
				"sink", name,
				"emr_id", emrID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	if found {
		return nil
	}
	return errors.Join(errs...)
}

// Close closes every sink, joining errors.
func (m *Multi) Close() error {
	var errs []error
	for _, name := range m.order {
		if err := m.sinks[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
