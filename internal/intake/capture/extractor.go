// Package capture reads the intake form's state off the live page at the
// moment a submission is observed.
package capture

import (
	"context"
	"log/slog"
	"time"

	"intakewatch/internal/browser"
	"intakewatch/internal/intake/models"
)

// fieldSpec names one known form field and the selectors that can locate it.
// Selectors are tried in order; forms vary by location, so most specs carry
// a data-testid fallback alongside the input name.
type fieldSpec struct {
	key       string
	selectors []string
}

var fieldSpecs = []fieldSpec{
	{key: "legalFirstName", selectors: []string{`[name="firstName"]`, `[data-testid="addPatientFirstName"]`}},
	{key: "legalLastName", selectors: []string{`[name="lastName"]`, `[data-testid="addPatientLastName"]`}},
	{key: "mobilePhone", selectors: []string{`[data-testid="addPatientMobilePhone"]`, `[name="phone"]`, `input[type="tel"][data-testid*="Phone"]`}},
	{key: "dob", selectors: []string{`[data-testid="addPatientDob"]`, `[name="birthDate"]`, `input[placeholder*="MM/DD/YYYY"]`}},
	{key: "reasonForVisit", selectors: []string{`[name="reasonForVisit"]`, `[id="reasonForVisit"]`, `[data-testid="addPatientReasonForVisit-0"]`}},
	{key: "sexAtBirth", selectors: []string{`#birthSex`, `[name="birthSex"]`, `select[name="birthSex"]`}},
}

// Extractor produces one flat field mapping per submit event. It only reads
// DOM state; repeated extraction of an unchanged form yields the same mapping.
type Extractor struct {
	session browser.Session
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New creates an Extractor bound to a session.
func New(session browser.Session, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{session: session, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fields reads every known field. Every key is always present; fields absent
// from the DOM or unfilled come back as "". A missing selector is not an
// error, only a session-level failure is.
func (e *Extractor) Fields(ctx context.Context) (map[string]string, error) {
	fields := make(map[string]string, len(fieldSpecs))
	for _, spec := range fieldSpecs {
		value, err := e.session.FieldValue(ctx, spec.selectors...)
		if err != nil {
			return nil, err
		}
		fields[spec.key] = value
	}
	return fields, nil
}

// Capture reads the form and freezes it into a CapturedSubmission, attaching
// the location from the current page URL and the capture timestamp.
func (e *Extractor) Capture(ctx context.Context) (models.CapturedSubmission, error) {
	fields, err := e.Fields(ctx)
	if err != nil {
		return models.CapturedSubmission{}, err
	}

	sub := models.CapturedSubmission{
		LegalFirstName: fields["legalFirstName"],
		LegalLastName:  fields["legalLastName"],
		MobilePhone:    fields["mobilePhone"],
		DOB:            fields["dob"],
		ReasonForVisit: fields["reasonForVisit"],
		SexAtBirth:     fields["sexAtBirth"],
		CapturedAt:     e.now(),
	}

	// The operator can switch locations mid-session; re-read the URL on
	// every capture instead of trusting the startup location.
	pageURL, err := e.session.PageURL(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "page url unavailable, capture keeps empty location", "error", err)
		return sub, nil
	}
	sub.LocationID = models.LocationIDFromURL(pageURL)
	if sub.LocationID != "" {
		sub.LocationName = models.LocationName(sub.LocationID)
	}
	return sub, nil
}
