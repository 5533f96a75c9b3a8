package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakewatch/internal/browser"
)

// fakeSession serves canned field values keyed by selector.
type fakeSession struct {
	url      string
	urlErr   error
	fields   map[string]string
	fieldErr error
}

func (f *fakeSession) PageURL(context.Context) (string, error) { return f.url, f.urlErr }

func (f *fakeSession) FieldValue(_ context.Context, selectors ...string) (string, error) {
	if f.fieldErr != nil {
		return "", f.fieldErr
	}
	for _, sel := range selectors {
		if v := f.fields[sel]; v != "" {
			return v, nil
		}
	}
	return "", nil
}

func (f *fakeSession) FormVisible(context.Context) (bool, error) { return true, nil }
func (f *fakeSession) SubmitEvents() <-chan struct{}             { return nil }
func (f *fakeSession) Responses() <-chan browser.Response        { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFieldsEveryKeyPresent(t *testing.T) {
	session := &fakeSession{
		fields: map[string]string{
			`[name="firstName"]`:                 "Jane",
			`[data-testid="addPatientLastName"]`: "Doe",
		},
	}
	e := New(session, testLogger())

	fields, err := e.Fields(context.Background())
	require.NoError(t, err)

	// Missing fields map to empty strings, never absent keys.
	assert.Equal(t, map[string]string{
		"legalFirstName": "Jane",
		"legalLastName":  "Doe",
		"mobilePhone":    "",
		"dob":            "",
		"reasonForVisit": "",
		"sexAtBirth":     "",
	}, fields)
}

func TestFieldsSelectorFallback(t *testing.T) {
	// The primary selector misses; the data-testid fallback hits.
	session := &fakeSession{
		fields: map[string]string{
			`[data-testid="addPatientFirstName"]`: "Jane",
		},
	}
	e := New(session, testLogger())

	fields, err := e.Fields(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jane", fields["legalFirstName"])
}

func TestFieldsSessionFailure(t *testing.T) {
	session := &fakeSession{fieldErr: errors.New("target closed")}
	e := New(session, testLogger())

	_, err := e.Fields(context.Background())
	require.Error(t, err)
}

func TestCapture(t *testing.T) {
	capturedAt := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	session := &fakeSession{
		url: "https://app.example.com/queue?location_ids=AXjwbE",
		fields: map[string]string{
			`[name="firstName"]`:                   "Jane",
			`[name="lastName"]`:                    "Doe",
			`[data-testid="addPatientMobilePhone"]`: "5551234567",
		},
	}
	e := New(session, testLogger(), WithClock(func() time.Time { return capturedAt }))

	sub, err := e.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jane", sub.LegalFirstName)
	assert.Equal(t, "5551234567", sub.MobilePhone)
	assert.Equal(t, capturedAt, sub.CapturedAt)
	assert.Equal(t, "AXjwbE", sub.LocationID)
	assert.Equal(t, "Exer Urgent Care - Demo", sub.LocationName)
}

func TestCaptureKeepsFieldsWhenURLUnavailable(t *testing.T) {
	session := &fakeSession{
		urlErr: errors.New("navigation in flight"),
		fields: map[string]string{`[name="firstName"]`: "Jane"},
	}
	e := New(session, testLogger())

	sub, err := e.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jane", sub.LegalFirstName)
	assert.Empty(t, sub.LocationID)
	assert.Empty(t, sub.LocationName)
}
