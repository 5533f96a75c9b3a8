package listen

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakewatch/internal/browser"
)

func jsonResponse(url string, body string) browser.Response {
	return browser.Response{
		URL:         url,
		Path:        url,
		Status:      200,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(body),
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name   string
		resp   browser.Response
		wantID string
		found  bool
	}{
		{
			name: "integration status emr id",
			resp: jsonResponse("/api/bookings/abc",
				`{"data":{"integration_status":[{"status":"synced","emr_id":"EMR-123"}]}}`),
			wantID: "EMR-123",
			found:  true,
		},
		{
			name: "second integration status entry",
			resp: jsonResponse("/api/bookings/abc",
				`{"data":{"integration_status":[{"status":"pending"},{"emr_id":"EMR-456"}]}}`),
			wantID: "EMR-456",
			found:  true,
		},
		{
			name: "patient match details",
			resp: jsonResponse("/api/patients/xyz",
				`{"data":{"patient_match_details":{"external_user_profile_id":"UP-789"}}}`),
			wantID: "UP-789",
			found:  true,
		},
		{
			name: "fallback emr key anywhere",
			resp: jsonResponse("/api/visits/1",
				`{"result":{"nested":{"emrPatientId":"deep-1"}}}`),
			wantID: "deep-1",
			found:  true,
		},
		{
			name: "numeric identifier rendered without decimal",
			resp: jsonResponse("/api/patients/2",
				`{"data":{"integration_status":[{"emr_id":987654}]}}`),
			wantID: "987654",
			found:  true,
		},
		{
			name:  "non-json content type",
			resp:  browser.Response{URL: "/api/patients/3", Status: 200, ContentType: "text/html", Body: []byte(`{"emr_id":"x"}`)},
			found: false,
		},
		{
			name:  "non-200 status",
			resp:  browser.Response{URL: "/api/patients/4", Status: 404, ContentType: "application/json", Body: []byte(`{"emr_id":"x"}`)},
			found: false,
		},
		{
			name:  "irrelevant path skipped without decoding",
			resp:  jsonResponse("/static/telemetry", `{"emr_id":"x"}`),
			found: false,
		},
		{
			name:  "undecodable body dropped silently",
			resp:  jsonResponse("/api/patients/5", `{"data": [truncated`),
			found: false,
		},
		{
			name:  "no identifier key",
			resp:  jsonResponse("/api/queue", `{"data":{"patients":[{"name":"Jane"}]}}`),
			found: false,
		},
		{
			name:  "empty identifier value",
			resp:  jsonResponse("/api/bookings/def", `{"data":{"integration_status":[{"emr_id":""}]}}`),
			found: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, found := Scan(tc.resp)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.wantID, id)
		})
	}
}

func TestListenerRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	responses := make(chan browser.Response, 4)
	l := New(responses, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	responses <- jsonResponse("/api/bookings/abc",
		`{"data":{"integration_status":[{"emr_id":"EMR-1"}]}}`)
	responses <- jsonResponse("/static/app.js", `{}`)
	responses <- jsonResponse("/api/bookings/def",
		`{"data":{"integration_status":[{"emr_id":"EMR-2"}]}}`)
	close(responses)

	var ids []string
	for event := range l.Events() {
		ids = append(ids, event.EMRID)
		assert.False(t, event.ObservedAt.IsZero())
	}
	assert.Equal(t, []string{"EMR-1", "EMR-2"}, ids)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after response stream closed")
	}
}

func TestListenerRunCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	responses := make(chan browser.Response)
	l := New(responses, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on cancellation")
	}
}
