package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakewatch/internal/intake/models"
	"intakewatch/pkg/platform/sentinel"
)

// fakeStore serves canned records keyed by EMR ID.
type fakeStore struct {
	records map[string]*models.PatientRecord
	findErr error
	pingErr error
}

func (f *fakeStore) FindByEMRID(_ context.Context, emrID string) (*models.PatientRecord, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	record, ok := f.records[emrID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return record, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func newTestHandler(store *fakeStore) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger).Router()
}

func TestGetPatient(t *testing.T) {
	record := models.NewPatientRecord(models.CapturedSubmission{
		LocationID:     "AXjwbE",
		LocationName:   "Exer Urgent Care - Demo",
		LegalFirstName: "Jane",
		LegalLastName:  "Doe",
		CapturedAt:     time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	})
	record.EMRID = "EMR-1"
	record.Matched = true

	router := newTestHandler(&fakeStore{
		records: map[string]*models.PatientRecord{"EMR-1": &record},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients/EMR-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got models.PatientRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "EMR-1", got.EMRID)
	assert.Equal(t, "Jane", got.LegalFirstName)
	assert.True(t, got.Matched)
}

func TestGetPatientNotFound(t *testing.T) {
	router := newTestHandler(&fakeStore{records: map[string]*models.PatientRecord{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPatientStoreFailure(t *testing.T) {
	router := newTestHandler(&fakeStore{findErr: errors.New("connection reset")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients/EMR-1", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// Internal detail never leaks into the response body.
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["error"])
}

func TestHealth(t *testing.T) {
	router := newTestHandler(&fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
}

func TestHealthUnhealthy(t *testing.T) {
	router := newTestHandler(&fakeStore{pingErr: errors.New("dial tcp: refused")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
}

func TestRootDiscovery(t *testing.T) {
	router := newTestHandler(&fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Service   string            `json:"service"`
		Endpoints map[string]string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "intakewatch", body.Service)
	assert.Contains(t, body.Endpoints, "GET /patients/{emr_id}")
}
