package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intakewatch/internal/intake/models"
	"intakewatch/pkg/platform/sentinel"
)

// RecordStore is the read surface over persisted patient records.
type RecordStore interface {
	// FindByEMRID returns the most recently captured record carrying the
	// identifier. sentinel.ErrNotFound when no record does.
	FindByEMRID(ctx context.Context, emrID string) (*models.PatientRecord, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error
}

// PostgresStore reads patient records from the relational store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the read store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByEMRID returns the newest record for an identifier.
func (s *PostgresStore) FindByEMRID(ctx context.Context, emrID string) (*models.PatientRecord, error) {
	query := `
		SELECT id, emr_id, matched, location_id, location_name,
		       legal_first_name, legal_last_name, mobile_phone, dob,
		       COALESCE(date_of_birth::text, ''), reason_for_visit, sex_at_birth,
		       captured_at, created_at, updated_at, raw
		FROM patient_records
		WHERE emr_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, emrID)

	var (
		record models.PatientRecord
		id     uuid.UUID
		emr    sql.NullString
		raw    []byte
	)
	err := row.Scan(
		&id,
		&emr,
		&record.Matched,
		&record.LocationID,
		&record.LocationName,
		&record.LegalFirstName,
		&record.LegalLastName,
		&record.MobilePhone,
		&record.DOB,
		&record.DateOfBirth,
		&record.ReasonForVisit,
		&record.SexAtBirth,
		&record.CapturedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
		&raw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query record by emr id: %w", err)
	}
	record.RecordID = id
	record.EMRID = emr.String
	record.Raw = raw
	return &record, nil
}

// Ping checks database connectivity with a bounded wait.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping records store: %w", err)
	}
	return nil
}
