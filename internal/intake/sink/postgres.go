package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"intakewatch/internal/intake/models"
	"intakewatch/pkg/platform/sentinel"
)

// Postgres upserts records into the patient_records table. The natural key
// (subject proxy, location, capture timestamp) is the primary key, so a
// re-imported record with its original id collapses onto the same row
// instead of tripping a second constraint.
type Postgres struct {
	db     *sql.DB
	policy ConflictPolicy
}

// NewPostgres creates the relational sink. policy governs inserts only;
// Backfill always updates in place.
func NewPostgres(db *sql.DB, policy ConflictPolicy) (*Postgres, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
	return &Postgres{db: db, policy: policy}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS patient_records (
		id UUID NOT NULL,
		subject_proxy TEXT NOT NULL,
		emr_id TEXT,
		matched BOOLEAN NOT NULL DEFAULT FALSE,
		location_id TEXT NOT NULL,
		location_name TEXT,
		legal_first_name TEXT,
		legal_last_name TEXT,
		mobile_phone TEXT,
		dob TEXT,
		date_of_birth DATE,
		reason_for_visit TEXT,
		sex_at_birth TEXT,
		captured_at TIMESTAMPTZ NOT NULL,
		raw JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (subject_proxy, location_id, captured_at)
	);
	CREATE INDEX IF NOT EXISTS idx_patient_records_emr_id
		ON patient_records (emr_id) WHERE emr_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_patient_records_captured_at
		ON patient_records (captured_at);
`

// EnsureSchema creates the patient_records table and its indexes when they
// do not exist yet. Safe to run on every startup.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure patient_records schema: %w", err)
	}
	return nil
}

const insertColumns = `
	id, subject_proxy, emr_id, matched, location_id, location_name,
	legal_first_name, legal_last_name, mobile_phone, dob, date_of_birth,
	reason_for_visit, sex_at_birth, captured_at, raw
`

const onConflictUpdate = `
	ON CONFLICT (subject_proxy, location_id, captured_at) DO UPDATE SET
		emr_id = EXCLUDED.emr_id,
		matched = EXCLUDED.matched,
		location_name = EXCLUDED.location_name,
		legal_first_name = EXCLUDED.legal_first_name,
		legal_last_name = EXCLUDED.legal_last_name,
		mobile_phone = EXCLUDED.mobile_phone,
		dob = EXCLUDED.dob,
		date_of_birth = EXCLUDED.date_of_birth,
		reason_for_visit = EXCLUDED.reason_for_visit,
		sex_at_birth = EXCLUDED.sex_at_birth,
		raw = EXCLUDED.raw,
		updated_at = CURRENT_TIMESTAMP
`

// Save upserts one record.
func (s *Postgres) Save(ctx context.Context, record models.PatientRecord) error {
	query := `INSERT INTO patient_records (` + insertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if s.policy == ConflictIgnore {
		query += ` ON CONFLICT (subject_proxy, location_id, captured_at) DO NOTHING`
	} else {
		query += onConflictUpdate
	}

	key := record.Key()
	_, err := s.db.ExecContext(ctx, query,
		record.RecordID,
		key.Subject,
		nullIfEmpty(record.EMRID),
		record.Matched,
		record.LocationID,
		record.LocationName,
		record.LegalFirstName,
		record.LegalLastName,
		record.MobilePhone,
		record.DOB,
		nullIfEmpty(record.DateOfBirth),
		record.ReasonForVisit,
		record.SexAtBirth,
		key.CapturedAt,
		[]byte(record.Raw),
	)
	if err != nil {
		return fmt.Errorf("upsert patient record %s: %w", record.RecordID, err)
	}
	return nil
}

// Backfill updates the nearest unmatched row inside the window with the
// identifier, in place, never inserting.
func (s *Postgres) Backfill(ctx context.Context, emrID string, observedAt time.Time, window time.Duration) error {
	query := `
		UPDATE patient_records SET
			emr_id = $1,
			matched = TRUE,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM patient_records
			WHERE emr_id IS NULL
			  AND captured_at BETWEEN $2 AND $3
			ORDER BY ABS(EXTRACT(EPOCH FROM (captured_at - $4))) ASC
			LIMIT 1
		)
	`
	result, err := s.db.ExecContext(ctx, query,
		emrID,
		observedAt.Add(-window),
		observedAt.Add(window),
		observedAt,
	)
	if err != nil {
		return fmt.Errorf("backfill emr id %s: %w", emrID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("backfill emr id %s: %w", emrID, err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Close is a no-op; the *sql.DB is owned by the caller.
func (s *Postgres) Close() error {
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
