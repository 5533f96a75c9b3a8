package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CapturedSubmission is one form-fill event, frozen at the moment the submit
// was observed. Fields carry whatever the form held at that instant; any of
// them may be empty except CapturedAt.
type CapturedSubmission struct {
	LocationID     string    `json:"location_id"`
	LocationName   string    `json:"location_name"`
	LegalFirstName string    `json:"legalFirstName"`
	LegalLastName  string    `json:"legalLastName"`
	MobilePhone    string    `json:"mobilePhone"`
	DOB            string    `json:"dob"`
	ReasonForVisit string    `json:"reasonForVisit"`
	SexAtBirth     string    `json:"sexAtBirth"`
	CapturedAt     time.Time `json:"captured_at"`
}

// IdentifierEvent is one sighting of an EMR identifier in network traffic.
// RequestPath is a matching hint only, never a foreign key.
type IdentifierEvent struct {
	EMRID       string    `json:"emr_id"`
	ObservedAt  time.Time `json:"observed_at"`
	RequestPath string    `json:"request_path,omitempty"`
}

// PatientRecord is the persisted, merged entity. EMRID is empty until a
// correlation match or a later back-fill; Matched records whether the
// identifier arrived inside the grace window.
type PatientRecord struct {
	RecordID       uuid.UUID       `json:"record_id"`
	EMRID          string          `json:"emr_id"`
	Matched        bool            `json:"matched"`
	LocationID     string          `json:"location_id"`
	LocationName   string          `json:"location_name"`
	LegalFirstName string          `json:"legalFirstName"`
	LegalLastName  string          `json:"legalLastName"`
	MobilePhone    string          `json:"mobilePhone"`
	DOB            string          `json:"dob"`
	DateOfBirth    string          `json:"date_of_birth,omitempty"`
	ReasonForVisit string          `json:"reasonForVisit"`
	SexAtBirth     string          `json:"sexAtBirth"`
	CapturedAt     time.Time       `json:"captured_at"`
	CreatedAt      time.Time       `json:"created_at,omitzero"`
	UpdatedAt      time.Time       `json:"updated_at,omitzero"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// NewPatientRecord freezes a submission into its persisted form. The verbatim
// capture payload is retained in Raw for forward compatibility with fields the
// current schema does not model.
func NewPatientRecord(sub CapturedSubmission) PatientRecord {
	raw, _ := json.Marshal(sub)
	return PatientRecord{
		RecordID:       uuid.New(),
		LocationID:     sub.LocationID,
		LocationName:   sub.LocationName,
		LegalFirstName: sub.LegalFirstName,
		LegalLastName:  sub.LegalLastName,
		MobilePhone:    sub.MobilePhone,
		DOB:            sub.DOB,
		DateOfBirth:    NormalizeDate(sub.DOB),
		ReasonForVisit: sub.ReasonForVisit,
		SexAtBirth:     sub.SexAtBirth,
		CapturedAt:     sub.CapturedAt,
		Raw:            raw,
	}
}

// SubjectKey is the natural uniqueness key of a capture: a subject identity
// proxy (lowercased legal name), the location, and the capture instant.
// Re-importing the same capture must collapse onto the same key.
type SubjectKey struct {
	Subject    string
	LocationID string
	CapturedAt time.Time
}

// Key derives the uniqueness key for this record.
func (r PatientRecord) Key() SubjectKey {
	return SubjectKey{
		Subject:    SubjectProxy(r.LegalFirstName, r.LegalLastName),
		LocationID: r.LocationID,
		CapturedAt: r.CapturedAt.UTC().Truncate(time.Millisecond),
	}
}

// SubjectProxy builds the identity proxy used in the uniqueness key. The
// capture never sees a real patient ID, so the lowercased legal name stands in.
func SubjectProxy(first, last string) string {
	return strings.ToLower(strings.TrimSpace(first)) + " " + strings.ToLower(strings.TrimSpace(last))
}
