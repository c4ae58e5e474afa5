package ledger

import "time"

// BloodRequest is a patient need broadcast to one or more hospitals.
// Its status is an aggregate of the request's candidacies.
type BloodRequest struct {
	RequestID   string    `json:"request_id" db:"request_id"`
	RequesterID string    `json:"requester_id" db:"requester_id"`
	PatientName string    `json:"patient_name" db:"patient_name"`
	BloodType   BloodType `json:"blood_type" db:"blood_type"`
	Urgency     Urgency   `json:"urgency" db:"urgency"`
	UnitsNeeded int       `json:"units_needed" db:"units_needed"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HospitalRequest is one row of a hospital's inbox: the request joined with
// that hospital's candidacy.
type HospitalRequest struct {
	BloodRequest
	HospitalID     string     `json:"hospital_id"`
	HospitalStatus Status     `json:"hospital_status"`
	Reason         Reason     `json:"reason,omitempty"`
	Notes          *string    `json:"hospital_notes,omitempty"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
}
