package ledger

import "time"

// Candidacy is one hospital's stake in fulfilling one request. There is
// exactly one row per (RequestID, HospitalID) and rows are never deleted.
type Candidacy struct {
	RequestID   string     `json:"request_id" db:"request_id"`
	HospitalID  string     `json:"hospital_id" db:"hospital_id"`
	Status      Status     `json:"status" db:"status"`
	Reason      Reason     `json:"reason,omitempty" db:"reason"`
	Notes       *string    `json:"notes,omitempty" db:"notes"`
	RespondedAt *time.Time `json:"responded_at,omitempty" db:"responded_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// CandidacyUpdate is the payload of a hospital decision.
type CandidacyUpdate struct {
	Status Status
	Notes  *string
	At     time.Time
}
