package ledger

import "time"

// Donation statuses owned by the donation registry.
const (
	DonationAvailable   = "available"
	DonationTransferred = "transferred"
)

// InventoryRow is available, unexpired stock of one blood type at one hospital.
type InventoryRow struct {
	BloodType BloodType
	VolumeML  int64
	Units     int64
}

// Donation is a single collected unit as far as allocation needs to know it.
type Donation struct {
	BloodID    string    `json:"blood_id"`
	DonorID    int64     `json:"donor_id"`
	HospitalID string    `json:"hospital_id"`
	BloodType  BloodType `json:"blood_type"`
	Component  string    `json:"component_type"`
	VolumeML   int64     `json:"volume_ml"`
	ExpiresAt  time.Time `json:"expiry_date"`
	Status     string    `json:"status"`
}

// Transfer records a donation physically handed over against a request.
type Transfer struct {
	BloodID    string    `json:"blood_id"`
	RequestID  string    `json:"request_id"`
	HospitalID string    `json:"hospital_id"`
	Notes      *string   `json:"notes,omitempty"`
	At         time.Time `json:"transfer_date"`
}

// HospitalCounts are the candidacy aggregates behind a dashboard snapshot.
type HospitalCounts struct {
	PendingRequests  int64
	UrgentRequests   int64
	PendingTransfers int64
}

// TransferRecord is a transfer joined to its donation and request for the
// hospital's history view. Joined fields are empty when the row is gone.
type TransferRecord struct {
	TransferID int64 `json:"transfer_id"`
	Transfer
	CreatedAt          time.Time `json:"created_at"`
	DonorID            *int64    `json:"donor_id,omitempty"`
	BloodType          BloodType `json:"blood_type,omitempty"`
	Component          string    `json:"component_type,omitempty"`
	VolumeML           *int64    `json:"volume_ml,omitempty"`
	PatientName        string    `json:"patient_name,omitempty"`
	RequestedBloodType BloodType `json:"requested_blood_type,omitempty"`
	Urgency            Urgency   `json:"urgency,omitempty"`
}
