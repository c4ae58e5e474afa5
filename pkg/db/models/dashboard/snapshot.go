package dashboard

import (
	"time"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

// Counter names a non-negative integer field of a Snapshot.
type Counter string

const (
	TotalBloodUnits  Counter = "totalBloodUnits"
	RegisteredDonors Counter = "registeredDonors"
	PendingRequests  Counter = "pendingRequests"
	UrgentRequests   Counter = "urgentRequests"
	PendingTransfers Counter = "pendingTransfers"
)

// Counters lists every counter field in a stable order.
var Counters = []Counter{TotalBloodUnits, RegisteredDonors, PendingRequests, UrgentRequests, PendingTransfers}

// Valid reports whether c names a snapshot counter.
func (c Counter) Valid() bool {
	for _, known := range Counters {
		if c == known {
			return true
		}
	}
	return false
}

// Snapshot is the cached per-hospital dashboard. It is derived data and can
// be regenerated from the ledger at any time.
type Snapshot struct {
	HospitalID       string                           `json:"hospitalId"`
	TotalBloodUnits  int64                            `json:"totalBloodUnits"`
	RegisteredDonors int64                            `json:"registeredDonors"`
	PendingRequests  int64                            `json:"pendingRequests"`
	UrgentRequests   int64                            `json:"urgentRequests"`
	PendingTransfers int64                            `json:"pendingTransfers"`
	BloodInventory   map[ledgermodels.BloodType]int64 `json:"bloodInventory"`
	LastUpdated      time.Time                        `json:"lastUpdated"`

	// RebuiltAt is set only by a full rebuild. A snapshot that has only
	// ever received deltas has a zero RebuiltAt and is treated as a miss.
	RebuiltAt time.Time `json:"rebuiltAt"`
}

// Empty returns a zero snapshot carrying every canonical blood type.
func Empty(hospitalID string) Snapshot {
	inv := make(map[ledgermodels.BloodType]int64, len(ledgermodels.CanonicalBloodTypes))
	for _, bt := range ledgermodels.CanonicalBloodTypes {
		inv[bt] = 0
	}
	return Snapshot{HospitalID: hospitalID, BloodInventory: inv}
}

// Get returns the value of counter c.
func (s *Snapshot) Get(c Counter) int64 {
	switch c {
	case TotalBloodUnits:
		return s.TotalBloodUnits
	case RegisteredDonors:
		return s.RegisteredDonors
	case PendingRequests:
		return s.PendingRequests
	case UrgentRequests:
		return s.UrgentRequests
	case PendingTransfers:
		return s.PendingTransfers
	}
	return 0
}

// Set stores v in counter c. Unknown counters are ignored.
func (s *Snapshot) Set(c Counter, v int64) {
	switch c {
	case TotalBloodUnits:
		s.TotalBloodUnits = v
	case RegisteredDonors:
		s.RegisteredDonors = v
	case PendingRequests:
		s.PendingRequests = v
	case UrgentRequests:
		s.UrgentRequests = v
	case PendingTransfers:
		s.PendingTransfers = v
	}
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() Snapshot {
	out := *s
	out.BloodInventory = make(map[ledgermodels.BloodType]int64, len(s.BloodInventory))
	for k, v := range s.BloodInventory {
		out.BloodInventory[k] = v
	}
	return out
}
