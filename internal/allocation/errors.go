package allocation

import (
	"fmt"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing request, candidacy or donation.
type NotFoundError struct {
	Kind       string
	RequestID  string
	HospitalID string
	ID         string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.ID != "":
		return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
	case e.HospitalID != "":
		return fmt.Sprintf("%s for request %s and hospital %s not found", e.Kind, e.RequestID, e.HospitalID)
	default:
		return fmt.Sprintf("%s %s not found", e.Kind, e.RequestID)
	}
}

func (e *NotFoundError) Unwrap() error { return ledgermodels.ErrNotFound }

// ConflictError reports that a candidacy was not in the state an operation
// requires. Current is the persisted status.
type ConflictError struct {
	RequestID  string
	HospitalID string
	Current    ledgermodels.Status
	Want       ledgermodels.Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("candidacy %s/%s is %s, want %s", e.RequestID, e.HospitalID, e.Current, e.Want)
}

func (e *ConflictError) Unwrap() error { return ledgermodels.ErrConflict }
