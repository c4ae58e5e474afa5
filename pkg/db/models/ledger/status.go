package ledger

import "fmt"

// Status is the lifecycle state shared by blood requests and candidacies.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusFulfilled Status = "fulfilled"
)

// ParseStatus validates a raw status value from an API body or a database row.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusFulfilled:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid status %q: must be one of pending, approved, rejected, fulfilled", s)
}

// IsDecision reports whether a hospital may submit s as its response.
func (s Status) IsDecision() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusFulfilled
}

// Wins reports whether reaching s makes a candidacy the request's winner.
func (s Status) Wins() bool {
	return s == StatusApproved || s == StatusFulfilled
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusFulfilled
}

// Reason tags a candidacy rejection that was not the hospital's own decision.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonApprovedElsewhere  Reason = "approvedElsewhere"
	ReasonFulfilledElsewhere Reason = "fulfilledElsewhere"
)

// SupersededBy returns the reason recorded on losing candidacies when
// another hospital's candidacy reaches winner.
func SupersededBy(winner Status) Reason {
	if winner == StatusFulfilled {
		return ReasonFulfilledElsewhere
	}
	return ReasonApprovedElsewhere
}

// Urgency of the patient need.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyRoutine  Urgency = "routine"
)

// ParseUrgency validates a raw urgency value.
func ParseUrgency(s string) (Urgency, error) {
	switch Urgency(s) {
	case UrgencyCritical, UrgencyUrgent, UrgencyRoutine:
		return Urgency(s), nil
	}
	return "", fmt.Errorf("invalid urgency %q: must be one of critical, urgent, routine", s)
}

// Urgent reports whether the request counts towards a hospital's urgentRequests.
func (u Urgency) Urgent() bool {
	return u == UrgencyCritical || u == UrgencyUrgent
}

// Rank orders urgencies for listing, most pressing first.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 1
	case UrgencyUrgent:
		return 2
	case UrgencyRoutine:
		return 3
	}
	return 4
}
