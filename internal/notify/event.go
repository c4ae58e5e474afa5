// Package notify carries allocation events to hospitals and requesters.
// Delivery is best-effort and at-most-once; nothing in here can fail the
// operation that produced an event.
package notify

import (
	"context"
	"time"

	ledgermodels "github.com/bloodlink/allocator/pkg/db/models/ledger"
)

// Kind identifies an event.
type Kind string

const (
	KindRequestAssigned   Kind = "requestAssigned"
	KindRequestSuperseded Kind = "requestSuperseded"
	KindRequestOutcome    Kind = "requestOutcome"
	KindRequestWithdrawn  Kind = "requestWithdrawn"
)

// Withdrawal reasons carried by requestWithdrawn.
const (
	ReasonWithdrawn          = "withdrawn"
	ReasonWithdrawnFulfilled = "withdrawnFulfilled"
)

// Event is a single notification. Hospital events set HospitalID, requester
// events set RequesterID.
type Event struct {
	Kind        Kind                `json:"kind"`
	HospitalID  string              `json:"hospital_id,omitempty"`
	RequesterID string              `json:"requester_id,omitempty"`
	RequestID   string              `json:"request_id"`
	Status      ledgermodels.Status `json:"status,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// RequestAssigned tells a hospital a new pending candidacy is waiting.
func RequestAssigned(hospitalID, requestID string, at time.Time) Event {
	return Event{Kind: KindRequestAssigned, HospitalID: hospitalID, RequestID: requestID, Status: ledgermodels.StatusPending, OccurredAt: at}
}

// RequestSuperseded tells a hospital its pending candidacy lost to another hospital.
func RequestSuperseded(hospitalID, requestID string, reason ledgermodels.Reason, at time.Time) Event {
	return Event{Kind: KindRequestSuperseded, HospitalID: hospitalID, RequestID: requestID, Status: ledgermodels.StatusRejected, Reason: string(reason), OccurredAt: at}
}

// RequestOutcome tells a requester the aggregate status of their request changed.
func RequestOutcome(requesterID, requestID string, status ledgermodels.Status, at time.Time) Event {
	return Event{Kind: KindRequestOutcome, RequesterID: requesterID, RequestID: requestID, Status: status, OccurredAt: at}
}

// RequestWithdrawn tells a hospital the requester took the request back.
func RequestWithdrawn(hospitalID, requestID, reason string, at time.Time) Event {
	return Event{Kind: KindRequestWithdrawn, HospitalID: hospitalID, RequestID: requestID, Reason: reason, OccurredAt: at}
}

// Room is the subscription key the event is addressed to.
func (e Event) Room() string {
	if e.HospitalID != "" {
		return HospitalRoom(e.HospitalID)
	}
	return RequesterRoom(e.RequesterID)
}

func HospitalRoom(id string) string  { return "hospital:" + id }
func RequesterRoom(id string) string { return "requester:" + id }

// Notifier accepts events without reporting delivery. Implementations must
// not block the caller for longer than it takes to enqueue.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards every event.
var Nop Notifier = NotifierFunc(func(context.Context, Event) {})

// Sink performs the actual delivery of one event.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }
