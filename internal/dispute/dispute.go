// Package dispute implements admin-arbitrated dispute resolution.
//
// Either party of a booking may open a dispute. An admin reviews it and
// resolves it with a fund-moving verdict applied against the booking's
// escrowed payment: full refund, partial refund, release, or rejection.
package dispute

import (
	"context"
	"errors"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// Status is a dispute's arbitration state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusInReview        Status = "in_review"
	StatusResolvedRefund  Status = "resolved_refund"
	StatusResolvedRelease Status = "resolved_release"
	StatusResolvedPartial Status = "resolved_partial"
	StatusRejected        Status = "rejected"
)

// Open reports whether the dispute still awaits a verdict.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInReview
}

// Outcome is an admin verdict. Each outcome maps to exactly one resolved
// status.
type Outcome string

const (
	OutcomeRefund  Outcome = "refund"
	OutcomeRelease Outcome = "release"
	OutcomePartial Outcome = "partial"
	OutcomeReject  Outcome = "reject"
)

func (o Outcome) status() (Status, bool) {
	switch o {
	case OutcomeRefund:
		return StatusResolvedRefund, true
	case OutcomeRelease:
		return StatusResolvedRelease, true
	case OutcomePartial:
		return StatusResolvedPartial, true
	case OutcomeReject:
		return StatusRejected, true
	}
	return "", false
}

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrAlreadyOpen     = errors.New("booking already has a dispute")
	ErrNotOpen         = errors.New("dispute has already been resolved")
	ErrUnauthorized    = errors.New("not authorized for this dispute operation")
	ErrInvalidOutcome  = errors.New("unknown dispute outcome")
	ErrRefundRequired  = errors.New("partial resolution requires a refund amount below the payment amount")
)

// Dispute is an arbitration case against a booking.
type Dispute struct {
	ID          string     `json:"id"`
	BookingID   string     `json:"bookingId"`
	RaisedBy    string     `json:"raisedByUserId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Resolution  string     `json:"resolution,omitempty"`
	AdminID     string     `json:"adminId,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Store persists disputes. Create must reject a second dispute for the same
// booking with ErrAlreadyOpen; Update is compare-and-swap on status and
// fails with store.ErrConflict when a concurrent verdict won.
type Store interface {
	Create(ctx context.Context, q store.Querier, d *Dispute) error
	Get(ctx context.Context, q store.Querier, id string) (*Dispute, error)
	GetByBooking(ctx context.Context, q store.Querier, bookingID string) (*Dispute, error)
	Update(ctx context.Context, q store.Querier, d *Dispute, expect Status) error
	ListOpen(ctx context.Context, q store.Querier, limit int) ([]*Dispute, error)
}
