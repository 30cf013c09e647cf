// Package requote implements on-site price renegotiation.
//
// A provider who discovers extra work while on site proposes a higher price
// for the booking. The customer accepts or rejects. Acceptance rewrites the
// booking total and adjusts the escrowed payment in the same transaction.
package requote

import (
	"context"
	"errors"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

// Status is a requote's negotiation state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

var (
	ErrRequoteNotFound = errors.New("requote not found")
	ErrNotOnSite       = errors.New("requotes may only be proposed while the provider is on site")
	ErrNotPending      = errors.New("requote has already been responded to")
	ErrPendingExists   = errors.New("booking already has a pending requote")
	ErrAmountTooLow    = errors.New("requote amount must exceed the current booking total")
	ErrUnauthorized    = errors.New("not authorized for this requote operation")
)

// Requote is a proposed price change for a booking.
type Requote struct {
	ID             string     `json:"id"`
	BookingID      string     `json:"bookingId"`
	OriginalAmount int64      `json:"originalAmount"`
	NewAmount      int64      `json:"newAmount"`
	Reason         string     `json:"reason,omitempty"`
	Status         Status     `json:"status"`
	RespondedAt    *time.Time `json:"respondedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Store persists requotes. Create must reject a second pending requote for
// the same booking with ErrPendingExists; Update is compare-and-swap on
// status and fails with store.ErrConflict when a concurrent response won.
type Store interface {
	Create(ctx context.Context, q store.Querier, r *Requote) error
	Get(ctx context.Context, q store.Querier, id string) (*Requote, error)
	GetPendingByBooking(ctx context.Context, q store.Querier, bookingID string) (*Requote, error)
	Update(ctx context.Context, q store.Querier, r *Requote, expect Status) error
	ListByBooking(ctx context.Context, q store.Querier, bookingID string) ([]*Requote, error)
}
