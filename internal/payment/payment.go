// Package payment owns the escrow settlement lifecycle.
//
// Flow:
//  1. Booking created → Payment created (pending)
//  2. Customer pays → escrow-in: funds held, platform fee fixed
//  3. Booking completed → release: net payout credited to provider wallet
//  4. Booking cancelled or dispute refund → funds returned to customer
//
// Every transition runs inside one atomic transaction together with its
// wallet and ledger effects; a payment can never settle twice.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/store"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvalidState    = errors.New("invalid payment status for this operation")
	ErrInvalidAmount   = errors.New("invalid payment amount")
	ErrUnauthorized    = errors.New("not authorized for this payment operation")
	ErrDuplicate       = errors.New("payment already exists for this booking")
	ErrChargeRejected  = errors.New("payment charge could not be verified")
)

// Status represents the state of a payment.
type Status string

const (
	StatusPending   Status = "pending"   // created with the booking, no funds yet
	StatusEscrow    Status = "escrow"    // customer funds held by the platform
	StatusCompleted Status = "completed" // escrow released to the provider
	StatusRefunded  Status = "refunded"  // escrow returned to the customer
	StatusFailed    Status = "failed"    // booking cancelled before escrow-in
)

// IsTerminal returns true if the payment is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// Payment is the single payment record of a booking. Exactly one payment
// exists per booking; the store enforces uniqueness on BookingID.
type Payment struct {
	ID           string     `json:"id"`
	BookingID    string     `json:"bookingId"`
	CustomerID   string     `json:"customerId"`
	ProviderID   string     `json:"providerId"`
	Amount       int64      `json:"amount"`      // minor units
	PlatformFee  int64      `json:"platformFee"` // fixed at escrow-in, accrued on accepted requotes
	Status       Status     `json:"status"`
	Method       string     `json:"method,omitempty"`
	EscrowNumber string     `json:"escrowNumber,omitempty"`
	RefundAmount int64      `json:"refundAmount,omitempty"`
	RefundReason string     `json:"refundReason,omitempty"`
	EscrowDate   *time.Time `json:"escrowDate,omitempty"`
	ReleaseDate  *time.Time `json:"releaseDate,omitempty"`
	RefundDate   *time.Time `json:"refundDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Store persists payments. Update is a compare-and-swap on status: the
// write applies only if the row still holds the expected status, otherwise
// store.ErrConflict is returned. That guard, re-checked inside the owning
// transaction, is what prevents double release/refund.
type Store interface {
	Create(ctx context.Context, q store.Querier, p *Payment) error
	Get(ctx context.Context, q store.Querier, id string) (*Payment, error)
	GetByBooking(ctx context.Context, q store.Querier, bookingID string) (*Payment, error)
	Update(ctx context.Context, q store.Querier, p *Payment, expect Status) error
}

// ChargeVerifier checks that the referenced external charge actually moved
// the funds claimed at escrow-in.
type ChargeVerifier interface {
	Verify(ctx context.Context, method, proofRef string, amount int64) error
}

// NopVerifier accepts any charge reference. Used in development mode.
type NopVerifier struct{}

func (NopVerifier) Verify(context.Context, string, string, int64) error { return nil }

// BookingState reports booking status within the enclosing transaction.
// Narrow interface so this package does not depend on the booking package.
type BookingState interface {
	IsCompleted(ctx context.Context, q store.Querier, bookingID string) (bool, error)
}
