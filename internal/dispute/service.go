package dispute

import (
	"context"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/booking"
	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/notify"
	"github.com/fixpoint-app/fixpoint/internal/payment"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

// Service arbitrates disputes against bookings.
type Service struct {
	runner   store.Runner
	disputes Store
	bookings *booking.Service
	payments *payment.Service
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a dispute service.
func NewService(runner store.Runner, disputes Store, bookings *booking.Service, payments *payment.Service) *Service {
	return &Service{
		runner:   runner,
		disputes: disputes,
		bookings: bookings,
		payments: payments,
		notifier: notify.Nop{},
		now:      time.Now,
	}
}

// WithNotifier adds post-commit notification dispatch.
func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenRequest is the input for a new dispute.
type OpenRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Attachments []string `json:"attachments"`
}

// Open raises a dispute against a booking. Only the booking's customer or
// provider may raise one, and only one dispute may exist per booking.
func (s *Service) Open(ctx context.Context, bookingID string, req OpenRequest, actor auth.Actor) (*Dispute, error) {
	var (
		d *Dispute
		b *booking.Booking
	)
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		b, err = s.bookings.GetTx(ctx, q, bookingID)
		if err != nil {
			return err
		}
		if !actor.IsParty(b.CustomerID, b.ProviderID) {
			return ErrUnauthorized
		}

		now := s.now()
		d = &Dispute{
			ID:          idgen.WithPrefix("dsp_"),
			BookingID:   bookingID,
			RaisedBy:    actor.UserID,
			Title:       req.Title,
			Description: req.Description,
			Status:      StatusPending,
			Attachments: req.Attachments,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.disputes.Create(ctx, q, d)
	})
	if err != nil {
		return nil, err
	}

	// Both parties hear about the new case.
	for _, userID := range []string{b.CustomerID, b.ProviderID} {
		s.notifier.Notify(ctx, notify.Notification{
			UserID:  userID,
			Title:   "Dispute opened",
			Message: "A dispute has been opened on your booking.",
			Type:    "dispute",
			Metadata: map[string]any{
				"disputeId": d.ID,
				"bookingId": bookingID,
			},
		})
	}
	return d, nil
}

// Get returns a dispute visible to the actor.
func (s *Service) Get(ctx context.Context, id string, actor auth.Actor) (*Dispute, error) {
	d, err := s.disputes.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetTx(ctx, nil, d.BookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(b.CustomerID, b.ProviderID) {
		return nil, ErrUnauthorized
	}
	return d, nil
}

// ListOpen returns unresolved disputes for the admin queue.
func (s *Service) ListOpen(ctx context.Context, actor auth.Actor, limit int) ([]*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return s.disputes.ListOpen(ctx, nil, limit)
}

// Review claims a pending dispute for an admin, moving it to in_review.
func (s *Service) Review(ctx context.Context, id string, actor auth.Actor) (*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}

	var d *Dispute
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		d, err = s.disputes.Get(ctx, q, id)
		if err != nil {
			return err
		}
		if d.Status != StatusPending {
			return ErrNotOpen
		}
		d.Status = StatusInReview
		d.AdminID = actor.UserID
		d.UpdatedAt = s.now()
		return s.disputes.Update(ctx, q, d, StatusPending)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve closes a dispute with an admin verdict. The verdict's fund effect
// commits atomically with the dispute status write:
//
//	refund   — the escrowed payment is refunded in full.
//	partial  — refundAmount goes back to the customer and the remainder is
//	           released to the provider net of fee.
//	release  — the escrowed payment is released to the provider.
//	reject   — status-only change, no fund effect.
func (s *Service) Resolve(ctx context.Context, id string, outcome Outcome, resolution string, refundAmount int64, actor auth.Actor) (*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	target, ok := outcome.status()
	if !ok {
		return nil, ErrInvalidOutcome
	}

	var (
		d *Dispute
		b *booking.Booking
	)
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		d, err = s.disputes.Get(ctx, q, id)
		if err != nil {
			return err
		}
		if !d.Status.Open() {
			return ErrNotOpen
		}
		b, err = s.bookings.GetTx(ctx, q, d.BookingID)
		if err != nil {
			return err
		}

		switch outcome {
		case OutcomeRefund:
			p, err := s.payments.GetByBookingTx(ctx, q, d.BookingID)
			if err != nil {
				return err
			}
			if err := s.payments.RefundTx(ctx, q, p, resolution, p.Amount); err != nil {
				return err
			}

		case OutcomePartial:
			p, err := s.payments.GetByBookingTx(ctx, q, d.BookingID)
			if err != nil {
				return err
			}
			if refundAmount <= 0 || refundAmount >= p.Amount {
				return ErrRefundRequired
			}
			if err := s.payments.RefundTx(ctx, q, p, resolution, refundAmount); err != nil {
				return err
			}

		case OutcomeRelease:
			p, err := s.payments.GetByBookingTx(ctx, q, d.BookingID)
			if err != nil {
				return err
			}
			if err := s.payments.ReleaseTx(ctx, q, p); err != nil {
				return err
			}
		}

		now := s.now()
		expect := d.Status
		d.Status = target
		d.Resolution = resolution
		d.AdminID = actor.UserID
		d.ResolvedAt = &now
		d.UpdatedAt = now
		return s.disputes.Update(ctx, q, d, expect)
	})
	if err != nil {
		return nil, err
	}

	for _, userID := range []string{b.CustomerID, b.ProviderID} {
		s.notifier.Notify(ctx, notify.Notification{
			UserID:  userID,
			Title:   "Dispute resolved",
			Message: "An admin has resolved the dispute on your booking.",
			Type:    "dispute",
			Metadata: map[string]any{
				"disputeId": d.ID,
				"bookingId": d.BookingID,
				"status":    string(d.Status),
			},
		})
	}
	return d, nil
}
