package requote

import (
	"context"
	"strconv"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/booking"
	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/notify"
	"github.com/fixpoint-app/fixpoint/internal/payment"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

// Service negotiates requotes against bookings and their payments.
type Service struct {
	runner   store.Runner
	requotes Store
	bookings *booking.Service
	payments *payment.Service
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a requote service.
func NewService(runner store.Runner, requotes Store, bookings *booking.Service, payments *payment.Service) *Service {
	return &Service{
		runner:   runner,
		requotes: requotes,
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

// Propose creates a pending requote. Only the booking's provider may
// propose, only while on site, only for more than the current total, and
// only one pending requote may exist per booking.
func (s *Service) Propose(ctx context.Context, bookingID string, newAmount int64, reason string, actor auth.Actor) (*Requote, error) {
	var r *Requote
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		b, err := s.bookings.GetTx(ctx, q, bookingID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && (actor.Role != auth.RoleProvider || actor.UserID != b.ProviderID) {
			return ErrUnauthorized
		}
		if b.Status != booking.StatusOnSite {
			return ErrNotOnSite
		}
		if newAmount <= b.TotalAmount {
			return ErrAmountTooLow
		}

		r = &Requote{
			ID:             idgen.WithPrefix("req_"),
			BookingID:      bookingID,
			OriginalAmount: b.TotalAmount,
			NewAmount:      newAmount,
			Reason:         reason,
			Status:         StatusPending,
			CreatedAt:      s.now(),
		}
		return s.requotes.Create(ctx, q, r)
	})
	if err != nil {
		return nil, err
	}

	s.notifyProposed(ctx, r, actor)
	return r, nil
}

// Respond accepts or rejects a pending requote on behalf of the booking's
// customer. Acceptance rewrites the booking total and adjusts the payment
// in the same transaction; rejection changes only the requote.
func (s *Service) Respond(ctx context.Context, requoteID string, accept bool, actor auth.Actor) (*Requote, error) {
	var (
		r *Requote
		b *booking.Booking
	)
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		r, err = s.requotes.Get(ctx, q, requoteID)
		if err != nil {
			return err
		}
		b, err = s.bookings.GetTx(ctx, q, r.BookingID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && (actor.Role != auth.RoleCustomer || actor.UserID != b.CustomerID) {
			return ErrUnauthorized
		}
		if r.Status != StatusPending {
			return ErrNotPending
		}

		now := s.now()
		r.RespondedAt = &now
		if !accept {
			r.Status = StatusRejected
			return s.requotes.Update(ctx, q, r, StatusPending)
		}

		// Settlement precondition comes before any write: the memory
		// runner has no rollback, so an adjustment that can no longer
		// apply must fail while every entity is still untouched.
		p, err := s.payments.GetByBookingTx(ctx, q, r.BookingID)
		if err != nil {
			return err
		}
		if p.Status != payment.StatusPending && p.Status != payment.StatusEscrow {
			return payment.ErrInvalidState
		}

		r.Status = StatusAccepted
		if err := s.requotes.Update(ctx, q, r, StatusPending); err != nil {
			return err
		}
		if b, err = s.bookings.ApplyRequoteTotalTx(ctx, q, r.BookingID, r.NewAmount); err != nil {
			return err
		}
		_, err = s.payments.ApplyRequoteTx(ctx, q, r.BookingID, r.OriginalAmount, r.NewAmount)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifyResponded(ctx, r, b)
	return r, nil
}

// Get returns a requote visible to the actor.
func (s *Service) Get(ctx context.Context, id string, actor auth.Actor) (*Requote, error) {
	r, err := s.requotes.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetTx(ctx, nil, r.BookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(b.CustomerID, b.ProviderID) {
		return nil, ErrUnauthorized
	}
	return r, nil
}

// ListByBooking returns the booking's requotes, oldest first.
func (s *Service) ListByBooking(ctx context.Context, bookingID string, actor auth.Actor) ([]*Requote, error) {
	b, err := s.bookings.GetTx(ctx, nil, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(b.CustomerID, b.ProviderID) {
		return nil, ErrUnauthorized
	}
	return s.requotes.ListByBooking(ctx, nil, bookingID)
}

func (s *Service) notifyProposed(ctx context.Context, r *Requote, actor auth.Actor) {
	b, err := s.bookings.GetTx(ctx, nil, r.BookingID)
	if err != nil {
		return
	}
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  b.CustomerID,
		Title:   "Price change proposed",
		Message: "Your provider has proposed a new price for this job.",
		Type:    "requote",
		Metadata: map[string]any{
			"requoteId": r.ID,
			"bookingId": r.BookingID,
			"newAmount": strconv.FormatInt(r.NewAmount, 10),
		},
	})
}

func (s *Service) notifyResponded(ctx context.Context, r *Requote, b *booking.Booking) {
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  b.ProviderID,
		Title:   "Requote " + string(r.Status),
		Message: "The customer has responded to your price change.",
		Type:    "requote",
		Metadata: map[string]any{
			"requoteId": r.ID,
			"bookingId": r.BookingID,
			"status":    string(r.Status),
		},
	})
}
