package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/money"
	"github.com/fixpoint-app/fixpoint/internal/notify"
	"github.com/fixpoint-app/fixpoint/internal/payment"
	"github.com/fixpoint-app/fixpoint/internal/store"
	"github.com/fixpoint-app/fixpoint/internal/syncutil"
)

// Service drives the booking state machine. Every transition re-reads the
// booking inside its own transaction and writes the new status with
// compare-and-swap, so two concurrent actors can never both succeed on the
// same state.
type Service struct {
	runner   store.Runner
	bookings Store
	payments *payment.Service
	notifier notify.Notifier
	locks    *syncutil.ContextShardedMutex
	now      func() time.Time
}

// NewService creates a booking service.
func NewService(runner store.Runner, bookings Store, payments *payment.Service) *Service {
	return &Service{
		runner:   runner,
		bookings: bookings,
		payments: payments,
		notifier: notify.Nop{},
		locks:    syncutil.NewContextShardedMutex(),
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

// CreateRequest is the input for a new booking.
type CreateRequest struct {
	ProviderID  string     `json:"providerId" binding:"required"`
	LineItems   []LineItem `json:"lineItems" binding:"required"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

// Create opens a new pending booking for the customer together with its
// pending payment, in one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor auth.Actor) (*Booking, error) {
	if actor.Role != auth.RoleCustomer && !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if len(req.LineItems) == 0 {
		return nil, ErrInvalidLineItems
	}

	var total int64
	items := make([]LineItem, len(req.LineItems))
	for i, it := range req.LineItems {
		if it.ServiceID == "" || it.Qty <= 0 || it.UnitPrice <= 0 {
			return nil, ErrInvalidLineItems
		}
		it.LineTotal = money.LineTotal(it.Qty, it.UnitPrice)
		items[i] = it
		total += it.LineTotal
	}

	now := s.now()
	b := &Booking{
		ID:          idgen.WithPrefix("bkg_"),
		CustomerID:  actor.UserID,
		ProviderID:  req.ProviderID,
		LineItems:   items,
		TotalAmount: total,
		Status:      StatusPending,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.runner.InTx(ctx, func(q store.Querier) error {
		if err := s.bookings.Create(ctx, q, b); err != nil {
			return err
		}
		if _, err := s.payments.CreateTx(ctx, q, b.ID, b.CustomerID, b.ProviderID, total); err != nil {
			return err
		}
		return s.bookings.AppendStatusUpdate(ctx, q, s.statusUpdate(b.ID, "", StatusPending, actor, "booking created"))
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notify.Notification{
		UserID:  b.ProviderID,
		Title:   "New booking request",
		Message: "A customer has requested your services.",
		Type:    "booking",
		Metadata: map[string]any{
			"bookingId": b.ID,
			"status":    string(b.Status),
		},
	})
	return b, nil
}

// Get returns a booking visible to the actor.
func (s *Service) Get(ctx context.Context, id string, actor auth.Actor) (*Booking, error) {
	b, err := s.bookings.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(b.CustomerID, b.ProviderID) {
		return nil, ErrUnauthorized
	}
	return b, nil
}

// List returns the actor's bookings, newest first.
func (s *Service) List(ctx context.Context, actor auth.Actor, limit int) ([]*Booking, error) {
	return s.bookings.ListByUser(ctx, nil, actor.UserID, limit)
}

// History returns the booking's status-update trail.
func (s *Service) History(ctx context.Context, id string, actor auth.Actor) ([]*StatusUpdate, error) {
	b, err := s.bookings.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(b.CustomerID, b.ProviderID) {
		return nil, ErrUnauthorized
	}
	return s.bookings.ListStatusUpdates(ctx, nil, id)
}

// Transition moves a booking to the requested status on behalf of the
// actor. The status write and all fund effects of the new status commit in
// the same transaction; the status-update record is always appended.
//
// Admins may force any distinct-status transition, subject to the
// settlement preconditions: forcing CANCELLED on a booking whose payment
// has already been released or refunded fails with the payment's invalid
// state error.
func (s *Service) Transition(ctx context.Context, id string, to Status, actor auth.Actor) (*Booking, error) {
	// Serialize local transitions per booking; the CAS write still guards
	// against races from other processes.
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var b *Booking
	err = s.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		b, err = s.bookings.Get(ctx, q, id)
		if err != nil {
			return err
		}
		if !actor.IsParty(b.CustomerID, b.ProviderID) {
			return ErrUnauthorized
		}
		from := b.Status
		if !CanTransition(from, to, actor.Role) {
			return fmt.Errorf("%w: %s -> %s as %s", ErrInvalidTransition, from, to, actor.Role)
		}

		now := s.now()
		b.Status = to
		b.UpdatedAt = now

		switch to {
		case StatusOnSite:
			b.ActualArrival = &now

		case StatusCompleted:
			b.CompletionTime = &now
			if _, err := s.payments.ReleaseForBookingTx(ctx, q, b.ID); err != nil {
				return err
			}

		case StatusCancelled:
			if from == StatusAccepted {
				b.CancellationFee = money.CancellationFee(b.TotalAmount)
			}
			if _, err := s.payments.CancelTx(ctx, q, b.ID, b.CancellationFee); err != nil {
				return err
			}
		}

		if err := s.bookings.Update(ctx, q, b, from); err != nil {
			return err
		}
		observeTransition(from, to)
		return s.bookings.AppendStatusUpdate(ctx, q, s.statusUpdate(b.ID, from, to, actor, ""))
	})
	if err != nil {
		return nil, err
	}

	s.notifyTransition(ctx, b, actor)
	return b, nil
}

// ApplyRequoteTotalTx replaces the booking's total after an accepted
// requote, inside the caller's transaction. The booking must still be
// on-site.
func (s *Service) ApplyRequoteTotalTx(ctx context.Context, q store.Querier, bookingID string, newTotal int64) (*Booking, error) {
	b, err := s.bookings.Get(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	b.TotalAmount = newTotal
	b.UpdatedAt = s.now()
	if err := s.bookings.Update(ctx, q, b, b.Status); err != nil {
		return nil, err
	}
	return b, nil
}

// GetTx reads a booking inside the caller's transaction.
func (s *Service) GetTx(ctx context.Context, q store.Querier, id string) (*Booking, error) {
	return s.bookings.Get(ctx, q, id)
}

// IsCompleted reports whether the booking has reached completed (or its
// reviewed follow-on). Satisfies the settlement service's booking check.
func (s *Service) IsCompleted(ctx context.Context, q store.Querier, bookingID string) (bool, error) {
	b, err := s.bookings.Get(ctx, q, bookingID)
	if err != nil {
		return false, err
	}
	return b.Status == StatusCompleted || b.Status == StatusReviewed, nil
}

func (s *Service) statusUpdate(bookingID string, from, to Status, actor auth.Actor, note string) *StatusUpdate {
	return &StatusUpdate{
		ID:         idgen.WithPrefix("bsu_"),
		BookingID:  bookingID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Note:       note,
		CreatedAt:  s.now(),
	}
}

// notifyTransition tells the counterparty after commit. The provider hears
// about customer actions and vice versa; admin actions notify both.
func (s *Service) notifyTransition(ctx context.Context, b *Booking, actor auth.Actor) {
	targets := []string{}
	if actor.UserID != b.CustomerID {
		targets = append(targets, b.CustomerID)
	}
	if actor.UserID != b.ProviderID {
		targets = append(targets, b.ProviderID)
	}
	for _, userID := range targets {
		s.notifier.Notify(ctx, notify.Notification{
			UserID:  userID,
			Title:   "Booking updated",
			Message: fmt.Sprintf("Booking is now %s.", b.Status),
			Type:    "booking",
			Metadata: map[string]any{
				"bookingId": b.ID,
				"status":    string(b.Status),
			},
		})
	}
}
