package payment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/idgen"
	"github.com/fixpoint-app/fixpoint/internal/money"
	"github.com/fixpoint-app/fixpoint/internal/notify"
	"github.com/fixpoint-app/fixpoint/internal/store"
	"github.com/fixpoint-app/fixpoint/internal/wallet"
)

// Service implements escrow settlement. All fund-moving operations execute
// inside a single transaction scope shared with the wallet ledger.
type Service struct {
	runner   store.Runner
	payments Store
	wallets  wallet.Store
	bookings BookingState
	verifier ChargeVerifier
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a settlement service.
func NewService(runner store.Runner, payments Store, wallets wallet.Store) *Service {
	return &Service{
		runner:   runner,
		payments: payments,
		wallets:  wallets,
		verifier: NopVerifier{},
		notifier: notify.Nop{},
		now:      time.Now,
	}
}

// WithBookingState adds the booking status check used by Release.
func (s *Service) WithBookingState(b BookingState) *Service {
	s.bookings = b
	return s
}

// WithVerifier adds external charge verification for escrow-in.
func (s *Service) WithVerifier(v ChargeVerifier) *Service {
	s.verifier = v
	return s
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

// Get returns a payment visible to the actor.
func (s *Service) Get(ctx context.Context, id string, actor auth.Actor) (*Payment, error) {
	p, err := s.payments.Get(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(p.CustomerID, p.ProviderID) {
		return nil, ErrUnauthorized
	}
	return p, nil
}

// GetByBooking returns the booking's payment visible to the actor.
func (s *Service) GetByBooking(ctx context.Context, bookingID string, actor auth.Actor) (*Payment, error) {
	p, err := s.payments.GetByBooking(ctx, nil, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(p.CustomerID, p.ProviderID) {
		return nil, ErrUnauthorized
	}
	return p, nil
}

// GetByBookingTx reads the booking's payment inside the caller's
// transaction, with no visibility check. For use by the booking, requote
// and dispute services after their own authorization.
func (s *Service) GetByBookingTx(ctx context.Context, q store.Querier, bookingID string) (*Payment, error) {
	return s.payments.GetByBooking(ctx, q, bookingID)
}

// CreateTx creates the booking's pending payment inside the caller's
// transaction. The store's uniqueness constraint guarantees at most one
// payment per booking.
func (s *Service) CreateTx(ctx context.Context, q store.Querier, bookingID, customerID, providerID string, amount int64) (*Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	now := s.now()
	p := &Payment{
		ID:         idgen.WithPrefix("pay_"),
		BookingID:  bookingID,
		CustomerID: customerID,
		ProviderID: providerID,
		Amount:     amount,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.payments.Create(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

// EscrowIn moves a pending payment into escrow: the charge reference is
// verified, the platform fee is fixed at 10% of the current amount, and an
// escrow-in ledger entry is recorded for the customer.
func (s *Service) EscrowIn(ctx context.Context, paymentID, method, proofRef string, actor auth.Actor) (*Payment, error) {
	p, err := s.payments.Get(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsParty(p.CustomerID) {
		return nil, ErrUnauthorized
	}
	if p.Status != StatusPending {
		return nil, ErrInvalidState
	}

	// Verify the external charge before touching any state. The status is
	// re-checked via compare-and-swap inside the transaction below.
	if err := s.verifier.Verify(ctx, method, proofRef, p.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChargeRejected, err)
	}

	err = s.runner.InTx(ctx, func(q store.Querier) error {
		fresh, err := s.payments.Get(ctx, q, paymentID)
		if err != nil {
			return err
		}
		if fresh.Status != StatusPending {
			return ErrInvalidState
		}

		now := s.now()
		fresh.Status = StatusEscrow
		fresh.Method = method
		fresh.EscrowNumber = generateEscrowNumber()
		fresh.PlatformFee = money.PlatformFee(fresh.Amount)
		fresh.EscrowDate = &now
		fresh.UpdatedAt = now
		if err := s.payments.Update(ctx, q, fresh, StatusPending); err != nil {
			return err
		}

		txn := wallet.NewTransaction(fresh.ID, fresh.CustomerID, wallet.TxEscrowIn,
			fresh.Amount, "payment held in escrow", now)
		if err := s.wallets.RecordTransaction(ctx, q, txn); err != nil {
			return err
		}

		p = fresh
		observeSettlement("escrow_in")
		escrowHeldAdd(fresh.Amount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notify.Notification{
		UserID:  p.ProviderID,
		Title:   "Payment secured",
		Message: "The customer's payment is held in escrow.",
		Type:    "payment",
		Metadata: map[string]any{
			"paymentId": p.ID,
			"bookingId": p.BookingID,
			"amount":    strconv.FormatInt(p.Amount, 10),
		},
	})
	return p, nil
}

// Release settles an escrowed payment to the provider. The parent booking
// must already be completed; release triggered by the booking state
// machine itself goes through ReleaseTx inside the transition's
// transaction.
func (s *Service) Release(ctx context.Context, paymentID string, actor auth.Actor) (*Payment, error) {
	var out *Payment
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		p, err := s.payments.Get(ctx, q, paymentID)
		if err != nil {
			return err
		}
		if !actor.IsParty(p.CustomerID) {
			return ErrUnauthorized
		}
		if s.bookings != nil {
			done, err := s.bookings.IsCompleted(ctx, q, p.BookingID)
			if err != nil {
				return err
			}
			if !done {
				return fmt.Errorf("%w: booking not completed", ErrInvalidState)
			}
		}
		if err := s.ReleaseTx(ctx, q, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyRelease(ctx, out)
	return out, nil
}

// ReleaseTx performs the release inside the caller's transaction: escrow →
// completed, provider wallet credited with amount − platform fee, and an
// escrow-out ledger entry recorded.
func (s *Service) ReleaseTx(ctx context.Context, q store.Querier, p *Payment) error {
	if p.Status != StatusEscrow {
		return ErrInvalidState
	}

	now := s.now()
	p.Status = StatusCompleted
	p.ReleaseDate = &now
	p.UpdatedAt = now
	if err := s.payments.Update(ctx, q, p, StatusEscrow); err != nil {
		return err
	}

	net := money.Net(p.Amount, p.PlatformFee)
	if err := s.wallets.Credit(ctx, q, p.ProviderID, net); err != nil {
		return err
	}
	txn := wallet.NewTransaction(p.ID, p.ProviderID, wallet.TxEscrowOut,
		net, "escrow released to provider", now)
	if err := s.wallets.RecordTransaction(ctx, q, txn); err != nil {
		return err
	}

	observeSettlement("release")
	escrowHeldSub(p.Amount)
	return nil
}

// ReleaseForBookingTx releases the booking's payment inside the caller's
// transaction if it is escrowed. A payment that never reached escrow is left
// untouched: a booking may complete before the customer has paid.
func (s *Service) ReleaseForBookingTx(ctx context.Context, q store.Querier, bookingID string) (*Payment, error) {
	p, err := s.payments.GetByBooking(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusEscrow {
		return p, nil
	}
	if err := s.ReleaseTx(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Refund returns escrowed funds to the customer. Only admins may refund
// directly; customers go through dispute resolution.
func (s *Service) Refund(ctx context.Context, paymentID, reason string, refundAmount int64, actor auth.Actor) (*Payment, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}

	var out *Payment
	err := s.runner.InTx(ctx, func(q store.Querier) error {
		p, err := s.payments.Get(ctx, q, paymentID)
		if err != nil {
			return err
		}
		if err := s.RefundTx(ctx, q, p, reason, refundAmount); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyRefund(ctx, out)
	return out, nil
}

// RefundTx performs the refund inside the caller's transaction. A partial
// refund releases the remainder to the provider net of the platform fee on
// that remainder, exactly as a release would.
func (s *Service) RefundTx(ctx context.Context, q store.Querier, p *Payment, reason string, refundAmount int64) error {
	if p.Status != StatusEscrow {
		return ErrInvalidState
	}
	if refundAmount <= 0 || refundAmount > p.Amount {
		return ErrInvalidAmount
	}

	now := s.now()
	split := money.RefundSplit(p.Amount, refundAmount)

	p.Status = StatusRefunded
	p.RefundAmount = refundAmount
	p.RefundReason = reason
	p.RefundDate = &now
	p.UpdatedAt = now
	if err := s.payments.Update(ctx, q, p, StatusEscrow); err != nil {
		return err
	}

	refundTxn := wallet.NewTransaction(p.ID, p.CustomerID, wallet.TxRefund,
		refundAmount, reason, now)
	if err := s.wallets.RecordTransaction(ctx, q, refundTxn); err != nil {
		return err
	}

	if split.ProviderNet > 0 {
		if err := s.wallets.Credit(ctx, q, p.ProviderID, split.ProviderNet); err != nil {
			return err
		}
		outTxn := wallet.NewTransaction(p.ID, p.ProviderID, wallet.TxEscrowOut,
			split.ProviderNet, "partial escrow released to provider", now)
		if err := s.wallets.RecordTransaction(ctx, q, outTxn); err != nil {
			return err
		}
	}

	observeSettlement("refund")
	escrowHeldSub(p.Amount)
	return nil
}

// CancelTx settles the booking's payment when the booking is cancelled,
// inside the caller's transaction. An escrowed payment is refunded minus
// the cancellation fee, with no provider payout; a pending payment simply
// fails with no ledger effect.
func (s *Service) CancelTx(ctx context.Context, q store.Querier, bookingID string, cancellationFee int64) (*Payment, error) {
	p, err := s.payments.GetByBooking(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch p.Status {
	case StatusEscrow:
		refund := p.Amount - cancellationFee
		p.Status = StatusRefunded
		p.RefundAmount = refund
		p.RefundReason = "booking cancelled"
		p.RefundDate = &now
		p.UpdatedAt = now
		if err := s.payments.Update(ctx, q, p, StatusEscrow); err != nil {
			return nil, err
		}
		txn := wallet.NewTransaction(p.ID, p.CustomerID, wallet.TxRefund,
			refund, "booking cancelled", now)
		if err := s.wallets.RecordTransaction(ctx, q, txn); err != nil {
			return nil, err
		}
		observeSettlement("cancel_refund")
		escrowHeldSub(p.Amount)
		return p, nil

	case StatusPending:
		if err := s.FailTx(ctx, q, p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, ErrInvalidState
	}
}

// FailTx marks a pending payment failed inside the caller's transaction.
// No ledger effect: no funds were ever held.
func (s *Service) FailTx(ctx context.Context, q store.Querier, p *Payment) error {
	if p.Status != StatusPending {
		return ErrInvalidState
	}
	p.Status = StatusFailed
	p.UpdatedAt = s.now()
	if err := s.payments.Update(ctx, q, p, StatusPending); err != nil {
		return err
	}
	observeSettlement("fail")
	return nil
}

// ApplyRequoteTx adjusts the booking's payment for an accepted requote,
// inside the caller's transaction.
//
// Pending payment: the amount is simply replaced; the fee stays unfixed
// until escrow-in. Escrowed payment: the additional amount and 10% fee on
// that additional amount only are accrued, and a payment ledger entry
// records the customer's extra funds in. The fee is never recomputed over
// the original portion.
func (s *Service) ApplyRequoteTx(ctx context.Context, q store.Querier, bookingID string, originalAmount, newAmount int64) (*Payment, error) {
	p, err := s.payments.GetByBooking(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch p.Status {
	case StatusPending:
		p.Amount = newAmount
		p.UpdatedAt = now
		if err := s.payments.Update(ctx, q, p, StatusPending); err != nil {
			return nil, err
		}
		return p, nil

	case StatusEscrow:
		additional := newAmount - originalAmount
		if additional <= 0 {
			return nil, ErrInvalidAmount
		}
		p.Amount += additional
		p.PlatformFee += money.PlatformFee(additional)
		p.UpdatedAt = now
		if err := s.payments.Update(ctx, q, p, StatusEscrow); err != nil {
			return nil, err
		}
		txn := wallet.NewTransaction(p.ID, p.CustomerID, wallet.TxPayment,
			additional, "requote accepted", now)
		if err := s.wallets.RecordTransaction(ctx, q, txn); err != nil {
			return nil, err
		}
		observeSettlement("requote_adjust")
		escrowHeldAdd(additional)
		return p, nil

	default:
		return nil, ErrInvalidState
	}
}

func (s *Service) notifyRelease(ctx context.Context, p *Payment) {
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  p.ProviderID,
		Title:   "Payment released",
		Message: "Escrowed funds have been released to your wallet.",
		Type:    "payment",
		Metadata: map[string]any{
			"paymentId": p.ID,
			"bookingId": p.BookingID,
			"net":       strconv.FormatInt(money.Net(p.Amount, p.PlatformFee), 10),
		},
	})
}

func (s *Service) notifyRefund(ctx context.Context, p *Payment) {
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  p.CustomerID,
		Title:   "Payment refunded",
		Message: "Your escrowed payment has been refunded.",
		Type:    "payment",
		Metadata: map[string]any{
			"paymentId":    p.ID,
			"bookingId":    p.BookingID,
			"refundAmount": strconv.FormatInt(p.RefundAmount, 10),
		},
	})
}

func generateEscrowNumber() string {
	return "ESC-" + idgen.Hex(6)
}
