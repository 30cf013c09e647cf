package booking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/payment"
	"github.com/fixpoint-app/fixpoint/internal/store"
	"github.com/fixpoint-app/fixpoint/internal/wallet"
)

type fixture struct {
	svc      *Service
	payments *payment.Service
	wallets  *wallet.MemoryStore
	runner   store.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runner := store.NewMemory()
	wallets := wallet.NewMemoryStore()
	payments := payment.NewService(runner, payment.NewMemoryStore(), wallets)
	svc := NewService(runner, NewMemoryStore(), payments)
	payments.WithBookingState(svc)
	return &fixture{svc: svc, payments: payments, wallets: wallets, runner: runner}
}

var (
	customer = auth.Actor{UserID: "cus_1", Role: auth.RoleCustomer}
	provider = auth.Actor{UserID: "pro_1", Role: auth.RoleProvider}
	admin    = auth.Actor{UserID: "adm_1", Role: auth.RoleAdmin}
)

func (f *fixture) create(t *testing.T, total int64) *Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), CreateRequest{
		ProviderID: "pro_1",
		LineItems:  []LineItem{{ServiceID: "svc_clean", Qty: 1, UnitPrice: total}},
	}, customer)
	require.NoError(t, err)
	return b
}

func (f *fixture) escrowIn(t *testing.T, bookingID string) *payment.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.payments.GetByBooking(ctx, bookingID, customer)
	require.NoError(t, err)
	p, err = f.payments.EscrowIn(ctx, p.ID, "card", "pi_test", customer)
	require.NoError(t, err)
	return p
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), CreateRequest{
		ProviderID: "pro_1",
		LineItems: []LineItem{
			{ServiceID: "svc_clean", Qty: 2, UnitPrice: 30000},
			{ServiceID: "svc_windows", Qty: 1, UnitPrice: 40000},
		},
	}, customer)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, int64(100000), b.TotalAmount)
	assert.Equal(t, int64(60000), b.LineItems[0].LineTotal)

	// The pending payment is created in the same transaction.
	p, err := f.payments.GetByBooking(context.Background(), b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, int64(100000), p.Amount)

	trail, err := f.svc.History(context.Background(), b.ID, customer)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, StatusPending, trail[0].ToStatus)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{ProviderID: "pro_1"}, customer)
	assert.ErrorIs(t, err, ErrInvalidLineItems)

	_, err = f.svc.Create(ctx, CreateRequest{
		ProviderID: "pro_1",
		LineItems:  []LineItem{{ServiceID: "svc_clean", Qty: 0, UnitPrice: 100}},
	}, customer)
	assert.ErrorIs(t, err, ErrInvalidLineItems)

	_, err = f.svc.Create(ctx, CreateRequest{
		ProviderID: "pro_1",
		LineItems:  []LineItem{{ServiceID: "svc_clean", Qty: 1, UnitPrice: -5}},
	}, customer)
	assert.ErrorIs(t, err, ErrInvalidLineItems)

	_, err = f.svc.Create(ctx, CreateRequest{
		ProviderID: "pro_1",
		LineItems:  []LineItem{{ServiceID: "svc_clean", Qty: 1, UnitPrice: 100}},
	}, provider)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusAccepted, StatusDeclined, StatusEnRoute,
		StatusOnSite, StatusInProgress, StatusCompleted, StatusCancelled, StatusReviewed}
	roles := []auth.Role{auth.RoleCustomer, auth.RoleProvider}

	allowed := map[transition]auth.Role{
		{StatusPending, StatusAccepted}:     auth.RoleProvider,
		{StatusPending, StatusDeclined}:     auth.RoleProvider,
		{StatusPending, StatusCancelled}:    auth.RoleCustomer,
		{StatusAccepted, StatusEnRoute}:     auth.RoleProvider,
		{StatusAccepted, StatusCancelled}:   auth.RoleCustomer,
		{StatusEnRoute, StatusOnSite}:       auth.RoleProvider,
		{StatusOnSite, StatusInProgress}:    auth.RoleProvider,
		{StatusInProgress, StatusCompleted}: auth.RoleProvider,
		{StatusCompleted, StatusReviewed}:   auth.RoleCustomer,
	}

	for _, from := range all {
		for _, to := range all {
			for _, role := range roles {
				want := allowed[transition{from, to}] == role
				assert.Equal(t, want, CanTransition(from, to, role),
					"%s -> %s as %s", from, to, role)
			}
			// Admin may force anything except the identity transition.
			assert.Equal(t, from != to, CanTransition(from, to, auth.RoleAdmin))
		}
	}
}

func TestTransition_Unauthorized(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, 100000)

	stranger := auth.Actor{UserID: "cus_2", Role: auth.RoleCustomer}
	_, err := f.svc.Transition(context.Background(), b.ID, StatusCancelled, stranger)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransition_Invalid(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, 100000)

	// Customer may not accept their own booking.
	_, err := f.svc.Transition(context.Background(), b.ID, StatusAccepted, customer)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Provider may not skip straight to completed.
	_, err = f.svc.Transition(context.Background(), b.ID, StatusCompleted, provider)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFullRide(t *testing.T) {
	// Scenario: 100,000 booking is escrowed then worked to completion. The
	// provider ends with 90,000 and one escrow-out ledger entry.
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, 100000)
	p := f.escrowIn(t, b.ID)
	assert.Equal(t, int64(10000), p.PlatformFee)

	for _, to := range []Status{StatusAccepted, StatusEnRoute, StatusOnSite,
		StatusInProgress, StatusCompleted} {
		var err error
		b, err = f.svc.Transition(ctx, b.ID, to, provider)
		require.NoError(t, err, "to %s", to)
	}
	require.NotNil(t, b.CompletionTime)
	require.NotNil(t, b.ActualArrival)

	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)

	w, err := f.wallets.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), w.Balance)

	txns, err := f.wallets.ListTransactionsByPayment(ctx, nil, p.ID)
	require.NoError(t, err)
	var outs []*wallet.Transaction
	for _, txn := range txns {
		if txn.Type == wallet.TxEscrowOut {
			outs = append(outs, txn)
		}
	}
	require.Len(t, outs, 1)
	assert.Equal(t, int64(90000), outs[0].Amount)

	// Customer confirms with a review.
	b, err = f.svc.Transition(ctx, b.ID, StatusReviewed, customer)
	require.NoError(t, err)

	trail, err := f.svc.History(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Len(t, trail, 7) // create + 6 transitions
}

func TestCompleted_WithoutEscrow(t *testing.T) {
	// A booking worked to completion before the customer pays: the pending
	// payment is left untouched for a later escrow-in and release.
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, 100000)

	for _, to := range []Status{StatusAccepted, StatusEnRoute, StatusOnSite,
		StatusInProgress, StatusCompleted} {
		var err error
		b, err = f.svc.Transition(ctx, b.ID, to, provider)
		require.NoError(t, err)
	}

	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
}

func TestCancel_Accepted(t *testing.T) {
	// Scenario: customer cancels an accepted 100,000 booking. The 5%
	// cancellation fee reduces the refund; the provider gets nothing.
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, 100000)
	f.escrowIn(t, b.ID)

	_, err := f.svc.Transition(ctx, b.ID, StatusAccepted, provider)
	require.NoError(t, err)

	b, err = f.svc.Transition(ctx, b.ID, StatusCancelled, customer)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, b.Status)
	assert.Equal(t, int64(5000), b.CancellationFee)

	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, p.Status)
	assert.Equal(t, int64(95000), p.RefundAmount)

	_, err = f.wallets.Get(ctx, nil, "pro_1")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestCancel_Pending(t *testing.T) {
	// Cancelling before acceptance carries no fee; a payment that never
	// reached escrow just fails.
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, 100000)

	b, err := f.svc.Transition(ctx, b.ID, StatusCancelled, customer)
	require.NoError(t, err)
	assert.Zero(t, b.CancellationFee)

	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
}

func TestCancel_AdminAfterSettlement(t *testing.T) {
	// Admin force-transitions skip the role table but not the settlement
	// preconditions: once the payment is released, cancelling is refused
	// and nothing changes.
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, 100000)
	f.escrowIn(t, b.ID)

	for _, to := range []Status{StatusAccepted, StatusEnRoute, StatusOnSite, StatusInProgress, StatusCompleted} {
		_, err := f.svc.Transition(ctx, b.ID, to, provider)
		require.NoError(t, err)
	}

	_, err := f.svc.Transition(ctx, b.ID, StatusCancelled, admin)
	assert.ErrorIs(t, err, payment.ErrInvalidState)

	b, err = f.svc.Get(ctx, b.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, b.Status)
	assert.Zero(t, b.CancellationFee)
}

func TestConcurrentTransitions(t *testing.T) {
	// Provider moves to en_route while the customer cancels. Exactly one
	// may win; the loser sees a conflict or an invalid transition, never a
	// second success.
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, 100000)
	f.escrowIn(t, b.ID)
	_, err := f.svc.Transition(ctx, b.ID, StatusAccepted, provider)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.Transition(ctx, b.ID, StatusEnRoute, provider)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.Transition(ctx, b.ID, StatusCancelled, customer)
	}()
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		losses++
		assert.True(t,
			errors.Is(err, store.ErrConflict) || errors.Is(err, ErrInvalidTransition),
			"unexpected loser error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}

func TestIsCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, 100000)

	done, err := f.svc.IsCompleted(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.False(t, done)

	for _, to := range []Status{StatusAccepted, StatusEnRoute, StatusOnSite,
		StatusInProgress, StatusCompleted} {
		_, err = f.svc.Transition(ctx, b.ID, to, provider)
		require.NoError(t, err)
	}

	done, err = f.svc.IsCompleted(ctx, nil, b.ID)
	require.NoError(t, err)
	assert.True(t, done)
}
