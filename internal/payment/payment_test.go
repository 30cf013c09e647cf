package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/store"
	"github.com/fixpoint-app/fixpoint/internal/wallet"
)

type fixture struct {
	svc     *Service
	runner  store.Runner
	wallets *wallet.MemoryStore
}

// completedBookings reports every booking as completed.
type completedBookings struct{}

func (completedBookings) IsCompleted(context.Context, store.Querier, string) (bool, error) {
	return true, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runner := store.NewMemory()
	wallets := wallet.NewMemoryStore()
	svc := NewService(runner, NewMemoryStore(), wallets).
		WithBookingState(completedBookings{})
	return &fixture{svc: svc, runner: runner, wallets: wallets}
}

func (f *fixture) createEscrowed(t *testing.T, amount int64) *Payment {
	t.Helper()
	ctx := context.Background()

	var p *Payment
	err := f.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = f.svc.CreateTx(ctx, q, "bkg_1", "cus_1", "pro_1", amount)
		return err
	})
	require.NoError(t, err)

	p, err = f.svc.EscrowIn(ctx, p.ID, "card", "pi_test", auth.Actor{UserID: "cus_1", Role: auth.RoleCustomer})
	require.NoError(t, err)
	return p
}

func TestEscrowIn(t *testing.T) {
	f := newFixture(t)
	p := f.createEscrowed(t, 100000)

	assert.Equal(t, StatusEscrow, p.Status)
	assert.Equal(t, int64(10000), p.PlatformFee)
	assert.NotEmpty(t, p.EscrowNumber)
	require.NotNil(t, p.EscrowDate)

	txns, err := f.wallets.ListTransactionsByPayment(context.Background(), nil, p.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, wallet.TxEscrowIn, txns[0].Type)
	assert.Equal(t, int64(100000), txns[0].Amount)
	assert.Equal(t, "cus_1", txns[0].UserID)
}

func TestEscrowIn_NotPending(t *testing.T) {
	f := newFixture(t)
	p := f.createEscrowed(t, 100000)

	_, err := f.svc.EscrowIn(context.Background(), p.ID, "card", "pi_test",
		auth.Actor{UserID: "cus_1", Role: auth.RoleCustomer})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEscrowIn_WrongActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var p *Payment
	err := f.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = f.svc.CreateTx(ctx, q, "bkg_1", "cus_1", "pro_1", 100000)
		return err
	})
	require.NoError(t, err)

	_, err = f.svc.EscrowIn(ctx, p.ID, "card", "pi_test",
		auth.Actor{UserID: "pro_1", Role: auth.RoleProvider})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createEscrowed(t, 100000)

	customer := auth.Actor{UserID: "cus_1", Role: auth.RoleCustomer}
	released, err := f.svc.Release(ctx, p.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, released.Status)
	require.NotNil(t, released.ReleaseDate)

	w, err := f.wallets.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), w.Balance)

	txns, err := f.wallets.ListTransactionsByPayment(ctx, nil, p.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2) // escrow_in + escrow_out
	assert.Equal(t, wallet.TxEscrowOut, txns[1].Type)
	assert.Equal(t, int64(90000), txns[1].Amount)
	assert.Equal(t, "pro_1", txns[1].UserID)
}

func TestRelease_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createEscrowed(t, 100000)

	customer := auth.Actor{UserID: "cus_1", Role: auth.RoleCustomer}
	_, err := f.svc.Release(ctx, p.ID, customer)
	require.NoError(t, err)

	_, err = f.svc.Release(ctx, p.ID, customer)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Balance credited exactly once.
	w, err := f.wallets.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), w.Balance)
}

func TestRefund_Full(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createEscrowed(t, 100000)

	admin := auth.Actor{UserID: "adm_1", Role: auth.RoleAdmin}
	refunded, err := f.svc.Refund(ctx, p.ID, "service not delivered", 100000, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)
	assert.Equal(t, int64(100000), refunded.RefundAmount)
	assert.Equal(t, "service not delivered", refunded.RefundReason)

	// Full refund: no provider payout.
	_, err = f.wallets.Get(ctx, nil, "pro_1")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestRefund_Partial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createEscrowed(t, 100000)

	admin := auth.Actor{UserID: "adm_1", Role: auth.RoleAdmin}
	refunded, err := f.svc.Refund(ctx, p.ID, "partial dispute", 40000, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), refunded.RefundAmount)

	// Remainder released net of the fee on the remainder: 60,000 - 6,000.
	w, err := f.wallets.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(54000), w.Balance)

	txns, err := f.wallets.ListTransactionsByPayment(ctx, nil, p.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3) // escrow_in, refund, escrow_out
	assert.Equal(t, wallet.TxRefund, txns[1].Type)
	assert.Equal(t, int64(40000), txns[1].Amount)
	assert.Equal(t, wallet.TxEscrowOut, txns[2].Type)
	assert.Equal(t, int64(54000), txns[2].Amount)
}

func TestRefund_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createEscrowed(t, 100000)

	admin := auth.Actor{UserID: "adm_1", Role: auth.RoleAdmin}
	_, err := f.svc.Refund(ctx, p.ID, "r", 100000, admin)
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, p.ID, "r", 100000, admin)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRefund_Bounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createEscrowed(t, 100000)
	admin := auth.Actor{UserID: "adm_1", Role: auth.RoleAdmin}

	_, err := f.svc.Refund(ctx, p.ID, "r", 0, admin)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.Refund(ctx, p.ID, "r", -1, admin)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.Refund(ctx, p.ID, "r", 100001, admin)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRefund_NonAdmin(t *testing.T) {
	f := newFixture(t)
	p := f.createEscrowed(t, 100000)

	_, err := f.svc.Refund(context.Background(), p.ID, "r", 100000,
		auth.Actor{UserID: "cus_1", Role: auth.RoleCustomer})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCancelTx_Escrowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createEscrowed(t, 100000)

	var p *Payment
	err := f.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = f.svc.CancelTx(ctx, q, "bkg_1", 5000)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(95000), p.RefundAmount)

	// Cancellation never pays the provider.
	_, err = f.wallets.Get(ctx, nil, "pro_1")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestCancelTx_Pending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.runner.InTx(ctx, func(q store.Querier) error {
		_, err := f.svc.CreateTx(ctx, q, "bkg_1", "cus_1", "pro_1", 100000)
		return err
	})
	require.NoError(t, err)

	var p *Payment
	err = f.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = f.svc.CancelTx(ctx, q, "bkg_1", 0)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)

	// No ledger entries for a payment that never reached escrow.
	txns, err := f.wallets.ListTransactionsByPayment(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestApplyRequoteTx_Pending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.runner.InTx(ctx, func(q store.Querier) error {
		_, err := f.svc.CreateTx(ctx, q, "bkg_1", "cus_1", "pro_1", 100000)
		return err
	})
	require.NoError(t, err)

	var p *Payment
	err = f.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = f.svc.ApplyRequoteTx(ctx, q, "bkg_1", 100000, 150000)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150000), p.Amount)
	// Fee stays unfixed until escrow-in.
	assert.Equal(t, int64(0), p.PlatformFee)
}

func TestApplyRequoteTx_Escrowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createEscrowed(t, 100000)

	var p *Payment
	err := f.runner.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = f.svc.ApplyRequoteTx(ctx, q, "bkg_1", 100000, 150000)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150000), p.Amount)
	// Fee accrues additively: 10,000 + 10% of the 50,000 delta.
	assert.Equal(t, int64(15000), p.PlatformFee)

	txns, err := f.wallets.ListTransactionsByPayment(ctx, nil, p.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, wallet.TxPayment, txns[1].Type)
	assert.Equal(t, int64(50000), txns[1].Amount)
	assert.Equal(t, "cus_1", txns[1].UserID)
}

func TestCreateTx_DuplicateBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.runner.InTx(ctx, func(q store.Querier) error {
		_, err := f.svc.CreateTx(ctx, q, "bkg_1", "cus_1", "pro_1", 100000)
		return err
	})
	require.NoError(t, err)

	err = f.runner.InTx(ctx, func(q store.Querier) error {
		_, err := f.svc.CreateTx(ctx, q, "bkg_1", "cus_1", "pro_1", 100000)
		return err
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestConservation(t *testing.T) {
	// For any settled payment: refund + provider net + retained fee == amount.
	cases := []struct {
		name   string
		refund int64
	}{
		{"full refund", 100000},
		{"partial refund", 40000},
		{"small partial", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p := f.createEscrowed(t, 100000)

			admin := auth.Actor{UserID: "adm_1", Role: auth.RoleAdmin}
			refunded, err := f.svc.Refund(ctx, p.ID, "dispute", tc.refund, admin)
			require.NoError(t, err)

			var providerNet int64
			if w, err := f.wallets.Get(ctx, nil, "pro_1"); err == nil {
				providerNet = w.Balance
			}
			remainder := refunded.Amount - refunded.RefundAmount
			retainedFee := remainder - providerNet
			assert.Equal(t, refunded.Amount, refunded.RefundAmount+providerNet+retainedFee)
		})
	}
}

func TestWithClock(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.svc.WithClock(func() time.Time { return fixed })

	p := f.createEscrowed(t, 100000)
	require.NotNil(t, p.EscrowDate)
	assert.Equal(t, fixed, *p.EscrowDate)
}
