package dispute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/booking"
	"github.com/fixpoint-app/fixpoint/internal/payment"
	"github.com/fixpoint-app/fixpoint/internal/store"
	"github.com/fixpoint-app/fixpoint/internal/wallet"
)

type fixture struct {
	svc      *Service
	bookings *booking.Service
	payments *payment.Service
	wallets  *wallet.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runner := store.NewMemory()
	wallets := wallet.NewMemoryStore()
	payments := payment.NewService(runner, payment.NewMemoryStore(), wallets)
	bookings := booking.NewService(runner, booking.NewMemoryStore(), payments)
	payments.WithBookingState(bookings)
	svc := NewService(runner, NewMemoryStore(), bookings, payments)
	return &fixture{svc: svc, bookings: bookings, payments: payments, wallets: wallets}
}

var (
	customer = auth.Actor{UserID: "cus_1", Role: auth.RoleCustomer}
	provider = auth.Actor{UserID: "pro_1", Role: auth.RoleProvider}
	admin    = auth.Actor{UserID: "adm_1", Role: auth.RoleAdmin}
)

// escrowedBooking creates a booking with an escrowed payment of the given
// amount.
func (f *fixture) escrowedBooking(t *testing.T, total int64) *booking.Booking {
	t.Helper()
	ctx := context.Background()

	b, err := f.bookings.Create(ctx, booking.CreateRequest{
		ProviderID: "pro_1",
		LineItems:  []booking.LineItem{{ServiceID: "svc_roof", Qty: 1, UnitPrice: total}},
	}, customer)
	require.NoError(t, err)

	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	_, err = f.payments.EscrowIn(ctx, p.ID, "card", "pi_test", customer)
	require.NoError(t, err)
	return b
}

func (f *fixture) open(t *testing.T, bookingID string, by auth.Actor) *Dispute {
	t.Helper()
	d, err := f.svc.Open(context.Background(), bookingID, OpenRequest{
		Title:       "work incomplete",
		Description: "half the roof is untouched",
		Attachments: []string{"https://cdn.fixpoint.app/ev1.jpg"},
	}, by)
	require.NoError(t, err)
	return d
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	b := f.escrowedBooking(t, 100000)

	d := f.open(t, b.ID, customer)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, "cus_1", d.RaisedBy)
	assert.Len(t, d.Attachments, 1)
}

func TestOpen_OnePerBooking(t *testing.T) {
	f := newFixture(t)
	b := f.escrowedBooking(t, 100000)

	f.open(t, b.ID, customer)
	_, err := f.svc.Open(context.Background(), b.ID, OpenRequest{Title: "again"}, provider)
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestOpen_Stranger(t *testing.T) {
	f := newFixture(t)
	b := f.escrowedBooking(t, 100000)

	stranger := auth.Actor{UserID: "cus_9", Role: auth.RoleCustomer}
	_, err := f.svc.Open(context.Background(), b.ID, OpenRequest{Title: "x"}, stranger)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReview(t *testing.T) {
	f := newFixture(t)
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	d, err := f.svc.Review(context.Background(), d.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, d.Status)
	assert.Equal(t, "adm_1", d.AdminID)

	// A second claim fails.
	_, err = f.svc.Review(context.Background(), d.ID, admin)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestResolve_NonAdmin(t *testing.T) {
	f := newFixture(t)
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	_, err := f.svc.Resolve(context.Background(), d.ID, OutcomeRefund, "", 0, customer)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolve_Refund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	d, err := f.svc.Resolve(ctx, d.ID, OutcomeRefund, "provider no-show", 0, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusResolvedRefund, d.Status)
	require.NotNil(t, d.ResolvedAt)

	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, p.Status)
	assert.Equal(t, int64(100000), p.RefundAmount)

	_, err = f.wallets.Get(ctx, nil, "pro_1")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestResolve_Partial(t *testing.T) {
	// 40,000 back to the customer; the 60,000 remainder goes to the
	// provider net of its 10% fee: 54,000.
	f := newFixture(t)
	ctx := context.Background()
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	d, err := f.svc.Resolve(ctx, d.ID, OutcomePartial, "partially delivered", 40000, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusResolvedPartial, d.Status)

	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, p.Status)
	assert.Equal(t, int64(40000), p.RefundAmount)

	w, err := f.wallets.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(54000), w.Balance)

	txns, err := f.wallets.ListTransactionsByPayment(ctx, nil, p.ID)
	require.NoError(t, err)
	var refunds, outs []*wallet.Transaction
	for _, txn := range txns {
		switch txn.Type {
		case wallet.TxRefund:
			refunds = append(refunds, txn)
		case wallet.TxEscrowOut:
			outs = append(outs, txn)
		}
	}
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(40000), refunds[0].Amount)
	require.Len(t, outs, 1)
	assert.Equal(t, int64(54000), outs[0].Amount)
}

func TestResolve_PartialBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	_, err := f.svc.Resolve(ctx, d.ID, OutcomePartial, "", 0, admin)
	assert.ErrorIs(t, err, ErrRefundRequired)

	// A full-amount "partial" must use the refund outcome instead.
	_, err = f.svc.Resolve(ctx, d.ID, OutcomePartial, "", 100000, admin)
	assert.ErrorIs(t, err, ErrRefundRequired)
}

func TestResolve_Release(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, provider)

	d, err := f.svc.Resolve(ctx, d.ID, OutcomeRelease, "work verified complete", 0, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusResolvedRelease, d.Status)

	w, err := f.wallets.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), w.Balance)
}

func TestResolve_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	d, err := f.svc.Resolve(ctx, d.ID, OutcomeReject, "insufficient evidence", 0, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, d.Status)

	// No fund effect: the payment stays escrowed.
	p, err := f.payments.GetByBooking(ctx, b.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusEscrow, p.Status)
}

func TestResolve_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	_, err := f.svc.Resolve(ctx, d.ID, OutcomeRelease, "", 0, admin)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, d.ID, OutcomeRefund, "", 0, admin)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestResolve_AfterRelease(t *testing.T) {
	// A payment already released through the booking flow cannot be
	// refunded by a dispute verdict.
	f := newFixture(t)
	ctx := context.Background()
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	for _, to := range []booking.Status{booking.StatusAccepted, booking.StatusEnRoute,
		booking.StatusOnSite, booking.StatusInProgress, booking.StatusCompleted} {
		_, err := f.bookings.Transition(ctx, b.ID, to, provider)
		require.NoError(t, err)
	}

	_, err := f.svc.Resolve(ctx, d.ID, OutcomeRefund, "", 0, admin)
	assert.ErrorIs(t, err, payment.ErrInvalidState)
}

func TestResolve_InvalidOutcome(t *testing.T) {
	f := newFixture(t)
	b := f.escrowedBooking(t, 100000)
	d := f.open(t, b.ID, customer)

	_, err := f.svc.Resolve(context.Background(), d.ID, Outcome("split"), "", 0, admin)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestListOpen(t *testing.T) {
	f := newFixture(t)
	b := f.escrowedBooking(t, 100000)
	f.open(t, b.ID, customer)

	disputes, err := f.svc.ListOpen(context.Background(), admin, 10)
	require.NoError(t, err)
	assert.Len(t, disputes, 1)

	_, err = f.svc.ListOpen(context.Background(), customer, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
