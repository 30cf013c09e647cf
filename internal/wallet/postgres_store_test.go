//go:build integration

package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint-app/fixpoint/internal/pagination"
	"github.com/fixpoint-app/fixpoint/internal/testutil"
)

func TestPostgres_CreditCreatesWallet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	st := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, st.Credit(ctx, nil, "pro_1", 90000))

	w, err := st.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), w.Balance)

	// Second credit increments in place.
	require.NoError(t, st.Credit(ctx, nil, "pro_1", 10000))
	w, err = st.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), w.Balance)
}

func TestPostgres_ConcurrentCredits(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	st := NewPostgresStore(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.Credit(ctx, nil, "pro_1", 1000)
		}()
	}
	wg.Wait()

	w, err := st.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), w.Balance)
}

func TestPostgres_DebitOverdraft(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	st := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, st.Credit(ctx, nil, "pro_1", 500))

	err := st.Debit(ctx, nil, "pro_1", 600)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = st.Debit(ctx, nil, "pro_missing", 100)
	assert.ErrorIs(t, err, ErrWalletNotFound)

	require.NoError(t, st.Debit(ctx, nil, "pro_1", 500))
	w, err := st.Get(ctx, nil, "pro_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
}

func TestPostgres_TransactionsPagination(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	st := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		txn := NewTransaction("", "pro_1", TxEscrowOut, int64(1000*(i+1)),
			"service payout", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, st.RecordTransaction(ctx, nil, txn))
	}

	page, err := st.ListTransactions(ctx, nil, "pro_1", nil, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(5000), page[0].Amount) // newest first

	last := page[len(page)-1]
	cursor := &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	rest, err := st.ListTransactions(ctx, nil, "pro_1", cursor, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, int64(2000), rest[0].Amount)
	assert.Equal(t, int64(1000), rest[1].Amount)
}
