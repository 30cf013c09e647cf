// Package money provides the settlement arithmetic for the marketplace.
//
// All amounts are integer minor units (e.g. cents). Fees are computed in
// basis points with integer division, so results are always exact minor
// units and never drift from floating point rounding.
package money

import "errors"

var ErrInvalidAmount = errors.New("money: amount must be positive")

// Platform commission and cancellation fee rates, in basis points.
const (
	PlatformFeeBps     = 1000 // 10% retained from provider payouts
	CancellationFeeBps = 500  // 5% charged when an accepted booking is cancelled
)

// FeeBps returns bps basis points of amount, rounded down.
func FeeBps(amount, bps int64) int64 {
	return amount * bps / 10000
}

// PlatformFee returns the platform commission on amount.
func PlatformFee(amount int64) int64 {
	return FeeBps(amount, PlatformFeeBps)
}

// CancellationFee returns the fee charged to a customer who cancels an
// already-accepted booking.
func CancellationFee(total int64) int64 {
	return FeeBps(total, CancellationFeeBps)
}

// Net returns the provider payout after the platform fee is retained.
func Net(amount, fee int64) int64 {
	return amount - fee
}

// Split is the outcome of settling an escrowed payment that is partially
// refunded: the customer receives Refund, the provider receives ProviderNet,
// and the platform retains Fee. Refund + ProviderNet + Fee == the escrowed
// amount.
type Split struct {
	Refund      int64
	ProviderNet int64
	Fee         int64
}

// RefundSplit computes the settlement of an escrowed amount when
// refundAmount is returned to the customer. The remainder is released to
// the provider net of the platform fee on that remainder only; the fee is
// never charged on the refunded portion.
func RefundSplit(amount, refundAmount int64) Split {
	remainder := amount - refundAmount
	fee := PlatformFee(remainder)
	return Split{
		Refund:      refundAmount,
		ProviderNet: remainder - fee,
		Fee:         fee,
	}
}

// LineTotal returns the total for a service line item.
func LineTotal(qty int, unitPrice int64) int64 {
	return int64(qty) * unitPrice
}
