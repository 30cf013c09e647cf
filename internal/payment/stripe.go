package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/fixpoint-app/fixpoint/internal/circuitbreaker"
)

const stripeBreakerKey = "stripe"

// StripeVerifier verifies card escrow-ins against Stripe. The proofRef
// passed to escrow-in is the PaymentIntent ID created by the frontend
// checkout flow; the intent must have succeeded for at least the payment
// amount.
//
// A circuit breaker guards the Stripe API: after repeated transport
// failures verification fails fast instead of holding settlement
// transactions open against a dead upstream.
type StripeVerifier struct {
	api     *client.API
	breaker *circuitbreaker.Breaker
}

// NewStripeVerifier creates a verifier bound to a Stripe secret key.
func NewStripeVerifier(secretKey string) *StripeVerifier {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeVerifier{
		api:     api,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// Verify checks the referenced charge. Non-card methods (e.g. bank
// transfer recorded out of band) are accepted with the proof reference
// stored as-is.
func (v *StripeVerifier) Verify(ctx context.Context, method, proofRef string, amount int64) error {
	if method != "card" {
		return nil
	}
	if proofRef == "" {
		return fmt.Errorf("missing payment intent reference")
	}

	if !v.breaker.Allow(stripeBreakerKey) {
		return fmt.Errorf("stripe verification temporarily unavailable")
	}

	intent, err := v.api.PaymentIntents.Get(proofRef, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		v.breaker.RecordFailure(stripeBreakerKey)
		return fmt.Errorf("fetch payment intent: %w", err)
	}
	v.breaker.RecordSuccess(stripeBreakerKey)

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("payment intent %s not succeeded (status %s)", proofRef, intent.Status)
	}
	if intent.AmountReceived < amount {
		return fmt.Errorf("payment intent %s received %d, need %d", proofRef, intent.AmountReceived, amount)
	}
	return nil
}
