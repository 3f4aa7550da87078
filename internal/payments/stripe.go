package payments

import (
	"context"
	"math"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-dispatch/internal/models"
)

// StripeFares implements the registry's fare flow on Stripe
// PaymentIntents: a manual-capture hold when a driver accepts, capture
// on completion, release on cancellation.
type StripeFares struct {
	Currency string
}

// NewStripeFares initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeFares(currency string) *StripeFares {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "inr"
	}
	return &StripeFares{Currency: currency}
}

// Hold places a manual-capture PaymentIntent for the ride's fare and
// returns the intent ID.
func (s *StripeFares) Hold(ctx context.Context, r *models.Ride) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(r.Price)),
		Currency: stripe.String(s.Currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeFares) Capture(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(ref, params)
	return err
}

// Release cancels the hold on a PaymentIntent.
func (s *StripeFares) Release(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(ref, params)
	return err
}

// minorUnits converts a fare in major currency units to the smallest
// unit stripe expects.
func minorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}
