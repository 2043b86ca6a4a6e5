// Package stripegw holds card, Apple Pay and Google Pay donations as manual-capture
// Stripe PaymentIntents. The hold reference is the intent id.
package stripegw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

const (
	metadataServiceKey   = "service"
	metadataServiceValue = "dj-request"
)

var errMissingSecretKey = errors.New("stripegw: secret key is required")

// IntentAPI is the subset of the Stripe PaymentIntents client the gateway uses.
type IntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

// Gateway implements djrequest.PaymentGateway on Stripe.
type Gateway struct {
	intents IntentAPI
}

// New builds a gateway from a secret key.
func New(secretKey string) (*Gateway, error) {
	trimmed := strings.TrimSpace(secretKey)
	if trimmed == "" {
		return nil, errMissingSecretKey
	}
	api := client.New(trimmed, nil)
	return NewWithAPI(api.PaymentIntents), nil
}

// NewWithAPI builds a gateway over an existing intents client.
func NewWithAPI(intents IntentAPI) *Gateway {
	return &Gateway{intents: intents}
}

// Authorize creates an uncaptured PaymentIntent for the donation.
func (gateway *Gateway) Authorize(ctx context.Context, amount djrequest.AmountCents, currency djrequest.Currency) (djrequest.HoldRef, error) {
	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(amount.Int64()),
		Currency:      stripe.String(strings.ToLower(currency.String())),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{metadataServiceKey: metadataServiceValue},
	}
	intent, err := gateway.intents.New(params)
	if err != nil {
		return djrequest.HoldRef{}, translateError(err)
	}
	return djrequest.NewHoldRef(intent.ID)
}

// Capture settles the intent. A succeeded intent reports AlreadyCaptured.
func (gateway *Gateway) Capture(ctx context.Context, ref djrequest.HoldRef) (djrequest.CaptureResult, error) {
	intent, err := gateway.intents.Get(ref.String(), &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return djrequest.CaptureResult{}, translateError(err)
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return djrequest.CaptureResult{HoldRef: ref, Amount: capturedAmount(intent), AlreadyCaptured: true}, nil
	case stripe.PaymentIntentStatusCanceled:
		return djrequest.CaptureResult{}, djrequest.ErrHoldAlreadyVoided
	case stripe.PaymentIntentStatusRequiresCapture:
	default:
		return djrequest.CaptureResult{}, fmt.Errorf("%w: intent %s is %s", djrequest.ErrProviderUnavailable, intent.ID, intent.Status)
	}
	captured, err := gateway.intents.Capture(ref.String(), &stripe.PaymentIntentCaptureParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return djrequest.CaptureResult{}, translateError(err)
	}
	return djrequest.CaptureResult{HoldRef: ref, Amount: capturedAmount(captured)}, nil
}

// Void cancels the intent. A canceled intent reports AlreadyVoided.
func (gateway *Gateway) Void(ctx context.Context, ref djrequest.HoldRef) (djrequest.VoidResult, error) {
	intent, err := gateway.intents.Get(ref.String(), &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return djrequest.VoidResult{}, translateError(err)
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusCanceled:
		return djrequest.VoidResult{HoldRef: ref, AlreadyVoided: true}, nil
	case stripe.PaymentIntentStatusSucceeded:
		return djrequest.VoidResult{}, djrequest.ErrHoldAlreadyCaptured
	}
	if _, err := gateway.intents.Cancel(ref.String(), &stripe.PaymentIntentCancelParams{Params: stripe.Params{Context: ctx}}); err != nil {
		return djrequest.VoidResult{}, translateError(err)
	}
	return djrequest.VoidResult{HoldRef: ref}, nil
}

func capturedAmount(intent *stripe.PaymentIntent) djrequest.AmountCents {
	if intent.AmountReceived > 0 {
		return djrequest.AmountCents(intent.AmountReceived)
	}
	return djrequest.AmountCents(intent.Amount)
}

func translateError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", djrequest.ErrProviderUnavailable, err)
	}
	switch stripeErr.Code {
	case stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", djrequest.ErrHoldNotFound, stripeErr.Msg)
	case stripe.ErrorCodeAmountTooSmall, stripe.ErrorCodeAmountTooLarge:
		return fmt.Errorf("%w: %s", djrequest.ErrInvalidAmount, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: %s", djrequest.ErrProviderUnavailable, stripeErr.Error())
	}
}

var _ djrequest.PaymentGateway = (*Gateway)(nil)
