package stripegw

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/stripe/stripe-go/v82"
)

const (
	intentID = "pi_test_123"

	captureCaseHeld      = "held intent is captured"
	captureCaseSucceeded = "succeeded intent is already captured"
	captureCaseCanceled  = "canceled intent cannot be captured"
	captureCaseMissing   = "missing intent is hold not found"
	captureCaseUnpaid    = "unconfirmed intent is unavailable"
)

type fakeIntents struct {
	status   stripe.PaymentIntentStatus
	getErr   error
	newErr   error
	lastNew  *stripe.PaymentIntentParams
	captures int
	cancels  int
}

func (intents *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	intents.lastNew = params
	if intents.newErr != nil {
		return nil, intents.newErr
	}
	intents.status = stripe.PaymentIntentStatusRequiresPaymentMethod
	return &stripe.PaymentIntent{ID: intentID, Amount: *params.Amount, Status: intents.status}, nil
}

func (intents *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if intents.getErr != nil {
		return nil, intents.getErr
	}
	return &stripe.PaymentIntent{ID: id, Amount: 700, Status: intents.status}, nil
}

func (intents *fakeIntents) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	intents.captures++
	intents.status = stripe.PaymentIntentStatusSucceeded
	return &stripe.PaymentIntent{ID: id, Amount: 700, AmountReceived: 700, Status: intents.status}, nil
}

func (intents *fakeIntents) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	intents.cancels++
	intents.status = stripe.PaymentIntentStatusCanceled
	return &stripe.PaymentIntent{ID: id, Status: intents.status}, nil
}

func mustHoldRef(test *testing.T) djrequest.HoldRef {
	test.Helper()
	ref, err := djrequest.NewHoldRef(intentID)
	if err != nil {
		test.Fatalf("hold ref: %v", err)
	}
	return ref
}

func TestAuthorizeCreatesManualCaptureIntent(test *testing.T) {
	test.Parallel()
	intents := &fakeIntents{}
	gateway := NewWithAPI(intents)
	ref, err := gateway.Authorize(context.Background(), 500, mustCurrency(test))
	if err != nil {
		test.Fatalf("authorize: %v", err)
	}
	if ref.String() != intentID {
		test.Fatalf("unexpected hold ref %s", ref)
	}
	if *intents.lastNew.CaptureMethod != string(stripe.PaymentIntentCaptureMethodManual) {
		test.Fatalf("expected manual capture, got %s", *intents.lastNew.CaptureMethod)
	}
	if *intents.lastNew.Currency != "eur" || *intents.lastNew.Amount != 500 {
		test.Fatalf("unexpected amount params %v %v", *intents.lastNew.Currency, *intents.lastNew.Amount)
	}
	if intents.lastNew.Metadata[metadataServiceKey] != metadataServiceValue {
		test.Fatalf("expected service metadata")
	}
}

func TestAuthorizeTranslatesAmountErrors(test *testing.T) {
	test.Parallel()
	intents := &fakeIntents{newErr: &stripe.Error{Code: stripe.ErrorCodeAmountTooSmall, Msg: "too small"}}
	_, err := NewWithAPI(intents).Authorize(context.Background(), 1, mustCurrency(test))
	if !errors.Is(err, djrequest.ErrInvalidAmount) {
		test.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestCapture(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name            string
		intents         *fakeIntents
		wantErr         error
		alreadyCaptured bool
		captures        int
	}{
		{name: captureCaseHeld, intents: &fakeIntents{status: stripe.PaymentIntentStatusRequiresCapture}, captures: 1},
		{name: captureCaseSucceeded, intents: &fakeIntents{status: stripe.PaymentIntentStatusSucceeded}, alreadyCaptured: true},
		{name: captureCaseCanceled, intents: &fakeIntents{status: stripe.PaymentIntentStatusCanceled}, wantErr: djrequest.ErrHoldAlreadyVoided},
		{
			name:    captureCaseMissing,
			intents: &fakeIntents{getErr: &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "no such intent"}},
			wantErr: djrequest.ErrHoldNotFound,
		},
		{name: captureCaseUnpaid, intents: &fakeIntents{status: stripe.PaymentIntentStatusRequiresPaymentMethod}, wantErr: djrequest.ErrProviderUnavailable},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			result, err := NewWithAPI(testCase.intents).Capture(context.Background(), mustHoldRef(test))
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("capture: %v", err)
			}
			if result.AlreadyCaptured != testCase.alreadyCaptured || result.Amount != 700 {
				test.Fatalf("unexpected result %+v", result)
			}
			if testCase.intents.captures != testCase.captures {
				test.Fatalf("expected %d captures, got %d", testCase.captures, testCase.intents.captures)
			}
		})
	}
}

func TestVoidIsIdempotent(test *testing.T) {
	test.Parallel()
	intents := &fakeIntents{status: stripe.PaymentIntentStatusRequiresCapture}
	gateway := NewWithAPI(intents)
	ref := mustHoldRef(test)

	first, err := gateway.Void(context.Background(), ref)
	if err != nil || first.AlreadyVoided {
		test.Fatalf("unexpected first void %+v, %v", first, err)
	}
	second, err := gateway.Void(context.Background(), ref)
	if err != nil || !second.AlreadyVoided {
		test.Fatalf("unexpected second void %+v, %v", second, err)
	}
	if intents.cancels != 1 {
		test.Fatalf("expected one cancel call, got %d", intents.cancels)
	}
}

func TestVoidAfterCapture(test *testing.T) {
	test.Parallel()
	intents := &fakeIntents{status: stripe.PaymentIntentStatusSucceeded}
	_, err := NewWithAPI(intents).Void(context.Background(), mustHoldRef(test))
	if !errors.Is(err, djrequest.ErrHoldAlreadyCaptured) {
		test.Fatalf("expected already captured, got %v", err)
	}
}

func TestNewRequiresSecretKey(test *testing.T) {
	test.Parallel()
	if _, err := New("  "); !errors.Is(err, errMissingSecretKey) {
		test.Fatalf("expected missing secret key, got %v", err)
	}
}

func mustCurrency(test *testing.T) djrequest.Currency {
	test.Helper()
	currency, err := djrequest.NewCurrency("EUR")
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}
