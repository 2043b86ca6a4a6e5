package memorygw

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
)

const (
	holdCaseCaptureTwice     = "capture twice reports already captured"
	holdCaseVoidTwice        = "void twice reports already voided"
	holdCaseVoidAfterCapture = "void after capture fails"
	holdCaseCaptureAfterVoid = "capture after void fails"
)

func TestGatewayIdempotency(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name  string
		steps func(ctx context.Context, gateway *Gateway, ref djrequest.HoldRef) error
		want  error
		state HoldState
	}{
		{
			name: holdCaseCaptureTwice,
			steps: func(ctx context.Context, gateway *Gateway, ref djrequest.HoldRef) error {
				if _, err := gateway.Capture(ctx, ref); err != nil {
					return err
				}
				result, err := gateway.Capture(ctx, ref)
				if err == nil && !result.AlreadyCaptured {
					return errors.New("expected already captured")
				}
				return err
			},
			state: HoldStateCaptured,
		},
		{
			name: holdCaseVoidTwice,
			steps: func(ctx context.Context, gateway *Gateway, ref djrequest.HoldRef) error {
				if _, err := gateway.Void(ctx, ref); err != nil {
					return err
				}
				result, err := gateway.Void(ctx, ref)
				if err == nil && !result.AlreadyVoided {
					return errors.New("expected already voided")
				}
				return err
			},
			state: HoldStateVoided,
		},
		{
			name: holdCaseVoidAfterCapture,
			steps: func(ctx context.Context, gateway *Gateway, ref djrequest.HoldRef) error {
				if _, err := gateway.Capture(ctx, ref); err != nil {
					return err
				}
				_, err := gateway.Void(ctx, ref)
				return err
			},
			want:  djrequest.ErrHoldAlreadyCaptured,
			state: HoldStateCaptured,
		},
		{
			name: holdCaseCaptureAfterVoid,
			steps: func(ctx context.Context, gateway *Gateway, ref djrequest.HoldRef) error {
				if _, err := gateway.Void(ctx, ref); err != nil {
					return err
				}
				_, err := gateway.Capture(ctx, ref)
				return err
			},
			want:  djrequest.ErrHoldAlreadyVoided,
			state: HoldStateVoided,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			ctx := context.Background()
			gateway := New()
			ref, err := gateway.Authorize(ctx, 500, mustCurrency(test))
			if err != nil {
				test.Fatalf("authorize: %v", err)
			}
			err = testCase.steps(ctx, gateway, ref)
			if testCase.want == nil && err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if testCase.want != nil && !errors.Is(err, testCase.want) {
				test.Fatalf("expected %v, got %v", testCase.want, err)
			}
			if got := gateway.State(ref); got != testCase.state {
				test.Fatalf("expected state %s, got %s", testCase.state, got)
			}
		})
	}
}

func TestGatewayUnknownHold(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	gateway := New()
	ref, err := djrequest.NewHoldRef("mem_missing")
	if err != nil {
		test.Fatalf("hold ref: %v", err)
	}
	if _, err := gateway.Capture(ctx, ref); !errors.Is(err, djrequest.ErrHoldNotFound) {
		test.Fatalf("expected hold not found, got %v", err)
	}
	if _, err := gateway.Void(ctx, ref); !errors.Is(err, djrequest.ErrHoldNotFound) {
		test.Fatalf("expected hold not found, got %v", err)
	}
}

func TestGatewayInjectedFailures(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	gateway := New()
	ref, err := gateway.Authorize(ctx, 500, mustCurrency(test))
	if err != nil {
		test.Fatalf("authorize: %v", err)
	}
	gateway.FailCapture(djrequest.ErrProviderUnavailable)
	if _, err := gateway.Capture(ctx, ref); !errors.Is(err, djrequest.ErrProviderUnavailable) {
		test.Fatalf("expected provider unavailable, got %v", err)
	}
	if gateway.State(ref) != HoldStateHeld {
		test.Fatalf("expected hold to stay held")
	}
	gateway.FailCapture(nil)
	result, err := gateway.Capture(ctx, ref)
	if err != nil || result.Amount != 500 {
		test.Fatalf("unexpected capture result %+v, %v", result, err)
	}
	if calls := gateway.Calls(); calls.Authorize != 1 || calls.Capture != 2 {
		test.Fatalf("unexpected calls %+v", calls)
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
