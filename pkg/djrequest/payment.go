package djrequest

import (
	"context"
	"fmt"
)

// PaymentGateway is the capability contract every payment backend exposes.
// Capture and Void are idempotent: replays report AlreadyCaptured / AlreadyVoided.
type PaymentGateway interface {
	Authorize(ctx context.Context, amount AmountCents, currency Currency) (HoldRef, error)
	Capture(ctx context.Context, ref HoldRef) (CaptureResult, error)
	Void(ctx context.Context, ref HoldRef) (VoidResult, error)
}

// CaptureResult describes a settled hold.
type CaptureResult struct {
	HoldRef         HoldRef
	Amount          AmountCents
	AlreadyCaptured bool
}

// VoidResult describes a released hold.
type VoidResult struct {
	HoldRef       HoldRef
	AlreadyVoided bool
}

// Gateways selects a PaymentGateway by provider.
type Gateways map[Provider]PaymentGateway

// Resolve returns the gateway serving method.
func (gateways Gateways) Resolve(method PaymentMethod) (PaymentGateway, error) {
	provider, err := method.Provider()
	if err != nil {
		return nil, err
	}
	gateway, ok := gateways[provider]
	if !ok || gateway == nil {
		return nil, fmt.Errorf("%w: no gateway configured for %s", ErrProviderUnavailable, provider)
	}
	return gateway, nil
}
