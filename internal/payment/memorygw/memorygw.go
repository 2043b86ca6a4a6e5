// Package memorygw is an in-process payment gateway for sandbox runs and tests.
package memorygw

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/google/uuid"
)

// HoldState is the lifecycle of a hold held by the gateway.
type HoldState string

const (
	HoldStateUnknown  HoldState = ""
	HoldStateHeld     HoldState = "held"
	HoldStateCaptured HoldState = "captured"
	HoldStateVoided   HoldState = "voided"
)

const holdRefPrefix = "mem_"

// Calls counts gateway invocations.
type Calls struct {
	Authorize int
	Capture   int
	Void      int
}

type hold struct {
	state    HoldState
	amount   djrequest.AmountCents
	currency djrequest.Currency
}

// Gateway keeps holds in memory. The zero value is not usable; call New.
type Gateway struct {
	mutex        sync.Mutex
	holds        map[string]*hold
	calls        Calls
	authorizeErr error
	captureErr   error
	voidErr      error
}

// New returns an empty gateway.
func New() *Gateway {
	return &Gateway{holds: make(map[string]*hold)}
}

// FailAuthorize makes subsequent Authorize calls return err. Nil clears it.
func (gateway *Gateway) FailAuthorize(err error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.authorizeErr = err
}

// FailCapture makes subsequent Capture calls return err. Nil clears it.
func (gateway *Gateway) FailCapture(err error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.captureErr = err
}

// FailVoid makes subsequent Void calls return err. Nil clears it.
func (gateway *Gateway) FailVoid(err error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.voidErr = err
}

// Authorize places a new hold.
func (gateway *Gateway) Authorize(ctx context.Context, amount djrequest.AmountCents, currency djrequest.Currency) (djrequest.HoldRef, error) {
	if err := ctx.Err(); err != nil {
		return djrequest.HoldRef{}, fmt.Errorf("%w: %v", djrequest.ErrProviderUnavailable, err)
	}
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.calls.Authorize++
	if gateway.authorizeErr != nil {
		return djrequest.HoldRef{}, gateway.authorizeErr
	}
	if amount <= 0 {
		return djrequest.HoldRef{}, djrequest.ErrInvalidAmount
	}
	ref, err := djrequest.NewHoldRef(holdRefPrefix + uuid.NewString())
	if err != nil {
		return djrequest.HoldRef{}, err
	}
	gateway.holds[ref.String()] = &hold{state: HoldStateHeld, amount: amount, currency: currency}
	return ref, nil
}

// Capture settles a held amount. Replays report AlreadyCaptured.
func (gateway *Gateway) Capture(ctx context.Context, ref djrequest.HoldRef) (djrequest.CaptureResult, error) {
	if err := ctx.Err(); err != nil {
		return djrequest.CaptureResult{}, fmt.Errorf("%w: %v", djrequest.ErrProviderUnavailable, err)
	}
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.calls.Capture++
	if gateway.captureErr != nil {
		return djrequest.CaptureResult{}, gateway.captureErr
	}
	current, ok := gateway.holds[ref.String()]
	if !ok {
		return djrequest.CaptureResult{}, djrequest.ErrHoldNotFound
	}
	switch current.state {
	case HoldStateCaptured:
		return djrequest.CaptureResult{HoldRef: ref, Amount: current.amount, AlreadyCaptured: true}, nil
	case HoldStateVoided:
		return djrequest.CaptureResult{}, djrequest.ErrHoldAlreadyVoided
	}
	current.state = HoldStateCaptured
	return djrequest.CaptureResult{HoldRef: ref, Amount: current.amount}, nil
}

// Void releases a held amount. Replays report AlreadyVoided.
func (gateway *Gateway) Void(ctx context.Context, ref djrequest.HoldRef) (djrequest.VoidResult, error) {
	if err := ctx.Err(); err != nil {
		return djrequest.VoidResult{}, fmt.Errorf("%w: %v", djrequest.ErrProviderUnavailable, err)
	}
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.calls.Void++
	if gateway.voidErr != nil {
		return djrequest.VoidResult{}, gateway.voidErr
	}
	current, ok := gateway.holds[ref.String()]
	if !ok {
		return djrequest.VoidResult{}, djrequest.ErrHoldNotFound
	}
	switch current.state {
	case HoldStateVoided:
		return djrequest.VoidResult{HoldRef: ref, AlreadyVoided: true}, nil
	case HoldStateCaptured:
		return djrequest.VoidResult{}, djrequest.ErrHoldAlreadyCaptured
	}
	current.state = HoldStateVoided
	return djrequest.VoidResult{HoldRef: ref}, nil
}

// State reports the state of ref.
func (gateway *Gateway) State(ref djrequest.HoldRef) HoldState {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	current, ok := gateway.holds[ref.String()]
	if !ok {
		return HoldStateUnknown
	}
	return current.state
}

// Calls returns a snapshot of the call counters.
func (gateway *Gateway) Calls() Calls {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	return gateway.calls
}

var _ djrequest.PaymentGateway = (*Gateway)(nil)
