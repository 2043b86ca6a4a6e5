// Package paypalgw holds PayPal donations as AUTHORIZE-intent orders. The hold reference
// is the order id; the nested authorization id is resolved on every capture or void.
package paypalgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/plutov/paypal/v4"
)

const (
	ModeSandbox = "sandbox"
	ModeLive    = "live"

	orderIntentAuthorize = "AUTHORIZE"
	orderStatusApproved  = "APPROVED"
	orderStatusCompleted = "COMPLETED"
	orderStatusVoided    = "VOIDED"

	authorizationCaptured  = "CAPTURED"
	authorizationPartially = "PARTIALLY_CAPTURED"
	authorizationVoided    = "VOIDED"
	authorizationExpired   = "EXPIRED"

	donationDescription = "DJ Song Request Donation"
	brandName           = "DJ Request"
)

var (
	errMissingCredentials = errors.New("paypalgw: client id and secret are required")
	errUnknownMode        = errors.New("paypalgw: mode must be sandbox or live")
)

// OrdersAPI is the subset of the PayPal client the gateway uses.
type OrdersAPI interface {
	CreateOrder(ctx context.Context, intent string, purchaseUnits []paypal.PurchaseUnitRequest, payer *paypal.CreateOrderPayer, appContext *paypal.ApplicationContext) (*paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	AuthorizeOrder(ctx context.Context, orderID string, authorizeOrderRequest paypal.AuthorizeOrderRequest) (*paypal.AuthorizeOrderResponse, error)
	CaptureAuthorization(ctx context.Context, authID string, paymentCaptureRequest *paypal.PaymentCaptureRequest) (*paypal.PaymentCaptureResponse, error)
	VoidAuthorization(ctx context.Context, authID string) (*paypal.Authorization, error)
}

// Config holds PayPal REST credentials.
type Config struct {
	ClientID  string
	Secret    string
	Mode      string
	ReturnURL string
	CancelURL string
}

// Gateway implements djrequest.PaymentGateway on PayPal orders.
type Gateway struct {
	orders    OrdersAPI
	returnURL string
	cancelURL string
}

// New builds a gateway from REST credentials and fetches an access token.
func New(ctx context.Context, config Config) (*Gateway, error) {
	clientID := strings.TrimSpace(config.ClientID)
	secret := strings.TrimSpace(config.Secret)
	if clientID == "" || secret == "" {
		return nil, errMissingCredentials
	}
	var base string
	switch strings.ToLower(strings.TrimSpace(config.Mode)) {
	case "", ModeSandbox:
		base = paypal.APIBaseSandBox
	case ModeLive:
		base = paypal.APIBaseLive
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownMode, config.Mode)
	}
	paypalClient, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypalgw: client: %w", err)
	}
	if _, err := paypalClient.GetAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("paypalgw: access token: %w", err)
	}
	gateway := NewWithAPI(paypalClient)
	gateway.returnURL = config.ReturnURL
	gateway.cancelURL = config.CancelURL
	return gateway, nil
}

// NewWithAPI builds a gateway over an existing client.
func NewWithAPI(orders OrdersAPI) *Gateway {
	return &Gateway{orders: orders}
}

// Authorize creates an order with intent AUTHORIZE for the requester to approve.
func (gateway *Gateway) Authorize(ctx context.Context, amount djrequest.AmountCents, currency djrequest.Currency) (djrequest.HoldRef, error) {
	units := []paypal.PurchaseUnitRequest{{
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency.String(),
			Value:    formatAmount(amount),
		},
		Description: donationDescription,
	}}
	appContext := &paypal.ApplicationContext{
		BrandName:  brandName,
		UserAction: "PAY_NOW",
		ReturnURL:  gateway.returnURL,
		CancelURL:  gateway.cancelURL,
	}
	order, err := gateway.orders.CreateOrder(ctx, orderIntentAuthorize, units, nil, appContext)
	if err != nil {
		return djrequest.HoldRef{}, translateError(err)
	}
	return djrequest.NewHoldRef(order.ID)
}

// Capture captures the order's authorization, authorizing an approved order first.
func (gateway *Gateway) Capture(ctx context.Context, ref djrequest.HoldRef) (djrequest.CaptureResult, error) {
	order, err := gateway.orders.GetOrder(ctx, ref.String())
	if err != nil {
		return djrequest.CaptureResult{}, translateError(err)
	}
	authorization, found := findAuthorization(order)
	if !found {
		if order.Status == orderStatusVoided {
			return djrequest.CaptureResult{}, djrequest.ErrHoldAlreadyVoided
		}
		if order.Status != orderStatusApproved {
			return djrequest.CaptureResult{}, fmt.Errorf("%w: order %s is %s", djrequest.ErrProviderUnavailable, order.ID, order.Status)
		}
		if _, err := gateway.orders.AuthorizeOrder(ctx, ref.String(), paypal.AuthorizeOrderRequest{}); err != nil {
			return djrequest.CaptureResult{}, translateError(err)
		}
		if order, err = gateway.orders.GetOrder(ctx, ref.String()); err != nil {
			return djrequest.CaptureResult{}, translateError(err)
		}
		if authorization, found = findAuthorization(order); !found {
			return djrequest.CaptureResult{}, fmt.Errorf("%w: order %s has no authorization", djrequest.ErrHoldNotFound, order.ID)
		}
	}
	amount := orderAmount(order)
	switch authorization.Status {
	case authorizationCaptured, authorizationPartially:
		return djrequest.CaptureResult{HoldRef: ref, Amount: amount, AlreadyCaptured: true}, nil
	case authorizationVoided, authorizationExpired:
		return djrequest.CaptureResult{}, djrequest.ErrHoldAlreadyVoided
	}
	if _, err := gateway.orders.CaptureAuthorization(ctx, authorization.ID, &paypal.PaymentCaptureRequest{}); err != nil {
		return djrequest.CaptureResult{}, translateError(err)
	}
	return djrequest.CaptureResult{HoldRef: ref, Amount: amount}, nil
}

// Void voids the order's authorization. An order that was never authorized holds nothing.
func (gateway *Gateway) Void(ctx context.Context, ref djrequest.HoldRef) (djrequest.VoidResult, error) {
	order, err := gateway.orders.GetOrder(ctx, ref.String())
	if err != nil {
		return djrequest.VoidResult{}, translateError(err)
	}
	authorization, found := findAuthorization(order)
	if !found {
		if order.Status == orderStatusCompleted {
			return djrequest.VoidResult{}, djrequest.ErrHoldAlreadyCaptured
		}
		return djrequest.VoidResult{HoldRef: ref, AlreadyVoided: true}, nil
	}
	switch authorization.Status {
	case authorizationVoided, authorizationExpired:
		return djrequest.VoidResult{HoldRef: ref, AlreadyVoided: true}, nil
	case authorizationCaptured, authorizationPartially:
		return djrequest.VoidResult{}, djrequest.ErrHoldAlreadyCaptured
	}
	if _, err := gateway.orders.VoidAuthorization(ctx, authorization.ID); err != nil {
		return djrequest.VoidResult{}, translateError(err)
	}
	return djrequest.VoidResult{HoldRef: ref}, nil
}

// findAuthorization reads the nested authorization through its JSON shape so the
// lookup does not depend on the SDK's Go field naming.
func findAuthorization(order *paypal.Order) (orderAuthorization, bool) {
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		raw, err := json.Marshal(unit.Payments)
		if err != nil {
			continue
		}
		var payments orderPayments
		if err := json.Unmarshal(raw, &payments); err != nil {
			continue
		}
		for _, authorization := range payments.Authorizations {
			if authorization.ID != "" {
				return authorization, true
			}
		}
	}
	return orderAuthorization{}, false
}

type orderPayments struct {
	Authorizations []orderAuthorization `json:"authorizations"`
}

type orderAuthorization struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func orderAmount(order *paypal.Order) djrequest.AmountCents {
	for _, unit := range order.PurchaseUnits {
		if unit.Amount == nil {
			continue
		}
		if cents, err := parseAmount(unit.Amount.Value); err == nil {
			return cents
		}
	}
	return 0
}

func formatAmount(amount djrequest.AmountCents) string {
	cents := amount.Int64()
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func parseAmount(value string) (djrequest.AmountCents, error) {
	var units, cents int64
	whole, fraction, hasFraction := strings.Cut(strings.TrimSpace(value), ".")
	if _, err := fmt.Sscanf(whole, "%d", &units); err != nil {
		return 0, err
	}
	if hasFraction {
		if len(fraction) == 1 {
			fraction += "0"
		}
		if len(fraction) != 2 {
			return 0, fmt.Errorf("paypalgw: unexpected amount %q", value)
		}
		if _, err := fmt.Sscanf(fraction, "%d", &cents); err != nil {
			return 0, err
		}
	}
	return djrequest.AmountCents(units*100 + cents), nil
}

func translateError(err error) error {
	var responseErr *paypal.ErrorResponse
	if errors.As(err, &responseErr) && responseErr.Response != nil {
		switch responseErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", djrequest.ErrHoldNotFound, responseErr.Message)
		case http.StatusUnprocessableEntity:
			for _, detail := range responseErr.Details {
				switch detail.Issue {
				case "AUTHORIZATION_ALREADY_CAPTURED":
					return fmt.Errorf("%w: %s", djrequest.ErrHoldAlreadyCaptured, detail.Description)
				case "AUTHORIZATION_VOIDED", "AUTHORIZATION_EXPIRED":
					return fmt.Errorf("%w: %s", djrequest.ErrHoldAlreadyVoided, detail.Description)
				case "AMOUNT_MISMATCH", "DECIMAL_PRECISION", "CURRENCY_NOT_SUPPORTED_FOR_COUNTRY":
					return fmt.Errorf("%w: %s", djrequest.ErrInvalidAmount, detail.Description)
				}
			}
		}
	}
	return fmt.Errorf("%w: %v", djrequest.ErrProviderUnavailable, err)
}

var _ djrequest.PaymentGateway = (*Gateway)(nil)
