// Package satispaygw holds Satispay donations as MATCH_CODE payments that stay PENDING
// until they are accepted or canceled. The hold reference is the payment id.
package satispaygw

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
)

const (
	ModeSandbox = "sandbox"
	ModeLive    = "live"

	BaseURLSandbox = "https://staging.authservices.satispay.com"
	BaseURLLive    = "https://authservices.satispay.com"

	paymentsPath = "/g_business/v1/payments"

	flowMatchCode = "MATCH_CODE"
	actionAccept  = "ACCEPT"
	actionCancel  = "CANCEL"

	statusPending  = "PENDING"
	statusAccepted = "ACCEPTED"
	statusCanceled = "CANCELED"

	donationDescription = "DJ Song Request"
	defaultTimeout      = 15 * time.Second
	maxResponseBytes    = 1 << 20
)

var (
	errMissingKeyID      = errors.New("satispaygw: key id is required")
	errInvalidPrivateKey = errors.New("satispaygw: private key must be an RSA PEM block")
	errUnknownMode       = errors.New("satispaygw: mode must be sandbox or live")
)

// Config holds Satispay Business credentials.
type Config struct {
	KeyID         string
	PrivateKeyPEM string
	Mode          string
	BaseURL       string
	HTTPClient    *http.Client
	Now           func() time.Time
}

// Gateway implements djrequest.PaymentGateway on the Satispay Business API.
type Gateway struct {
	keyID      string
	privateKey *rsa.PrivateKey
	baseURL    *url.URL
	httpClient *http.Client
	nowFn      func() time.Time
}

type createPaymentBody struct {
	Flow        string `json:"flow"`
	AmountUnit  int64  `json:"amount_unit"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type updatePaymentBody struct {
	Action string `json:"action"`
}

type payment struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	AmountUnit int64  `json:"amount_unit"`
	Currency   string `json:"currency"`
}

type apiError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (err *apiError) Error() string {
	return fmt.Sprintf("satispay: status %d code %d: %s", err.StatusCode, err.Code, err.Message)
}

// New validates config and returns a gateway.
func New(config Config) (*Gateway, error) {
	keyID := strings.TrimSpace(config.KeyID)
	if keyID == "" {
		return nil, errMissingKeyID
	}
	privateKey, err := parsePrivateKey(config.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	rawBase := strings.TrimSpace(config.BaseURL)
	if rawBase == "" {
		switch strings.ToLower(strings.TrimSpace(config.Mode)) {
		case "", ModeSandbox:
			rawBase = BaseURLSandbox
		case ModeLive:
			rawBase = BaseURLLive
		default:
			return nil, fmt.Errorf("%w: %q", errUnknownMode, config.Mode)
		}
	}
	baseURL, err := url.Parse(rawBase)
	if err != nil {
		return nil, fmt.Errorf("satispaygw: base url: %w", err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	nowFn := config.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Gateway{
		keyID:      keyID,
		privateKey: privateKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		nowFn:      nowFn,
	}, nil
}

// Authorize creates a pending payment for the requester to confirm in the app.
func (gateway *Gateway) Authorize(ctx context.Context, amount djrequest.AmountCents, currency djrequest.Currency) (djrequest.HoldRef, error) {
	body := createPaymentBody{
		Flow:        flowMatchCode,
		AmountUnit:  amount.Int64(),
		Currency:    currency.String(),
		Description: donationDescription,
	}
	var created payment
	if err := gateway.do(ctx, http.MethodPost, paymentsPath, body, &created); err != nil {
		return djrequest.HoldRef{}, translateError(err, djrequest.ErrInvalidAmount)
	}
	return djrequest.NewHoldRef(created.ID)
}

// Capture accepts the payment. An accepted payment reports AlreadyCaptured.
func (gateway *Gateway) Capture(ctx context.Context, ref djrequest.HoldRef) (djrequest.CaptureResult, error) {
	current, err := gateway.get(ctx, ref)
	if err != nil {
		return djrequest.CaptureResult{}, err
	}
	switch current.Status {
	case statusAccepted:
		return djrequest.CaptureResult{HoldRef: ref, Amount: djrequest.AmountCents(current.AmountUnit), AlreadyCaptured: true}, nil
	case statusCanceled:
		return djrequest.CaptureResult{}, djrequest.ErrHoldAlreadyVoided
	}
	var accepted payment
	if err := gateway.do(ctx, http.MethodPut, paymentPath(ref), updatePaymentBody{Action: actionAccept}, &accepted); err != nil {
		return djrequest.CaptureResult{}, translateError(err, djrequest.ErrProviderUnavailable)
	}
	return djrequest.CaptureResult{HoldRef: ref, Amount: djrequest.AmountCents(accepted.AmountUnit)}, nil
}

// Void cancels the payment. A canceled payment reports AlreadyVoided.
func (gateway *Gateway) Void(ctx context.Context, ref djrequest.HoldRef) (djrequest.VoidResult, error) {
	current, err := gateway.get(ctx, ref)
	if err != nil {
		return djrequest.VoidResult{}, err
	}
	switch current.Status {
	case statusCanceled:
		return djrequest.VoidResult{HoldRef: ref, AlreadyVoided: true}, nil
	case statusAccepted:
		return djrequest.VoidResult{}, djrequest.ErrHoldAlreadyCaptured
	}
	if err := gateway.do(ctx, http.MethodPut, paymentPath(ref), updatePaymentBody{Action: actionCancel}, nil); err != nil {
		return djrequest.VoidResult{}, translateError(err, djrequest.ErrProviderUnavailable)
	}
	return djrequest.VoidResult{HoldRef: ref}, nil
}

func (gateway *Gateway) get(ctx context.Context, ref djrequest.HoldRef) (payment, error) {
	var current payment
	if err := gateway.do(ctx, http.MethodGet, paymentPath(ref), nil, &current); err != nil {
		return payment{}, translateError(err, djrequest.ErrProviderUnavailable)
	}
	return current, nil
}

func (gateway *Gateway) do(ctx context.Context, method string, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("satispay: encode body: %w", err)
		}
		payload = encoded
	}
	target := gateway.baseURL.ResolveReference(&url.URL{Path: path})
	request, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("satispay: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if err := gateway.sign(request, path, payload); err != nil {
		return err
	}
	response, err := gateway.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("satispay: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("satispay: read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		failure := &apiError{StatusCode: response.StatusCode}
		_ = json.Unmarshal(raw, failure)
		return failure
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("satispay: decode response: %w", err)
	}
	return nil
}

// sign adds Date, Digest and a Signature authorization over
// (request-target) host date digest.
func (gateway *Gateway) sign(request *http.Request, path string, payload []byte) error {
	digestSum := sha256.Sum256(payload)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(digestSum[:])
	date := gateway.nowFn().UTC().Format(http.TimeFormat)
	request.Header.Set("Date", date)
	request.Header.Set("Digest", digest)

	signingString := signingString(request.Method, path, request.URL.Host, date, digest)
	hashed := sha256.Sum256([]byte(signingString))
	signature, err := rsa.SignPKCS1v15(rand.Reader, gateway.privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("satispay: sign request: %w", err)
	}
	request.Header.Set("Authorization", fmt.Sprintf(
		`Signature keyId="%s", algorithm="rsa-sha256", headers="(request-target) host date digest", signature="%s"`,
		gateway.keyID,
		base64.StdEncoding.EncodeToString(signature),
	))
	return nil
}

func signingString(method string, path string, host string, date string, digest string) string {
	return strings.Join([]string{
		"(request-target): " + strings.ToLower(method) + " " + path,
		"host: " + host,
		"date: " + date,
		"digest: " + digest,
	}, "\n")
}

func paymentPath(ref djrequest.HoldRef) string {
	return paymentsPath + "/" + url.PathEscape(ref.String())
}

func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(raw)))
	if block == nil {
		return nil, errInvalidPrivateKey
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPrivateKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errInvalidPrivateKey
	}
	return key, nil
}

// translateError maps HTTP failures to payment sentinels. badRequest is used for 400.
func translateError(err error, badRequest error) error {
	var failure *apiError
	if errors.As(err, &failure) {
		switch failure.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", djrequest.ErrHoldNotFound, failure.Message)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", badRequest, failure.Error())
		}
	}
	return fmt.Errorf("%w: %v", djrequest.ErrProviderUnavailable, err)
}

var _ djrequest.PaymentGateway = (*Gateway)(nil)
