package djrequest

import (
	"fmt"
	"strings"
	"time"
)

// AmountCents is an integer currency amount in cents.
type AmountCents int64

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 exposes the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Currency is an upper-case ISO 4217 code.
type Currency struct {
	value string
}

// NewCurrency validates and normalizes a currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	for _, character := range normalized {
		if character < 'A' || character > 'Z' {
			return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
		}
	}
	return Currency{value: normalized}, nil
}

// String returns the normalized code.
func (currency Currency) String() string {
	return currency.value
}

// DJID identifies a DJ account.
type DJID struct {
	value string
}

// NewDJID validates and normalizes a dj id.
func NewDJID(raw string) (DJID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DJID{}, fmt.Errorf("%w: empty value", ErrInvalidDJID)
	}
	return DJID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id DJID) String() string {
	return id.value
}

// RequestID identifies a song request.
type RequestID struct {
	value string
}

// NewRequestID validates and normalizes a request id.
func NewRequestID(raw string) (RequestID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RequestID{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	return RequestID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RequestID) String() string {
	return id.value
}

// QueueItemID identifies a queue item.
type QueueItemID struct {
	value string
}

// NewQueueItemID validates and normalizes a queue item id.
func NewQueueItemID(raw string) (QueueItemID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return QueueItemID{}, fmt.Errorf("%w: empty value", ErrInvalidQueueItemID)
	}
	return QueueItemID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id QueueItemID) String() string {
	return id.value
}

// SummaryID identifies an event summary.
type SummaryID struct {
	value string
}

// NewSummaryID validates and normalizes a summary id.
func NewSummaryID(raw string) (SummaryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SummaryID{}, fmt.Errorf("%w: empty value", ErrInvalidSummaryID)
	}
	return SummaryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id SummaryID) String() string {
	return id.value
}

// EventCode is the short public code of a DJ's current event.
type EventCode struct {
	value string
}

// NewEventCode upper-cases the code and checks it is six characters of A-Z0-9.
func NewEventCode(raw string) (EventCode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != eventCodeLength {
		return EventCode{}, fmt.Errorf("%w: must be %d characters", ErrInvalidEventCode, eventCodeLength)
	}
	for _, character := range normalized {
		if !strings.ContainsRune(eventCodeAlphabet, character) {
			return EventCode{}, fmt.Errorf("%w: unexpected character %q", ErrInvalidEventCode, character)
		}
	}
	return EventCode{value: normalized}, nil
}

// String returns the normalized code.
func (code EventCode) String() string {
	return code.value
}

// HoldRef is the opaque provider reference behind a payment hold.
type HoldRef struct {
	value string
}

// NewHoldRef validates a hold reference.
func NewHoldRef(raw string) (HoldRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return HoldRef{}, fmt.Errorf("%w: empty value", ErrInvalidHoldRef)
	}
	return HoldRef{value: trimmed}, nil
}

// String returns the raw reference.
func (ref HoldRef) String() string {
	return ref.value
}

// IsZero reports whether no hold has been placed.
func (ref HoldRef) IsZero() bool {
	return ref.value == ""
}

// Provider names a payment backend.
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderPayPal   Provider = "paypal"
	ProviderSatispay Provider = "satispay"
)

// String returns the provider name.
func (provider Provider) String() string {
	return string(provider)
}

// PaymentMethod is the requester-facing way of paying.
type PaymentMethod string

const (
	PaymentMethodCard      PaymentMethod = "CARD"
	PaymentMethodApplePay  PaymentMethod = "APPLE_PAY"
	PaymentMethodGooglePay PaymentMethod = "GOOGLE_PAY"
	PaymentMethodPayPal    PaymentMethod = "PAYPAL"
	PaymentMethodSatispay  PaymentMethod = "SATISPAY"
)

// ParsePaymentMethod validates a payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodCard, PaymentMethodApplePay, PaymentMethodGooglePay, PaymentMethodPayPal, PaymentMethodSatispay:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
}

// String returns the method name.
func (method PaymentMethod) String() string {
	return string(method)
}

// Provider returns the backend that serves the method.
func (method PaymentMethod) Provider() (Provider, error) {
	switch method {
	case PaymentMethodCard, PaymentMethodApplePay, PaymentMethodGooglePay:
		return ProviderStripe, nil
	case PaymentMethodPayPal:
		return ProviderPayPal, nil
	case PaymentMethodSatispay:
		return ProviderSatispay, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, string(method))
	}
}

// RequestStatus defines the request lifecycle.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusAccepted RequestStatus = "ACCEPTED"
	RequestStatusRejected RequestStatus = "REJECTED"
	RequestStatusExpired  RequestStatus = "EXPIRED"
	RequestStatusClosed   RequestStatus = "CLOSED"
)

// ParseRequestStatus validates a request status.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	status := RequestStatus(raw)
	switch status {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusRejected, RequestStatusExpired, RequestStatusClosed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRequestStatus, raw)
	}
}

// String returns the status name.
func (status RequestStatus) String() string {
	return string(status)
}

// QueueStatus defines the queue item lifecycle.
type QueueStatus string

const (
	QueueStatusWaiting    QueueStatus = "WAITING"
	QueueStatusNowPlaying QueueStatus = "NOW_PLAYING"
	QueueStatusPlayed     QueueStatus = "PLAYED"
	QueueStatusSkipped    QueueStatus = "SKIPPED"
)

// ParseQueueStatus validates a queue status.
func ParseQueueStatus(raw string) (QueueStatus, error) {
	status := QueueStatus(raw)
	switch status {
	case QueueStatusWaiting, QueueStatusNowPlaying, QueueStatusPlayed, QueueStatusSkipped:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidQueueStatus, raw)
	}
}

// String returns the status name.
func (status QueueStatus) String() string {
	return string(status)
}

// IsOpen reports whether the item can still be played or skipped.
func (status QueueStatus) IsOpen() bool {
	return status == QueueStatusWaiting || status == QueueStatusNowPlaying
}

// DJ is the account that owns requests and a queue.
type DJ struct {
	ID              DJID
	Name            string
	EventCode       EventCode
	MinDonation     AmountCents
	StripeAccountID string
	PayPalEmail     string
	SatispayID      string
	EventStartedAt  time.Time
	CreatedAt       time.Time
}

// Request is one paid song submission.
type Request struct {
	ID             RequestID
	DJID           DJID
	SongTitle      string
	ArtistName     string
	RequesterName  string
	RequesterEmail string
	DonationAmount AmountCents
	Currency       Currency
	PaymentMethod  PaymentMethod
	HoldRef        HoldRef
	Status         RequestStatus
	CreatedAt      time.Time
}

// QueueItem is the play-queue slot of an accepted request.
type QueueItem struct {
	ID         QueueItemID
	DJID       DJID
	RequestID  RequestID
	Position   int
	Status     QueueStatus
	AddedAt    time.Time
	PromotedAt time.Time
	PlayedAt   time.Time
}

// QueueEntry joins a queue item with its backing request.
type QueueEntry struct {
	Item    QueueItem
	Request Request
}

// QueueView is the ordered queue of a DJ with realized earnings.
type QueueView struct {
	Entries       []QueueEntry
	TotalEarnings AmountCents
}

// RequestCounts aggregates requests per status.
type RequestCounts struct {
	Total    int
	Pending  int
	Accepted int
	Rejected int
	Expired  int
	Closed   int
}

// EventSummary is the immutable snapshot of an ended event.
type EventSummary struct {
	ID            SummaryID
	DJID          DJID
	EventCode     EventCode
	Requests      RequestCounts
	PlayedSongs   int
	SkippedSongs  int
	TotalEarnings AmountCents
	StartedAt     time.Time
	EndedAt       time.Time
}

// EventStats is the live view of the current event.
type EventStats struct {
	Requests      RequestCounts
	QueueLength   int
	TotalEarnings AmountCents
	StartedAt     time.Time
}

// ProviderEvent is a webhook notification kept for auditing only.
type ProviderEvent struct {
	Provider   Provider
	Type       string
	Reference  string
	Payload    string
	ReceivedAt time.Time
}

// Settings are the DJ-editable account values.
type Settings struct {
	Name            string
	MinDonation     AmountCents
	StripeAccountID string
	PayPalEmail     string
	SatispayID      string
}

// RegisterDJInput creates a DJ account.
type RegisterDJInput struct {
	Settings Settings
}

// SubmitRequestInput carries a requester's submission for an event code.
type SubmitRequestInput struct {
	EventCode      string
	SongTitle      string
	ArtistName     string
	RequesterName  string
	RequesterEmail string
	DonationCents  int64
	Currency       string
	PaymentMethod  string
	// HoldRef is set when the client already placed the hold with the provider.
	HoldRef string
}
