package djrequest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service orchestrates requests, the play queue and payment holds over a Store.
type Service struct {
	store        Store
	gateways     Gateways
	nowFn        func() time.Time
	logger       OperationLogger
	publisher    EventPublisher
	window       time.Duration
	currency     Currency
	newID        func() string
	newEventCode func() (EventCode, error)
}

// NewService wires a Service.
func NewService(store Store, gateways Gateways, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	defaultCurrency, err := NewCurrency(DefaultCurrency)
	if err != nil {
		return nil, err
	}
	service := &Service{
		store:        store,
		gateways:     gateways,
		nowFn:        now,
		window:       DefaultExpirationWindow,
		currency:     defaultCurrency,
		newID:        uuid.NewString,
		newEventCode: RandomEventCode,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if err := validateOptions(service); err != nil {
		return nil, err
	}
	return service, nil
}

// ExpirationWindow returns how long a pending request may wait for a decision.
func (service *Service) ExpirationWindow() time.Duration {
	return service.window
}

// RequestDeadline returns the instant after which request can no longer be accepted.
func (service *Service) RequestDeadline(request Request) time.Time {
	return request.CreatedAt.Add(service.window)
}

// TimeRemaining returns the time left before the deadline, never negative.
func (service *Service) TimeRemaining(request Request) time.Duration {
	remaining := service.RequestDeadline(request).Sub(service.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RandomEventCode draws a code from crypto/rand.
func RandomEventCode() (EventCode, error) {
	alphabetSize := big.NewInt(int64(len(eventCodeAlphabet)))
	var builder strings.Builder
	for index := 0; index < eventCodeLength; index++ {
		position, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return EventCode{}, err
		}
		builder.WriteByte(eventCodeAlphabet[position.Int64()])
	}
	return NewEventCode(builder.String())
}

// RegisterDJ creates a DJ with a fresh event code.
func (service *Service) RegisterDJ(ctx context.Context, input RegisterDJInput) (DJ, error) {
	settings := input.Settings
	if settings.MinDonation == 0 {
		settings.MinDonation = defaultMinDonation
	}
	settings, err := normalizeSettings(settings)
	var dj DJ
	if err == nil {
		var djID DJID
		djID, err = NewDJID(service.newID())
		if err == nil {
			err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
				code, err := service.allocateEventCode(ctx, transactionStore)
				if err != nil {
					return err
				}
				now := service.now()
				dj = DJ{
					ID:              djID,
					Name:            settings.Name,
					EventCode:       code,
					MinDonation:     settings.MinDonation,
					StripeAccountID: settings.StripeAccountID,
					PayPalEmail:     settings.PayPalEmail,
					SatispayID:      settings.SatispayID,
					EventStartedAt:  now,
					CreatedAt:       now,
				}
				return transactionStore.CreateDJ(ctx, dj)
			})
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterDJ,
		DJID:      dj.ID,
		Error:     err,
	})
	if err != nil {
		return DJ{}, err
	}
	return dj, nil
}

// GetDJ loads a DJ account.
func (service *Service) GetDJ(ctx context.Context, djID DJID) (DJ, error) {
	return service.store.GetDJ(ctx, djID)
}

// DJByEventCode resolves a public event code to its DJ.
func (service *Service) DJByEventCode(ctx context.Context, rawCode string) (DJ, error) {
	code, err := NewEventCode(rawCode)
	if err != nil {
		return DJ{}, fmt.Errorf("%w: %v", ErrUnknownEvent, err)
	}
	dj, err := service.store.GetDJByEventCode(ctx, code)
	if errors.Is(err, ErrUnknownDJ) {
		return DJ{}, ErrUnknownEvent
	}
	return dj, err
}

// UpdateSettings replaces the DJ-editable account values.
func (service *Service) UpdateSettings(ctx context.Context, djID DJID, settings Settings) (DJ, error) {
	normalized, err := normalizeSettings(settings)
	var dj DJ
	if err == nil {
		err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.LockDJ(ctx, djID); err != nil {
				return err
			}
			if err := transactionStore.UpdateDJSettings(ctx, djID, normalized); err != nil {
				return err
			}
			updated, err := transactionStore.GetDJ(ctx, djID)
			dj = updated
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateSettings,
		DJID:      djID,
		Amount:    normalized.MinDonation,
		Error:     err,
	})
	if err != nil {
		return DJ{}, err
	}
	return dj, nil
}

// RecordProviderEvent stores a webhook notification. It never changes request or queue state.
func (service *Service) RecordProviderEvent(ctx context.Context, event ProviderEvent) error {
	var err error
	switch {
	case event.Provider != ProviderStripe && event.Provider != ProviderPayPal && event.Provider != ProviderSatispay:
		err = fmt.Errorf("%w: unknown provider %q", ErrInvalidProviderEvent, event.Provider)
	case strings.TrimSpace(event.Type) == "":
		err = fmt.Errorf("%w: missing type", ErrInvalidProviderEvent)
	default:
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = service.now()
		}
		err = service.store.InsertProviderEvent(ctx, event)
	}
	holdRef, _ := NewHoldRef(event.Reference)
	service.logOperation(ctx, OperationLog{
		Operation: operationProviderEvent,
		HoldRef:   holdRef,
		Error:     err,
	})
	return err
}

func (service *Service) allocateEventCode(ctx context.Context, store Store) (EventCode, error) {
	for attempt := 0; attempt < eventCodeAttempts; attempt++ {
		code, err := service.newEventCode()
		if err != nil {
			return EventCode{}, err
		}
		taken, err := store.EventCodeExists(ctx, code)
		if err != nil {
			return EventCode{}, err
		}
		if !taken {
			return code, nil
		}
	}
	return EventCode{}, WrapError("service", subjectEvent, codeCodeRetries, ErrEventCodeTaken)
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) publish(ctx context.Context, event LifecycleEvent) {
	if service.publisher == nil {
		return
	}
	event.OccurredAt = service.now()
	if err := service.publisher.Publish(ctx, event); err != nil && service.logger != nil {
		service.logger.LogOperation(ctx, OperationLog{
			Operation: "publish." + event.Type,
			Status:    operationStatusError,
			Error:     err,
		})
	}
}

func normalizeSettings(settings Settings) (Settings, error) {
	settings.Name = strings.TrimSpace(settings.Name)
	settings.StripeAccountID = strings.TrimSpace(settings.StripeAccountID)
	settings.PayPalEmail = strings.TrimSpace(settings.PayPalEmail)
	settings.SatispayID = strings.TrimSpace(settings.SatispayID)
	if settings.Name == "" || len(settings.Name) > maxNameLength {
		return settings, fmt.Errorf("%w: name is required", ErrInvalidSettings)
	}
	if settings.MinDonation < minMinDonation || settings.MinDonation > maxMinDonation {
		return settings, fmt.Errorf("%w: minimum donation must be between %d and %d cents", ErrInvalidSettings, minMinDonation, maxMinDonation)
	}
	if settings.PayPalEmail != "" {
		if _, err := mail.ParseAddress(settings.PayPalEmail); err != nil {
			return settings, fmt.Errorf("%w: paypal email", ErrInvalidSettings)
		}
	}
	return settings, nil
}
