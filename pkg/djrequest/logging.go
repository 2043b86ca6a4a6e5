package djrequest

import (
	"context"
	"fmt"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation.
type OperationLog struct {
	Operation     string
	DJID          DJID
	RequestID     RequestID
	QueueItemID   QueueItemID
	Amount        AmountCents
	PaymentMethod PaymentMethod
	HoldRef       HoldRef
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires a publisher for lifecycle events.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithExpirationWindow overrides DefaultExpirationWindow.
func WithExpirationWindow(window time.Duration) ServiceOption {
	return func(service *Service) {
		service.window = window
	}
}

// WithDefaultCurrency overrides DefaultCurrency.
func WithDefaultCurrency(currency Currency) ServiceOption {
	return func(service *Service) {
		service.currency = currency
	}
}

// WithIDGenerator replaces the random identifier source.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		service.newID = generate
	}
}

// WithEventCodeGenerator replaces the random event code source.
func WithEventCodeGenerator(generate func() (EventCode, error)) ServiceOption {
	return func(service *Service) {
		service.newEventCode = generate
	}
}

func validateOptions(service *Service) error {
	if service.window <= 0 {
		return fmt.Errorf("%w: expiration window must be positive", ErrInvalidServiceConfig)
	}
	if service.currency.String() == "" {
		return fmt.Errorf("%w: default currency is empty", ErrInvalidServiceConfig)
	}
	if service.newID == nil || service.newEventCode == nil {
		return fmt.Errorf("%w: generator dependency is nil", ErrInvalidServiceConfig)
	}
	return nil
}
