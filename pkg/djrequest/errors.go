package djrequest

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of them.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrProviderFailure        = errors.New("provider failure")
	ErrAlreadyResolved        = errors.New("already resolved")
)

// Validation errors.
var (
	ErrBelowMinimum          = fmt.Errorf("%w: donation below minimum", ErrValidation)
	ErrInvalidAmountCents    = fmt.Errorf("%w: invalid amount cents", ErrValidation)
	ErrInvalidCurrency       = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrInvalidDJID           = fmt.Errorf("%w: invalid dj id", ErrValidation)
	ErrInvalidRequestID      = fmt.Errorf("%w: invalid request id", ErrValidation)
	ErrInvalidQueueItemID    = fmt.Errorf("%w: invalid queue item id", ErrValidation)
	ErrInvalidSummaryID      = fmt.Errorf("%w: invalid summary id", ErrValidation)
	ErrInvalidEventCode      = fmt.Errorf("%w: invalid event code", ErrValidation)
	ErrInvalidHoldRef        = fmt.Errorf("%w: invalid hold reference", ErrValidation)
	ErrInvalidPaymentMethod  = fmt.Errorf("%w: invalid payment method", ErrValidation)
	ErrInvalidRequestStatus  = fmt.Errorf("%w: invalid request status", ErrValidation)
	ErrInvalidQueueStatus    = fmt.Errorf("%w: invalid queue status", ErrValidation)
	ErrInvalidSongDetails    = fmt.Errorf("%w: song title and artist are required", ErrValidation)
	ErrInvalidRequester      = fmt.Errorf("%w: invalid requester", ErrValidation)
	ErrInvalidSettings       = fmt.Errorf("%w: invalid settings", ErrValidation)
	ErrInvalidServiceConfig  = fmt.Errorf("%w: invalid service config", ErrValidation)
	ErrInvalidProviderEvent  = fmt.Errorf("%w: invalid provider event", ErrValidation)
	ErrEventCodeTaken        = fmt.Errorf("%w: event code already in use", ErrValidation)
	ErrQueuePositionConflict = fmt.Errorf("%w: queue position already taken", ErrValidation)
)

// Lookup errors.
var (
	ErrUnknownDJ        = fmt.Errorf("%w: unknown dj", ErrNotFound)
	ErrUnknownEvent     = fmt.Errorf("%w: unknown event", ErrNotFound)
	ErrUnknownRequest   = fmt.Errorf("%w: unknown request", ErrNotFound)
	ErrUnknownQueueItem = fmt.Errorf("%w: unknown queue item", ErrNotFound)
)

// State precondition errors.
var (
	ErrExpired         = fmt.Errorf("%w: request expired", ErrInvalidStateTransition)
	ErrNotPending      = fmt.Errorf("%w: request is not pending", ErrInvalidStateTransition)
	ErrNotYetDue       = fmt.Errorf("%w: request has not reached its deadline", ErrInvalidStateTransition)
	ErrMissingHold     = fmt.Errorf("%w: request has no payment hold", ErrInvalidStateTransition)
	ErrQueueItemClosed = fmt.Errorf("%w: queue item already played or skipped", ErrInvalidStateTransition)
)

// Payment backend errors.
var (
	ErrProviderUnavailable = fmt.Errorf("%w: provider unavailable", ErrProviderFailure)
	ErrInvalidAmount       = fmt.Errorf("%w: amount rejected by provider", ErrProviderFailure)
	ErrHoldNotFound        = fmt.Errorf("%w: hold not found", ErrProviderFailure)
	ErrHoldAlreadyVoided   = fmt.Errorf("%w: hold already voided", ErrProviderFailure)
	ErrHoldAlreadyCaptured = fmt.Errorf("%w: hold already captured", ErrProviderFailure)
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// Kind returns the error kind sentinel err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{ErrAlreadyResolved, ErrValidation, ErrNotFound, ErrInvalidStateTransition, ErrProviderFailure} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// providerError marks an unclassified adapter error as ErrProviderUnavailable.
func providerError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderFailure) {
		return WrapError(operation, subjectPayment, codeProvider, err)
	}
	return WrapError(operation, subjectPayment, codeProvider, fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
}
