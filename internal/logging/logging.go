// Package logging adapts djrequest operation logs and process logging to zap.
package logging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"go.uber.org/zap"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New builds the process logger. Console format is for local development.
func New(format string) (*zap.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return zap.NewProduction()
	case FormatConsole:
		return zap.NewDevelopment()
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
}

// OperationLogger writes one zap entry per service operation.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wraps logger. A nil logger discards entries.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

// LogOperation logs ok at Info, caller errors and lost races at Warn, and provider
// or storage failures at Error.
func (operationLogger *OperationLogger) LogOperation(ctx context.Context, entry djrequest.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	fields = appendNonEmpty(fields, "dj_id", entry.DJID.String())
	fields = appendNonEmpty(fields, "request_id", entry.RequestID.String())
	fields = appendNonEmpty(fields, "queue_item_id", entry.QueueItemID.String())
	fields = appendNonEmpty(fields, "payment_method", entry.PaymentMethod.String())
	fields = appendNonEmpty(fields, "hold_ref", entry.HoldRef.String())
	if entry.Amount > 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Error == nil {
		operationLogger.logger.Info("operation", fields...)
		return
	}
	fields = append(fields, zap.Error(entry.Error))
	if kind := djrequest.Kind(entry.Error); kind != nil {
		fields = append(fields, zap.String("error_kind", kind.Error()))
	}
	switch {
	case errors.Is(entry.Error, djrequest.ErrAlreadyResolved),
		errors.Is(entry.Error, djrequest.ErrValidation),
		errors.Is(entry.Error, djrequest.ErrNotFound),
		errors.Is(entry.Error, djrequest.ErrInvalidStateTransition):
		operationLogger.logger.Warn("operation", fields...)
	default:
		operationLogger.logger.Error("operation", fields...)
	}
}

func appendNonEmpty(fields []zap.Field, key string, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}

var _ djrequest.OperationLogger = (*OperationLogger)(nil)
