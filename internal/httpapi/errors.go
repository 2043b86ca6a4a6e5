package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var specificCodes = []struct {
	err  error
	code string
}{
	{djrequest.ErrBelowMinimum, "below_minimum"},
	{djrequest.ErrInvalidSongDetails, "invalid_song_details"},
	{djrequest.ErrInvalidRequester, "invalid_requester"},
	{djrequest.ErrInvalidPaymentMethod, "invalid_payment_method"},
	{djrequest.ErrInvalidAmountCents, "invalid_amount"},
	{djrequest.ErrUnknownEvent, "unknown_event"},
	{djrequest.ErrUnknownRequest, "unknown_request"},
	{djrequest.ErrUnknownQueueItem, "unknown_queue_item"},
	{djrequest.ErrUnknownDJ, "unknown_dj"},
	{djrequest.ErrExpired, "expired"},
	{djrequest.ErrNotPending, "not_pending"},
	{djrequest.ErrQueueItemClosed, "queue_item_closed"},
	{djrequest.ErrMissingHold, "missing_hold"},
	{djrequest.ErrHoldNotFound, "hold_not_found"},
	{djrequest.ErrHoldAlreadyVoided, "hold_already_voided"},
	{djrequest.ErrHoldAlreadyCaptured, "hold_already_captured"},
	{djrequest.ErrInvalidAmount, "amount_rejected"},
	{djrequest.ErrProviderUnavailable, "provider_unavailable"},
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch djrequest.Kind(err) {
	case djrequest.ErrValidation:
		return http.StatusBadRequest
	case djrequest.ErrNotFound:
		return http.StatusNotFound
	case djrequest.ErrInvalidStateTransition, djrequest.ErrAlreadyResolved:
		return http.StatusConflict
	case djrequest.ErrProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	for _, candidate := range specificCodes {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}
	switch djrequest.Kind(err) {
	case djrequest.ErrValidation:
		return "validation_error"
	case djrequest.ErrNotFound:
		return "not_found"
	case djrequest.ErrInvalidStateTransition:
		return "invalid_state_transition"
	case djrequest.ErrAlreadyResolved:
		return "already_resolved"
	case djrequest.ErrProviderFailure:
		return "provider_failure"
	default:
		return "internal_error"
	}
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		server.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		message = "internal error"
	}
	ctx.JSON(status, errorResponse(codeFor(err), message))
}
