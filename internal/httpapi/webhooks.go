package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = int64(65536)

type payPalNotification struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID string `json:"id"`
	} `json:"resource"`
}

type satispayNotification struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (server *Server) handleStripeWebhook(ctx *gin.Context) {
	if server.cfg.StripeWebhookSecret == "" {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("webhook_disabled", "stripe webhook secret is not configured"))
		return
	}
	payload, ok := readWebhookBody(ctx)
	if !ok {
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, ctx.GetHeader("Stripe-Signature"), server.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		server.logger.Warn("stripe webhook rejected", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "signature verification failed"))
		return
	}
	reference := ""
	if event.Data != nil {
		if id, isString := event.Data.Object["id"].(string); isString {
			reference = id
		}
	}
	server.recordProviderEvent(ctx, djrequest.ProviderEvent{
		Provider:  djrequest.ProviderStripe,
		Type:      string(event.Type),
		Reference: reference,
		Payload:   string(payload),
	})
}

func (server *Server) handlePayPalWebhook(ctx *gin.Context) {
	payload, ok := readWebhookBody(ctx)
	if !ok {
		return
	}
	var notification payPalNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	server.recordProviderEvent(ctx, djrequest.ProviderEvent{
		Provider:  djrequest.ProviderPayPal,
		Type:      notification.EventType,
		Reference: notification.Resource.ID,
		Payload:   string(payload),
	})
}

// handleSatispayWebhook accepts the payment callback. Satispay may only send the
// payment id as a query parameter, so the body is optional.
func (server *Server) handleSatispayWebhook(ctx *gin.Context) {
	payload, ok := readWebhookBody(ctx)
	if !ok {
		return
	}
	var notification satispayNotification
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &notification); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
			return
		}
	} else {
		payload = []byte("{}")
	}
	if notification.ID == "" {
		notification.ID = ctx.Query("payment_id")
	}
	eventType := "payment.callback"
	if notification.Status != "" {
		eventType = "payment." + strings.ToLower(notification.Status)
	}
	server.recordProviderEvent(ctx, djrequest.ProviderEvent{
		Provider:  djrequest.ProviderSatispay,
		Type:      eventType,
		Reference: notification.ID,
		Payload:   string(payload),
	})
}

func (server *Server) recordProviderEvent(ctx *gin.Context, event djrequest.ProviderEvent) {
	if err := server.service.RecordProviderEvent(ctx.Request.Context(), event); err != nil {
		server.respondError(ctx, err)
		return
	}
	server.logger.Info("provider webhook received",
		zap.String("provider", event.Provider.String()),
		zap.String("type", event.Type),
		zap.String("reference", event.Reference),
	)
	ctx.JSON(http.StatusOK, gin.H{"received": true})
}

func readWebhookBody(ctx *gin.Context) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBody))
	if err != nil {
		ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse("invalid_payload", "body too large"))
		return nil, false
	}
	return payload, true
}
