package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrCodeSize = 256

func (server *Server) handleRegisterDJ(ctx *gin.Context) {
	var payload settingsPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	dj, err := server.service.RegisterDJ(ctx.Request.Context(), djrequest.RegisterDJInput{Settings: payload.toSettings()})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newDJResponse(dj))
}

func (server *Server) handleSubmitRequest(ctx *gin.Context) {
	var payload submitRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	request, err := server.service.SubmitRequest(ctx.Request.Context(), djrequest.SubmitRequestInput{
		EventCode:      ctx.Param("code"),
		SongTitle:      payload.SongTitle,
		ArtistName:     payload.ArtistName,
		RequesterName:  payload.RequesterName,
		RequesterEmail: payload.RequesterEmail,
		DonationCents:  payload.DonationCents,
		Currency:       payload.Currency,
		PaymentMethod:  payload.PaymentMethod,
		HoldRef:        payload.HoldRef,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, server.newRequestResponse(request))
}

func (server *Server) handlePublicQueue(ctx *gin.Context) {
	dj, entries, err := server.service.PublicQueue(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	for index := range entries {
		entries[index].Request.PaymentMethod = ""
		entries[index].Request.Currency = djrequest.Currency{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"event": publicEventResponse{
			Name:             dj.Name,
			EventCode:        dj.EventCode.String(),
			MinDonationCents: dj.MinDonation.Int64(),
		},
		"queue": server.newQueueResponses(entries),
	})
}

func (server *Server) handlePublicRequests(ctx *gin.Context) {
	_, requests, err := server.service.PublicRequests(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	for index := range requests {
		requests[index].PaymentMethod = ""
		requests[index].Currency = djrequest.Currency{}
	}
	ctx.JSON(http.StatusOK, gin.H{"requests": server.newRequestResponses(requests)})
}

func (server *Server) handleLive(ctx *gin.Context) {
	if server.hub == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("live_unavailable", "live feed is disabled"))
		return
	}
	dj, err := server.service.DJByEventCode(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	conn, err := server.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		server.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	server.hub.Attach(conn, dj.ID)
}

func (server *Server) handleListRequests(ctx *gin.Context) {
	requests, err := server.service.ListRequests(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if status := strings.TrimSpace(ctx.Query("status")); status != "" {
		requests = filterRequests(requests, djrequest.RequestStatus(strings.ToUpper(status)))
	}
	ctx.JSON(http.StatusOK, gin.H{"requests": server.newRequestResponses(requests)})
}

func (server *Server) handleAcceptRequest(ctx *gin.Context) {
	requestID, err := djrequest.NewRequestID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	item, err := server.service.AcceptRequest(ctx.Request.Context(), currentDJ(ctx), requestID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newQueueItemResponse(item))
}

func (server *Server) handleRejectRequest(ctx *gin.Context) {
	requestID, err := djrequest.NewRequestID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	request, err := server.service.RejectRequest(ctx.Request.Context(), currentDJ(ctx), requestID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, server.newRequestResponse(request))
}

func (server *Server) handleQueue(ctx *gin.Context) {
	view, err := server.service.Queue(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"queue":                server.newQueueResponses(view.Entries),
		"total_earnings_cents": view.TotalEarnings.Int64(),
	})
}

func (server *Server) handleReorder(ctx *gin.Context) {
	var payload reorderPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	ordered := make([]djrequest.QueueItemID, 0, len(payload.ItemIDs))
	for _, rawID := range payload.ItemIDs {
		itemID, err := djrequest.NewQueueItemID(rawID)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		ordered = append(ordered, itemID)
	}
	entries, err := server.service.Reorder(ctx.Request.Context(), currentDJ(ctx), ordered)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"queue": server.newQueueResponses(entries)})
}

func (server *Server) handleNowPlaying(ctx *gin.Context) {
	server.handleQueueTransition(ctx, server.service.SetNowPlaying)
}

func (server *Server) handleMarkPlayed(ctx *gin.Context) {
	server.handleQueueTransition(ctx, server.service.MarkPlayed)
}

func (server *Server) handleSkip(ctx *gin.Context) {
	server.handleQueueTransition(ctx, server.service.Skip)
}

type queueTransition func(context.Context, djrequest.DJID, djrequest.QueueItemID) (djrequest.QueueItem, error)

func (server *Server) handleQueueTransition(ctx *gin.Context, transition queueTransition) {
	itemID, err := djrequest.NewQueueItemID(ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	item, err := transition(ctx.Request.Context(), currentDJ(ctx), itemID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newQueueItemResponse(item))
}

func (server *Server) handleEndEvent(ctx *gin.Context) {
	summary, err := server.service.EndEvent(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"summary": newSummaryResponse(summary)})
}

func (server *Server) handleRotateEvent(ctx *gin.Context) {
	summary, dj, err := server.service.RotateEventCode(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"summary":  newSummaryResponse(summary),
		"dj":       newDJResponse(dj),
		"join_url": server.joinURL(dj.EventCode),
	})
}

func (server *Server) handleEventQR(ctx *gin.Context) {
	dj, err := server.service.GetDJ(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	png, err := qrcode.Encode(server.joinURL(dj.EventCode), qrcode.Medium, qrCodeSize)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

func (server *Server) handleSummaries(ctx *gin.Context) {
	summaries, err := server.service.ListEventSummaries(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	responses := make([]summaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		responses = append(responses, newSummaryResponse(summary))
	}
	ctx.JSON(http.StatusOK, gin.H{"summaries": responses})
}

func (server *Server) handleStats(ctx *gin.Context) {
	stats, err := server.service.EventStats(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, statsResponse{
		Requests:           newCountsResponse(stats.Requests),
		QueueLength:        stats.QueueLength,
		TotalEarningsCents: stats.TotalEarnings.Int64(),
		StartedAt:          stats.StartedAt,
	})
}

func (server *Server) handleGetSettings(ctx *gin.Context) {
	dj, err := server.service.GetDJ(ctx.Request.Context(), currentDJ(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newDJResponse(dj))
}

func (server *Server) handleUpdateSettings(ctx *gin.Context) {
	var payload settingsPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	dj, err := server.service.UpdateSettings(ctx.Request.Context(), currentDJ(ctx), payload.toSettings())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newDJResponse(dj))
}

func (server *Server) joinURL(code djrequest.EventCode) string {
	return strings.TrimRight(server.cfg.PublicBaseURL, "/") + "/e/" + code.String()
}

func filterRequests(requests []djrequest.Request, status djrequest.RequestStatus) []djrequest.Request {
	filtered := make([]djrequest.Request, 0, len(requests))
	for _, request := range requests {
		if request.Status == status {
			filtered = append(filtered, request)
		}
	}
	return filtered
}
