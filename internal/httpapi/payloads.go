package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
)

type submitRequestPayload struct {
	SongTitle      string `json:"song_title"`
	ArtistName     string `json:"artist_name"`
	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`
	DonationCents  int64  `json:"donation_cents"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method"`
	HoldRef        string `json:"hold_ref"`
}

type settingsPayload struct {
	Name             string `json:"name"`
	MinDonationCents int64  `json:"min_donation_cents"`
	StripeAccountID  string `json:"stripe_account_id"`
	PayPalEmail      string `json:"paypal_email"`
	SatispayID       string `json:"satispay_id"`
}

type reorderPayload struct {
	ItemIDs []string `json:"item_ids"`
}

type requestResponse struct {
	ID              string    `json:"id"`
	SongTitle       string    `json:"song_title"`
	ArtistName      string    `json:"artist_name"`
	RequesterName   string    `json:"requester_name"`
	RequesterEmail  string    `json:"requester_email,omitempty"`
	DonationCents   int64     `json:"donation_cents,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	PaymentMethod   string    `json:"payment_method,omitempty"`
	HoldRef         string    `json:"hold_ref,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	TimeRemainingMS int64     `json:"time_remaining_ms"`
}

type queueItemResponse struct {
	ID         string           `json:"id"`
	RequestID  string           `json:"request_id"`
	Position   int              `json:"position"`
	Status     string           `json:"status"`
	AddedAt    time.Time        `json:"added_at"`
	PromotedAt *time.Time       `json:"promoted_at,omitempty"`
	PlayedAt   *time.Time       `json:"played_at,omitempty"`
	Request    *requestResponse `json:"request,omitempty"`
}

type djResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	EventCode        string    `json:"event_code"`
	MinDonationCents int64     `json:"min_donation_cents"`
	StripeAccountID  string    `json:"stripe_account_id,omitempty"`
	PayPalEmail      string    `json:"paypal_email,omitempty"`
	SatispayID       string    `json:"satispay_id,omitempty"`
	EventStartedAt   time.Time `json:"event_started_at"`
	CreatedAt        time.Time `json:"created_at"`
}

type publicEventResponse struct {
	Name             string `json:"name"`
	EventCode        string `json:"event_code"`
	MinDonationCents int64  `json:"min_donation_cents"`
}

type countsResponse struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
	Closed   int `json:"closed"`
}

type summaryResponse struct {
	ID                 string         `json:"id"`
	EventCode          string         `json:"event_code"`
	Requests           countsResponse `json:"requests"`
	PlayedSongs        int            `json:"played_songs"`
	SkippedSongs       int            `json:"skipped_songs"`
	TotalEarningsCents int64          `json:"total_earnings_cents"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            time.Time      `json:"ended_at"`
}

type statsResponse struct {
	Requests           countsResponse `json:"requests"`
	QueueLength        int            `json:"queue_length"`
	TotalEarningsCents int64          `json:"total_earnings_cents"`
	StartedAt          time.Time      `json:"started_at"`
}

func (server *Server) newRequestResponse(request djrequest.Request) requestResponse {
	return requestResponse{
		ID:              request.ID.String(),
		SongTitle:       request.SongTitle,
		ArtistName:      request.ArtistName,
		RequesterName:   request.RequesterName,
		RequesterEmail:  request.RequesterEmail,
		DonationCents:   request.DonationAmount.Int64(),
		Currency:        request.Currency.String(),
		PaymentMethod:   request.PaymentMethod.String(),
		HoldRef:         request.HoldRef.String(),
		Status:          request.Status.String(),
		CreatedAt:       request.CreatedAt,
		ExpiresAt:       server.service.RequestDeadline(request),
		TimeRemainingMS: server.service.TimeRemaining(request).Milliseconds(),
	}
}

func (server *Server) newRequestResponses(requests []djrequest.Request) []requestResponse {
	responses := make([]requestResponse, 0, len(requests))
	for _, request := range requests {
		responses = append(responses, server.newRequestResponse(request))
	}
	return responses
}

func newQueueItemResponse(item djrequest.QueueItem) queueItemResponse {
	return queueItemResponse{
		ID:         item.ID.String(),
		RequestID:  item.RequestID.String(),
		Position:   item.Position,
		Status:     item.Status.String(),
		AddedAt:    item.AddedAt,
		PromotedAt: optionalTime(item.PromotedAt),
		PlayedAt:   optionalTime(item.PlayedAt),
	}
}

func (server *Server) newQueueResponses(entries []djrequest.QueueEntry) []queueItemResponse {
	responses := make([]queueItemResponse, 0, len(entries))
	for _, entry := range entries {
		item := newQueueItemResponse(entry.Item)
		request := server.newRequestResponse(entry.Request)
		item.Request = &request
		responses = append(responses, item)
	}
	return responses
}

func newDJResponse(dj djrequest.DJ) djResponse {
	return djResponse{
		ID:               dj.ID.String(),
		Name:             dj.Name,
		EventCode:        dj.EventCode.String(),
		MinDonationCents: dj.MinDonation.Int64(),
		StripeAccountID:  dj.StripeAccountID,
		PayPalEmail:      dj.PayPalEmail,
		SatispayID:       dj.SatispayID,
		EventStartedAt:   dj.EventStartedAt,
		CreatedAt:        dj.CreatedAt,
	}
}

func newCountsResponse(counts djrequest.RequestCounts) countsResponse {
	return countsResponse{
		Total:    counts.Total,
		Pending:  counts.Pending,
		Accepted: counts.Accepted,
		Rejected: counts.Rejected,
		Expired:  counts.Expired,
		Closed:   counts.Closed,
	}
}

func newSummaryResponse(summary djrequest.EventSummary) summaryResponse {
	return summaryResponse{
		ID:                 summary.ID.String(),
		EventCode:          summary.EventCode.String(),
		Requests:           newCountsResponse(summary.Requests),
		PlayedSongs:        summary.PlayedSongs,
		SkippedSongs:       summary.SkippedSongs,
		TotalEarningsCents: summary.TotalEarnings.Int64(),
		StartedAt:          summary.StartedAt,
		EndedAt:            summary.EndedAt,
	}
}

func (payload settingsPayload) toSettings() djrequest.Settings {
	return djrequest.Settings{
		Name:            payload.Name,
		MinDonation:     djrequest.AmountCents(payload.MinDonationCents),
		StripeAccountID: payload.StripeAccountID,
		PayPalEmail:     payload.PayPalEmail,
		SatispayID:      payload.SatispayID,
	}
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
