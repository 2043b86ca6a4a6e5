package djrequest

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// SubmitRequest validates a submission, places a hold unless one was supplied,
// and persists the request as PENDING.
func (service *Service) SubmitRequest(ctx context.Context, input SubmitRequestInput) (Request, error) {
	request, err := service.submitRequest(ctx, input)
	service.logOperation(ctx, OperationLog{
		Operation:     operationSubmit,
		DJID:          request.DJID,
		RequestID:     request.ID,
		Amount:        request.DonationAmount,
		PaymentMethod: request.PaymentMethod,
		HoldRef:       request.HoldRef,
		Error:         err,
	})
	if err != nil {
		return Request{}, err
	}
	service.publish(ctx, LifecycleEvent{
		Type:        EventRequestSubmitted,
		DJID:        request.DJID.String(),
		RequestID:   request.ID.String(),
		Status:      request.Status.String(),
		AmountCents: request.DonationAmount.Int64(),
	})
	return request, nil
}

func (service *Service) submitRequest(ctx context.Context, input SubmitRequestInput) (Request, error) {
	draft, err := service.draftRequest(input)
	if err != nil {
		return draft, err
	}
	dj, err := service.DJByEventCode(ctx, input.EventCode)
	if err != nil {
		return draft, err
	}
	draft.DJID = dj.ID
	if draft.DonationAmount < dj.MinDonation {
		return draft, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, draft.DonationAmount, dj.MinDonation)
	}
	var authorizedBy PaymentGateway
	if draft.HoldRef.IsZero() {
		gateway, err := service.gateways.Resolve(draft.PaymentMethod)
		if err != nil {
			return draft, providerError(operationSubmit, err)
		}
		holdRef, err := gateway.Authorize(ctx, draft.DonationAmount, draft.Currency)
		if err != nil {
			return draft, providerError(operationSubmit, err)
		}
		draft.HoldRef = holdRef
		authorizedBy = gateway
	}
	requestID, err := NewRequestID(service.newID())
	if err != nil {
		return draft, err
	}
	draft.ID = requestID
	draft.Status = RequestStatusPending
	draft.CreatedAt = service.now()
	if err := service.store.CreateRequest(ctx, draft); err != nil {
		// The request was never visible, so the hold placed above has no owner.
		if authorizedBy != nil {
			_, _ = authorizedBy.Void(ctx, draft.HoldRef)
		}
		return draft, err
	}
	return draft, nil
}

func (service *Service) draftRequest(input SubmitRequestInput) (Request, error) {
	var draft Request
	draft.SongTitle = strings.TrimSpace(input.SongTitle)
	draft.ArtistName = strings.TrimSpace(input.ArtistName)
	if draft.SongTitle == "" || draft.ArtistName == "" || len(draft.SongTitle) > maxNameLength || len(draft.ArtistName) > maxNameLength {
		return draft, ErrInvalidSongDetails
	}
	draft.RequesterName = strings.TrimSpace(input.RequesterName)
	if draft.RequesterName == "" || len(draft.RequesterName) > maxNameLength {
		return draft, fmt.Errorf("%w: name is required", ErrInvalidRequester)
	}
	draft.RequesterEmail = strings.TrimSpace(input.RequesterEmail)
	if draft.RequesterEmail != "" {
		address, err := mail.ParseAddress(draft.RequesterEmail)
		if err != nil {
			return draft, fmt.Errorf("%w: email", ErrInvalidRequester)
		}
		draft.RequesterEmail = address.Address
	}
	amount, err := NewPositiveAmountCents(input.DonationCents)
	if err != nil {
		return draft, err
	}
	draft.DonationAmount = amount
	draft.Currency = service.currency
	if strings.TrimSpace(input.Currency) != "" {
		currency, err := NewCurrency(input.Currency)
		if err != nil {
			return draft, err
		}
		draft.Currency = currency
	}
	method, err := ParsePaymentMethod(input.PaymentMethod)
	if err != nil {
		return draft, err
	}
	draft.PaymentMethod = method
	if strings.TrimSpace(input.HoldRef) != "" {
		holdRef, err := NewHoldRef(input.HoldRef)
		if err != nil {
			return draft, err
		}
		draft.HoldRef = holdRef
	}
	return draft, nil
}

// GetRequest returns a request owned by djID.
func (service *Service) GetRequest(ctx context.Context, djID DJID, requestID RequestID) (Request, error) {
	return loadOwnedRequest(ctx, service.store, djID, requestID)
}

// ListRequests returns the DJ's requests, newest first.
func (service *Service) ListRequests(ctx context.Context, djID DJID) ([]Request, error) {
	if _, err := service.store.GetDJ(ctx, djID); err != nil {
		return nil, err
	}
	return service.store.ListRequests(ctx, djID)
}

// PublicRequests returns the latest requests behind an event code, newest first,
// without requester contact details, donation amounts or hold references.
func (service *Service) PublicRequests(ctx context.Context, rawCode string) (DJ, []Request, error) {
	dj, err := service.DJByEventCode(ctx, rawCode)
	if err != nil {
		return DJ{}, nil, err
	}
	requests, err := service.store.ListRequests(ctx, dj.ID)
	if err != nil {
		return DJ{}, nil, err
	}
	if len(requests) > PublicRequestLimit {
		requests = requests[:PublicRequestLimit]
	}
	for index := range requests {
		requests[index].RequesterEmail = ""
		requests[index].DonationAmount = 0
		requests[index].HoldRef = HoldRef{}
	}
	return dj, requests, nil
}

// AcceptRequest flips a pending request to ACCEPTED and appends it to the queue
// in one transaction. Funds are not captured here.
func (service *Service) AcceptRequest(ctx context.Context, djID DJID, requestID RequestID) (QueueItem, error) {
	var item QueueItem
	var request Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.LockDJ(ctx, djID); err != nil {
			return err
		}
		loaded, err := loadOwnedRequest(ctx, transactionStore, djID, requestID)
		if err != nil {
			return err
		}
		request = loaded
		if request.Status != RequestStatusPending {
			return fmt.Errorf("%w: %s", ErrNotPending, request.Status)
		}
		if request.HoldRef.IsZero() {
			return ErrMissingHold
		}
		now := service.now()
		cutoff := now.Add(-service.window)
		if !request.CreatedAt.After(cutoff) {
			return ErrExpired
		}
		if err := transactionStore.TransitionRequest(ctx, requestID, RequestStatusPending, RequestStatusAccepted, cutoff); err != nil {
			return err
		}
		maxPosition, err := transactionStore.MaxQueuePosition(ctx, djID)
		if err != nil {
			return err
		}
		itemID, err := NewQueueItemID(service.newID())
		if err != nil {
			return err
		}
		item = QueueItem{
			ID:        itemID,
			DJID:      djID,
			RequestID: requestID,
			Position:  maxPosition + 1,
			Status:    QueueStatusWaiting,
			AddedAt:   now,
		}
		return transactionStore.CreateQueueItem(ctx, item)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationAccept,
		DJID:          djID,
		RequestID:     requestID,
		QueueItemID:   item.ID,
		Amount:        request.DonationAmount,
		PaymentMethod: request.PaymentMethod,
		HoldRef:       request.HoldRef,
		Error:         err,
	})
	if err != nil {
		return QueueItem{}, err
	}
	service.publish(ctx, LifecycleEvent{
		Type:        EventRequestAccepted,
		DJID:        djID.String(),
		RequestID:   requestID.String(),
		QueueItemID: item.ID.String(),
		Status:      RequestStatusAccepted.String(),
	})
	return item, nil
}

// RejectRequest voids the hold and then flips a pending request to REJECTED.
// When the void fails the request stays PENDING.
func (service *Service) RejectRequest(ctx context.Context, djID DJID, requestID RequestID) (Request, error) {
	request, err := service.releasePending(ctx, operationReject, requestID, func(loaded Request) error {
		if loaded.DJID != djID {
			return ErrUnknownRequest
		}
		return nil
	}, RequestStatusRejected)
	service.logOperation(ctx, OperationLog{
		Operation:     operationReject,
		DJID:          djID,
		RequestID:     requestID,
		Amount:        request.DonationAmount,
		PaymentMethod: request.PaymentMethod,
		HoldRef:       request.HoldRef,
		Error:         err,
	})
	if err != nil {
		return Request{}, err
	}
	service.publish(ctx, LifecycleEvent{
		Type:      EventRequestRejected,
		DJID:      djID.String(),
		RequestID: requestID.String(),
		Status:    request.Status.String(),
	})
	return request, nil
}

// ExpireRequest voids the hold of a pending request past its deadline and marks it EXPIRED.
func (service *Service) ExpireRequest(ctx context.Context, requestID RequestID) (Request, error) {
	request, err := service.releasePending(ctx, operationExpire, requestID, func(loaded Request) error {
		if service.now().Before(service.RequestDeadline(loaded)) {
			return ErrNotYetDue
		}
		return nil
	}, RequestStatusExpired)
	service.logOperation(ctx, OperationLog{
		Operation:     operationExpire,
		DJID:          request.DJID,
		RequestID:     requestID,
		Amount:        request.DonationAmount,
		PaymentMethod: request.PaymentMethod,
		HoldRef:       request.HoldRef,
		Error:         err,
	})
	if err != nil {
		return Request{}, err
	}
	service.publish(ctx, LifecycleEvent{
		Type:      EventRequestExpired,
		DJID:      request.DJID.String(),
		RequestID: requestID.String(),
		Status:    request.Status.String(),
	})
	return request, nil
}

// ListOverdue returns pending requests whose deadline has passed, oldest first,
// continuing after the cursor.
func (service *Service) ListOverdue(ctx context.Context, after OverdueCursor, limit int) ([]Request, error) {
	return service.store.ListPendingCreatedBefore(ctx, service.now().Add(-service.window), after, limit)
}

// releasePending claims a pending request, voids its hold and commits the target
// status. The DJ lock and the claim keep accept and rollup out until the commit, so a
// hold is never released after a competing accept has committed.
func (service *Service) releasePending(ctx context.Context, operation string, requestID RequestID, check func(Request) error, target RequestStatus) (Request, error) {
	var request Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		loaded, err := transactionStore.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		request = loaded
		if err := check(loaded); err != nil {
			return err
		}
		if loaded.Status != RequestStatusPending {
			return fmt.Errorf("%w: %s", ErrNotPending, loaded.Status)
		}
		if _, err := transactionStore.LockDJ(ctx, loaded.DJID); err != nil {
			return err
		}
		if err := transactionStore.ClaimRequest(ctx, requestID, service.now()); err != nil {
			return err
		}
		if !loaded.HoldRef.IsZero() {
			gateway, err := service.gateways.Resolve(loaded.PaymentMethod)
			if err != nil {
				return providerError(operation, err)
			}
			if _, err := gateway.Void(ctx, loaded.HoldRef); err != nil {
				return providerError(operation, err)
			}
		}
		if err := transactionStore.TransitionRequest(ctx, requestID, RequestStatusPending, target, time.Time{}); err != nil {
			return err
		}
		request.Status = target
		return nil
	})
	return request, err
}

func loadOwnedRequest(ctx context.Context, store Store, djID DJID, requestID RequestID) (Request, error) {
	request, err := store.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if request.DJID != djID {
		return Request{}, ErrUnknownRequest
	}
	return request, nil
}

// IsResolved reports whether err means another transition already settled the request.
func IsResolved(err error) bool {
	return errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrNotPending)
}
