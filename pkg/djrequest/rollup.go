package djrequest

import "context"

// EndEvent snapshots the current event into an EventSummary and resets the queue,
// keeping the event code.
func (service *Service) EndEvent(ctx context.Context, djID DJID) (EventSummary, error) {
	summary, _, err := service.rollup(ctx, operationEndEvent, djID, false)
	return summary, err
}

// RotateEventCode ends the current event and assigns a fresh event code.
func (service *Service) RotateEventCode(ctx context.Context, djID DJID) (EventSummary, DJ, error) {
	return service.rollup(ctx, operationRotateEventCode, djID, true)
}

// EventStats reports live counts for the current event.
func (service *Service) EventStats(ctx context.Context, djID DJID) (EventStats, error) {
	dj, err := service.store.GetDJ(ctx, djID)
	if err != nil {
		return EventStats{}, err
	}
	counts, err := service.store.CountRequests(ctx, djID, dj.EventStartedAt)
	if err != nil {
		return EventStats{}, err
	}
	entries, err := service.store.ListQueue(ctx, djID)
	if err != nil {
		return EventStats{}, err
	}
	queueLength := 0
	for _, entry := range entries {
		if entry.Item.Status.IsOpen() {
			queueLength++
		}
	}
	return EventStats{
		Requests:      counts,
		QueueLength:   queueLength,
		TotalEarnings: RealizedEarnings(entries),
		StartedAt:     dj.EventStartedAt,
	}, nil
}

// ListEventSummaries returns past events of the DJ, newest first.
func (service *Service) ListEventSummaries(ctx context.Context, djID DJID) ([]EventSummary, error) {
	if _, err := service.store.GetDJ(ctx, djID); err != nil {
		return nil, err
	}
	return service.store.ListEventSummaries(ctx, djID)
}

func (service *Service) rollup(ctx context.Context, operation string, djID DJID, rotate bool) (EventSummary, DJ, error) {
	var summary EventSummary
	var dj DJ
	var unresolved []Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockDJ(ctx, djID)
		if err != nil {
			return err
		}
		dj = locked
		counts, err := transactionStore.CountRequests(ctx, djID, locked.EventStartedAt)
		if err != nil {
			return err
		}
		entries, err := transactionStore.ListQueue(ctx, djID)
		if err != nil {
			return err
		}
		unresolved, err = unresolvedHolds(ctx, transactionStore, djID, entries)
		if err != nil {
			return err
		}
		played, skipped := countFinished(entries)
		summaryID, err := NewSummaryID(service.newID())
		if err != nil {
			return err
		}
		now := service.now()
		summary = EventSummary{
			ID:            summaryID,
			DJID:          djID,
			EventCode:     locked.EventCode,
			Requests:      counts,
			PlayedSongs:   played,
			SkippedSongs:  skipped,
			TotalEarnings: RealizedEarnings(entries),
			StartedAt:     locked.EventStartedAt,
			EndedAt:       now,
		}
		if err := transactionStore.CreateEventSummary(ctx, summary); err != nil {
			return err
		}
		if _, err := transactionStore.DeleteQueue(ctx, djID); err != nil {
			return err
		}
		if _, err := transactionStore.TransitionAllRequests(ctx, djID, RequestStatusPending, RequestStatusExpired); err != nil {
			return err
		}
		if _, err := transactionStore.TransitionAllRequests(ctx, djID, RequestStatusAccepted, RequestStatusClosed); err != nil {
			return err
		}
		nextCode := locked.EventCode
		if rotate {
			nextCode, err = service.allocateEventCode(ctx, transactionStore)
			if err != nil {
				return err
			}
		}
		if err := transactionStore.StartEvent(ctx, djID, nextCode, now); err != nil {
			return err
		}
		dj.EventCode = nextCode
		dj.EventStartedAt = now
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operation,
		DJID:      djID,
		Amount:    summary.TotalEarnings,
		Error:     err,
	})
	if err != nil {
		return EventSummary{}, DJ{}, err
	}
	service.releaseHolds(ctx, unresolved)
	eventType := EventEnded
	if rotate {
		eventType = EventCodeRotated
	}
	service.publish(ctx, LifecycleEvent{
		Type:        eventType,
		DJID:        djID.String(),
		EventCode:   dj.EventCode.String(),
		AmountCents: summary.TotalEarnings.Int64(),
	})
	return summary, dj, nil
}


// unresolvedHolds returns the requests whose holds a rollup leaves without a capture:
// pending requests and the requests behind open queue items.
func unresolvedHolds(ctx context.Context, store Store, djID DJID, entries []QueueEntry) ([]Request, error) {
	requests, err := store.ListRequests(ctx, djID)
	if err != nil {
		return nil, err
	}
	var unresolved []Request
	for _, request := range requests {
		if request.Status == RequestStatusPending && !request.HoldRef.IsZero() {
			unresolved = append(unresolved, request)
		}
	}
	for _, entry := range entries {
		if entry.Item.Status.IsOpen() && !entry.Request.HoldRef.IsZero() {
			unresolved = append(unresolved, entry.Request)
		}
	}
	return unresolved, nil
}

// releaseHolds voids holds after a rollup committed. Failures are logged and left to
// lapse at the provider; the rollup itself has already succeeded.
func (service *Service) releaseHolds(ctx context.Context, requests []Request) {
	for _, request := range requests {
		gateway, err := service.gateways.Resolve(request.PaymentMethod)
		if err == nil {
			_, err = gateway.Void(ctx, request.HoldRef)
		}
		if err != nil {
			err = providerError(operationReleaseHold, err)
		}
		service.logOperation(ctx, OperationLog{
			Operation:     operationReleaseHold,
			DJID:          request.DJID,
			RequestID:     request.ID,
			Amount:        request.DonationAmount,
			PaymentMethod: request.PaymentMethod,
			HoldRef:       request.HoldRef,
			Error:         err,
		})
	}
}
