package djrequest

import (
	"context"
	"fmt"
)

// Queue returns the DJ's queue ordered by position with realized earnings.
func (service *Service) Queue(ctx context.Context, djID DJID) (QueueView, error) {
	entries, err := service.store.ListQueue(ctx, djID)
	if err != nil {
		return QueueView{}, err
	}
	return QueueView{Entries: entries, TotalEarnings: RealizedEarnings(entries)}, nil
}

// PublicQueue returns the queue behind an event code without requester contact
// details or donation amounts.
func (service *Service) PublicQueue(ctx context.Context, rawCode string) (DJ, []QueueEntry, error) {
	dj, err := service.DJByEventCode(ctx, rawCode)
	if err != nil {
		return DJ{}, nil, err
	}
	entries, err := service.store.ListQueue(ctx, dj.ID)
	if err != nil {
		return DJ{}, nil, err
	}
	for index := range entries {
		entries[index].Request.RequesterEmail = ""
		entries[index].Request.DonationAmount = 0
		entries[index].Request.HoldRef = HoldRef{}
	}
	return dj, entries, nil
}

// SetNowPlaying demotes the current NOW_PLAYING item of the DJ and promotes itemID
// in one transaction.
func (service *Service) SetNowPlaying(ctx context.Context, djID DJID, itemID QueueItemID) (QueueItem, error) {
	var item QueueItem
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.LockDJ(ctx, djID); err != nil {
			return err
		}
		loaded, err := loadOwnedQueueItem(ctx, transactionStore, djID, itemID)
		if err != nil {
			return err
		}
		if !loaded.Status.IsOpen() {
			return fmt.Errorf("%w: %s", ErrQueueItemClosed, loaded.Status)
		}
		if _, err := transactionStore.DemoteNowPlaying(ctx, djID, itemID); err != nil {
			return err
		}
		now := service.now()
		if err := transactionStore.PromoteQueueItem(ctx, itemID, now); err != nil {
			return err
		}
		loaded.Status = QueueStatusNowPlaying
		loaded.PromotedAt = now
		item = loaded
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationSetNowPlaying,
		DJID:        djID,
		RequestID:   item.RequestID,
		QueueItemID: itemID,
		Error:       err,
	})
	if err != nil {
		return QueueItem{}, err
	}
	service.publish(ctx, LifecycleEvent{
		Type:        EventQueueNowPlaying,
		DJID:        djID.String(),
		RequestID:   item.RequestID.String(),
		QueueItemID: itemID.String(),
		Status:      item.Status.String(),
	})
	return item, nil
}

// MarkPlayed captures the hold behind the item and only then marks it PLAYED.
func (service *Service) MarkPlayed(ctx context.Context, djID DJID, itemID QueueItemID) (QueueItem, error) {
	return service.finishQueueItem(ctx, operationMarkPlayed, djID, itemID, QueueStatusPlayed)
}

// Skip voids the hold behind the item and only then marks it SKIPPED.
func (service *Service) Skip(ctx context.Context, djID DJID, itemID QueueItemID) (QueueItem, error) {
	return service.finishQueueItem(ctx, operationSkip, djID, itemID, QueueStatusSkipped)
}

func (service *Service) finishQueueItem(ctx context.Context, operation string, djID DJID, itemID QueueItemID, target QueueStatus) (QueueItem, error) {
	var item QueueItem
	var request Request
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		// Rollup reads the queue under the same lock, so a capture is never lost from a summary.
		if _, err := transactionStore.LockDJ(ctx, djID); err != nil {
			return err
		}
		loaded, err := loadOwnedQueueItem(ctx, transactionStore, djID, itemID)
		if err != nil {
			return err
		}
		item = loaded
		if !loaded.Status.IsOpen() {
			return fmt.Errorf("%w: %s", ErrQueueItemClosed, loaded.Status)
		}
		request, err = transactionStore.GetRequest(ctx, loaded.RequestID)
		if err != nil {
			return err
		}
		if request.HoldRef.IsZero() {
			return ErrMissingHold
		}
		now := service.now()
		if err := transactionStore.ClaimQueueItem(ctx, itemID, now); err != nil {
			return err
		}
		gateway, err := service.gateways.Resolve(request.PaymentMethod)
		if err != nil {
			return providerError(operation, err)
		}
		if target == QueueStatusPlayed {
			if _, err := gateway.Capture(ctx, request.HoldRef); err != nil {
				return providerError(operation, err)
			}
		} else {
			if _, err := gateway.Void(ctx, request.HoldRef); err != nil {
				return providerError(operation, err)
			}
		}
		if err := transactionStore.FinishQueueItem(ctx, itemID, target, now); err != nil {
			return err
		}
		item.Status = target
		if target == QueueStatusPlayed {
			item.PlayedAt = now
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operation,
		DJID:          djID,
		RequestID:     request.ID,
		QueueItemID:   itemID,
		Amount:        request.DonationAmount,
		PaymentMethod: request.PaymentMethod,
		HoldRef:       request.HoldRef,
		Error:         err,
	})
	if err != nil {
		return QueueItem{}, err
	}
	eventType := EventQueueSkipped
	if target == QueueStatusPlayed {
		eventType = EventQueuePlayed
	}
	service.publish(ctx, LifecycleEvent{
		Type:        eventType,
		DJID:        djID.String(),
		RequestID:   request.ID.String(),
		QueueItemID: itemID.String(),
		Status:      target.String(),
		AmountCents: request.DonationAmount.Int64(),
	})
	return item, nil
}

// Reorder assigns positions 1..n to orderedIDs in order. Ids the DJ does not own are
// ignored and the DJ's unlisted items keep their relative order after the listed ones.
func (service *Service) Reorder(ctx context.Context, djID DJID, orderedIDs []QueueItemID) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.LockDJ(ctx, djID); err != nil {
			return err
		}
		current, err := transactionStore.ListQueue(ctx, djID)
		if err != nil {
			return err
		}
		order := mergeQueueOrder(current, orderedIDs)
		if err := transactionStore.SetQueuePositions(ctx, djID, order); err != nil {
			return err
		}
		entries, err = transactionStore.ListQueue(ctx, djID)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReorder,
		DJID:      djID,
		Error:     err,
	})
	if err != nil {
		return nil, err
	}
	service.publish(ctx, LifecycleEvent{Type: EventQueueReordered, DJID: djID.String()})
	return entries, nil
}

// ReconcileNowPlaying keeps only the most recently promoted NOW_PLAYING item of the DJ.
// It returns the number of items demoted.
func (service *Service) ReconcileNowPlaying(ctx context.Context, djID DJID) (int64, error) {
	var demoted int64
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.LockDJ(ctx, djID); err != nil {
			return err
		}
		entries, err := transactionStore.ListQueue(ctx, djID)
		if err != nil {
			return err
		}
		var keep QueueItem
		playing := 0
		for _, entry := range entries {
			if entry.Item.Status != QueueStatusNowPlaying {
				continue
			}
			playing++
			if playing == 1 || promotedLater(entry.Item, keep) {
				keep = entry.Item
			}
		}
		if playing < 2 {
			return nil
		}
		demoted, err = transactionStore.DemoteNowPlaying(ctx, djID, keep.ID)
		return err
	})
	if err != nil || demoted > 0 {
		service.logOperation(ctx, OperationLog{
			Operation: operationReconcile,
			DJID:      djID,
			Error:     err,
		})
	}
	return demoted, err
}

// ReconcileAll runs ReconcileNowPlaying for every DJ and returns the first error.
func (service *Service) ReconcileAll(ctx context.Context) error {
	djIDs, err := service.store.ListDJIDs(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, djID := range djIDs {
		if _, err := service.ReconcileNowPlaying(ctx, djID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func mergeQueueOrder(current []QueueEntry, orderedIDs []QueueItemID) []QueueItemID {
	owned := make(map[QueueItemID]bool, len(current))
	for _, entry := range current {
		owned[entry.Item.ID] = true
	}
	placed := make(map[QueueItemID]bool, len(current))
	order := make([]QueueItemID, 0, len(current))
	for _, itemID := range orderedIDs {
		if !owned[itemID] || placed[itemID] {
			continue
		}
		placed[itemID] = true
		order = append(order, itemID)
	}
	for _, entry := range current {
		if placed[entry.Item.ID] {
			continue
		}
		order = append(order, entry.Item.ID)
	}
	return order
}

func promotedLater(candidate QueueItem, current QueueItem) bool {
	if !candidate.PromotedAt.Equal(current.PromotedAt) {
		return candidate.PromotedAt.After(current.PromotedAt)
	}
	return candidate.Position > current.Position
}

func loadOwnedQueueItem(ctx context.Context, store Store, djID DJID, itemID QueueItemID) (QueueItem, error) {
	item, err := store.GetQueueItem(ctx, itemID)
	if err != nil {
		return QueueItem{}, err
	}
	if item.DJID != djID {
		return QueueItem{}, ErrUnknownQueueItem
	}
	return item, nil
}

