// Package storetest holds behavior every djrequest.Store implementation must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const blockedWindow = 150 * time.Millisecond

// Opener returns a migrated store. Stores may share tables across calls, so every
// case scopes its rows to a fresh DJ.
type Opener func(test *testing.T) djrequest.Store

// Run exercises the conditional transitions, row claims and queue staging of a store.
func Run(test *testing.T, open Opener) {
	test.Run("conditional request transitions", func(test *testing.T) { conditionalTransitions(test, open(test)) })
	test.Run("overdue paging", func(test *testing.T) { overduePaging(test, open(test)) })
	test.Run("claim blocks competing claim", func(test *testing.T) { claimBlocksCompetingClaim(test, open(test)) })
	test.Run("dj lock serializes writers", func(test *testing.T) { djLockSerializesWriters(test, open(test)) })
	test.Run("queue reorder staging", func(test *testing.T) { queueReorderStaging(test, open(test)) })
	test.Run("single now playing", func(test *testing.T) { singleNowPlaying(test, open(test)) })
	test.Run("finish queue item once", func(test *testing.T) { finishQueueItemOnce(test, open(test)) })
	test.Run("rollback discards writes", func(test *testing.T) { rollbackDiscardsWrites(test, open(test)) })
}

type seed struct {
	store  djrequest.Store
	dj     djrequest.DJ
	prefix string
	base   time.Time
}

func newSeed(test *testing.T, store djrequest.Store) *seed {
	test.Helper()
	prefix := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)
	djID, err := djrequest.NewDJID(prefix)
	require.NoError(test, err)
	code, err := djrequest.RandomEventCode()
	require.NoError(test, err)
	dj := djrequest.DJ{
		ID:             djID,
		Name:           "Contract DJ",
		EventCode:      code,
		MinDonation:    100,
		EventStartedAt: base,
		CreatedAt:      base,
	}
	require.NoError(test, store.CreateDJ(context.Background(), dj))
	seeded := &seed{store: store, dj: dj, prefix: prefix, base: base}
	test.Cleanup(func() {
		ctx := context.Background()
		_, _ = store.DeleteQueue(ctx, djID)
		_, _ = store.TransitionAllRequests(ctx, djID, djrequest.RequestStatusPending, djrequest.RequestStatusClosed)
	})
	return seeded
}

func (seeded *seed) request(test *testing.T, suffix string, createdAt time.Time) djrequest.Request {
	test.Helper()
	requestID, err := djrequest.NewRequestID(seeded.prefix + "-" + suffix)
	require.NoError(test, err)
	currency, err := djrequest.NewCurrency("EUR")
	require.NoError(test, err)
	holdRef, err := djrequest.NewHoldRef("hold-" + seeded.prefix + "-" + suffix)
	require.NoError(test, err)
	request := djrequest.Request{
		ID:             requestID,
		DJID:           seeded.dj.ID,
		SongTitle:      "Song " + suffix,
		ArtistName:     "Artist",
		RequesterName:  "Guest",
		DonationAmount: 500,
		Currency:       currency,
		PaymentMethod:  djrequest.PaymentMethodCard,
		HoldRef:        holdRef,
		Status:         djrequest.RequestStatusPending,
		CreatedAt:      createdAt,
	}
	require.NoError(test, seeded.store.CreateRequest(context.Background(), request))
	return request
}

func (seeded *seed) queueItem(test *testing.T, suffix string, position int) djrequest.QueueItem {
	test.Helper()
	request := seeded.request(test, suffix, seeded.base)
	require.NoError(test, seeded.store.TransitionRequest(context.Background(), request.ID, djrequest.RequestStatusPending, djrequest.RequestStatusAccepted, time.Time{}))
	itemID, err := djrequest.NewQueueItemID(seeded.prefix + "-item-" + suffix)
	require.NoError(test, err)
	item := djrequest.QueueItem{
		ID:        itemID,
		DJID:      seeded.dj.ID,
		RequestID: request.ID,
		Position:  position,
		Status:    djrequest.QueueStatusWaiting,
		AddedAt:   seeded.base,
	}
	require.NoError(test, seeded.store.CreateQueueItem(context.Background(), item))
	return item
}

func conditionalTransitions(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	ctx := context.Background()
	request := seeded.request(test, "guarded", seeded.base)

	err := store.TransitionRequest(ctx, request.ID, djrequest.RequestStatusPending, djrequest.RequestStatusAccepted, seeded.base.Add(time.Minute))
	require.ErrorIs(test, err, djrequest.ErrAlreadyResolved)

	require.NoError(test, store.TransitionRequest(ctx, request.ID, djrequest.RequestStatusPending, djrequest.RequestStatusAccepted, seeded.base.Add(-time.Minute)))
	err = store.TransitionRequest(ctx, request.ID, djrequest.RequestStatusPending, djrequest.RequestStatusRejected, time.Time{})
	require.ErrorIs(test, err, djrequest.ErrAlreadyResolved)
	require.ErrorIs(test, store.ClaimRequest(ctx, request.ID, seeded.base), djrequest.ErrAlreadyResolved)

	loaded, err := store.GetRequest(ctx, request.ID)
	require.NoError(test, err)
	require.Equal(test, djrequest.RequestStatusAccepted, loaded.Status)

	_, err = store.GetRequest(ctx, mustRequestID(test, seeded.prefix+"-missing"))
	require.ErrorIs(test, err, djrequest.ErrUnknownRequest)
}

func overduePaging(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	ctx := context.Background()
	oldest := seeded.request(test, "0-oldest", seeded.base.Add(-time.Minute))
	tiedC := seeded.request(test, "c", seeded.base)
	tiedA := seeded.request(test, "a", seeded.base)
	tiedB := seeded.request(test, "b", seeded.base)
	seeded.request(test, "fresh", seeded.base.Add(2*time.Hour))
	cutoff := seeded.base.Add(time.Hour)

	var collected []djrequest.RequestID
	var cursor djrequest.OverdueCursor
	for {
		page, err := store.ListPendingCreatedBefore(ctx, cutoff, cursor, 2)
		require.NoError(test, err)
		for _, request := range page {
			if request.DJID == seeded.dj.ID {
				collected = append(collected, request.ID)
			}
		}
		if len(page) < 2 {
			break
		}
		cursor = djrequest.CursorAfter(page[len(page)-1])
	}
	require.Equal(test, []djrequest.RequestID{oldest.ID, tiedA.ID, tiedB.ID, tiedC.ID}, collected)
}

func claimBlocksCompetingClaim(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	request := seeded.request(test, "claimed", seeded.base)

	contenderErr := requireBlockedUntilCommit(test, store,
		func(ctx context.Context, txStore djrequest.Store) error {
			return txStore.ClaimRequest(ctx, request.ID, seeded.base)
		},
		func(ctx context.Context, txStore djrequest.Store) error {
			return txStore.TransitionRequest(ctx, request.ID, djrequest.RequestStatusPending, djrequest.RequestStatusAccepted, time.Time{})
		},
		func(ctx context.Context, txStore djrequest.Store) error {
			return txStore.ClaimRequest(ctx, request.ID, seeded.base)
		},
	)
	require.ErrorIs(test, contenderErr, djrequest.ErrAlreadyResolved)
}

func djLockSerializesWriters(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	nextCode, err := djrequest.RandomEventCode()
	require.NoError(test, err)
	var observed djrequest.DJ

	contenderErr := requireBlockedUntilCommit(test, store,
		func(ctx context.Context, txStore djrequest.Store) error {
			_, err := txStore.LockDJ(ctx, seeded.dj.ID)
			return err
		},
		func(ctx context.Context, txStore djrequest.Store) error {
			return txStore.StartEvent(ctx, seeded.dj.ID, nextCode, seeded.base.Add(time.Hour))
		},
		func(ctx context.Context, txStore djrequest.Store) error {
			locked, err := txStore.LockDJ(ctx, seeded.dj.ID)
			observed = locked
			return err
		},
	)
	require.NoError(test, contenderErr)
	require.Equal(test, nextCode, observed.EventCode)
}

// requireBlockedUntilCommit opens a transaction that runs hold, starts contender in a
// second transaction, checks that contender cannot finish while the first one is open,
// then runs finish and commits. It returns the contender's error.
func requireBlockedUntilCommit(test *testing.T, store djrequest.Store, hold, finish, contender func(ctx context.Context, txStore djrequest.Store) error) error {
	test.Helper()
	ctx := context.Background()
	held := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- store.WithTx(ctx, func(ctx context.Context, txStore djrequest.Store) error {
			if err := hold(ctx, txStore); err != nil {
				return err
			}
			close(held)
			<-release
			return finish(ctx, txStore)
		})
	}()
	select {
	case <-held:
	case err := <-firstDone:
		test.Fatalf("first transaction ended early: %v", err)
	}

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- store.WithTx(ctx, contender)
	}()
	select {
	case err := <-secondDone:
		close(release)
		<-firstDone
		test.Fatalf("contender finished while the first transaction was open: %v", err)
	case <-time.After(blockedWindow):
	}
	close(release)
	require.NoError(test, <-firstDone)
	return <-secondDone
}

func queueReorderStaging(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	ctx := context.Background()
	first := seeded.queueItem(test, "first", 1)
	second := seeded.queueItem(test, "second", 2)
	third := seeded.queueItem(test, "third", 3)

	maxPosition, err := store.MaxQueuePosition(ctx, seeded.dj.ID)
	require.NoError(test, err)
	require.Equal(test, 3, maxPosition)

	require.NoError(test, store.WithTx(ctx, func(ctx context.Context, txStore djrequest.Store) error {
		return txStore.SetQueuePositions(ctx, seeded.dj.ID, []djrequest.QueueItemID{third.ID, first.ID, second.ID})
	}))
	entries, err := store.ListQueue(ctx, seeded.dj.ID)
	require.NoError(test, err)
	require.Len(test, entries, 3)
	for index, expected := range []djrequest.QueueItemID{third.ID, first.ID, second.ID} {
		require.Equal(test, expected, entries[index].Item.ID)
		require.Equal(test, index+1, entries[index].Item.Position)
		require.Equal(test, entries[index].Item.RequestID, entries[index].Request.ID)
	}

	request := seeded.request(test, "clash", seeded.base)
	clashID := mustQueueItemID(test, seeded.prefix+"-item-clash")
	err = store.CreateQueueItem(ctx, djrequest.QueueItem{
		ID:        clashID,
		DJID:      seeded.dj.ID,
		RequestID: request.ID,
		Position:  2,
		Status:    djrequest.QueueStatusWaiting,
		AddedAt:   seeded.base,
	})
	require.ErrorIs(test, err, djrequest.ErrQueuePositionConflict)
}

func singleNowPlaying(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	ctx := context.Background()
	first := seeded.queueItem(test, "first", 1)
	second := seeded.queueItem(test, "second", 2)

	require.NoError(test, store.PromoteQueueItem(ctx, first.ID, seeded.base))
	require.Error(test, store.PromoteQueueItem(ctx, second.ID, seeded.base))

	require.NoError(test, store.WithTx(ctx, func(ctx context.Context, txStore djrequest.Store) error {
		demoted, err := txStore.DemoteNowPlaying(ctx, seeded.dj.ID, second.ID)
		if err != nil {
			return err
		}
		if demoted != 1 {
			return errors.New("expected one demoted item")
		}
		return txStore.PromoteQueueItem(ctx, second.ID, seeded.base.Add(time.Minute))
	}))

	entries, err := store.ListQueue(ctx, seeded.dj.ID)
	require.NoError(test, err)
	playing := 0
	for _, entry := range entries {
		if entry.Item.Status == djrequest.QueueStatusNowPlaying {
			playing++
			require.Equal(test, second.ID, entry.Item.ID)
		}
	}
	require.Equal(test, 1, playing)
}

func finishQueueItemOnce(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	ctx := context.Background()
	item := seeded.queueItem(test, "played", 1)
	playedAt := seeded.base.Add(5 * time.Minute)

	require.NoError(test, store.ClaimQueueItem(ctx, item.ID, playedAt))
	require.NoError(test, store.FinishQueueItem(ctx, item.ID, djrequest.QueueStatusPlayed, playedAt))
	require.ErrorIs(test, store.FinishQueueItem(ctx, item.ID, djrequest.QueueStatusSkipped, playedAt), djrequest.ErrAlreadyResolved)
	require.ErrorIs(test, store.ClaimQueueItem(ctx, item.ID, playedAt), djrequest.ErrAlreadyResolved)

	loaded, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(test, err)
	require.Equal(test, djrequest.QueueStatusPlayed, loaded.Status)
	require.True(test, playedAt.Equal(loaded.PlayedAt))
}

func rollbackDiscardsWrites(test *testing.T, store djrequest.Store) {
	seeded := newSeed(test, store)
	ctx := context.Background()
	errAbort := errors.New("abort")
	var written djrequest.RequestID

	err := store.WithTx(ctx, func(ctx context.Context, txStore djrequest.Store) error {
		written = (&seed{store: txStore, dj: seeded.dj, prefix: seeded.prefix, base: seeded.base}).request(test, "rolled-back", seeded.base).ID
		return errAbort
	})
	require.ErrorIs(test, err, errAbort)
	_, err = store.GetRequest(ctx, written)
	require.ErrorIs(test, err, djrequest.ErrUnknownRequest)
}

func mustRequestID(test *testing.T, raw string) djrequest.RequestID {
	test.Helper()
	requestID, err := djrequest.NewRequestID(raw)
	require.NoError(test, err)
	return requestID
}

func mustQueueItemID(test *testing.T, raw string) djrequest.QueueItemID {
	test.Helper()
	itemID, err := djrequest.NewQueueItemID(raw)
	require.NoError(test, err)
	return itemID
}
