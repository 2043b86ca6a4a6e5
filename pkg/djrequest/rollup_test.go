package djrequest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEndEventSummarizesAndResetsQueue(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	ctx := context.Background()
	firstPlayed := fixture.mustAccept(test, fixture.mustSubmit(test, 1000))
	secondPlayed := fixture.mustAccept(test, fixture.mustSubmit(test, 1500))
	skipped := fixture.mustAccept(test, fixture.mustSubmit(test, 700))
	waiting := fixture.mustSubmit(test, 400)
	fixture.mustAccept(test, waiting)
	pending := fixture.mustSubmit(test, 300)
	rejected := fixture.mustSubmit(test, 200)
	for _, item := range []QueueItem{firstPlayed, secondPlayed} {
		if _, err := fixture.service.MarkPlayed(ctx, fixture.dj.ID, item.ID); err != nil {
			test.Fatalf("mark played: %v", err)
		}
	}
	if _, err := fixture.service.Skip(ctx, fixture.dj.ID, skipped.ID); err != nil {
		test.Fatalf("skip: %v", err)
	}
	if _, err := fixture.service.RejectRequest(ctx, fixture.dj.ID, rejected.ID); err != nil {
		test.Fatalf("reject: %v", err)
	}
	fixture.clock.Advance(time.Hour)

	summary, err := fixture.service.EndEvent(ctx, fixture.dj.ID)
	if err != nil {
		test.Fatalf("end event: %v", err)
	}
	if summary.TotalEarnings != 2500 {
		test.Fatalf("expected earnings 2500, got %d", summary.TotalEarnings)
	}
	if summary.PlayedSongs != 2 || summary.SkippedSongs != 1 {
		test.Fatalf("unexpected song counts: %+v", summary)
	}
	expectedCounts := RequestCounts{Total: 6, Pending: 1, Accepted: 4, Rejected: 1}
	if summary.Requests != expectedCounts {
		test.Fatalf("expected counts %+v, got %+v", expectedCounts, summary.Requests)
	}
	if summary.EventCode != fixture.dj.EventCode || !summary.EndedAt.Equal(fixture.clock.Now()) || !summary.StartedAt.Equal(fixture.dj.EventStartedAt) {
		test.Fatalf("unexpected summary window: %+v", summary)
	}
	if len(fixture.store.items) != 0 {
		test.Fatalf("expected queue deleted, got %d items", len(fixture.store.items))
	}
	if fixture.store.mustRequest(test, pending.ID).Status != RequestStatusExpired {
		test.Fatalf("expected pending request expired")
	}
	if fixture.store.mustRequest(test, waiting.ID).Status != RequestStatusClosed {
		test.Fatalf("expected accepted request closed")
	}
	for _, released := range []Request{pending, waiting} {
		if state := fixture.gateway.state(released.HoldRef); state != holdVoided {
			test.Fatalf("expected hold %s voided after rollup, got %s", released.HoldRef, state)
		}
	}
	playedHold := fixture.store.mustRequest(test, firstPlayed.RequestID).HoldRef
	if state := fixture.gateway.state(playedHold); state != holdCaptured {
		test.Fatalf("expected played hold to stay captured, got %s", state)
	}

	next := fixture.mustAccept(test, fixture.mustSubmit(test, 500))
	if next.Position != 1 {
		test.Fatalf("expected fresh queue at position 1, got %d", next.Position)
	}
	stats, err := fixture.service.EventStats(ctx, fixture.dj.ID)
	if err != nil {
		test.Fatalf("stats: %v", err)
	}
	if stats.Requests.Total != 1 || stats.QueueLength != 1 || stats.TotalEarnings != 0 {
		test.Fatalf("expected fresh event stats, got %+v", stats)
	}
	summaries, err := fixture.service.ListEventSummaries(ctx, fixture.dj.ID)
	if err != nil || len(summaries) != 1 || summaries[0].ID != summary.ID {
		test.Fatalf("expected stored summary, got %+v, %v", summaries, err)
	}
}

func TestEndEventRollsBackOnFailure(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	item := fixture.mustAccept(test, fixture.mustSubmit(test, 1000))
	fixture.store.deleteQueueError = errStoreFailure

	if _, err := fixture.service.EndEvent(context.Background(), fixture.dj.ID); !errors.Is(err, errStoreFailure) {
		test.Fatalf(errorExpectedTemplate, errStoreFailure, err)
	}
	if len(fixture.store.summaries) != 0 {
		test.Fatalf("expected summary rolled back")
	}
	fixture.store.mustQueueItem(test, item.ID)
	if fixture.gateway.voids != 0 {
		test.Fatalf("expected no void after a failed rollup, got %d", fixture.gateway.voids)
	}
}

func TestEndEventSucceedsWhenHoldReleaseFails(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	fixture := newServiceFixture(test, 100, WithOperationLogger(logger))
	pending := fixture.mustSubmit(test, 800)
	fixture.gateway.voidErr = errors.New("gateway timeout")

	if _, err := fixture.service.EndEvent(context.Background(), fixture.dj.ID); err != nil {
		test.Fatalf("end event: %v", err)
	}
	if fixture.store.mustRequest(test, pending.ID).Status != RequestStatusExpired {
		test.Fatalf("expected pending request expired")
	}
	if fixture.gateway.state(pending.HoldRef) != holdHeld {
		test.Fatalf("expected hold left held after failed release")
	}
	entry := logger.last(test)
	if entry.Operation != operationReleaseHold || entry.RequestID != pending.ID || !errors.Is(entry.Error, ErrProviderUnavailable) {
		test.Fatalf("expected failed release to be logged, got %+v", entry)
	}
}

func TestRotateEventCodeAssignsFreshCode(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	fixture.mustAccept(test, fixture.mustSubmit(test, 1000))
	previous := fixture.dj.EventCode

	summary, dj, err := fixture.service.RotateEventCode(context.Background(), fixture.dj.ID)
	if err != nil {
		test.Fatalf("rotate: %v", err)
	}
	if summary.EventCode != previous {
		test.Fatalf("expected summary for %s, got %s", previous, summary.EventCode)
	}
	if dj.EventCode == previous || dj.EventCode.String() != "XYZ789" {
		test.Fatalf("expected new code, got %s", dj.EventCode)
	}
	if _, err := fixture.service.DJByEventCode(context.Background(), previous.String()); !errors.Is(err, ErrUnknownEvent) {
		test.Fatalf("expected old code to be retired, got %v", err)
	}
	input := validSubmission(dj.EventCode)
	if _, err := fixture.service.SubmitRequest(context.Background(), input); err != nil {
		test.Fatalf("submit with new code: %v", err)
	}
}

func TestRotateEventCodeRetriesTakenCodes(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	taken := mustDJID(test, "taken")
	takenCode, err := NewEventCode("XYZ789")
	if err != nil {
		test.Fatalf("event code: %v", err)
	}
	fixture.store.djs[taken] = DJ{ID: taken, EventCode: takenCode}

	_, dj, err := fixture.service.RotateEventCode(context.Background(), fixture.dj.ID)
	if err != nil {
		test.Fatalf("rotate: %v", err)
	}
	if dj.EventCode.String() != "QWE456" {
		test.Fatalf("expected next free code, got %s", dj.EventCode)
	}
}

func TestRealizedEarningsCountsPlayedOnly(test *testing.T) {
	test.Parallel()
	entries := []QueueEntry{
		{Item: QueueItem{Status: QueueStatusPlayed}, Request: Request{DonationAmount: 1000}},
		{Item: QueueItem{Status: QueueStatusPlayed}, Request: Request{DonationAmount: 1500}},
		{Item: QueueItem{Status: QueueStatusSkipped}, Request: Request{DonationAmount: 700}},
		{Item: QueueItem{Status: QueueStatusNowPlaying}, Request: Request{DonationAmount: 300}},
		{Item: QueueItem{Status: QueueStatusWaiting}, Request: Request{DonationAmount: 200}},
	}
	if total := RealizedEarnings(entries); total != 2500 {
		test.Fatalf("expected 2500, got %d", total)
	}
	if total := RealizedEarnings(nil); total != 0 {
		test.Fatalf("expected 0 for empty queue, got %d", total)
	}
}
