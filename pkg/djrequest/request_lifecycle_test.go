package djrequest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	caseMissingTitle      = "missing title"
	caseMissingRequester  = "missing requester"
	caseBadEmail          = "bad email"
	caseZeroAmount        = "zero amount"
	caseBadMethod         = "bad method"
	caseBadCurrency       = "bad currency"
	caseUnknownEventCode  = "unknown event code"
	caseBelowMinimum      = "below minimum"
	caseAuthorizeFailure  = "authorize failure"
	caseStoreFailure      = "store failure"
	errorExpectedTemplate = "expected %v, got %v"
)

func validSubmission(code EventCode) SubmitRequestInput {
	return SubmitRequestInput{
		EventCode:     code.String(),
		SongTitle:     "Around the World",
		ArtistName:    "Daft Punk",
		RequesterName: "Sam",
		DonationCents: 1000,
		PaymentMethod: PaymentMethodCard.String(),
	}
}

func TestSubmitRequestRejectsBelowMinimumWithoutHold(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 500)
	input := validSubmission(fixture.dj.EventCode)
	input.DonationCents = 300

	_, err := fixture.service.SubmitRequest(context.Background(), input)
	if !errors.Is(err, ErrBelowMinimum) {
		test.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		test.Fatalf("expected validation kind, got %v", err)
	}
	if fixture.gateway.authorizes != 0 {
		test.Fatalf("expected no authorize call, got %d", fixture.gateway.authorizes)
	}
	if len(fixture.store.requests) != 0 {
		test.Fatalf("expected no persisted request, got %d", len(fixture.store.requests))
	}
}

func TestSubmitRequestPlacesHoldAndPersistsPending(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 500)
	input := validSubmission(fixture.dj.EventCode)
	input.EventCode = " abc123 "
	input.RequesterEmail = "Sam <sam@example.com>"

	request, err := fixture.service.SubmitRequest(context.Background(), input)
	if err != nil {
		test.Fatalf("submit: %v", err)
	}
	if request.Status != RequestStatusPending {
		test.Fatalf("expected PENDING, got %s", request.Status)
	}
	if request.HoldRef.IsZero() {
		test.Fatalf("expected hold reference")
	}
	if fixture.gateway.state(request.HoldRef) != holdHeld {
		test.Fatalf("expected held funds, got %s", fixture.gateway.state(request.HoldRef))
	}
	if request.RequesterEmail != "sam@example.com" {
		test.Fatalf("expected normalized email, got %q", request.RequesterEmail)
	}
	if request.Currency.String() != DefaultCurrency {
		test.Fatalf("expected default currency, got %s", request.Currency)
	}
	stored := fixture.store.mustRequest(test, request.ID)
	if stored.HoldRef != request.HoldRef || stored.DJID != fixture.dj.ID {
		test.Fatalf("unexpected stored request: %+v", stored)
	}
}

func TestSubmitRequestUsesSuppliedHold(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	input := validSubmission(fixture.dj.EventCode)
	input.PaymentMethod = "paypal"
	input.HoldRef = "ORDER-42"

	request, err := fixture.service.SubmitRequest(context.Background(), input)
	if err != nil {
		test.Fatalf("submit: %v", err)
	}
	if request.HoldRef.String() != "ORDER-42" {
		test.Fatalf("expected supplied hold, got %s", request.HoldRef)
	}
	if request.PaymentMethod != PaymentMethodPayPal {
		test.Fatalf("expected PAYPAL, got %s", request.PaymentMethod)
	}
	if fixture.gateway.authorizes != 0 {
		test.Fatalf("expected no authorize call, got %d", fixture.gateway.authorizes)
	}
}

func TestSubmitRequestErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(fixture *serviceFixture, input *SubmitRequestInput)
		wantErr   error
		wantVoid  bool
	}{
		{
			name:      caseMissingTitle,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.SongTitle = "  " },
			wantErr:   ErrInvalidSongDetails,
		},
		{
			name:      caseMissingRequester,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.RequesterName = "" },
			wantErr:   ErrInvalidRequester,
		},
		{
			name:      caseBadEmail,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.RequesterEmail = "not-an-email" },
			wantErr:   ErrInvalidRequester,
		},
		{
			name:      caseZeroAmount,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.DonationCents = 0 },
			wantErr:   ErrInvalidAmountCents,
		},
		{
			name:      caseBadMethod,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.PaymentMethod = "BITCOIN" },
			wantErr:   ErrInvalidPaymentMethod,
		},
		{
			name:      caseBadCurrency,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.Currency = "EURO" },
			wantErr:   ErrInvalidCurrency,
		},
		{
			name:      caseUnknownEventCode,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.EventCode = "ZZZ999" },
			wantErr:   ErrUnknownEvent,
		},
		{
			name:      caseBelowMinimum,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) { input.DonationCents = 99 },
			wantErr:   ErrBelowMinimum,
		},
		{
			name: caseAuthorizeFailure,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) {
				fixture.gateway.authorizeErr = errors.New("connection reset")
			},
			wantErr: ErrProviderUnavailable,
		},
		{
			name: caseStoreFailure,
			configure: func(fixture *serviceFixture, input *SubmitRequestInput) {
				fixture.store.createRequestError = errStoreFailure
			},
			wantErr:  errStoreFailure,
			wantVoid: true,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newServiceFixture(test, 100)
			input := validSubmission(fixture.dj.EventCode)
			testCase.configure(fixture, &input)

			_, err := fixture.service.SubmitRequest(context.Background(), input)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorExpectedTemplate, testCase.wantErr, err)
			}
			for ref, state := range fixture.gateway.holds {
				if state == holdHeld {
					test.Fatalf("expected no live hold, %s is %s", ref, state)
				}
			}
			if testCase.wantVoid && fixture.gateway.voids != 1 {
				test.Fatalf("expected orphaned hold to be voided, got %d voids", fixture.gateway.voids)
			}
		})
	}
}

func TestAcceptRequestQueuesWithoutCapture(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 500)
	request := fixture.mustSubmit(test, 1000)

	item := fixture.mustAccept(test, request)

	if item.Position != 1 || item.Status != QueueStatusWaiting {
		test.Fatalf("expected waiting item at position 1, got %+v", item)
	}
	if item.RequestID != request.ID {
		test.Fatalf("expected item for %s, got %s", request.ID, item.RequestID)
	}
	if fixture.store.mustRequest(test, request.ID).Status != RequestStatusAccepted {
		test.Fatalf("expected ACCEPTED request")
	}
	if fixture.gateway.captures != 0 || fixture.gateway.voids != 0 {
		test.Fatalf("expected no capture or void, got %d/%d", fixture.gateway.captures, fixture.gateway.voids)
	}
	second := fixture.mustAccept(test, fixture.mustSubmit(test, 700))
	if second.Position != 2 {
		test.Fatalf("expected position 2, got %d", second.Position)
	}
}

func TestAcceptRequestPreconditions(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	accepted := fixture.mustSubmit(test, 1000)
	fixture.mustAccept(test, accepted)

	if _, err := fixture.service.AcceptRequest(context.Background(), fixture.dj.ID, accepted.ID); !errors.Is(err, ErrInvalidStateTransition) {
		test.Fatalf("expected invalid transition on second accept, got %v", err)
	}
	if _, err := fixture.service.AcceptRequest(context.Background(), fixture.dj.ID, mustRequestID(test, "missing")); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected not found, got %v", err)
	}
	if _, err := fixture.service.AcceptRequest(context.Background(), mustDJID(test, "other-dj"), accepted.ID); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected not found for foreign dj, got %v", err)
	}

	old := fixture.mustSubmit(test, 1000)
	fixture.clock.Advance(DefaultExpirationWindow)
	_, err := fixture.service.AcceptRequest(context.Background(), fixture.dj.ID, old.ID)
	if !errors.Is(err, ErrExpired) {
		test.Fatalf("expected ErrExpired at the deadline, got %v", err)
	}
	if fixture.store.mustRequest(test, old.ID).Status != RequestStatusPending {
		test.Fatalf("expected request to stay pending")
	}
}

func TestAcceptRequestRollsBackWhenQueueInsertFails(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)
	fixture.store.createItemError = errStoreFailure

	_, err := fixture.service.AcceptRequest(context.Background(), fixture.dj.ID, request.ID)
	if !errors.Is(err, errStoreFailure) {
		test.Fatalf(errorExpectedTemplate, errStoreFailure, err)
	}
	if fixture.store.mustRequest(test, request.ID).Status != RequestStatusPending {
		test.Fatalf("expected request to remain pending after rollback")
	}
	if len(fixture.store.items) != 0 {
		test.Fatalf("expected no queue item, got %d", len(fixture.store.items))
	}
}

func TestRejectRequestVoidsThenCommits(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)

	rejected, err := fixture.service.RejectRequest(context.Background(), fixture.dj.ID, request.ID)
	if err != nil {
		test.Fatalf("reject: %v", err)
	}
	if rejected.Status != RequestStatusRejected {
		test.Fatalf("expected REJECTED, got %s", rejected.Status)
	}
	if fixture.gateway.state(request.HoldRef) != holdVoided {
		test.Fatalf("expected voided hold, got %s", fixture.gateway.state(request.HoldRef))
	}
	_, err = fixture.service.RejectRequest(context.Background(), fixture.dj.ID, request.ID)
	if !errors.Is(err, ErrNotPending) {
		test.Fatalf("expected ErrNotPending, got %v", err)
	}
	if fixture.gateway.voids != 1 {
		test.Fatalf("expected a single void, got %d", fixture.gateway.voids)
	}
}

func TestRejectRequestKeepsPendingWhenVoidFails(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)
	fixture.gateway.voidErr = errors.New("timeout")

	_, err := fixture.service.RejectRequest(context.Background(), fixture.dj.ID, request.ID)
	if !errors.Is(err, ErrProviderFailure) {
		test.Fatalf("expected provider failure, got %v", err)
	}
	if fixture.store.mustRequest(test, request.ID).Status != RequestStatusPending {
		test.Fatalf("expected request to stay pending")
	}

	fixture.gateway.voidErr = nil
	if _, err := fixture.service.RejectRequest(context.Background(), fixture.dj.ID, request.ID); err != nil {
		test.Fatalf("retried reject: %v", err)
	}
	if fixture.store.mustRequest(test, request.ID).Status != RequestStatusRejected {
		test.Fatalf("expected REJECTED after retry")
	}
}

func TestRejectRequestForeignDJ(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)

	_, err := fixture.service.RejectRequest(context.Background(), mustDJID(test, "intruder"), request.ID)
	if !errors.Is(err, ErrUnknownRequest) {
		test.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
	if fixture.gateway.voids != 0 {
		test.Fatalf("expected no void call, got %d", fixture.gateway.voids)
	}
}

func TestExpireRequestHonorsDeadline(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)

	fixture.clock.Advance(DefaultExpirationWindow - time.Second)
	if _, err := fixture.service.ExpireRequest(context.Background(), request.ID); !errors.Is(err, ErrNotYetDue) {
		test.Fatalf("expected ErrNotYetDue, got %v", err)
	}
	if fixture.gateway.voids != 0 {
		test.Fatalf("expected no void before the deadline")
	}

	fixture.clock.Advance(time.Second)
	expired, err := fixture.service.ExpireRequest(context.Background(), request.ID)
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if expired.Status != RequestStatusExpired {
		test.Fatalf("expected EXPIRED, got %s", expired.Status)
	}
	if fixture.gateway.state(request.HoldRef) != holdVoided {
		test.Fatalf("expected voided hold")
	}
}

func TestExpireRequestSkipsResolvedRequests(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)
	fixture.mustAccept(test, request)
	fixture.clock.Advance(4 * time.Hour)

	_, err := fixture.service.ExpireRequest(context.Background(), request.ID)
	if !IsResolved(err) {
		test.Fatalf("expected resolved outcome, got %v", err)
	}
	if fixture.store.mustRequest(test, request.ID).Status != RequestStatusAccepted {
		test.Fatalf("expected ACCEPTED to survive the sweep")
	}
	if fixture.gateway.voids != 0 {
		test.Fatalf("expected no void for accepted request")
	}
}

func TestAcceptAfterExpiryObservesResolution(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)
	fixture.clock.Advance(181 * time.Minute)

	overdue, err := fixture.service.ListOverdue(context.Background(), OverdueCursor{}, 0)
	if err != nil {
		test.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != request.ID {
		test.Fatalf("expected the request to be overdue, got %+v", overdue)
	}
	if _, err := fixture.service.ExpireRequest(context.Background(), request.ID); err != nil {
		test.Fatalf("expire: %v", err)
	}
	_, err = fixture.service.AcceptRequest(context.Background(), fixture.dj.ID, request.ID)
	if !errors.Is(err, ErrInvalidStateTransition) {
		test.Fatalf("expected invalid transition, got %v", err)
	}
	if len(fixture.store.items) != 0 {
		test.Fatalf("expected no queue item")
	}
}

func TestConcurrentAcceptAndExpireResolveOnce(test *testing.T) {
	test.Parallel()
	for attempt := 0; attempt < 20; attempt++ {
		fixture := newServiceFixture(test, 100, WithExpirationWindow(time.Minute))
		request := fixture.mustSubmit(test, 1000)
		fixture.clock.Advance(30 * time.Second)

		var waitGroup sync.WaitGroup
		var acceptErr, expireErr error
		waitGroup.Add(2)
		go func() {
			defer waitGroup.Done()
			_, acceptErr = fixture.service.AcceptRequest(context.Background(), fixture.dj.ID, request.ID)
		}()
		go func() {
			defer waitGroup.Done()
			fixture.clock.Advance(30 * time.Second)
			_, expireErr = fixture.service.ExpireRequest(context.Background(), request.ID)
		}()
		waitGroup.Wait()

		final := fixture.store.mustRequest(test, request.ID)
		hold := fixture.gateway.state(request.HoldRef)
		switch final.Status {
		case RequestStatusAccepted:
			if hold != holdHeld || len(fixture.store.items) != 1 {
				test.Fatalf("accepted request must keep its hold and queue item, hold=%s items=%d", hold, len(fixture.store.items))
			}
			if expireErr == nil {
				test.Fatalf("expected expire to lose the race")
			}
		case RequestStatusExpired:
			if hold != holdVoided || len(fixture.store.items) != 0 {
				test.Fatalf("expired request must be voided without queue item, hold=%s items=%d", hold, len(fixture.store.items))
			}
			if acceptErr == nil {
				test.Fatalf("expected accept to lose the race")
			}
		default:
			test.Fatalf("unexpected final status %s (accept=%v expire=%v)", final.Status, acceptErr, expireErr)
		}
	}
}

func TestTimeRemaining(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)

	fixture.clock.Advance(time.Hour)
	if remaining := fixture.service.TimeRemaining(request); remaining != 2*time.Hour {
		test.Fatalf("expected 2h remaining, got %s", remaining)
	}
	if deadline := fixture.service.RequestDeadline(request); !deadline.Equal(request.CreatedAt.Add(DefaultExpirationWindow)) {
		test.Fatalf("unexpected deadline %s", deadline)
	}
	fixture.clock.Advance(3 * time.Hour)
	if remaining := fixture.service.TimeRemaining(request); remaining != 0 {
		test.Fatalf("expected no time remaining, got %s", remaining)
	}
}

func TestReleasingRequestLocksDJBeforeRequest(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	request := fixture.mustSubmit(test, 1000)
	fixture.store.takeLocks()

	if _, err := fixture.service.RejectRequest(context.Background(), fixture.dj.ID, request.ID); err != nil {
		test.Fatalf("reject: %v", err)
	}
	locks := fixture.store.takeLocks()
	expected := []string{"dj:" + fixture.dj.ID.String(), "request:" + request.ID.String()}
	if len(locks) != 2 || locks[0] != expected[0] || locks[1] != expected[1] {
		test.Fatalf("expected locks %v, got %v", expected, locks)
	}
}

func TestPublicRequestsShowsLatestWithoutPrivateFields(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, 100)
	var newest Request
	for index := 0; index < PublicRequestLimit+2; index++ {
		input := validSubmission(fixture.dj.EventCode)
		input.RequesterEmail = "guest@example.com"
		request, err := fixture.service.SubmitRequest(context.Background(), input)
		if err != nil {
			test.Fatalf("submit %d: %v", index, err)
		}
		newest = request
		fixture.clock.Advance(time.Minute)
	}

	dj, requests, err := fixture.service.PublicRequests(context.Background(), fixture.dj.EventCode.String())
	if err != nil {
		test.Fatalf("public requests: %v", err)
	}
	if dj.ID != fixture.dj.ID || len(requests) != PublicRequestLimit {
		test.Fatalf("expected %d requests, got %d", PublicRequestLimit, len(requests))
	}
	if requests[0].ID != newest.ID {
		test.Fatalf("expected newest request first, got %s", requests[0].ID)
	}
	for _, request := range requests {
		if request.RequesterEmail != "" || request.DonationAmount != 0 || !request.HoldRef.IsZero() {
			test.Fatalf("expected private fields removed, got %+v", request)
		}
		if request.Status != RequestStatusPending {
			test.Fatalf("expected status kept, got %s", request.Status)
		}
	}
	stored := fixture.store.mustRequest(test, newest.ID)
	if stored.RequesterEmail != "guest@example.com" {
		test.Fatalf("stored request must keep its email")
	}

	if _, _, err := fixture.service.PublicRequests(context.Background(), "ZZZ999"); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected not found, got %v", err)
	}
}
