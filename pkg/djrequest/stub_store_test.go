package djrequest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubStore struct {
	txMutex   sync.Mutex
	mutex     sync.Mutex
	djs       map[DJID]DJ
	requests  map[RequestID]Request
	items     map[QueueItemID]QueueItem
	summaries []EventSummary
	events    []ProviderEvent
	locks     []string

	createRequestError error
	createItemError    error
	finishItemError    error
	deleteQueueError   error
}

type stubSnapshot struct {
	djs       map[DJID]DJ
	requests  map[RequestID]Request
	items     map[QueueItemID]QueueItem
	summaries []EventSummary
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		djs:      make(map[DJID]DJ),
		requests: make(map[RequestID]Request),
		items:    make(map[QueueItemID]QueueItem),
	}
}

// WithTx serializes transactions and restores the previous state when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *stubStore) snapshot() stubSnapshot {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	snapshot := stubSnapshot{
		djs:       make(map[DJID]DJ, len(store.djs)),
		requests:  make(map[RequestID]Request, len(store.requests)),
		items:     make(map[QueueItemID]QueueItem, len(store.items)),
		summaries: append([]EventSummary(nil), store.summaries...),
	}
	for key, value := range store.djs {
		snapshot.djs[key] = value
	}
	for key, value := range store.requests {
		snapshot.requests[key] = value
	}
	for key, value := range store.items {
		snapshot.items[key] = value
	}
	return snapshot
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.djs = snapshot.djs
	store.requests = snapshot.requests
	store.items = snapshot.items
	store.summaries = snapshot.summaries
}

func (store *stubStore) CreateDJ(ctx context.Context, dj DJ) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, existing := range store.djs {
		if existing.EventCode == dj.EventCode {
			return ErrEventCodeTaken
		}
	}
	store.djs[dj.ID] = dj
	return nil
}

func (store *stubStore) GetDJ(ctx context.Context, djID DJID) (DJ, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	dj, ok := store.djs[djID]
	if !ok {
		return DJ{}, ErrUnknownDJ
	}
	return dj, nil
}

func (store *stubStore) GetDJByEventCode(ctx context.Context, code EventCode) (DJ, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, dj := range store.djs {
		if dj.EventCode == code {
			return dj, nil
		}
	}
	return DJ{}, ErrUnknownDJ
}

func (store *stubStore) LockDJ(ctx context.Context, djID DJID) (DJ, error) {
	store.recordLock("dj:" + djID.String())
	return store.GetDJ(ctx, djID)
}

func (store *stubStore) recordLock(name string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.locks = append(store.locks, name)
}

// takeLocks returns the row locks taken since the last call, in order.
func (store *stubStore) takeLocks() []string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	locks := store.locks
	store.locks = nil
	return locks
}

func (store *stubStore) UpdateDJSettings(ctx context.Context, djID DJID, settings Settings) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	dj, ok := store.djs[djID]
	if !ok {
		return ErrUnknownDJ
	}
	dj.Name = settings.Name
	dj.MinDonation = settings.MinDonation
	dj.StripeAccountID = settings.StripeAccountID
	dj.PayPalEmail = settings.PayPalEmail
	dj.SatispayID = settings.SatispayID
	store.djs[djID] = dj
	return nil
}

func (store *stubStore) EventCodeExists(ctx context.Context, code EventCode) (bool, error) {
	_, err := store.GetDJByEventCode(ctx, code)
	if errors.Is(err, ErrUnknownDJ) {
		return false, nil
	}
	return err == nil, err
}

func (store *stubStore) StartEvent(ctx context.Context, djID DJID, code EventCode, startedAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	dj, ok := store.djs[djID]
	if !ok {
		return ErrUnknownDJ
	}
	dj.EventCode = code
	dj.EventStartedAt = startedAt
	store.djs[djID] = dj
	return nil
}

func (store *stubStore) ListDJIDs(ctx context.Context) ([]DJID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	ids := make([]DJID, 0, len(store.djs))
	for id := range store.djs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(left, right int) bool { return ids[left].String() < ids[right].String() })
	return ids, nil
}

func (store *stubStore) CreateRequest(ctx context.Context, request Request) error {
	if store.createRequestError != nil {
		return store.createRequestError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.requests[request.ID] = request
	return nil
}

func (store *stubStore) GetRequest(ctx context.Context, requestID RequestID) (Request, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	request, ok := store.requests[requestID]
	if !ok {
		return Request{}, ErrUnknownRequest
	}
	return request, nil
}

func (store *stubStore) ListRequests(ctx context.Context, djID DJID) ([]Request, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var requests []Request
	for _, request := range store.requests {
		if request.DJID == djID {
			requests = append(requests, request)
		}
	}
	sort.Slice(requests, func(left, right int) bool { return requests[left].CreatedAt.After(requests[right].CreatedAt) })
	return requests, nil
}

func (store *stubStore) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, after OverdueCursor, limit int) ([]Request, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var requests []Request
	for _, request := range store.requests {
		if request.Status != RequestStatusPending || !request.CreatedAt.Before(cutoff) {
			continue
		}
		if !after.IsZero() && !overdueAfter(request, after) {
			continue
		}
		requests = append(requests, request)
	}
	sort.Slice(requests, func(left, right int) bool {
		return overdueAfter(requests[right], CursorAfter(requests[left]))
	})
	if limit > 0 && len(requests) > limit {
		requests = requests[:limit]
	}
	return requests, nil
}

func overdueAfter(request Request, cursor OverdueCursor) bool {
	if !request.CreatedAt.Equal(cursor.CreatedAt) {
		return request.CreatedAt.After(cursor.CreatedAt)
	}
	return request.ID.String() > cursor.RequestID.String()
}

func (store *stubStore) ClaimRequest(ctx context.Context, requestID RequestID, at time.Time) error {
	store.recordLock("request:" + requestID.String())
	request, err := store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != RequestStatusPending {
		return ErrAlreadyResolved
	}
	return nil
}

func (store *stubStore) TransitionRequest(ctx context.Context, requestID RequestID, from RequestStatus, to RequestStatus, createdAfter time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	request, ok := store.requests[requestID]
	if !ok || request.Status != from {
		return ErrAlreadyResolved
	}
	if !createdAfter.IsZero() && !request.CreatedAt.After(createdAfter) {
		return ErrAlreadyResolved
	}
	request.Status = to
	store.requests[requestID] = request
	return nil
}

func (store *stubStore) TransitionAllRequests(ctx context.Context, djID DJID, from RequestStatus, to RequestStatus) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var changed int64
	for id, request := range store.requests {
		if request.DJID == djID && request.Status == from {
			request.Status = to
			store.requests[id] = request
			changed++
		}
	}
	return changed, nil
}

func (store *stubStore) CountRequests(ctx context.Context, djID DJID, since time.Time) (RequestCounts, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var counts RequestCounts
	for _, request := range store.requests {
		if request.DJID != djID || request.CreatedAt.Before(since) {
			continue
		}
		counts.Total++
		switch request.Status {
		case RequestStatusPending:
			counts.Pending++
		case RequestStatusAccepted:
			counts.Accepted++
		case RequestStatusRejected:
			counts.Rejected++
		case RequestStatusExpired:
			counts.Expired++
		case RequestStatusClosed:
			counts.Closed++
		}
	}
	return counts, nil
}

func (store *stubStore) MaxQueuePosition(ctx context.Context, djID DJID) (int, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	maxPosition := 0
	for _, item := range store.items {
		if item.DJID == djID && item.Position > maxPosition {
			maxPosition = item.Position
		}
	}
	return maxPosition, nil
}

func (store *stubStore) CreateQueueItem(ctx context.Context, item QueueItem) error {
	if store.createItemError != nil {
		return store.createItemError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, existing := range store.items {
		if existing.DJID == item.DJID && existing.Position == item.Position {
			return ErrQueuePositionConflict
		}
	}
	store.items[item.ID] = item
	return nil
}

func (store *stubStore) GetQueueItem(ctx context.Context, itemID QueueItemID) (QueueItem, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	item, ok := store.items[itemID]
	if !ok {
		return QueueItem{}, ErrUnknownQueueItem
	}
	return item, nil
}

func (store *stubStore) ClaimQueueItem(ctx context.Context, itemID QueueItemID, at time.Time) error {
	store.recordLock("queue_item:" + itemID.String())
	item, err := store.GetQueueItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !item.Status.IsOpen() {
		return ErrAlreadyResolved
	}
	return nil
}

func (store *stubStore) ListQueue(ctx context.Context, djID DJID) ([]QueueEntry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var entries []QueueEntry
	for _, item := range store.items {
		if item.DJID == djID {
			entries = append(entries, QueueEntry{Item: item, Request: store.requests[item.RequestID]})
		}
	}
	sort.Slice(entries, func(left, right int) bool { return entries[left].Item.Position < entries[right].Item.Position })
	return entries, nil
}

func (store *stubStore) DemoteNowPlaying(ctx context.Context, djID DJID, except QueueItemID) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var demoted int64
	for id, item := range store.items {
		if item.DJID == djID && item.Status == QueueStatusNowPlaying && id != except {
			item.Status = QueueStatusWaiting
			store.items[id] = item
			demoted++
		}
	}
	return demoted, nil
}

func (store *stubStore) PromoteQueueItem(ctx context.Context, itemID QueueItemID, promotedAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	item, ok := store.items[itemID]
	if !ok || !item.Status.IsOpen() {
		return ErrAlreadyResolved
	}
	for id, other := range store.items {
		if id != itemID && other.DJID == item.DJID && other.Status == QueueStatusNowPlaying {
			return fmt.Errorf("second now playing item %s", id.String())
		}
	}
	item.Status = QueueStatusNowPlaying
	item.PromotedAt = promotedAt
	store.items[itemID] = item
	return nil
}

func (store *stubStore) FinishQueueItem(ctx context.Context, itemID QueueItemID, to QueueStatus, at time.Time) error {
	if store.finishItemError != nil {
		return store.finishItemError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	item, ok := store.items[itemID]
	if !ok || !item.Status.IsOpen() {
		return ErrAlreadyResolved
	}
	item.Status = to
	if to == QueueStatusPlayed {
		item.PlayedAt = at
	}
	store.items[itemID] = item
	return nil
}

func (store *stubStore) SetQueuePositions(ctx context.Context, djID DJID, ordered []QueueItemID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for index, id := range ordered {
		item, ok := store.items[id]
		if !ok || item.DJID != djID {
			continue
		}
		item.Position = index + 1
		store.items[id] = item
	}
	return nil
}

func (store *stubStore) DeleteQueue(ctx context.Context, djID DJID) (int64, error) {
	if store.deleteQueueError != nil {
		return 0, store.deleteQueueError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var deleted int64
	for id, item := range store.items {
		if item.DJID == djID {
			delete(store.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (store *stubStore) CreateEventSummary(ctx context.Context, summary EventSummary) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.summaries = append(store.summaries, summary)
	return nil
}

func (store *stubStore) ListEventSummaries(ctx context.Context, djID DJID) ([]EventSummary, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var summaries []EventSummary
	for index := len(store.summaries) - 1; index >= 0; index-- {
		if store.summaries[index].DJID == djID {
			summaries = append(summaries, store.summaries[index])
		}
	}
	return summaries, nil
}

func (store *stubStore) InsertProviderEvent(ctx context.Context, event ProviderEvent) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.events = append(store.events, event)
	return nil
}

func (store *stubStore) nowPlayingCount(djID DJID) int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	count := 0
	for _, item := range store.items {
		if item.DJID == djID && item.Status == QueueStatusNowPlaying {
			count++
		}
	}
	return count
}

func (store *stubStore) mustRequest(test *testing.T, requestID RequestID) Request {
	test.Helper()
	request, err := store.GetRequest(context.Background(), requestID)
	if err != nil {
		test.Fatalf("request %s not found", requestID.String())
	}
	return request
}

func (store *stubStore) mustQueueItem(test *testing.T, itemID QueueItemID) QueueItem {
	test.Helper()
	item, err := store.GetQueueItem(context.Background(), itemID)
	if err != nil {
		test.Fatalf("queue item %s not found", itemID.String())
	}
	return item
}

type holdState string

const (
	holdHeld     holdState = "held"
	holdCaptured holdState = "captured"
	holdVoided   holdState = "voided"
)

type fakeGateway struct {
	mutex        sync.Mutex
	sequence     int
	holds        map[HoldRef]holdState
	amounts      map[HoldRef]AmountCents
	authorizeErr error
	captureErr   error
	voidErr      error
	authorizes   int
	captures     int
	voids        int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{holds: make(map[HoldRef]holdState), amounts: make(map[HoldRef]AmountCents)}
}

func (gateway *fakeGateway) Authorize(ctx context.Context, amount AmountCents, currency Currency) (HoldRef, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.authorizes++
	if gateway.authorizeErr != nil {
		return HoldRef{}, gateway.authorizeErr
	}
	gateway.sequence++
	ref, err := NewHoldRef(fmt.Sprintf("hold-%d", gateway.sequence))
	if err != nil {
		return HoldRef{}, err
	}
	gateway.holds[ref] = holdHeld
	gateway.amounts[ref] = amount
	return ref, nil
}

func (gateway *fakeGateway) Capture(ctx context.Context, ref HoldRef) (CaptureResult, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.captures++
	if gateway.captureErr != nil {
		return CaptureResult{}, gateway.captureErr
	}
	switch gateway.holds[ref] {
	case holdHeld:
		gateway.holds[ref] = holdCaptured
		return CaptureResult{HoldRef: ref, Amount: gateway.amounts[ref]}, nil
	case holdCaptured:
		return CaptureResult{HoldRef: ref, Amount: gateway.amounts[ref], AlreadyCaptured: true}, nil
	case holdVoided:
		return CaptureResult{}, ErrHoldAlreadyVoided
	default:
		return CaptureResult{}, ErrHoldNotFound
	}
}

func (gateway *fakeGateway) Void(ctx context.Context, ref HoldRef) (VoidResult, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	gateway.voids++
	if gateway.voidErr != nil {
		return VoidResult{}, gateway.voidErr
	}
	switch gateway.holds[ref] {
	case holdHeld:
		gateway.holds[ref] = holdVoided
		return VoidResult{HoldRef: ref}, nil
	case holdVoided:
		return VoidResult{HoldRef: ref, AlreadyVoided: true}, nil
	case holdCaptured:
		return VoidResult{}, ErrHoldAlreadyCaptured
	default:
		return VoidResult{}, ErrHoldNotFound
	}
}

func (gateway *fakeGateway) state(ref HoldRef) holdState {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	return gateway.holds[ref]
}

type testClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, time.June, 1, 20, 0, 0, 0, time.UTC)}
}

func (clock *testClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type serviceFixture struct {
	store   *stubStore
	gateway *fakeGateway
	clock   *testClock
	service *Service
	dj      DJ
}

func newServiceFixture(test *testing.T, minDonation AmountCents, options ...ServiceOption) *serviceFixture {
	test.Helper()
	fixture := &serviceFixture{
		store:   newStubStore(test),
		gateway: newFakeGateway(),
		clock:   newTestClock(),
	}
	gateways := Gateways{
		ProviderStripe:   fixture.gateway,
		ProviderPayPal:   fixture.gateway,
		ProviderSatispay: fixture.gateway,
	}
	var sequence atomic.Int64
	codes := []string{"ABC123", "XYZ789", "QWE456", "RTY000"}
	defaults := []ServiceOption{
		WithIDGenerator(func() string {
			return fmt.Sprintf("id-%03d", sequence.Add(1))
		}),
		WithEventCodeGenerator(func() (EventCode, error) {
			code := codes[0]
			if len(codes) > 1 {
				codes = codes[1:]
			}
			return NewEventCode(code)
		}),
	}
	service, err := NewService(fixture.store, gateways, fixture.clock.Now, append(defaults, options...)...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	fixture.service = service
	dj, err := service.RegisterDJ(context.Background(), RegisterDJInput{Settings: Settings{Name: "DJ Test", MinDonation: minDonation}})
	if err != nil {
		test.Fatalf("register dj: %v", err)
	}
	fixture.dj = dj
	return fixture
}

func (fixture *serviceFixture) mustSubmit(test *testing.T, donationCents int64) Request {
	test.Helper()
	request, err := fixture.service.SubmitRequest(context.Background(), SubmitRequestInput{
		EventCode:     fixture.dj.EventCode.String(),
		SongTitle:     "Blue Monday",
		ArtistName:    "New Order",
		RequesterName: "Alex",
		DonationCents: donationCents,
		PaymentMethod: PaymentMethodCard.String(),
	})
	if err != nil {
		test.Fatalf("submit: %v", err)
	}
	return request
}

func (fixture *serviceFixture) mustAccept(test *testing.T, request Request) QueueItem {
	test.Helper()
	item, err := fixture.service.AcceptRequest(context.Background(), fixture.dj.ID, request.ID)
	if err != nil {
		test.Fatalf("accept: %v", err)
	}
	return item
}

func mustDJID(test *testing.T, raw string) DJID {
	test.Helper()
	id, err := NewDJID(raw)
	if err != nil {
		test.Fatalf("dj id: %v", err)
	}
	return id
}

func mustRequestID(test *testing.T, raw string) RequestID {
	test.Helper()
	id, err := NewRequestID(raw)
	if err != nil {
		test.Fatalf("request id: %v", err)
	}
	return id
}

func mustQueueItemID(test *testing.T, raw string) QueueItemID {
	test.Helper()
	id, err := NewQueueItemID(raw)
	if err != nil {
		test.Fatalf("queue item id: %v", err)
	}
	return id
}
