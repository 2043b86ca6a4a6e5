package djrequest

import (
	"context"
	"time"
)

// Store persists DJs, requests, queue items and summaries.
// Methods that take a status precondition return ErrAlreadyResolved when no row matched.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateDJ(ctx context.Context, dj DJ) error
	GetDJ(ctx context.Context, djID DJID) (DJ, error)
	GetDJByEventCode(ctx context.Context, code EventCode) (DJ, error)
	// LockDJ serializes writers for one DJ until the surrounding transaction ends.
	LockDJ(ctx context.Context, djID DJID) (DJ, error)
	UpdateDJSettings(ctx context.Context, djID DJID, settings Settings) error
	EventCodeExists(ctx context.Context, code EventCode) (bool, error)
	StartEvent(ctx context.Context, djID DJID, code EventCode, startedAt time.Time) error
	ListDJIDs(ctx context.Context) ([]DJID, error)

	CreateRequest(ctx context.Context, request Request) error
	GetRequest(ctx context.Context, requestID RequestID) (Request, error)
	ListRequests(ctx context.Context, djID DJID) ([]Request, error)
	// ListPendingCreatedBefore pages pending requests by (created_at, id), starting
	// after the cursor when it is set.
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, after OverdueCursor, limit int) ([]Request, error)
	// ClaimRequest row-locks a request that is still pending.
	ClaimRequest(ctx context.Context, requestID RequestID, at time.Time) error
	// TransitionRequest moves a request from one status to another. A non-zero
	// createdAfter additionally requires created_at to be later than it.
	TransitionRequest(ctx context.Context, requestID RequestID, from RequestStatus, to RequestStatus, createdAfter time.Time) error
	TransitionAllRequests(ctx context.Context, djID DJID, from RequestStatus, to RequestStatus) (int64, error)
	CountRequests(ctx context.Context, djID DJID, since time.Time) (RequestCounts, error)

	MaxQueuePosition(ctx context.Context, djID DJID) (int, error)
	CreateQueueItem(ctx context.Context, item QueueItem) error
	GetQueueItem(ctx context.Context, itemID QueueItemID) (QueueItem, error)
	// ClaimQueueItem row-locks a queue item that is still WAITING or NOW_PLAYING.
	ClaimQueueItem(ctx context.Context, itemID QueueItemID, at time.Time) error
	ListQueue(ctx context.Context, djID DJID) ([]QueueEntry, error)
	DemoteNowPlaying(ctx context.Context, djID DJID, except QueueItemID) (int64, error)
	PromoteQueueItem(ctx context.Context, itemID QueueItemID, promotedAt time.Time) error
	FinishQueueItem(ctx context.Context, itemID QueueItemID, to QueueStatus, at time.Time) error
	// SetQueuePositions assigns position index+1 to each listed item owned by djID.
	SetQueuePositions(ctx context.Context, djID DJID, ordered []QueueItemID) error
	DeleteQueue(ctx context.Context, djID DJID) (int64, error)

	CreateEventSummary(ctx context.Context, summary EventSummary) error
	ListEventSummaries(ctx context.Context, djID DJID) ([]EventSummary, error)

	InsertProviderEvent(ctx context.Context, event ProviderEvent) error
}

// OverdueCursor marks the last request of a page of overdue requests.
type OverdueCursor struct {
	CreatedAt time.Time
	RequestID RequestID
}

// CursorAfter returns the cursor that continues past request.
func CursorAfter(request Request) OverdueCursor {
	return OverdueCursor{CreatedAt: request.CreatedAt, RequestID: request.ID}
}

// IsZero reports whether the cursor starts from the oldest request.
func (cursor OverdueCursor) IsZero() bool {
	return cursor.CreatedAt.IsZero()
}
