package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintEventCode     = "uniq_djs_event_code"
	constraintQueuePosition = "uniq_queue_dj_position"
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectDJ          = "dj"
	errorSubjectRequest     = "request"
	errorSubjectQueue       = "queue"
	errorSubjectSummary     = "summary"
	errorSubjectEvent       = "provider_event"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeClaim          = "claim"
	errorCodeCommit         = "commit"
	errorCodeCount          = "count"
	errorCodeCreate         = "create"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeReorder        = "reorder"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"

	djColumns = `id, name, event_code, min_donation_cents, stripe_account_id, paypal_email, satispay_id, event_started_at, created_at`

	requestColumns = `id, dj_id, song_title, artist_name, requester_name, requester_email, donation_cents, currency, payment_method, coalesce(hold_ref,''), status, created_at`

	queueColumns = `q.id, q.dj_id, q.request_id, q.position, q.status, q.added_at, q.promoted_at, q.played_at`

	sqlInsertDJ = `
		insert into djs(id, name, event_code, min_donation_cents, stripe_account_id, paypal_email, satispay_id, event_started_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`

	sqlSelectDJByID = `select ` + djColumns + ` from djs where id = $1`

	sqlSelectDJByCode = `select ` + djColumns + ` from djs where event_code = $1`

	sqlLockDJ = `select ` + djColumns + ` from djs where id = $1 for update`

	sqlUpdateDJSettings = `
		update djs
		set name = $2, min_donation_cents = $3, stripe_account_id = $4, paypal_email = $5, satispay_id = $6, updated_at = now()
		where id = $1
	`

	sqlEventCodeExists = `select exists(select 1 from djs where event_code = $1)`

	sqlStartEvent = `update djs set event_code = $2, event_started_at = $3, updated_at = now() where id = $1`

	sqlListDJIDs = `select id from djs order by id`

	sqlInsertRequest = `
		insert into requests(id, dj_id, song_title, artist_name, requester_name, requester_email, donation_cents, currency, payment_method, hold_ref, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, nullif($10,''), $11, $12, $12)
	`

	sqlSelectRequest = `select ` + requestColumns + ` from requests where id = $1`

	sqlListRequests = `select ` + requestColumns + ` from requests where dj_id = $1 order by created_at desc`

	sqlListPendingBefore = `
		select ` + requestColumns + ` from requests
		where status = 'PENDING' and created_at < $1
			and ($2::timestamptz is null or (created_at, id) > ($2::timestamptz, $3::text))
		order by created_at asc, id asc
		limit nullif($4, 0)
	`

	sqlClaimRequest = `select id from requests where id = $1 and status = 'PENDING' for update`

	sqlTransitionRequest = `
		update requests set status = $3, updated_at = now()
		where id = $1 and status = $2 and ($4::timestamptz is null or created_at > $4)
	`

	sqlTransitionAllRequests = `update requests set status = $3, updated_at = now() where dj_id = $1 and status = $2`

	sqlCountRequests = `
		select status, count(*) from requests
		where dj_id = $1 and created_at >= $2
		group by status
	`

	sqlMaxQueuePosition = `select coalesce(max(position),0) from queue_items where dj_id = $1`

	sqlInsertQueueItem = `
		insert into queue_items(id, dj_id, request_id, position, status, added_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
	`

	sqlSelectQueueItem = `select ` + queueColumns + ` from queue_items q where q.id = $1`

	sqlClaimQueueItem = `select id from queue_items where id = $1 and status in ('WAITING','NOW_PLAYING') for update`

	sqlListQueue = `
		select ` + queueColumns + `,
			r.id, r.dj_id, r.song_title, r.artist_name, r.requester_name, r.requester_email, r.donation_cents,
			r.currency, r.payment_method, coalesce(r.hold_ref,''), r.status, r.created_at
		from queue_items q
		join requests r on r.id = q.request_id
		where q.dj_id = $1
		order by q.position asc
	`

	sqlDemoteNowPlaying = `
		update queue_items set status = 'WAITING', updated_at = now()
		where dj_id = $1 and status = 'NOW_PLAYING' and id <> $2
	`

	sqlPromoteQueueItem = `
		update queue_items set status = 'NOW_PLAYING', promoted_at = $2, updated_at = $2
		where id = $1 and status in ('WAITING','NOW_PLAYING')
	`

	sqlFinishQueueItem = `
		update queue_items
		set status = $2, updated_at = $3, played_at = case when $2 = 'PLAYED' then $3 else played_at end
		where id = $1 and status in ('WAITING','NOW_PLAYING')
	`

	sqlSetQueuePosition = `update queue_items set position = $3 where id = $1 and dj_id = $2`

	sqlDeleteQueue = `delete from queue_items where dj_id = $1`

	sqlInsertSummary = `
		insert into event_summaries(
			id, dj_id, event_code, total_requests, pending_requests, accepted_requests, rejected_requests,
			expired_requests, closed_requests, played_songs, skipped_songs, total_earnings_cents, started_at, ended_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	sqlListSummaries = `
		select id, dj_id, event_code, total_requests, pending_requests, accepted_requests, rejected_requests,
			expired_requests, closed_requests, played_songs, skipped_songs, total_earnings_cents, started_at, ended_at
		from event_summaries
		where dj_id = $1
		order by ended_at desc
	`

	sqlInsertProviderEvent = `
		insert into provider_events(id, provider, type, reference, payload, received_at)
		values (gen_random_uuid()::text, $1, $2, $3, coalesce(nullif($4,''),'{}')::jsonb, $5)
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements djrequest.Store with hand-written SQL over pgx. The schema is
// the one gormstore.Migrate creates.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool (autocommit outside WithTx).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn in a transaction. Inside a transaction it runs fn directly.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore djrequest.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateDJ(ctx context.Context, dj djrequest.DJ) error {
	_, err := store.db.Exec(ctx, sqlInsertDJ,
		dj.ID.String(),
		dj.Name,
		dj.EventCode.String(),
		dj.MinDonation.Int64(),
		dj.StripeAccountID,
		dj.PayPalEmail,
		dj.SatispayID,
		dj.EventStartedAt.UTC(),
		dj.CreatedAt.UTC(),
	)
	if isUniqueViolation(err, constraintEventCode) {
		return wrapStoreError(errorSubjectDJ, errorCodeDuplicate, djrequest.ErrEventCodeTaken)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDJ, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetDJ(ctx context.Context, djID djrequest.DJID) (djrequest.DJ, error) {
	return store.selectDJ(ctx, errorCodeGet, sqlSelectDJByID, djID.String())
}

func (store *Store) GetDJByEventCode(ctx context.Context, code djrequest.EventCode) (djrequest.DJ, error) {
	return store.selectDJ(ctx, errorCodeGet, sqlSelectDJByCode, code.String())
}

func (store *Store) LockDJ(ctx context.Context, djID djrequest.DJID) (djrequest.DJ, error) {
	return store.selectDJ(ctx, errorCodeLock, sqlLockDJ, djID.String())
}

func (store *Store) UpdateDJSettings(ctx context.Context, djID djrequest.DJID, settings djrequest.Settings) error {
	tag, err := store.db.Exec(ctx, sqlUpdateDJSettings,
		djID.String(),
		settings.Name,
		settings.MinDonation.Int64(),
		settings.StripeAccountID,
		settings.PayPalEmail,
		settings.SatispayID,
	)
	if err != nil {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, djrequest.ErrUnknownDJ)
	}
	return nil
}

func (store *Store) EventCodeExists(ctx context.Context, code djrequest.EventCode) (bool, error) {
	var exists bool
	if err := store.db.QueryRow(ctx, sqlEventCodeExists, code.String()).Scan(&exists); err != nil {
		return false, wrapStoreError(errorSubjectDJ, errorCodeGet, err)
	}
	return exists, nil
}

func (store *Store) StartEvent(ctx context.Context, djID djrequest.DJID, code djrequest.EventCode, startedAt time.Time) error {
	tag, err := store.db.Exec(ctx, sqlStartEvent, djID.String(), code.String(), startedAt.UTC())
	if isUniqueViolation(err, constraintEventCode) {
		return wrapStoreError(errorSubjectDJ, errorCodeDuplicate, djrequest.ErrEventCodeTaken)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, djrequest.ErrUnknownDJ)
	}
	return nil
}

func (store *Store) ListDJIDs(ctx context.Context) ([]djrequest.DJID, error) {
	rows, err := store.db.Query(ctx, sqlListDJIDs)
	if err != nil {
		return nil, wrapStoreError(errorSubjectDJ, errorCodeList, err)
	}
	defer rows.Close()
	var ids []djrequest.DJID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapStoreError(errorSubjectDJ, errorCodeList, err)
		}
		id, err := djrequest.NewDJID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDJ, errorCodeInvalid, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectDJ, errorCodeList, err)
	}
	return ids, nil
}

func (store *Store) CreateRequest(ctx context.Context, request djrequest.Request) error {
	_, err := store.db.Exec(ctx, sqlInsertRequest,
		request.ID.String(),
		request.DJID.String(),
		request.SongTitle,
		request.ArtistName,
		request.RequesterName,
		request.RequesterEmail,
		request.DonationAmount.Int64(),
		request.Currency.String(),
		request.PaymentMethod.String(),
		request.HoldRef.String(),
		request.Status.String(),
		request.CreatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRequest(ctx context.Context, requestID djrequest.RequestID) (djrequest.Request, error) {
	request, err := scanRequest(store.db.QueryRow(ctx, sqlSelectRequest, requestID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return djrequest.Request{}, wrapStoreError(errorSubjectRequest, errorCodeGet, djrequest.ErrUnknownRequest)
	}
	if err != nil {
		return djrequest.Request{}, wrapStoreError(errorSubjectRequest, errorCodeGet, err)
	}
	return request, nil
}

func (store *Store) ListRequests(ctx context.Context, djID djrequest.DJID) ([]djrequest.Request, error) {
	return store.queryRequests(ctx, sqlListRequests, djID.String())
}

func (store *Store) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, after djrequest.OverdueCursor, limit int) ([]djrequest.Request, error) {
	var afterCreated *time.Time
	if !after.IsZero() {
		value := after.CreatedAt.UTC()
		afterCreated = &value
	}
	return store.queryRequests(ctx, sqlListPendingBefore, cutoff.UTC(), afterCreated, after.RequestID.String(), limit)
}

func (store *Store) ClaimRequest(ctx context.Context, requestID djrequest.RequestID, _ time.Time) error {
	var id string
	err := store.db.QueryRow(ctx, sqlClaimRequest, requestID.String()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return wrapStoreError(errorSubjectRequest, errorCodeClaim, djrequest.ErrAlreadyResolved)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeClaim, err)
	}
	return nil
}

func (store *Store) TransitionRequest(ctx context.Context, requestID djrequest.RequestID, from djrequest.RequestStatus, to djrequest.RequestStatus, createdAfter time.Time) error {
	var cutoff *time.Time
	if !createdAfter.IsZero() {
		value := createdAfter.UTC()
		cutoff = &value
	}
	tag, err := store.db.Exec(ctx, sqlTransitionRequest, requestID.String(), from.String(), to.String(), cutoff)
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, djrequest.ErrAlreadyResolved)
	}
	return nil
}

func (store *Store) TransitionAllRequests(ctx context.Context, djID djrequest.DJID, from djrequest.RequestStatus, to djrequest.RequestStatus) (int64, error) {
	tag, err := store.db.Exec(ctx, sqlTransitionAllRequests, djID.String(), from.String(), to.String())
	if err != nil {
		return 0, wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, err)
	}
	return tag.RowsAffected(), nil
}

func (store *Store) CountRequests(ctx context.Context, djID djrequest.DJID, since time.Time) (djrequest.RequestCounts, error) {
	rows, err := store.db.Query(ctx, sqlCountRequests, djID.String(), since.UTC())
	if err != nil {
		return djrequest.RequestCounts{}, wrapStoreError(errorSubjectRequest, errorCodeCount, err)
	}
	defer rows.Close()
	var counts djrequest.RequestCounts
	for rows.Next() {
		var rawStatus string
		var total int
		if err := rows.Scan(&rawStatus, &total); err != nil {
			return djrequest.RequestCounts{}, wrapStoreError(errorSubjectRequest, errorCodeCount, err)
		}
		status, err := djrequest.ParseRequestStatus(rawStatus)
		if err != nil {
			return djrequest.RequestCounts{}, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
		}
		counts.Total += total
		switch status {
		case djrequest.RequestStatusPending:
			counts.Pending += total
		case djrequest.RequestStatusAccepted:
			counts.Accepted += total
		case djrequest.RequestStatusRejected:
			counts.Rejected += total
		case djrequest.RequestStatusExpired:
			counts.Expired += total
		case djrequest.RequestStatusClosed:
			counts.Closed += total
		}
	}
	if err := rows.Err(); err != nil {
		return djrequest.RequestCounts{}, wrapStoreError(errorSubjectRequest, errorCodeCount, err)
	}
	return counts, nil
}

func (store *Store) MaxQueuePosition(ctx context.Context, djID djrequest.DJID) (int, error) {
	var position int
	if err := store.db.QueryRow(ctx, sqlMaxQueuePosition, djID.String()).Scan(&position); err != nil {
		return 0, wrapStoreError(errorSubjectQueue, errorCodeGet, err)
	}
	return position, nil
}

func (store *Store) CreateQueueItem(ctx context.Context, item djrequest.QueueItem) error {
	_, err := store.db.Exec(ctx, sqlInsertQueueItem,
		item.ID.String(),
		item.DJID.String(),
		item.RequestID.String(),
		item.Position,
		item.Status.String(),
		item.AddedAt.UTC(),
	)
	if isUniqueViolation(err, constraintQueuePosition) {
		return wrapStoreError(errorSubjectQueue, errorCodeDuplicate, djrequest.ErrQueuePositionConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetQueueItem(ctx context.Context, itemID djrequest.QueueItemID) (djrequest.QueueItem, error) {
	item, err := scanQueueItem(store.db.QueryRow(ctx, sqlSelectQueueItem, itemID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return djrequest.QueueItem{}, wrapStoreError(errorSubjectQueue, errorCodeGet, djrequest.ErrUnknownQueueItem)
	}
	if err != nil {
		return djrequest.QueueItem{}, wrapStoreError(errorSubjectQueue, errorCodeGet, err)
	}
	return item, nil
}

func (store *Store) ClaimQueueItem(ctx context.Context, itemID djrequest.QueueItemID, _ time.Time) error {
	var id string
	err := store.db.QueryRow(ctx, sqlClaimQueueItem, itemID.String()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return wrapStoreError(errorSubjectQueue, errorCodeClaim, djrequest.ErrAlreadyResolved)
	}
	if err != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeClaim, err)
	}
	return nil
}

func (store *Store) ListQueue(ctx context.Context, djID djrequest.DJID) ([]djrequest.QueueEntry, error) {
	rows, err := store.db.Query(ctx, sqlListQueue, djID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectQueue, errorCodeList, err)
	}
	defer rows.Close()
	var entries []djrequest.QueueEntry
	for rows.Next() {
		var itemRow queueRow
		var requestRow requestRow
		err := rows.Scan(append(itemRow.targets(), requestRow.targets()...)...)
		if err != nil {
			return nil, wrapStoreError(errorSubjectQueue, errorCodeList, err)
		}
		item, err := itemRow.toDomain()
		if err != nil {
			return nil, wrapStoreError(errorSubjectQueue, errorCodeInvalid, err)
		}
		request, err := requestRow.toDomain()
		if err != nil {
			return nil, wrapStoreError(errorSubjectQueue, errorCodeInvalid, err)
		}
		entries = append(entries, djrequest.QueueEntry{Item: item, Request: request})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectQueue, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) DemoteNowPlaying(ctx context.Context, djID djrequest.DJID, except djrequest.QueueItemID) (int64, error) {
	tag, err := store.db.Exec(ctx, sqlDemoteNowPlaying, djID.String(), except.String())
	if err != nil {
		return 0, wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, err)
	}
	return tag.RowsAffected(), nil
}

func (store *Store) PromoteQueueItem(ctx context.Context, itemID djrequest.QueueItemID, promotedAt time.Time) error {
	tag, err := store.db.Exec(ctx, sqlPromoteQueueItem, itemID.String(), promotedAt.UTC())
	if err != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, djrequest.ErrAlreadyResolved)
	}
	return nil
}

func (store *Store) FinishQueueItem(ctx context.Context, itemID djrequest.QueueItemID, to djrequest.QueueStatus, at time.Time) error {
	tag, err := store.db.Exec(ctx, sqlFinishQueueItem, itemID.String(), to.String(), at.UTC())
	if err != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, djrequest.ErrAlreadyResolved)
	}
	return nil
}

// SetQueuePositions stages negative positions first so uniq_queue_dj_position
// holds after every statement. ordered must cover every item of the DJ.
func (store *Store) SetQueuePositions(ctx context.Context, djID djrequest.DJID, ordered []djrequest.QueueItemID) error {
	batch := &pgx.Batch{}
	for _, phase := range []int{-1, 1} {
		for index, itemID := range ordered {
			batch.Queue(sqlSetQueuePosition, itemID.String(), djID.String(), phase*(index+1))
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	results, err := store.sendBatch(ctx, batch)
	if err != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeReorder, err)
	}
	defer results.Close()
	for index := 0; index < batch.Len(); index++ {
		if _, err := results.Exec(); err != nil {
			if isUniqueViolation(err, constraintQueuePosition) {
				return wrapStoreError(errorSubjectQueue, errorCodeReorder, djrequest.ErrQueuePositionConflict)
			}
			return wrapStoreError(errorSubjectQueue, errorCodeReorder, err)
		}
	}
	return nil
}

func (store *Store) DeleteQueue(ctx context.Context, djID djrequest.DJID) (int64, error) {
	tag, err := store.db.Exec(ctx, sqlDeleteQueue, djID.String())
	if err != nil {
		return 0, wrapStoreError(errorSubjectQueue, errorCodeDelete, err)
	}
	return tag.RowsAffected(), nil
}

func (store *Store) CreateEventSummary(ctx context.Context, summary djrequest.EventSummary) error {
	_, err := store.db.Exec(ctx, sqlInsertSummary,
		summary.ID.String(),
		summary.DJID.String(),
		summary.EventCode.String(),
		summary.Requests.Total,
		summary.Requests.Pending,
		summary.Requests.Accepted,
		summary.Requests.Rejected,
		summary.Requests.Expired,
		summary.Requests.Closed,
		summary.PlayedSongs,
		summary.SkippedSongs,
		summary.TotalEarnings.Int64(),
		summary.StartedAt.UTC(),
		summary.EndedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) ListEventSummaries(ctx context.Context, djID djrequest.DJID) ([]djrequest.EventSummary, error) {
	rows, err := store.db.Query(ctx, sqlListSummaries, djID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectSummary, errorCodeList, err)
	}
	defer rows.Close()
	var summaries []djrequest.EventSummary
	for rows.Next() {
		var (
			rawID, rawDJID, rawCode string
			summary                 djrequest.EventSummary
			earnings                int64
		)
		err := rows.Scan(
			&rawID, &rawDJID, &rawCode,
			&summary.Requests.Total, &summary.Requests.Pending, &summary.Requests.Accepted, &summary.Requests.Rejected,
			&summary.Requests.Expired, &summary.Requests.Closed, &summary.PlayedSongs, &summary.SkippedSongs,
			&earnings, &summary.StartedAt, &summary.EndedAt,
		)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSummary, errorCodeList, err)
		}
		if summary.ID, err = djrequest.NewSummaryID(rawID); err != nil {
			return nil, wrapStoreError(errorSubjectSummary, errorCodeInvalid, err)
		}
		if summary.DJID, err = djrequest.NewDJID(rawDJID); err != nil {
			return nil, wrapStoreError(errorSubjectSummary, errorCodeInvalid, err)
		}
		if summary.EventCode, err = djrequest.NewEventCode(rawCode); err != nil {
			return nil, wrapStoreError(errorSubjectSummary, errorCodeInvalid, err)
		}
		summary.TotalEarnings = djrequest.AmountCents(earnings)
		summary.StartedAt = summary.StartedAt.UTC()
		summary.EndedAt = summary.EndedAt.UTC()
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSummary, errorCodeList, err)
	}
	return summaries, nil
}

func (store *Store) InsertProviderEvent(ctx context.Context, event djrequest.ProviderEvent) error {
	_, err := store.db.Exec(ctx, sqlInsertProviderEvent,
		event.Provider.String(),
		event.Type,
		event.Reference,
		event.Payload,
		event.ReceivedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) selectDJ(ctx context.Context, code string, sql string, argument string) (djrequest.DJ, error) {
	var (
		rawID, name, rawCode, stripeAccountID, paypalEmail, satispayID string
		minDonation                                                    int64
		eventStartedAt, createdAt                                      time.Time
	)
	err := store.db.QueryRow(ctx, sql, argument).Scan(
		&rawID, &name, &rawCode, &minDonation, &stripeAccountID, &paypalEmail, &satispayID, &eventStartedAt, &createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, code, djrequest.ErrUnknownDJ)
	}
	if err != nil {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, code, err)
	}
	id, err := djrequest.NewDJID(rawID)
	if err != nil {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeInvalid, err)
	}
	eventCode, err := djrequest.NewEventCode(rawCode)
	if err != nil {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeInvalid, err)
	}
	amount, err := djrequest.NewPositiveAmountCents(minDonation)
	if err != nil {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeInvalid, err)
	}
	return djrequest.DJ{
		ID:              id,
		Name:            name,
		EventCode:       eventCode,
		MinDonation:     amount,
		StripeAccountID: stripeAccountID,
		PayPalEmail:     paypalEmail,
		SatispayID:      satispayID,
		EventStartedAt:  eventStartedAt.UTC(),
		CreatedAt:       createdAt.UTC(),
	}, nil
}

func (store *Store) queryRequests(ctx context.Context, sql string, args ...any) ([]djrequest.Request, error) {
	rows, err := store.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
	}
	defer rows.Close()
	var requests []djrequest.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
	}
	return requests, nil
}

func (store *Store) sendBatch(ctx context.Context, batch *pgx.Batch) (pgx.BatchResults, error) {
	switch db := store.db.(type) {
	case pgx.Tx:
		return db.SendBatch(ctx, batch), nil
	case *pgxpool.Pool:
		return db.SendBatch(ctx, batch), nil
	default:
		return nil, errors.New("batch not supported")
	}
}

type requestRow struct {
	id, djID, songTitle, artistName, requesterName, requesterEmail string
	donationCents                                                  int64
	currency, paymentMethod, holdRef, status                       string
	createdAt                                                      time.Time
}

func (row *requestRow) targets() []any {
	return []any{
		&row.id, &row.djID, &row.songTitle, &row.artistName, &row.requesterName, &row.requesterEmail,
		&row.donationCents, &row.currency, &row.paymentMethod, &row.holdRef, &row.status, &row.createdAt,
	}
}

func (row *requestRow) toDomain() (djrequest.Request, error) {
	id, err := djrequest.NewRequestID(row.id)
	if err != nil {
		return djrequest.Request{}, err
	}
	djID, err := djrequest.NewDJID(row.djID)
	if err != nil {
		return djrequest.Request{}, err
	}
	amount, err := djrequest.NewPositiveAmountCents(row.donationCents)
	if err != nil {
		return djrequest.Request{}, err
	}
	currency, err := djrequest.NewCurrency(row.currency)
	if err != nil {
		return djrequest.Request{}, err
	}
	method, err := djrequest.ParsePaymentMethod(row.paymentMethod)
	if err != nil {
		return djrequest.Request{}, err
	}
	status, err := djrequest.ParseRequestStatus(row.status)
	if err != nil {
		return djrequest.Request{}, err
	}
	var holdRef djrequest.HoldRef
	if row.holdRef != "" {
		if holdRef, err = djrequest.NewHoldRef(row.holdRef); err != nil {
			return djrequest.Request{}, err
		}
	}
	return djrequest.Request{
		ID:             id,
		DJID:           djID,
		SongTitle:      row.songTitle,
		ArtistName:     row.artistName,
		RequesterName:  row.requesterName,
		RequesterEmail: row.requesterEmail,
		DonationAmount: amount,
		Currency:       currency,
		PaymentMethod:  method,
		HoldRef:        holdRef,
		Status:         status,
		CreatedAt:      row.createdAt.UTC(),
	}, nil
}

type queueRow struct {
	id, djID, requestID string
	position            int
	status              string
	addedAt             time.Time
	promotedAt          *time.Time
	playedAt            *time.Time
}

func (row *queueRow) targets() []any {
	return []any{&row.id, &row.djID, &row.requestID, &row.position, &row.status, &row.addedAt, &row.promotedAt, &row.playedAt}
}

func (row *queueRow) toDomain() (djrequest.QueueItem, error) {
	id, err := djrequest.NewQueueItemID(row.id)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	djID, err := djrequest.NewDJID(row.djID)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	requestID, err := djrequest.NewRequestID(row.requestID)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	status, err := djrequest.ParseQueueStatus(row.status)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	item := djrequest.QueueItem{
		ID:        id,
		DJID:      djID,
		RequestID: requestID,
		Position:  row.position,
		Status:    status,
		AddedAt:   row.addedAt.UTC(),
	}
	if row.promotedAt != nil {
		item.PromotedAt = row.promotedAt.UTC()
	}
	if row.playedAt != nil {
		item.PlayedAt = row.playedAt.UTC()
	}
	return item, nil
}

func scanRequest(row pgx.Row) (djrequest.Request, error) {
	var target requestRow
	if err := row.Scan(target.targets()...); err != nil {
		return djrequest.Request{}, err
	}
	return target.toDomain()
}

func scanQueueItem(row pgx.Row) (djrequest.QueueItem, error) {
	var target queueRow
	if err := row.Scan(target.targets()...); err != nil {
		return djrequest.QueueItem{}, err
	}
	return target.toDomain()
}

func wrapStoreError(subject string, code string, err error) error {
	return djrequest.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

var _ djrequest.Store = (*Store)(nil)
