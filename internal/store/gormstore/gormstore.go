package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintEventCode      = "uniq_djs_event_code"
	constraintQueuePosition  = "uniq_queue_dj_position"
	defaultPayloadJSON       = "{}"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	nowPlayingIndexStatement = "CREATE UNIQUE INDEX IF NOT EXISTS uniq_queue_now_playing ON queue_items (dj_id) WHERE status = 'NOW_PLAYING'"
	errorOperationStore      = "store"
	errorSubjectDJ           = "dj"
	errorSubjectRequest      = "request"
	errorSubjectQueue        = "queue"
	errorSubjectSummary      = "summary"
	errorSubjectEvent        = "provider_event"
	errorCodeClaim           = "claim"
	errorCodeCount           = "count"
	errorCodeCreate          = "create"
	errorCodeDelete          = "delete"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLock            = "lock"
	errorCodeMigrate         = "migrate"
	errorCodeReorder         = "reorder"
	errorCodeUpdate          = "update"
	errorCodeUpdateStatus    = "update_status"
)

// Store implements djrequest.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema, including the single NOW_PLAYING index.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return djrequest.WrapError(errorOperationStore, "schema", errorCodeMigrate, err)
	}
	if err := db.WithContext(ctx).Exec(nowPlayingIndexStatement).Error; err != nil {
		return djrequest.WrapError(errorOperationStore, "schema", errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore djrequest.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateDJ(ctx context.Context, dj djrequest.DJ) error {
	model := DJ{
		ID:               dj.ID.String(),
		Name:             dj.Name,
		EventCode:        dj.EventCode.String(),
		MinDonationCents: dj.MinDonation.Int64(),
		StripeAccountID:  dj.StripeAccountID,
		PayPalEmail:      dj.PayPalEmail,
		SatispayID:       dj.SatispayID,
		EventStartedAt:   dj.EventStartedAt.UTC(),
		CreatedAt:        dj.CreatedAt.UTC(),
		UpdatedAt:        dj.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintEventCode) {
		return wrapStoreError(errorSubjectDJ, errorCodeDuplicate, djrequest.ErrEventCodeTaken)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDJ, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetDJ(ctx context.Context, djID djrequest.DJID) (djrequest.DJ, error) {
	return store.takeDJ(ctx, "id = ?", djID.String())
}

func (store *Store) GetDJByEventCode(ctx context.Context, code djrequest.EventCode) (djrequest.DJ, error) {
	return store.takeDJ(ctx, "event_code = ?", code.String())
}

// LockDJ takes the row lock with a no-op write, which works on both sqlite and postgres.
func (store *Store) LockDJ(ctx context.Context, djID djrequest.DJID) (djrequest.DJ, error) {
	result := store.db.WithContext(ctx).
		Model(&DJ{}).
		Where("id = ?", djID.String()).
		UpdateColumn("updated_at", time.Now().UTC())
	if result.Error != nil {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeLock, result.Error)
	}
	if result.RowsAffected == 0 {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeLock, djrequest.ErrUnknownDJ)
	}
	return store.GetDJ(ctx, djID)
}

func (store *Store) UpdateDJSettings(ctx context.Context, djID djrequest.DJID, settings djrequest.Settings) error {
	result := store.db.WithContext(ctx).
		Model(&DJ{}).
		Where("id = ?", djID.String()).
		Updates(map[string]interface{}{
			"name":               settings.Name,
			"min_donation_cents": settings.MinDonation.Int64(),
			"stripe_account_id":  settings.StripeAccountID,
			"paypal_email":       settings.PayPalEmail,
			"satispay_id":        settings.SatispayID,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, djrequest.ErrUnknownDJ)
	}
	return nil
}

func (store *Store) EventCodeExists(ctx context.Context, code djrequest.EventCode) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).Model(&DJ{}).Where("event_code = ?", code.String()).Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectDJ, errorCodeGet, err)
	}
	return count > 0, nil
}

func (store *Store) StartEvent(ctx context.Context, djID djrequest.DJID, code djrequest.EventCode, startedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&DJ{}).
		Where("id = ?", djID.String()).
		Updates(map[string]interface{}{
			"event_code":       code.String(),
			"event_started_at": startedAt.UTC(),
		})
	if isUniqueViolation(result.Error, constraintEventCode) {
		return wrapStoreError(errorSubjectDJ, errorCodeDuplicate, djrequest.ErrEventCodeTaken)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDJ, errorCodeUpdate, djrequest.ErrUnknownDJ)
	}
	return nil
}

func (store *Store) ListDJIDs(ctx context.Context) ([]djrequest.DJID, error) {
	var rawIDs []string
	if err := store.db.WithContext(ctx).Model(&DJ{}).Order("id").Pluck("id", &rawIDs).Error; err != nil {
		return nil, wrapStoreError(errorSubjectDJ, errorCodeList, err)
	}
	ids := make([]djrequest.DJID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := djrequest.NewDJID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDJ, errorCodeInvalid, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (store *Store) CreateRequest(ctx context.Context, request djrequest.Request) error {
	var holdRef *string
	if !request.HoldRef.IsZero() {
		value := request.HoldRef.String()
		holdRef = &value
	}
	model := Request{
		ID:             request.ID.String(),
		DJID:           request.DJID.String(),
		SongTitle:      request.SongTitle,
		ArtistName:     request.ArtistName,
		RequesterName:  request.RequesterName,
		RequesterEmail: request.RequesterEmail,
		DonationCents:  request.DonationAmount.Int64(),
		Currency:       request.Currency.String(),
		PaymentMethod:  request.PaymentMethod.String(),
		HoldRef:        holdRef,
		Status:         request.Status.String(),
		CreatedAt:      request.CreatedAt.UTC(),
		UpdatedAt:      request.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRequest(ctx context.Context, requestID djrequest.RequestID) (djrequest.Request, error) {
	var model Request
	err := store.db.WithContext(ctx).Where("id = ?", requestID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return djrequest.Request{}, wrapStoreError(errorSubjectRequest, errorCodeGet, djrequest.ErrUnknownRequest)
		}
		return djrequest.Request{}, wrapStoreError(errorSubjectRequest, errorCodeGet, err)
	}
	request, err := mapRequest(model)
	if err != nil {
		return djrequest.Request{}, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
	}
	return request, nil
}

func (store *Store) ListRequests(ctx context.Context, djID djrequest.DJID) ([]djrequest.Request, error) {
	var rows []Request
	err := store.db.WithContext(ctx).
		Where("dj_id = ?", djID.String()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
	}
	return mapRequests(rows)
}

func (store *Store) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, after djrequest.OverdueCursor, limit int) ([]djrequest.Request, error) {
	query := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", djrequest.RequestStatusPending.String(), cutoff.UTC())
	if !after.IsZero() {
		afterCreated := after.CreatedAt.UTC()
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", afterCreated, afterCreated, after.RequestID.String())
	}
	query = query.Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []Request
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
	}
	return mapRequests(rows)
}

func (store *Store) ClaimRequest(ctx context.Context, requestID djrequest.RequestID, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Request{}).
		Where("id = ? AND status = ?", requestID.String(), djrequest.RequestStatusPending.String()).
		UpdateColumn("updated_at", at.UTC())
	if result.Error != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeClaim, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRequest, errorCodeClaim, djrequest.ErrAlreadyResolved)
	}
	return nil
}

func (store *Store) TransitionRequest(ctx context.Context, requestID djrequest.RequestID, from djrequest.RequestStatus, to djrequest.RequestStatus, createdAfter time.Time) error {
	query := store.db.WithContext(ctx).
		Model(&Request{}).
		Where("id = ? AND status = ?", requestID.String(), from.String())
	if !createdAfter.IsZero() {
		query = query.Where("created_at > ?", createdAfter.UTC())
	}
	result := query.Updates(map[string]interface{}{
		"status":     to.String(),
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, djrequest.ErrAlreadyResolved)
	}
	return nil
}

func (store *Store) TransitionAllRequests(ctx context.Context, djID djrequest.DJID, from djrequest.RequestStatus, to djrequest.RequestStatus) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Request{}).
		Where("dj_id = ? AND status = ?", djID.String(), from.String()).
		Updates(map[string]interface{}{
			"status":     to.String(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) CountRequests(ctx context.Context, djID djrequest.DJID, since time.Time) (djrequest.RequestCounts, error) {
	var rows []statusCount
	err := store.db.WithContext(ctx).
		Model(&Request{}).
		Select("status, count(*) as total").
		Where("dj_id = ? AND created_at >= ?", djID.String(), since.UTC()).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return djrequest.RequestCounts{}, wrapStoreError(errorSubjectRequest, errorCodeCount, err)
	}
	var counts djrequest.RequestCounts
	for _, row := range rows {
		status, err := djrequest.ParseRequestStatus(row.Status)
		if err != nil {
			return djrequest.RequestCounts{}, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
		}
		addCount(&counts, status, row.Total)
	}
	return counts, nil
}

func (store *Store) MaxQueuePosition(ctx context.Context, djID djrequest.DJID) (int, error) {
	var result maxPosition
	err := store.db.WithContext(ctx).
		Model(&QueueItem{}).
		Select("coalesce(max(position),0) as position").
		Where("dj_id = ?", djID.String()).
		Scan(&result).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectQueue, errorCodeGet, err)
	}
	return result.Position, nil
}

func (store *Store) CreateQueueItem(ctx context.Context, item djrequest.QueueItem) error {
	model := QueueItem{
		ID:        item.ID.String(),
		DJID:      item.DJID.String(),
		RequestID: item.RequestID.String(),
		Position:  item.Position,
		Status:    item.Status.String(),
		AddedAt:   item.AddedAt.UTC(),
		UpdatedAt: item.AddedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintQueuePosition) {
		return wrapStoreError(errorSubjectQueue, errorCodeDuplicate, djrequest.ErrQueuePositionConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetQueueItem(ctx context.Context, itemID djrequest.QueueItemID) (djrequest.QueueItem, error) {
	var model QueueItem
	err := store.db.WithContext(ctx).Where("id = ?", itemID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return djrequest.QueueItem{}, wrapStoreError(errorSubjectQueue, errorCodeGet, djrequest.ErrUnknownQueueItem)
		}
		return djrequest.QueueItem{}, wrapStoreError(errorSubjectQueue, errorCodeGet, err)
	}
	item, err := mapQueueItem(model)
	if err != nil {
		return djrequest.QueueItem{}, wrapStoreError(errorSubjectQueue, errorCodeInvalid, err)
	}
	return item, nil
}

func (store *Store) ClaimQueueItem(ctx context.Context, itemID djrequest.QueueItemID, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&QueueItem{}).
		Where("id = ? AND status IN ?", itemID.String(), openQueueStatuses()).
		UpdateColumn("updated_at", at.UTC())
	if result.Error != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeClaim, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectQueue, errorCodeClaim, djrequest.ErrAlreadyResolved)
	}
	return nil
}

func (store *Store) ListQueue(ctx context.Context, djID djrequest.DJID) ([]djrequest.QueueEntry, error) {
	var items []QueueItem
	err := store.db.WithContext(ctx).
		Where("dj_id = ?", djID.String()).
		Order("position ASC").
		Find(&items).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectQueue, errorCodeList, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	requestIDs := make([]string, 0, len(items))
	for _, item := range items {
		requestIDs = append(requestIDs, item.RequestID)
	}
	var requests []Request
	if err := store.db.WithContext(ctx).Where("id IN ?", requestIDs).Find(&requests).Error; err != nil {
		return nil, wrapStoreError(errorSubjectQueue, errorCodeList, err)
	}
	byID := make(map[string]Request, len(requests))
	for _, request := range requests {
		byID[request.ID] = request
	}
	entries := make([]djrequest.QueueEntry, 0, len(items))
	for _, model := range items {
		item, err := mapQueueItem(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectQueue, errorCodeInvalid, err)
		}
		requestModel, ok := byID[model.RequestID]
		if !ok {
			return nil, wrapStoreError(errorSubjectQueue, errorCodeInvalid, djrequest.ErrUnknownRequest)
		}
		request, err := mapRequest(requestModel)
		if err != nil {
			return nil, wrapStoreError(errorSubjectQueue, errorCodeInvalid, err)
		}
		entries = append(entries, djrequest.QueueEntry{Item: item, Request: request})
	}
	return entries, nil
}

func (store *Store) DemoteNowPlaying(ctx context.Context, djID djrequest.DJID, except djrequest.QueueItemID) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&QueueItem{}).
		Where("dj_id = ? AND status = ? AND id <> ?", djID.String(), djrequest.QueueStatusNowPlaying.String(), except.String()).
		Updates(map[string]interface{}{
			"status":     djrequest.QueueStatusWaiting.String(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) PromoteQueueItem(ctx context.Context, itemID djrequest.QueueItemID, promotedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&QueueItem{}).
		Where("id = ? AND status IN ?", itemID.String(), openQueueStatuses()).
		Updates(map[string]interface{}{
			"status":      djrequest.QueueStatusNowPlaying.String(),
			"promoted_at": promotedAt.UTC(),
			"updated_at":  promotedAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, djrequest.ErrAlreadyResolved)
	}
	return nil
}

func (store *Store) FinishQueueItem(ctx context.Context, itemID djrequest.QueueItemID, to djrequest.QueueStatus, at time.Time) error {
	updates := map[string]interface{}{
		"status":     to.String(),
		"updated_at": at.UTC(),
	}
	if to == djrequest.QueueStatusPlayed {
		updates["played_at"] = at.UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&QueueItem{}).
		Where("id = ? AND status IN ?", itemID.String(), openQueueStatuses()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectQueue, errorCodeUpdateStatus, djrequest.ErrAlreadyResolved)
	}
	return nil
}

// SetQueuePositions writes negative staging positions first so the unique
// (dj_id, position) index holds after every statement. ordered must cover every
// item of the DJ.
func (store *Store) SetQueuePositions(ctx context.Context, djID djrequest.DJID, ordered []djrequest.QueueItemID) error {
	for _, phase := range []int{-1, 1} {
		for index, itemID := range ordered {
			err := store.db.WithContext(ctx).
				Model(&QueueItem{}).
				Where("id = ? AND dj_id = ?", itemID.String(), djID.String()).
				UpdateColumn("position", phase*(index+1)).Error
			if isUniqueViolation(err, constraintQueuePosition) {
				return wrapStoreError(errorSubjectQueue, errorCodeReorder, djrequest.ErrQueuePositionConflict)
			}
			if err != nil {
				return wrapStoreError(errorSubjectQueue, errorCodeReorder, err)
			}
		}
	}
	return nil
}

func (store *Store) DeleteQueue(ctx context.Context, djID djrequest.DJID) (int64, error) {
	result := store.db.WithContext(ctx).Where("dj_id = ?", djID.String()).Delete(&QueueItem{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectQueue, errorCodeDelete, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) CreateEventSummary(ctx context.Context, summary djrequest.EventSummary) error {
	model := EventSummary{
		ID:                summary.ID.String(),
		DJID:              summary.DJID.String(),
		EventCode:         summary.EventCode.String(),
		TotalRequests:     summary.Requests.Total,
		PendingRequests:   summary.Requests.Pending,
		AcceptedRequests:  summary.Requests.Accepted,
		RejectedRequests:  summary.Requests.Rejected,
		ExpiredRequests:   summary.Requests.Expired,
		ClosedRequests:    summary.Requests.Closed,
		PlayedSongs:       summary.PlayedSongs,
		SkippedSongs:      summary.SkippedSongs,
		TotalEarningCents: summary.TotalEarnings.Int64(),
		StartedAt:         summary.StartedAt.UTC(),
		EndedAt:           summary.EndedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) ListEventSummaries(ctx context.Context, djID djrequest.DJID) ([]djrequest.EventSummary, error) {
	var rows []EventSummary
	err := store.db.WithContext(ctx).
		Where("dj_id = ?", djID.String()).
		Order("ended_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSummary, errorCodeList, err)
	}
	summaries := make([]djrequest.EventSummary, 0, len(rows))
	for _, row := range rows {
		summary, err := mapEventSummary(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSummary, errorCodeInvalid, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (store *Store) InsertProviderEvent(ctx context.Context, event djrequest.ProviderEvent) error {
	model := ProviderEvent{
		Provider:   event.Provider.String(),
		Type:       event.Type,
		Reference:  event.Reference,
		Payload:    datatypesJSON(event.Payload),
		ReceivedAt: event.ReceivedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) takeDJ(ctx context.Context, condition string, value string) (djrequest.DJ, error) {
	var model DJ
	err := store.db.WithContext(ctx).Where(condition, value).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeGet, djrequest.ErrUnknownDJ)
		}
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeGet, err)
	}
	dj, err := mapDJ(model)
	if err != nil {
		return djrequest.DJ{}, wrapStoreError(errorSubjectDJ, errorCodeInvalid, err)
	}
	return dj, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return djrequest.WrapError(errorOperationStore, subject, code, err)
}

type statusCount struct {
	Status string
	Total  int
}

type maxPosition struct {
	Position int
}

func addCount(counts *djrequest.RequestCounts, status djrequest.RequestStatus, total int) {
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

func openQueueStatuses() []string {
	return []string{djrequest.QueueStatusWaiting.String(), djrequest.QueueStatusNowPlaying.String()}
}

func mapDJ(model DJ) (djrequest.DJ, error) {
	id, err := djrequest.NewDJID(model.ID)
	if err != nil {
		return djrequest.DJ{}, err
	}
	code, err := djrequest.NewEventCode(model.EventCode)
	if err != nil {
		return djrequest.DJ{}, err
	}
	minDonation, err := djrequest.NewPositiveAmountCents(model.MinDonationCents)
	if err != nil {
		return djrequest.DJ{}, err
	}
	return djrequest.DJ{
		ID:              id,
		Name:            model.Name,
		EventCode:       code,
		MinDonation:     minDonation,
		StripeAccountID: model.StripeAccountID,
		PayPalEmail:     model.PayPalEmail,
		SatispayID:      model.SatispayID,
		EventStartedAt:  model.EventStartedAt.UTC(),
		CreatedAt:       model.CreatedAt.UTC(),
	}, nil
}

func mapRequests(rows []Request) ([]djrequest.Request, error) {
	requests := make([]djrequest.Request, 0, len(rows))
	for _, row := range rows {
		request, err := mapRequest(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func mapRequest(model Request) (djrequest.Request, error) {
	id, err := djrequest.NewRequestID(model.ID)
	if err != nil {
		return djrequest.Request{}, err
	}
	djID, err := djrequest.NewDJID(model.DJID)
	if err != nil {
		return djrequest.Request{}, err
	}
	amount, err := djrequest.NewPositiveAmountCents(model.DonationCents)
	if err != nil {
		return djrequest.Request{}, err
	}
	currency, err := djrequest.NewCurrency(model.Currency)
	if err != nil {
		return djrequest.Request{}, err
	}
	method, err := djrequest.ParsePaymentMethod(model.PaymentMethod)
	if err != nil {
		return djrequest.Request{}, err
	}
	status, err := djrequest.ParseRequestStatus(model.Status)
	if err != nil {
		return djrequest.Request{}, err
	}
	var holdRef djrequest.HoldRef
	if model.HoldRef != nil {
		holdRef, err = djrequest.NewHoldRef(*model.HoldRef)
		if err != nil {
			return djrequest.Request{}, err
		}
	}
	return djrequest.Request{
		ID:             id,
		DJID:           djID,
		SongTitle:      model.SongTitle,
		ArtistName:     model.ArtistName,
		RequesterName:  model.RequesterName,
		RequesterEmail: model.RequesterEmail,
		DonationAmount: amount,
		Currency:       currency,
		PaymentMethod:  method,
		HoldRef:        holdRef,
		Status:         status,
		CreatedAt:      model.CreatedAt.UTC(),
	}, nil
}

func mapQueueItem(model QueueItem) (djrequest.QueueItem, error) {
	id, err := djrequest.NewQueueItemID(model.ID)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	djID, err := djrequest.NewDJID(model.DJID)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	requestID, err := djrequest.NewRequestID(model.RequestID)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	status, err := djrequest.ParseQueueStatus(model.Status)
	if err != nil {
		return djrequest.QueueItem{}, err
	}
	return djrequest.QueueItem{
		ID:         id,
		DJID:       djID,
		RequestID:  requestID,
		Position:   model.Position,
		Status:     status,
		AddedAt:    model.AddedAt.UTC(),
		PromotedAt: timeOrZero(model.PromotedAt),
		PlayedAt:   timeOrZero(model.PlayedAt),
	}, nil
}

func mapEventSummary(model EventSummary) (djrequest.EventSummary, error) {
	id, err := djrequest.NewSummaryID(model.ID)
	if err != nil {
		return djrequest.EventSummary{}, err
	}
	djID, err := djrequest.NewDJID(model.DJID)
	if err != nil {
		return djrequest.EventSummary{}, err
	}
	code, err := djrequest.NewEventCode(model.EventCode)
	if err != nil {
		return djrequest.EventSummary{}, err
	}
	return djrequest.EventSummary{
		ID:        id,
		DJID:      djID,
		EventCode: code,
		Requests: djrequest.RequestCounts{
			Total:    model.TotalRequests,
			Pending:  model.PendingRequests,
			Accepted: model.AcceptedRequests,
			Rejected: model.RejectedRequests,
			Expired:  model.ExpiredRequests,
			Closed:   model.ClosedRequests,
		},
		PlayedSongs:   model.PlayedSongs,
		SkippedSongs:  model.SkippedSongs,
		TotalEarnings: djrequest.AmountCents(model.TotalEarningCents),
		StartedAt:     model.StartedAt.UTC(),
		EndedAt:       model.EndedAt.UTC(),
	}, nil
}

func timeOrZero(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultPayloadJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

var _ djrequest.Store = (*Store)(nil)
