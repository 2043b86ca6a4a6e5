package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DJ mirrors the djs table.
type DJ struct {
	ID               string    `gorm:"primaryKey"`
	Name             string    `gorm:"not null"`
	EventCode        string    `gorm:"size:6;not null;uniqueIndex:uniq_djs_event_code"`
	MinDonationCents int64     `gorm:"not null"`
	StripeAccountID  string    `gorm:"not null;default:''"`
	PayPalEmail      string    `gorm:"column:paypal_email;not null;default:''"`
	SatispayID       string    `gorm:"not null;default:''"`
	EventStartedAt   time.Time `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (DJ) TableName() string { return "djs" }

// Request mirrors the requests table.
type Request struct {
	ID             string    `gorm:"primaryKey"`
	DJID           string    `gorm:"column:dj_id;not null;index:idx_requests_dj_created,priority:1"`
	SongTitle      string    `gorm:"not null"`
	ArtistName     string    `gorm:"not null"`
	RequesterName  string    `gorm:"not null"`
	RequesterEmail string    `gorm:"not null;default:''"`
	DonationCents  int64     `gorm:"not null"`
	Currency       string    `gorm:"size:3;not null"`
	PaymentMethod  string    `gorm:"not null"`
	HoldRef        *string   `gorm:"index:idx_requests_hold_ref"`
	Status         string    `gorm:"not null;index:idx_requests_status_created,priority:1"`
	CreatedAt      time.Time `gorm:"not null;index:idx_requests_dj_created,priority:2;index:idx_requests_status_created,priority:2"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Request) TableName() string { return "requests" }

// QueueItem mirrors the queue_items table.
type QueueItem struct {
	ID         string     `gorm:"primaryKey"`
	DJID       string     `gorm:"column:dj_id;not null;uniqueIndex:uniq_queue_dj_position,priority:1"`
	RequestID  string     `gorm:"not null;uniqueIndex:uniq_queue_request"`
	Position   int        `gorm:"not null;uniqueIndex:uniq_queue_dj_position,priority:2"`
	Status     string     `gorm:"not null"`
	AddedAt    time.Time  `gorm:"not null"`
	PromotedAt *time.Time `gorm:""`
	PlayedAt   *time.Time `gorm:""`
	UpdatedAt  time.Time  `gorm:"not null"`
}

func (QueueItem) TableName() string { return "queue_items" }

// EventSummary mirrors the event_summaries table.
type EventSummary struct {
	ID                string    `gorm:"primaryKey"`
	DJID              string    `gorm:"column:dj_id;not null;index:idx_summaries_dj_ended,priority:1"`
	EventCode         string    `gorm:"size:6;not null"`
	TotalRequests     int       `gorm:"not null"`
	PendingRequests   int       `gorm:"not null"`
	AcceptedRequests  int       `gorm:"not null"`
	RejectedRequests  int       `gorm:"not null"`
	ExpiredRequests   int       `gorm:"not null"`
	ClosedRequests    int       `gorm:"not null"`
	PlayedSongs       int       `gorm:"not null"`
	SkippedSongs      int       `gorm:"not null"`
	TotalEarningCents int64     `gorm:"column:total_earnings_cents;not null"`
	StartedAt         time.Time `gorm:"not null"`
	EndedAt           time.Time `gorm:"not null;index:idx_summaries_dj_ended,priority:2"`
}

func (EventSummary) TableName() string { return "event_summaries" }

// ProviderEvent mirrors the provider_events table.
type ProviderEvent struct {
	ID         string         `gorm:"primaryKey"`
	Provider   string         `gorm:"not null;index:idx_provider_events_reference,priority:1"`
	Type       string         `gorm:"not null"`
	Reference  string         `gorm:"not null;default:'';index:idx_provider_events_reference,priority:2"`
	Payload    datatypes.JSON `gorm:"not null"`
	ReceivedAt time.Time      `gorm:"not null"`
}

func (ProviderEvent) TableName() string { return "provider_events" }

func (event *ProviderEvent) BeforeCreate(tx *gorm.DB) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&DJ{}, &Request{}, &QueueItem{}, &EventSummary{}, &ProviderEvent{}}
}
