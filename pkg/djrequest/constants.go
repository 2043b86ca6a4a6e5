package djrequest

import "time"

const (
	operationRegisterDJ      = "register_dj"
	operationUpdateSettings  = "update_settings"
	operationSubmit          = "submit"
	operationAccept          = "accept"
	operationReject          = "reject"
	operationExpire          = "expire"
	operationSetNowPlaying   = "set_now_playing"
	operationMarkPlayed      = "mark_played"
	operationSkip            = "skip"
	operationReorder         = "reorder"
	operationReconcile       = "reconcile_now_playing"
	operationEndEvent        = "end_event"
	operationRotateEventCode = "rotate_event_code"
	operationReleaseHold     = "release_hold"
	operationProviderEvent   = "provider_event"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	subjectPayment  = "payment"
	subjectRequest  = "request"
	subjectEvent    = "event"
	codeProvider    = "provider"
	codeCodeRetries = "code_retries"

	eventCodeLength   = 6
	eventCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	eventCodeAttempts = 8

	maxNameLength      = 200
	minMinDonation     = AmountCents(1)
	maxMinDonation     = AmountCents(100000)
	defaultMinDonation = AmountCents(100)
)

const (
	// DefaultExpirationWindow is how long a pending hold may stay unresolved.
	DefaultExpirationWindow = 180 * time.Minute
	// DefaultSweepInterval is how often the sweeper looks for overdue holds.
	DefaultSweepInterval = 60 * time.Second
	// DefaultCurrency is used when a submission names none.
	DefaultCurrency = "EUR"
	// PublicRequestLimit caps the requests shown to guests of an event.
	PublicRequestLimit = 20
)

// Lifecycle event types published after successful commits.
const (
	EventRequestSubmitted = "request.submitted"
	EventRequestAccepted  = "request.accepted"
	EventRequestRejected  = "request.rejected"
	EventRequestExpired   = "request.expired"
	EventQueueNowPlaying  = "queue.now_playing"
	EventQueuePlayed      = "queue.played"
	EventQueueSkipped     = "queue.skipped"
	EventQueueReordered   = "queue.reordered"
	EventEnded            = "event.ended"
	EventCodeRotated      = "event.rotated"
)
