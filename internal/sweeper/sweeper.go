// Package sweeper expires pending requests whose acceptance window has passed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize = 200
	DefaultLockKey   = "songrequests:sweeper"
)

var errInvalidInterval = errors.New("sweeper: interval must be positive")

// Expirer is the part of djrequest.Service the sweeper drives.
type Expirer interface {
	ListOverdue(ctx context.Context, after djrequest.OverdueCursor, limit int) ([]djrequest.Request, error)
	ExpireRequest(ctx context.Context, requestID djrequest.RequestID) (djrequest.Request, error)
}

// Locker grants a single replica the right to sweep for ttl.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// Report summarizes one sweep.
type Report struct {
	Examined        int
	Expired         int
	AlreadyResolved int
	NotDue          int
	Failed          int
	LockSkipped     bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLocker makes each tick acquire key on locker before sweeping.
func WithLocker(locker Locker, key string) Option {
	return func(sweeper *Sweeper) {
		sweeper.locker = locker
		if key != "" {
			sweeper.lockKey = key
		}
	}
}

// WithBatchSize sets how many overdue requests are loaded per page.
func WithBatchSize(size int) Option {
	return func(sweeper *Sweeper) {
		if size > 0 {
			sweeper.batchSize = size
		}
	}
}

// Sweeper periodically expires overdue requests.
type Sweeper struct {
	expirer   Expirer
	interval  time.Duration
	logger    *zap.Logger
	locker    Locker
	lockKey   string
	batchSize int
}

// New returns a Sweeper ticking every interval.
func New(expirer Expirer, interval time.Duration, logger *zap.Logger, options ...Option) (*Sweeper, error) {
	if expirer == nil {
		return nil, errors.New("sweeper: expirer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", errInvalidInterval, interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sweeper := &Sweeper{
		expirer:   expirer,
		interval:  interval,
		logger:    logger,
		lockKey:   DefaultLockKey,
		batchSize: DefaultBatchSize,
	}
	for _, option := range options {
		option(sweeper)
	}
	return sweeper, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (sweeper *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	sweeper.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweeper.tick(ctx)
		}
	}
}

func (sweeper *Sweeper) tick(ctx context.Context) {
	report, err := sweeper.SweepOnce(ctx)
	if err != nil {
		sweeper.logger.Error("sweep failed", zap.Error(err))
		return
	}
	if report.LockSkipped {
		return
	}
	sweeper.logger.Info("sweep finished",
		zap.Int("examined", report.Examined),
		zap.Int("expired", report.Expired),
		zap.Int("already_resolved", report.AlreadyResolved),
		zap.Int("not_due", report.NotDue),
		zap.Int("failed", report.Failed),
	)
}

// SweepOnce expires every overdue request, paging past requests that fail so they
// never hide newer ones. Failures are counted and retried on the next sweep.
func (sweeper *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report
	if sweeper.locker != nil {
		unlock, acquired, err := sweeper.locker.TryLock(ctx, sweeper.lockKey, sweeper.interval)
		if err != nil {
			sweeper.logger.Warn("sweep lock unavailable, skipping tick", zap.Error(err))
			report.LockSkipped = true
			return report, nil
		}
		if !acquired {
			report.LockSkipped = true
			return report, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				sweeper.logger.Warn("sweep lock release failed", zap.Error(err))
			}
		}()
	}

	var cursor djrequest.OverdueCursor
	for ctx.Err() == nil {
		page, err := sweeper.expirer.ListOverdue(ctx, cursor, sweeper.batchSize)
		if err != nil {
			return report, err
		}
		for _, request := range page {
			if ctx.Err() != nil {
				break
			}
			sweeper.expire(ctx, request, &report)
		}
		if len(page) < sweeper.batchSize {
			break
		}
		cursor = djrequest.CursorAfter(page[len(page)-1])
	}
	return report, nil
}

func (sweeper *Sweeper) expire(ctx context.Context, request djrequest.Request, report *Report) {
	report.Examined++
	_, err := sweeper.expirer.ExpireRequest(ctx, request.ID)
	switch {
	case err == nil:
		report.Expired++
	case djrequest.IsResolved(err):
		report.AlreadyResolved++
	case errors.Is(err, djrequest.ErrNotYetDue):
		report.NotDue++
	default:
		report.Failed++
		sweeper.logger.Error("expire request failed",
			zap.String("request_id", request.ID.String()),
			zap.String("dj_id", request.DJID.String()),
			zap.String("payment_method", request.PaymentMethod.String()),
			zap.Error(err),
		)
	}
}
