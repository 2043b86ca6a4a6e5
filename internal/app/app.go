// Package app wires configuration into stores, gateways, publishers and the service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/internal/config"
	"github.com/MarkoPoloResearchLab/songrequests/internal/events"
	"github.com/MarkoPoloResearchLab/songrequests/internal/lock/redislock"
	"github.com/MarkoPoloResearchLab/songrequests/internal/logging"
	"github.com/MarkoPoloResearchLab/songrequests/internal/payment/memorygw"
	"github.com/MarkoPoloResearchLab/songrequests/internal/payment/paypalgw"
	"github.com/MarkoPoloResearchLab/songrequests/internal/payment/satispaygw"
	"github.com/MarkoPoloResearchLab/songrequests/internal/payment/stripegw"
	"github.com/MarkoPoloResearchLab/songrequests/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/songrequests/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/songrequests/internal/sweeper"
	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// Closer releases a resource opened during wiring.
type Closer func() error

// OpenStore opens the database, migrates the schema and returns the configured store.
func OpenStore(ctx context.Context, cfg config.Config) (djrequest.Store, Closer, error) {
	gormDB, closeDB, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormstore.Migrate(ctx, gormDB); err != nil {
		_ = closeDB()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if cfg.StoreEngine != config.EnginePGX {
		return gormstore.New(gormDB), closeDB, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = closeDB()
		return nil, nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = closeDB()
		return nil, nil, fmt.Errorf("pgx ping: %w", err)
	}
	closeAll := func() error {
		pool.Close()
		return closeDB()
	}
	return pgstore.New(pool), closeAll, nil
}

// BuildGateways returns one gateway per provider with credentials. Providers without
// credentials are served by the in-memory gateway in sandbox mode and left out otherwise.
func BuildGateways(ctx context.Context, cfg config.Config, log *zap.Logger) (djrequest.Gateways, error) {
	gateways := djrequest.Gateways{}
	var sandbox *memorygw.Gateway
	fallback := func(provider djrequest.Provider) {
		if !cfg.PaymentsSandbox {
			log.Warn("payment provider disabled", zap.String("provider", provider.String()))
			return
		}
		if sandbox == nil {
			sandbox = memorygw.New()
		}
		log.Warn("payment provider served by sandbox gateway", zap.String("provider", provider.String()))
		gateways[provider] = sandbox
	}

	if cfg.Stripe.SecretKey != "" {
		gateway, err := stripegw.New(cfg.Stripe.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("stripe gateway: %w", err)
		}
		gateways[djrequest.ProviderStripe] = gateway
	} else {
		fallback(djrequest.ProviderStripe)
	}

	if cfg.PayPal.ClientID != "" {
		gateway, err := paypalgw.New(ctx, paypalgw.Config{
			ClientID:  cfg.PayPal.ClientID,
			Secret:    cfg.PayPal.Secret,
			Mode:      cfg.PayPal.Mode,
			ReturnURL: cfg.PublicBaseURL,
			CancelURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("paypal gateway: %w", err)
		}
		gateways[djrequest.ProviderPayPal] = gateway
	} else {
		fallback(djrequest.ProviderPayPal)
	}

	if cfg.Satispay.KeyID != "" {
		gateway, err := satispaygw.New(satispaygw.Config{
			KeyID:         cfg.Satispay.KeyID,
			PrivateKeyPEM: cfg.Satispay.PrivateKeyPEM,
			Mode:          cfg.Satispay.Mode,
		})
		if err != nil {
			return nil, fmt.Errorf("satispay gateway: %w", err)
		}
		gateways[djrequest.ProviderSatispay] = gateway
	} else {
		fallback(djrequest.ProviderSatispay)
	}
	return gateways, nil
}

// Publishers builds the lifecycle publishers. hub may be nil.
func Publishers(cfg config.Config, hub *events.Hub) (djrequest.EventPublisher, Closer, error) {
	var fanout events.Fanout
	closer := func() error { return nil }
	if hub != nil {
		fanout = append(fanout, hub)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		fanout = append(fanout, kafkaPublisher)
		closer = kafkaPublisher.Close
	}
	if len(fanout) == 0 {
		return nil, closer, nil
	}
	return fanout, closer, nil
}

// NewService builds the service with the operation logger and publisher wired in.
func NewService(cfg config.Config, store djrequest.Store, gateways djrequest.Gateways, publisher djrequest.EventPublisher, log *zap.Logger) (*djrequest.Service, error) {
	currency, err := djrequest.NewCurrency(cfg.Currency)
	if err != nil {
		return nil, err
	}
	options := []djrequest.ServiceOption{
		djrequest.WithOperationLogger(logging.NewOperationLogger(log)),
		djrequest.WithExpirationWindow(cfg.ExpirationWindow),
		djrequest.WithDefaultCurrency(currency),
	}
	if publisher != nil {
		options = append(options, djrequest.WithEventPublisher(publisher))
	}
	return djrequest.NewService(store, gateways, time.Now, options...)
}

// NewSweeper builds the expiration sweeper, guarded by a redis lock when configured.
func NewSweeper(cfg config.Config, service *djrequest.Service, log *zap.Logger) (*sweeper.Sweeper, Closer, error) {
	options := []sweeper.Option{}
	if cfg.SweepBatchSize > 0 {
		options = append(options, sweeper.WithBatchSize(cfg.SweepBatchSize))
	}
	closer := func() error { return nil }
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		options = append(options, sweeper.WithLocker(redislock.New(client, ""), sweeper.DefaultLockKey))
		closer = client.Close
	}
	sweep, err := sweeper.New(service, cfg.SweepInterval, log, options...)
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return sweep, closer, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, Closer, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == driverSQLite {
		// sqlite allows one writer at a time.
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, nil
}

func resolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "", "", errors.New("database url is required")
	}
	if config.IsPostgresURL(trimmed) {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "songrequests.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
