// Package config holds the runtime settings shared by the songrequests commands.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
)

const (
	EngineGORM = "gorm"
	EnginePGX  = "pgx"

	defaultListenAddr     = ":8080"
	defaultDatabaseURL    = "sqlite:///tmp/songrequests.db"
	defaultAllowedOrigin  = "http://localhost:3000"
	defaultPublicBaseURL  = "http://localhost:3000"
	defaultJWTIssuer      = "songrequests"
	defaultKafkaTopic     = "song-requests.lifecycle"
	defaultProviderMode   = "sandbox"
	defaultShutdownPeriod = 10 * time.Second
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// PayPalConfig holds PayPal REST credentials.
type PayPalConfig struct {
	ClientID string
	Secret   string
	Mode     string
}

// SatispayConfig holds Satispay Business credentials.
type SatispayConfig struct {
	KeyID         string
	PrivateKeyPEM string
	Mode          string
}

// Config aggregates runtime settings for songrequestd and sweep.
type Config struct {
	ListenAddr       string
	DatabaseURL      string
	StoreEngine      string
	SweepInterval    time.Duration
	SweepBatchSize   int
	ExpirationWindow time.Duration
	Currency         string
	PublicBaseURL    string
	AllowedOrigins   []string
	JWTSigningKey    string
	JWTIssuer        string
	LogFormat        string
	ShutdownTimeout  time.Duration
	RedisAddr        string
	KafkaBrokers     []string
	KafkaTopic       string
	PaymentsSandbox  bool
	Stripe           StripeConfig
	PayPal           PayPalConfig
	Satispay         SatispayConfig
}

// Validate fills defaults and rejects inconsistent settings for the HTTP server.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

// ValidateWorker is Validate without the settings only the HTTP server needs.
func (cfg *Config) ValidateWorker() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreEngine = strings.ToLower(defaultIfEmpty(cfg.StoreEngine, EngineGORM))
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = djrequest.DefaultSweepInterval
	}
	if cfg.ExpirationWindow <= 0 {
		cfg.ExpirationWindow = djrequest.DefaultExpirationWindow
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownPeriod
	}
	cfg.Currency = strings.ToUpper(defaultIfEmpty(cfg.Currency, djrequest.DefaultCurrency))
	cfg.PublicBaseURL = strings.TrimRight(defaultIfEmpty(cfg.PublicBaseURL, defaultPublicBaseURL), "/")
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	if len(cfg.KafkaBrokers) > 0 {
		cfg.KafkaTopic = defaultIfEmpty(cfg.KafkaTopic, defaultKafkaTopic)
	}
	cfg.PayPal.Mode = strings.ToLower(defaultIfEmpty(cfg.PayPal.Mode, defaultProviderMode))
	cfg.Satispay.Mode = strings.ToLower(defaultIfEmpty(cfg.Satispay.Mode, defaultProviderMode))

	switch cfg.StoreEngine {
	case EngineGORM:
	case EnginePGX:
		if !IsPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("store engine %s requires a postgres database url", EnginePGX)
		}
	default:
		return fmt.Errorf("unknown store engine %q", cfg.StoreEngine)
	}
	if _, err := djrequest.NewCurrency(cfg.Currency); err != nil {
		return fmt.Errorf("currency: %w", err)
	}
	if cfg.SweepBatchSize < 0 {
		return fmt.Errorf("sweep batch size must not be negative")
	}
	for _, mode := range []string{cfg.PayPal.Mode, cfg.Satispay.Mode} {
		if mode != "sandbox" && mode != "live" {
			return fmt.Errorf("provider mode must be sandbox or live, got %q", mode)
		}
	}
	if (cfg.PayPal.ClientID == "") != (cfg.PayPal.Secret == "") {
		return fmt.Errorf("paypal client id and secret must be set together")
	}
	if (cfg.Satispay.KeyID == "") != (cfg.Satispay.PrivateKeyPEM == "") {
		return fmt.Errorf("satispay key id and private key must be set together")
	}
	return nil
}

// IsPostgresURL reports whether the database url targets postgres.
func IsPostgresURL(raw string) bool {
	return strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseList splits a comma-delimited value into trimmed, non-empty parts.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
