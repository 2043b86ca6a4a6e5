package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SONGREQ"

	FlagListenAddr          = "listen-addr"
	FlagDatabaseURL         = "database-url"
	FlagStoreEngine         = "store-engine"
	FlagSweepInterval       = "sweep-interval"
	FlagSweepBatchSize      = "sweep-batch-size"
	FlagExpirationWindow    = "expiration-window"
	FlagCurrency            = "currency"
	FlagPublicBaseURL       = "public-base-url"
	FlagAllowedOrigins      = "allowed-origins"
	FlagJWTSigningKey       = "jwt-signing-key"
	FlagJWTIssuer           = "jwt-issuer"
	FlagLogFormat           = "log-format"
	FlagShutdownTimeout     = "shutdown-timeout"
	FlagRedisAddr           = "redis-addr"
	FlagKafkaBrokers        = "kafka-brokers"
	FlagKafkaTopic          = "kafka-topic"
	FlagPaymentsSandbox     = "payments-sandbox"
	FlagStripeSecretKey     = "stripe-secret-key"
	FlagStripeWebhookSecret = "stripe-webhook-secret"
	FlagPayPalClientID      = "paypal-client-id"
	FlagPayPalSecret        = "paypal-secret"
	FlagPayPalMode          = "paypal-mode"
	FlagSatispayKeyID       = "satispay-key-id"
	FlagSatispayPrivateKey  = "satispay-private-key"
	FlagSatispayMode        = "satispay-mode"
)

// RegisterStorageFlags adds the flags every command needs to reach the store and providers.
func RegisterStorageFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String(FlagDatabaseURL, defaultDatabaseURL, "database url (postgres:// for production, sqlite:// serializes every transaction)")
	flags.String(FlagStoreEngine, EngineGORM, "store engine: gorm or pgx")
	flags.Duration(FlagSweepInterval, 0, "interval between expiration sweeps (default 60s)")
	flags.Int(FlagSweepBatchSize, 0, "overdue requests loaded per sweep page")
	flags.Duration(FlagExpirationWindow, 0, "how long a pending request waits for a decision (default 180m)")
	flags.String(FlagCurrency, "", "default currency code (default EUR)")
	flags.String(FlagLogFormat, "json", "log format: json or console")
	flags.String(FlagRedisAddr, "", "redis address for the sweeper lock (optional)")
	flags.String(FlagKafkaBrokers, "", "comma-separated kafka brokers for lifecycle events (optional)")
	flags.String(FlagKafkaTopic, "", "kafka topic for lifecycle events")
	flags.Bool(FlagPaymentsSandbox, false, "serve providers without credentials from the in-memory gateway")
	flags.String(FlagStripeSecretKey, "", "stripe secret key")
	flags.String(FlagPayPalClientID, "", "paypal REST client id")
	flags.String(FlagPayPalSecret, "", "paypal REST secret")
	flags.String(FlagPayPalMode, "", "paypal mode: sandbox or live")
	flags.String(FlagSatispayKeyID, "", "satispay key id")
	flags.String(FlagSatispayPrivateKey, "", "satispay RSA private key (PEM)")
	flags.String(FlagSatispayMode, "", "satispay mode: sandbox or live")
}

// RegisterServerFlags adds the HTTP server flags on top of the storage flags.
func RegisterServerFlags(cmd *cobra.Command) {
	RegisterStorageFlags(cmd)
	flags := cmd.Flags()
	flags.String(FlagListenAddr, defaultListenAddr, "HTTP listen address")
	flags.String(FlagPublicBaseURL, "", "public URL the event QR code points to")
	flags.String(FlagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(FlagJWTSigningKey, "", "HS256 key verifying DJ bearer tokens (required)")
	flags.String(FlagJWTIssuer, "", "expected JWT issuer")
	flags.Duration(FlagShutdownTimeout, 0, "graceful shutdown timeout")
	flags.String(FlagStripeWebhookSecret, "", "stripe webhook signing secret")
}

// Load reads an optional .env file, then flags and SONGREQ_* environment values.
// Flags that the command did not register keep their zero value.
func Load(cmd *cobra.Command, envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(flag.Name, flag)
		}
	})
	if bindErr != nil {
		return Config{}, bindErr
	}

	return Config{
		ListenAddr:       v.GetString(FlagListenAddr),
		DatabaseURL:      v.GetString(FlagDatabaseURL),
		StoreEngine:      v.GetString(FlagStoreEngine),
		SweepInterval:    v.GetDuration(FlagSweepInterval),
		SweepBatchSize:   v.GetInt(FlagSweepBatchSize),
		ExpirationWindow: v.GetDuration(FlagExpirationWindow),
		Currency:         v.GetString(FlagCurrency),
		PublicBaseURL:    v.GetString(FlagPublicBaseURL),
		AllowedOrigins:   ParseList(v.GetString(FlagAllowedOrigins)),
		JWTSigningKey:    v.GetString(FlagJWTSigningKey),
		JWTIssuer:        v.GetString(FlagJWTIssuer),
		LogFormat:        v.GetString(FlagLogFormat),
		ShutdownTimeout:  v.GetDuration(FlagShutdownTimeout),
		RedisAddr:        v.GetString(FlagRedisAddr),
		KafkaBrokers:     ParseList(v.GetString(FlagKafkaBrokers)),
		KafkaTopic:       v.GetString(FlagKafkaTopic),
		PaymentsSandbox:  v.GetBool(FlagPaymentsSandbox),
		Stripe: StripeConfig{
			SecretKey:     v.GetString(FlagStripeSecretKey),
			WebhookSecret: v.GetString(FlagStripeWebhookSecret),
		},
		PayPal: PayPalConfig{
			ClientID: v.GetString(FlagPayPalClientID),
			Secret:   v.GetString(FlagPayPalSecret),
			Mode:     v.GetString(FlagPayPalMode),
		},
		Satispay: SatispayConfig{
			KeyID:         v.GetString(FlagSatispayKeyID),
			PrivateKeyPEM: v.GetString(FlagSatispayPrivateKey),
			Mode:          v.GetString(FlagSatispayMode),
		},
	}, nil
}
