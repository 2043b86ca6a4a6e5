package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
)

const signingKey = "test-signing-key"

func TestValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{JWTSigningKey: signingKey}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.DatabaseURL != defaultDatabaseURL || cfg.StoreEngine != EngineGORM {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SweepInterval != djrequest.DefaultSweepInterval || cfg.ExpirationWindow != djrequest.DefaultExpirationWindow {
		test.Fatalf("unexpected timing defaults %s %s", cfg.SweepInterval, cfg.ExpirationWindow)
	}
	if cfg.Currency != "EUR" || cfg.KafkaTopic != "" {
		test.Fatalf("unexpected currency %s or topic %s", cfg.Currency, cfg.KafkaTopic)
	}
	if cfg.ExpirationWindow != 180*time.Minute {
		test.Fatalf("expected 180 minute window, got %s", cfg.ExpirationWindow)
	}
}

func TestValidateRejects(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name   string
		cfg    Config
		expect string
	}{
		{name: "missing signing key", cfg: Config{}, expect: "jwt signing key"},
		{name: "pgx on sqlite", cfg: Config{JWTSigningKey: signingKey, StoreEngine: EnginePGX}, expect: "requires a postgres"},
		{name: "unknown engine", cfg: Config{JWTSigningKey: signingKey, StoreEngine: "bolt"}, expect: "unknown store engine"},
		{name: "bad currency", cfg: Config{JWTSigningKey: signingKey, Currency: "EURO"}, expect: "currency"},
		{name: "bad paypal mode", cfg: Config{JWTSigningKey: signingKey, PayPal: PayPalConfig{Mode: "prod"}}, expect: "provider mode"},
		{name: "half paypal credentials", cfg: Config{JWTSigningKey: signingKey, PayPal: PayPalConfig{ClientID: "id"}}, expect: "paypal"},
		{name: "half satispay credentials", cfg: Config{JWTSigningKey: signingKey, Satispay: SatispayConfig{KeyID: "key"}}, expect: "satispay"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			err := testCase.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), testCase.expect) {
				test.Fatalf("expected error containing %q, got %v", testCase.expect, err)
			}
		})
	}
}

func TestValidateAcceptsPGXOnPostgres(test *testing.T) {
	test.Parallel()
	cfg := Config{
		JWTSigningKey: signingKey,
		StoreEngine:   "PGX",
		DatabaseURL:   "postgres://localhost/songrequests",
		KafkaBrokers:  []string{"localhost:9092"},
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.StoreEngine != EnginePGX || cfg.KafkaTopic != defaultKafkaTopic {
		test.Fatalf("unexpected engine %s topic %s", cfg.StoreEngine, cfg.KafkaTopic)
	}
}

func TestValidateWorkerSkipsSigningKey(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.ValidateWorker(); err != nil {
		test.Fatalf("validate worker: %v", err)
	}
	if cfg.SweepBatchSize != 0 || cfg.SweepInterval != djrequest.DefaultSweepInterval {
		test.Fatalf("unexpected sweep settings %+v", cfg)
	}
}

func TestParseList(test *testing.T) {
	test.Parallel()
	got := ParseList(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		test.Fatalf("unexpected list %v", got)
	}
	if len(ParseList("  ")) != 0 {
		test.Fatalf("expected empty list")
	}
}
