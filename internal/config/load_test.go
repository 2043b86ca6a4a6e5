package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func TestLoadReadsFlagsEnvironmentAndEnvFile(test *testing.T) {
	envFile := filepath.Join(test.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("SONGREQ_JWT_ISSUER=issuer-from-file\n"), 0o600); err != nil {
		test.Fatalf("write env file: %v", err)
	}
	test.Cleanup(func() { _ = os.Unsetenv("SONGREQ_JWT_ISSUER") })
	test.Setenv("SONGREQ_KAFKA_BROKERS", "kafka-a:9092, kafka-b:9092")
	test.Setenv("SONGREQ_PAYPAL_CLIENT_ID", "client")

	cmd := &cobra.Command{Use: "songrequestd"}
	RegisterServerFlags(cmd)
	if err := cmd.Flags().Set(FlagListenAddr, ":9999"); err != nil {
		test.Fatalf("set flag: %v", err)
	}

	cfg, err := Load(cmd, envFile)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		test.Fatalf("expected flag value, got %q", cfg.ListenAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-b:9092" {
		test.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.PayPal.ClientID != "client" || cfg.JWTIssuer != "issuer-from-file" {
		test.Fatalf("unexpected env values %+v", cfg)
	}
	if cfg.DatabaseURL != defaultDatabaseURL || cfg.StoreEngine != EngineGORM {
		test.Fatalf("unexpected flag defaults %q %q", cfg.DatabaseURL, cfg.StoreEngine)
	}
}

func TestLoadIgnoresMissingEnvFile(test *testing.T) {
	cmd := &cobra.Command{Use: "sweep"}
	RegisterStorageFlags(cmd)
	if _, err := Load(cmd, filepath.Join(test.TempDir(), "missing.env")); err != nil {
		test.Fatalf("load: %v", err)
	}
}
