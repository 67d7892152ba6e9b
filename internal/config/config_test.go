package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "LOOKBACK_DAYS", "OBSERVATION_HOURS", "MULE_MIN_SOURCES", "CSV_DELIMITER", "TIMEZONE", "EVENTS_EXCHANGE"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8086" {
		t.Fatalf("expected default port 8086, got %q", cfg.ServerPort)
	}
	if cfg.LookbackWindow() != 90*24*time.Hour || cfg.ObservationWindow() != 72*time.Hour {
		t.Fatalf("unexpected default windows: %s / %s", cfg.LookbackWindow(), cfg.ObservationWindow())
	}
	if cfg.MuleMinSources != 2 || cfg.Delimiter() != ';' {
		t.Fatalf("unexpected analysis defaults: %+v", cfg)
	}
	if cfg.EventsExchange != "transfa.events" {
		t.Fatalf("expected default events exchange, got %q", cfg.EventsExchange)
	}
	if cfg.Location == nil {
		t.Fatal("expected a resolved location")
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_UsesAnalyticsServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "ANALYTICS_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "ANALYTICS_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_CoercesInvalidThresholds(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "LOOKBACK_DAYS", "-3")
	setEnvWithCleanup(t, "OBSERVATION_HOURS", "0")
	setEnvWithCleanup(t, "MULE_MIN_SOURCES", "1")
	setEnvWithCleanup(t, "CSV_DELIMITER", ";;")
	setEnvWithCleanup(t, "TIMEZONE", "Nowhere/Special")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LookbackDays != 90 || cfg.ObservationHours != 72 || cfg.MuleMinSources != 2 {
		t.Fatalf("expected invalid thresholds to fall back to defaults, got %+v", cfg)
	}
	if cfg.Delimiter() != ';' {
		t.Fatalf("expected default delimiter, got %q", cfg.Delimiter())
	}
	if cfg.Location != time.UTC {
		t.Fatalf("expected UTC for an unknown timezone, got %s", cfg.Location)
	}
}

func TestLoadConfig_ZeroLookbackMeansUnlimited(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "LOOKBACK_DAYS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LookbackWindow() != 0 {
		t.Fatalf("expected unlimited lookback, got %s", cfg.LookbackWindow())
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
