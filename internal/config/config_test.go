package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DISPATCH_WINDOW_SECONDS")
	unsetEnvWithCleanup(t, "SCHEDULE_BUFFER_MINUTES")
	unsetEnvWithCleanup(t, "PLATFORM_FEE_PERCENT")
	unsetEnvWithCleanup(t, "CANCELLATION_FINE_PERCENT")
	unsetEnvWithCleanup(t, "SWEEP_SCHEDULE")
	unsetEnvWithCleanup(t, "PORT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DispatchWindowSeconds != 120 {
		t.Fatalf("expected default dispatch window of 120s, got %d", cfg.DispatchWindowSeconds)
	}
	if cfg.ScheduleBufferMinutes != 90 {
		t.Fatalf("expected default schedule buffer of 90m, got %d", cfg.ScheduleBufferMinutes)
	}
	if cfg.PlatformFeePercent != 5 {
		t.Fatalf("expected default platform fee of 5%%, got %d", cfg.PlatformFeePercent)
	}
	if cfg.CancellationFinePct != 10 {
		t.Fatalf("expected default cancellation fine of 10%%, got %d", cfg.CancellationFinePct)
	}
	if cfg.SweepSchedule != "@every 1m" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.SweepSchedule)
	}
}

func TestLoadConfig_EnvOverridesWindow(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DISPATCH_WINDOW_SECONDS", "45")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DispatchWindowSeconds != 45 {
		t.Fatalf("expected dispatch window of 45s, got %d", cfg.DispatchWindowSeconds)
	}
}

func TestLoadConfig_NegativeFineIsCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CANCELLATION_FINE_PERCENT", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CancellationFinePct != 0 {
		t.Fatalf("expected negative fine to coerce to 0, got %d", cfg.CancellationFinePct)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9091")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9091" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
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
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
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
			os.Setenv(key, prev)
		}
	})
}
