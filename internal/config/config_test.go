package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.BrainMode != "auto" {
		t.Fatalf("BrainMode = %q, want %q", cfg.BrainMode, "auto")
	}
	if cfg.BrainHTTPURL != "" {
		t.Fatalf("BrainHTTPURL = %q, want empty default", cfg.BrainHTTPURL)
	}
	if cfg.DeviceInactivityTimeout != 5*time.Minute {
		t.Fatalf("DeviceInactivityTimeout = %v, want 5m", cfg.DeviceInactivityTimeout)
	}
	if cfg.ScheduleTick != time.Minute {
		t.Fatalf("ScheduleTick = %v, want 1m", cfg.ScheduleTick)
	}
}

func TestLoadUsesExplicitBrainHTTPURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BRAIN_HTTP_URL", "http://localhost:7777/custom")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrainHTTPURL != "http://localhost:7777/custom" {
		t.Fatalf("BrainHTTPURL = %q, want explicit value", cfg.BrainHTTPURL)
	}
}

func TestLoadRejectsBadWatchdogOrdering(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WATCHDOG_NUDGE_AFTER", "10m")
	t.Setenv("WATCHDOG_ABORT_AFTER", "5m")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for nudge >= abort, got nil")
	}
}

func TestLoadRejectsShortInactivityTimeout(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_DEVICE_INACTIVITY_TIMEOUT", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for short inactivity timeout, got nil")
	}
}

func TestLoadParsesTelegramChatID(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TELEGRAM_CHAT_ID", "123456789")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TelegramChatID != 123456789 {
		t.Fatalf("TelegramChatID = %d, want 123456789", cfg.TelegramChatID)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_DEVICE_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"BRAIN_MODE",
		"BRAIN_HTTP_URL",
		"DEEPSEEK_API_KEY",
		"DEEPSEEK_MODEL",
		"DATABASE_URL",
		"MEMORY_CONTEXT_LIMIT",
		"PERSONA_DIR",
		"PERSONA_HOT_RELOAD",
		"SCHEDULE_TICK_INTERVAL",
		"WATCHDOG_SWEEP_INTERVAL",
		"WATCHDOG_NUDGE_AFTER",
		"WATCHDOG_ABORT_AFTER",
		"WATCHDOG_KILL_AFTER",
		"TELEGRAM_BOT_TOKEN",
		"TELEGRAM_CHAT_ID",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
