package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the valet agent server.
type Config struct {
	BindAddr                string
	ShutdownTimeout         time.Duration
	DeviceInactivityTimeout time.Duration
	MetricsNamespace        string

	AllowAnyOrigin bool

	BrainMode     string
	BrainHTTPURL  string
	DeepSeekKey   string
	DeepSeekModel string

	DatabaseURL        string
	MemoryContextLimit int

	PersonaDir       string
	PersonaHotReload bool

	ScheduleTick time.Duration

	WatchdogSweepInterval time.Duration
	WatchdogNudgeAfter    time.Duration
	WatchdogAbortAfter    time.Duration
	WatchdogKillAfter     time.Duration

	TelegramBotToken string
	TelegramChatID   int64
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "valet"),
		AllowAnyOrigin:          false,
		BrainMode:               envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:            envTrimmed("BRAIN_HTTP_URL"),
		DeepSeekKey:             envTrimmed("DEEPSEEK_API_KEY"),
		DeepSeekModel:           envOrDefault("DEEPSEEK_MODEL", "deepseek-chat"),
		DatabaseURL:             envTrimmed("DATABASE_URL"),
		MemoryContextLimit:      10,
		PersonaDir:              envOrDefault("PERSONA_DIR", "personas"),
		PersonaHotReload:        false,
		TelegramBotToken:        envTrimmed("TELEGRAM_BOT_TOKEN"),
		ShutdownTimeout:         15 * time.Second,
		DeviceInactivityTimeout: 5 * time.Minute,
		ScheduleTick:            time.Minute,
		WatchdogSweepInterval:   30 * time.Second,
		WatchdogNudgeAfter:      2 * time.Minute,
		WatchdogAbortAfter:      5 * time.Minute,
		WatchdogKillAfter:       10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DeviceInactivityTimeout, err = durationFromEnv("APP_DEVICE_INACTIVITY_TIMEOUT", cfg.DeviceInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ScheduleTick, err = durationFromEnv("SCHEDULE_TICK_INTERVAL", cfg.ScheduleTick)
	if err != nil {
		return Config{}, err
	}
	cfg.WatchdogSweepInterval, err = durationFromEnv("WATCHDOG_SWEEP_INTERVAL", cfg.WatchdogSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.WatchdogNudgeAfter, err = durationFromEnv("WATCHDOG_NUDGE_AFTER", cfg.WatchdogNudgeAfter)
	if err != nil {
		return Config{}, err
	}
	cfg.WatchdogAbortAfter, err = durationFromEnv("WATCHDOG_ABORT_AFTER", cfg.WatchdogAbortAfter)
	if err != nil {
		return Config{}, err
	}
	cfg.WatchdogKillAfter, err = durationFromEnv("WATCHDOG_KILL_AFTER", cfg.WatchdogKillAfter)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryContextLimit, err = intFromEnv("MEMORY_CONTEXT_LIMIT", cfg.MemoryContextLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonaHotReload, err = boolFromEnv("PERSONA_HOT_RELOAD", cfg.PersonaHotReload)
	if err != nil {
		return Config{}, err
	}
	cfg.TelegramChatID, err = int64FromEnv("TELEGRAM_CHAT_ID", 0)
	if err != nil {
		return Config{}, err
	}

	if cfg.DeviceInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_DEVICE_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MemoryContextLimit <= 0 {
		return Config{}, fmt.Errorf("MEMORY_CONTEXT_LIMIT must be positive")
	}
	if cfg.ScheduleTick < time.Second {
		return Config{}, fmt.Errorf("SCHEDULE_TICK_INTERVAL must be at least 1s")
	}
	if cfg.WatchdogSweepInterval < time.Second {
		return Config{}, fmt.Errorf("WATCHDOG_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.WatchdogNudgeAfter >= cfg.WatchdogAbortAfter || cfg.WatchdogAbortAfter >= cfg.WatchdogKillAfter {
		return Config{}, fmt.Errorf("watchdog thresholds must be ordered nudge < abort < kill")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
