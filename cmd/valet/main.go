package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okibrian/valet/internal/agentrun"
	"github.com/okibrian/valet/internal/brain"
	"github.com/okibrian/valet/internal/config"
	"github.com/okibrian/valet/internal/device"
	"github.com/okibrian/valet/internal/gateway"
	"github.com/okibrian/valet/internal/memory"
	"github.com/okibrian/valet/internal/notify"
	"github.com/okibrian/valet/internal/observability"
	"github.com/okibrian/valet/internal/persona"
	"github.com/okibrian/valet/internal/schedule"
	"github.com/okibrian/valet/internal/tasks"
	"github.com/okibrian/valet/internal/watchdog"
	"github.com/okibrian/valet/internal/worklog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer memoryStore.Close()

	journal, err := worklog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("work log init failed: %v", err)
	}
	defer journal.Close()

	chatter, err := brain.NewChatter(brain.Config{
		Mode:          cfg.BrainMode,
		DeepSeekKey:   cfg.DeepSeekKey,
		DeepSeekModel: cfg.DeepSeekModel,
		HTTPURL:       cfg.BrainHTTPURL,
	})
	if err != nil {
		log.Fatalf("brain init failed: %v", err)
	}
	log.Printf("brain provider: %s", chatter.Name())
	if c, ok := chatter.(interface{ Close() error }); ok {
		defer c.Close()
	}

	personas := persona.NewStore(cfg.PersonaDir)
	if err := personas.Load(); err != nil {
		log.Fatalf("persona load failed: %v", err)
	}

	registry := tasks.NewRegistry()
	defer registry.Close()
	registry.SetMetrics(metrics)
	registry.SetJudge(tasks.NewJudgeChain(
		tasks.LLMJudge{Chat: func(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
			return brain.ChatText(ctx, chatter, system, user, maxTokens, temperature)
		}},
		tasks.HeuristicJudge{},
	))

	wd := watchdog.New(watchdog.Config{
		Registry:      registry,
		SweepInterval: cfg.WatchdogSweepInterval,
		NudgeAfter:    cfg.WatchdogNudgeAfter,
		AbortAfter:    cfg.WatchdogAbortAfter,
		KillAfter:     cfg.WatchdogKillAfter,
		OnKill: func(task tasks.Task) {
			log.Printf("watchdog killed stalled task %s (%q)", task.ID, task.Name)
		},
	})
	defer wd.Close()
	registry.SetWatchdog(wd.Ensure)

	devices := device.NewManager(cfg.DeviceInactivityTimeout)
	devices.SetExpireHook(func(d *device.Device) {
		if n := registry.CancelAllForDevice(d.ID); n > 0 {
			log.Printf("device %s expired, cancelled %d tasks", d.ID, n)
		}
		metrics.SetActiveDevices(devices.OnlineCount())
	})

	notifier, err := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		log.Printf("telegram notifier unavailable, falling back to log: %v", err)
		notifier = notify.NewLogNotifier()
	}
	log.Printf("notifier: %s", notifier.Name())

	schedules := schedule.NewTable()
	runner := agentrun.NewRunner(chatter, registry, journal, personas)

	srv := gateway.New(cfg, gateway.Deps{
		Registry:  registry,
		Devices:   devices,
		Runner:    runner,
		Chat:      chatter,
		Memory:    memoryStore,
		Journal:   journal,
		Personas:  personas,
		Schedules: schedules,
		Notifier:  notifier,
		Metrics:   metrics,
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	devices.StartJanitor(runCtx, 15*time.Second)

	ticker := schedule.NewTicker(schedules, srv.FireSchedule, cfg.ScheduleTick)
	ticker.Start(runCtx)
	defer ticker.Stop()

	if cfg.PersonaHotReload {
		if err := personas.Watch(runCtx); err != nil {
			log.Printf("persona hot reload unavailable: %v", err)
		}
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
