// Package watchdog monitors running tasks for stalls and escalates in
// phases: nudge, abort note, kill. Blocked tasks are exempt; their own
// block timers govern them. The task registry ensures the sweep is
// running after every spawn and manual resume, and a manual resume
// resets a task's phase.
package watchdog

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/okibrian/valet/internal/tasks"
)

// Registry is the narrow surface the watchdog needs from the task
// registry.
type Registry interface {
	RunningTasks() []tasks.Task
	SetWatchdogPhase(taskID string, phase int) bool
	Inject(taskID, message string) bool
	Cancel(taskID string) bool
}

type Config struct {
	Registry      Registry
	SweepInterval time.Duration
	NudgeAfter    time.Duration
	AbortAfter    time.Duration
	KillAfter     time.Duration
	// OnKill, when set, observes tasks the watchdog cancelled.
	OnKill func(task tasks.Task)
}

type Watchdog struct {
	registry      Registry
	sweepInterval time.Duration
	nudgeAfter    time.Duration
	abortAfter    time.Duration
	killAfter     time.Duration
	onKill        func(task tasks.Task)

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(cfg Config) *Watchdog {
	w := &Watchdog{
		registry:      cfg.Registry,
		sweepInterval: cfg.SweepInterval,
		nudgeAfter:    cfg.NudgeAfter,
		abortAfter:    cfg.AbortAfter,
		killAfter:     cfg.KillAfter,
		onKill:        cfg.OnKill,
	}
	if w.sweepInterval <= 0 {
		w.sweepInterval = 30 * time.Second
	}
	if w.nudgeAfter <= 0 {
		w.nudgeAfter = 2 * time.Minute
	}
	if w.abortAfter <= w.nudgeAfter {
		w.abortAfter = w.nudgeAfter + 3*time.Minute
	}
	if w.killAfter <= w.abortAfter {
		w.killAfter = w.abortAfter + 5*time.Minute
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w
}

// Ensure starts the periodic sweep. It is idempotent; callers invoke
// it after every spawn and resume without tracking whether the loop
// already runs.
func (w *Watchdog) Ensure() {
	w.startOnce.Do(func() {
		go w.loop()
		log.Printf("watchdog: sweep started, interval %s", w.sweepInterval)
	})
}

func (w *Watchdog) Close() {
	w.cancel()
}

func (w *Watchdog) loop() {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sweep(time.Now().UTC())
		}
	}
}

// sweep escalates each running task at most one phase per pass, based
// on idle time since its last recorded activity.
func (w *Watchdog) sweep(now time.Time) {
	for _, t := range w.registry.RunningTasks() {
		idle := now.Sub(t.LastActivityAt)
		switch {
		case t.WatchdogPhase >= tasks.PhaseAborted && idle >= w.killAfter:
			log.Printf("watchdog: killing stalled task %s (%q), idle %s", t.ID, t.Name, idle.Round(time.Second))
			if w.registry.Cancel(t.ID) {
				w.registry.SetWatchdogPhase(t.ID, tasks.PhaseKilled)
				if w.onKill != nil {
					w.onKill(t)
				}
			}
		case t.WatchdogPhase == tasks.PhaseNudged && idle >= w.abortAfter:
			log.Printf("watchdog: aborting current step of task %s (%q), idle %s", t.ID, t.Name, idle.Round(time.Second))
			w.registry.Inject(t.ID, abortInstruction(idle))
			w.registry.SetWatchdogPhase(t.ID, tasks.PhaseAborted)
		case t.WatchdogPhase == tasks.PhaseNone && idle >= w.nudgeAfter:
			w.registry.Inject(t.ID, nudgeInstruction(idle))
			w.registry.SetWatchdogPhase(t.ID, tasks.PhaseNudged)
		}
	}
}

func nudgeInstruction(idle time.Duration) string {
	return fmt.Sprintf("[WATCHDOG] No activity recorded for %s. Report progress on the current step or move on.", idle.Round(time.Second))
}

func abortInstruction(idle time.Duration) string {
	return fmt.Sprintf("[WATCHDOG] Still no activity after %s. Abandon the current step, note what went wrong, and continue with the rest of the task.", idle.Round(time.Second))
}
