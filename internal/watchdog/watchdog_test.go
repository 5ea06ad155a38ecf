package watchdog

import (
	"testing"
	"time"

	"github.com/okibrian/valet/internal/tasks"
)

func TestSweepEscalatesOnePhasePerPass(t *testing.T) {
	start := time.Now().UTC().Add(-time.Hour)
	reg := &fakeRegistry{
		running: []tasks.Task{{
			ID:             "t1",
			Name:           "stalled task",
			Status:         tasks.StatusRunning,
			LastActivityAt: start,
		}},
	}
	w := New(Config{
		Registry:   reg,
		NudgeAfter: time.Minute,
		AbortAfter: 5 * time.Minute,
		KillAfter:  10 * time.Minute,
	})

	now := start.Add(2 * time.Minute)
	w.sweep(now)
	if reg.phases["t1"] != tasks.PhaseNudged {
		t.Fatalf("phase after first sweep = %d, want nudged", reg.phases["t1"])
	}
	if len(reg.injected) != 1 {
		t.Fatalf("injected = %d messages, want 1", len(reg.injected))
	}

	reg.running[0].WatchdogPhase = tasks.PhaseNudged
	w.sweep(start.Add(6 * time.Minute))
	if reg.phases["t1"] != tasks.PhaseAborted {
		t.Fatalf("phase after second sweep = %d, want aborted", reg.phases["t1"])
	}

	reg.running[0].WatchdogPhase = tasks.PhaseAborted
	w.sweep(start.Add(11 * time.Minute))
	if reg.phases["t1"] != tasks.PhaseKilled {
		t.Fatalf("phase after third sweep = %d, want killed", reg.phases["t1"])
	}
	if len(reg.cancelled) != 1 || reg.cancelled[0] != "t1" {
		t.Fatalf("cancelled = %v, want [t1]", reg.cancelled)
	}
}

func TestSweepLeavesFreshTasksAlone(t *testing.T) {
	reg := &fakeRegistry{
		running: []tasks.Task{{
			ID:             "t1",
			Status:         tasks.StatusRunning,
			LastActivityAt: time.Now().UTC(),
		}},
	}
	w := New(Config{Registry: reg, NudgeAfter: time.Minute, AbortAfter: 5 * time.Minute, KillAfter: 10 * time.Minute})

	w.sweep(time.Now().UTC())
	if len(reg.injected) != 0 || len(reg.cancelled) != 0 {
		t.Fatalf("fresh task was touched: injected=%v cancelled=%v", reg.injected, reg.cancelled)
	}
}

func TestSweepDoesNotSkipPhases(t *testing.T) {
	// A task far past the kill threshold but never nudged must still
	// walk the ladder instead of being killed outright.
	start := time.Now().UTC().Add(-time.Hour)
	reg := &fakeRegistry{
		running: []tasks.Task{{
			ID:             "t1",
			Status:         tasks.StatusRunning,
			LastActivityAt: start,
		}},
	}
	w := New(Config{Registry: reg, NudgeAfter: time.Minute, AbortAfter: 5 * time.Minute, KillAfter: 10 * time.Minute})

	w.sweep(start.Add(time.Hour))
	if reg.phases["t1"] != tasks.PhaseNudged {
		t.Fatalf("phase = %d, want nudged (no phase skipping)", reg.phases["t1"])
	}
	if len(reg.cancelled) != 0 {
		t.Fatalf("task was killed without prior escalation")
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	reg := &fakeRegistry{}
	w := New(Config{Registry: reg, SweepInterval: time.Hour, NudgeAfter: time.Minute, AbortAfter: 2 * time.Minute, KillAfter: 3 * time.Minute})
	defer w.Close()

	w.Ensure()
	w.Ensure()
	w.Ensure()
}

type fakeRegistry struct {
	running   []tasks.Task
	phases    map[string]int
	injected  []string
	cancelled []string
}

func (f *fakeRegistry) RunningTasks() []tasks.Task {
	out := make([]tasks.Task, len(f.running))
	copy(out, f.running)
	return out
}

func (f *fakeRegistry) SetWatchdogPhase(taskID string, phase int) bool {
	if f.phases == nil {
		f.phases = make(map[string]int)
	}
	f.phases[taskID] = phase
	return true
}

func (f *fakeRegistry) Inject(taskID, message string) bool {
	f.injected = append(f.injected, message)
	return true
}

func (f *fakeRegistry) Cancel(taskID string) bool {
	f.cancelled = append(f.cancelled, taskID)
	return true
}
