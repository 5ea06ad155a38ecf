package tasks

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Watchdog escalation phases. The registry only stores the value; the
// watchdog owns the transitions, except that a manual resume resets to
// PhaseNone.
const (
	PhaseNone    = 0
	PhaseNudged  = 1
	PhaseAborted = 2
	PhaseKilled  = 3
)

const activityLimit = 15

type ActivityEntry struct {
	At   time.Time `json:"at"`
	Note string    `json:"note"`
}

// Task is the registry-owned record of one background agent task. Work
// functions never see it; they get only the task id, a cancellation
// context, and the injection inbox.
type Task struct {
	ID          string `json:"id"`
	DeviceID    string `json:"device_id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt"`
	PersonaID   string `json:"persona_id,omitempty"`

	Status        Status          `json:"status"`
	WatchdogPhase int             `json:"watchdog_phase"`
	WaitReason    string          `json:"wait_reason,omitempty"`
	ResumeHint    string          `json:"resume_hint,omitempty"`
	Activity      []ActivityEntry `json:"activity"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	cleanupSet bool
}

func (t Task) Clone() Task {
	out := t
	if t.Activity != nil {
		out.Activity = make([]ActivityEntry, len(t.Activity))
		copy(out.Activity, t.Activity)
	}
	return out
}

func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

type SpawnRequest struct {
	DeviceID    string `json:"device_id"`
	UserID      string `json:"user_id"`
	Prompt      string `json:"prompt"`
	PersonaID   string `json:"persona_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Result is what a work function reports back when it returns.
type Result struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
}

// WorkFunc is the caller-supplied body of a task. It must drain the
// inbox at its own checkpoints and honor ctx cancellation.
type WorkFunc func(ctx context.Context, taskID string, inbox *Inbox) (Result, error)

// Inbox is the follow-up message queue for one task. The registry
// appends, the work function drains.
type Inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (b *Inbox) push(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

// Drain returns all queued messages in arrival order and empties the
// inbox.
func (b *Inbox) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) == 0 {
		return nil
	}
	out := b.msgs
	b.msgs = nil
	return out
}

func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// Handle is returned by Spawn. Done closes when the work function has
// returned and the registry has recorded the outcome.
type Handle struct {
	TaskID string

	done   chan struct{}
	result Result
	err    error
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result blocks until the work function has finished, then reports
// what it returned.
func (h *Handle) Result() (Result, error) {
	<-h.done
	return h.result, h.err
}

type completion struct {
	taskID string
	result Result
	err    error
}
