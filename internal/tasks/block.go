package tasks

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	timeoutPrefix   = "[TIMEOUT]"
	cancelledPrefix = "[CANCELLED]"
)

// waiter is the resolver/timer pair behind one blocked task. A task is
// blocked exactly while its waiter is registered; respond delivers at
// most once regardless of how resume, timeout, and cancel race.
type waiter struct {
	once  sync.Once
	ch    chan string
	timer *time.Timer
	since time.Time
}

func newWaiter(now time.Time) *waiter {
	return &waiter{ch: make(chan string, 1), since: now}
}

func (w *waiter) respond(msg string) bool {
	delivered := false
	w.once.Do(func() {
		w.ch <- msg
		delivered = true
	})
	return delivered
}

func (w *waiter) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Block suspends a running task until the user answers, the timeout
// fires, or the task is cancelled. The work function receives the
// eventual response on the returned channel. A zero timeout means the
// 30 minute default.
func (r *Registry) Block(taskID, reason, resumeHint string, timeout time.Duration) (<-chan string, error) {
	taskID = strings.TrimSpace(taskID)
	reason = strings.TrimSpace(reason)
	resumeHint = strings.TrimSpace(resumeHint)
	if taskID == "" {
		return nil, errors.New("task_id is required")
	}
	if timeout <= 0 {
		timeout = defaultBlockTimeout
	}
	now := time.Now().UTC()

	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if task.Status != StatusRunning {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: block requires a running task, task is %s", ErrInvalidTaskState, task.Status)
	}

	note := "waiting on user"
	if reason != "" {
		note = "waiting on user: " + reason
	}
	appendActivityLocked(task, now, note)
	task.Status = StatusBlocked
	task.WaitReason = reason
	task.ResumeHint = resumeHint
	r.removeActiveLocked(task.DeviceID, taskID)

	w := newWaiter(now)
	w.timer = time.AfterFunc(timeout, func() { r.expireBlock(taskID, w) })
	r.waiters[taskID] = w

	metrics := r.metrics
	active := r.activeCountLocked()
	blocked := len(r.waiters)
	r.mu.Unlock()

	metrics.ObserveTaskEvent("blocked")
	metrics.SetActiveTasks(active)
	metrics.SetBlockedTasks(blocked)
	return w.ch, nil
}

// Resume delivers a real user answer to a blocked task and returns it
// to running. Returns false if the task is not currently blocked, so
// a second resume (or a resume racing a timeout) is a safe no-op.
func (r *Registry) Resume(taskID, message string) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false
	}
	now := time.Now().UTC()

	r.mu.Lock()
	w := r.waiters[taskID]
	if w == nil {
		r.mu.Unlock()
		return false
	}
	delete(r.waiters, taskID)
	if task, ok := r.tasks[taskID]; ok {
		task.Status = StatusRunning
		task.WaitReason = ""
		task.ResumeHint = ""
		task.WatchdogPhase = PhaseNone
		appendActivityLocked(task, now, "user replied, resuming")
		r.appendActiveLocked(task.DeviceID, taskID)
	}
	ensure := r.ensureWatchdog
	metrics := r.metrics
	active := r.activeCountLocked()
	blocked := len(r.waiters)
	r.mu.Unlock()

	w.stop()
	w.respond(message)
	if ensure != nil {
		ensure()
	}
	metrics.ObserveTaskEvent("resumed")
	metrics.ObserveBlockWait(now.Sub(w.since))
	metrics.SetActiveTasks(active)
	metrics.SetBlockedTasks(blocked)
	return true
}

// expireBlock fires when a block's timer elapses. The waiter identity
// check makes a stale timer (block already resumed or cancelled, or
// even re-blocked) a no-op.
func (r *Registry) expireBlock(taskID string, w *waiter) {
	now := time.Now().UTC()

	r.mu.Lock()
	if r.waiters[taskID] != w {
		r.mu.Unlock()
		return
	}
	delete(r.waiters, taskID)
	reason := ""
	if task, ok := r.tasks[taskID]; ok && task.Status == StatusBlocked {
		reason = task.WaitReason
		task.Status = StatusRunning
		task.WaitReason = ""
		task.ResumeHint = ""
		appendActivityLocked(task, now, "wait timed out, resuming")
		r.appendActiveLocked(task.DeviceID, taskID)
	}
	metrics := r.metrics
	active := r.activeCountLocked()
	blocked := len(r.waiters)
	r.mu.Unlock()

	w.respond(timeoutNotice(reason))
	metrics.ObserveTaskEvent("block_timeout")
	metrics.ObserveBlockWait(now.Sub(w.since))
	metrics.SetActiveTasks(active)
	metrics.SetBlockedTasks(blocked)
}

func timeoutNotice(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "a user response"
	}
	return fmt.Sprintf("%s No reply arrived while waiting for %s. Summarize where things stand and hand control back.", timeoutPrefix, reason)
}

func cancelledNotice() string {
	return cancelledPrefix + " The task was cancelled. Stop the current step and wind down."
}
