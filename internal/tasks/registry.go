package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okibrian/valet/internal/observability"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidTaskState = errors.New("invalid task state")
)

const (
	defaultBlockTimeout = 30 * time.Minute
	defaultCleanupGrace = 5 * time.Minute
)

// Registry owns every task record. Task state is only reachable
// through its methods; reads hand out clones.
type Registry struct {
	mu sync.RWMutex

	tasks          map[string]*Task
	tasksByDevice  map[string][]string
	activeByDevice map[string][]string
	waiters        map[string]*waiter
	inboxes        map[string]*Inbox
	cancels        map[string]context.CancelFunc
	handles        map[string]*Handle

	judge          Judge
	metrics        *observability.Metrics
	ensureWatchdog func()

	cleanupGrace time.Duration

	completions chan completion
	quit        chan struct{}
	closeOnce   sync.Once
}

func NewRegistry() *Registry {
	r := &Registry{
		tasks:          make(map[string]*Task),
		tasksByDevice:  make(map[string][]string),
		activeByDevice: make(map[string][]string),
		waiters:        make(map[string]*waiter),
		inboxes:        make(map[string]*Inbox),
		cancels:        make(map[string]context.CancelFunc),
		handles:        make(map[string]*Handle),
		judge:          HeuristicJudge{},
		cleanupGrace:   defaultCleanupGrace,
		completions:    make(chan completion, 64),
		quit:           make(chan struct{}),
	}
	go r.collect()
	return r
}

func (r *Registry) SetJudge(j Judge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.judge = j
}

func (r *Registry) SetMetrics(m *observability.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// SetWatchdog installs the idempotent ensure hook the registry calls
// after every spawn and every manual resume.
func (r *Registry) SetWatchdog(ensure func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureWatchdog = ensure
}

// Close stops the completion collector. Pending completions are
// drained first.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
}

// Spawn registers a task and starts its work function in a goroutine.
// It returns immediately; the handle reports the outcome once the
// work function finishes.
func (r *Registry) Spawn(req SpawnRequest, work WorkFunc) (*Handle, error) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.PersonaID = strings.TrimSpace(req.PersonaID)
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.DeviceID == "" {
		return nil, errors.New("device_id is required")
	}
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	if work == nil {
		return nil, errors.New("work function is required")
	}
	if req.Name == "" {
		req.Name = shortName(req.Prompt)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	inbox := &Inbox{}
	handle := &Handle{TaskID: id, done: make(chan struct{})}

	task := &Task{
		ID:             id,
		DeviceID:       req.DeviceID,
		UserID:         req.UserID,
		Name:           req.Name,
		Description:    req.Description,
		Prompt:         req.Prompt,
		PersonaID:      req.PersonaID,
		Status:         StatusRunning,
		StartedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	r.tasks[id] = task
	r.tasksByDevice[req.DeviceID] = append(r.tasksByDevice[req.DeviceID], id)
	r.activeByDevice[req.DeviceID] = append(r.activeByDevice[req.DeviceID], id)
	r.inboxes[id] = inbox
	r.cancels[id] = cancel
	r.handles[id] = handle
	ensure := r.ensureWatchdog
	metrics := r.metrics
	active := r.activeCountLocked()
	r.mu.Unlock()

	metrics.ObserveTaskEvent("spawned")
	metrics.SetActiveTasks(active)
	if ensure != nil {
		ensure()
	}

	go r.runWork(ctx, id, inbox, work)
	return handle, nil
}

func (r *Registry) runWork(ctx context.Context, taskID string, inbox *Inbox, work WorkFunc) {
	var res Result
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("work function panic: %v", rec)
			}
		}()
		res, err = work(ctx, taskID, inbox)
	}()

	select {
	case r.completions <- completion{taskID: taskID, result: res, err: err}:
	case <-r.quit:
	}
}

func (r *Registry) collect() {
	for {
		select {
		case c := <-r.completions:
			r.finishTask(c)
		case <-r.quit:
			for {
				select {
				case c := <-r.completions:
					r.finishTask(c)
				default:
					return
				}
			}
		}
	}
}

// finishTask applies a work function's outcome. Cancellation wins any
// race: a completion for an already-terminal task only settles the
// handle.
func (r *Registry) finishTask(c completion) {
	now := time.Now().UTC()
	event := ""

	r.mu.Lock()
	task, ok := r.tasks[c.taskID]
	if ok {
		if !task.Terminal() {
			if w := r.waiters[c.taskID]; w != nil {
				delete(r.waiters, c.taskID)
				w.stop()
			}
			task.WaitReason = ""
			task.ResumeHint = ""
			switch {
			case c.err != nil:
				task.Status = StatusFailed
				task.Error = c.err.Error()
			case c.result.Success:
				task.Status = StatusCompleted
				task.Result = strings.TrimSpace(c.result.Summary)
			default:
				task.Status = StatusFailed
				task.Result = strings.TrimSpace(c.result.Summary)
				task.Error = "work function reported failure"
			}
			task.CompletedAt = &now
			task.LastActivityAt = now
			r.removeActiveLocked(task.DeviceID, task.ID)
			event = string(task.Status)
		}
		if cancel := r.cancels[c.taskID]; cancel != nil {
			delete(r.cancels, c.taskID)
			cancel()
		}
		r.scheduleCleanupLocked(task)
	}
	handle := r.handles[c.taskID]
	delete(r.handles, c.taskID)
	metrics := r.metrics
	active := r.activeCountLocked()
	blocked := len(r.waiters)
	r.mu.Unlock()

	if c.err != nil {
		log.Printf("tasks: task %s work function failed: %v", c.taskID, c.err)
	}
	if event != "" {
		metrics.ObserveTaskEvent(event)
		metrics.SetActiveTasks(active)
		metrics.SetBlockedTasks(blocked)
	}
	if handle != nil {
		handle.result = c.result
		handle.err = c.err
		close(handle.done)
	}
}

// RecordActivity appends a timestamped note to the task's ring buffer.
// Missing or non-running tasks are ignored.
func (r *Registry) RecordActivity(taskID, note string) {
	taskID = strings.TrimSpace(taskID)
	note = strings.TrimSpace(note)
	if taskID == "" || note == "" {
		return
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || task.Status != StatusRunning {
		return
	}
	appendActivityLocked(task, now, note)
}

// Inject queues a follow-up message for the work function to drain at
// its next checkpoint. Returns false unless the task is running.
func (r *Registry) Inject(taskID, message string) bool {
	taskID = strings.TrimSpace(taskID)
	message = strings.TrimSpace(message)
	if taskID == "" || message == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || task.Status != StatusRunning {
		return false
	}
	inbox := r.inboxes[taskID]
	if inbox == nil {
		return false
	}
	inbox.push(message)
	return true
}

// Cancel terminates a task. A blocked task's future is resolved with a
// cancellation notice before the context is signalled so the work
// function is never left waiting.
func (r *Registry) Cancel(taskID string) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false
	}
	now := time.Now().UTC()

	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok || task.Terminal() {
		r.mu.Unlock()
		return false
	}
	w := r.waiters[taskID]
	delete(r.waiters, taskID)
	cancel := r.cancels[taskID]
	delete(r.cancels, taskID)

	appendActivityLocked(task, now, "task cancelled")
	task.Status = StatusCancelled
	task.WaitReason = ""
	task.ResumeHint = ""
	task.CompletedAt = &now
	r.removeActiveLocked(task.DeviceID, taskID)
	r.scheduleCleanupLocked(task)
	metrics := r.metrics
	active := r.activeCountLocked()
	blocked := len(r.waiters)
	r.mu.Unlock()

	if w != nil {
		w.stop()
		w.respond(cancelledNotice())
		metrics.ObserveBlockWait(now.Sub(w.since))
	}
	if cancel != nil {
		cancel()
	}
	metrics.ObserveTaskEvent("cancelled")
	metrics.SetActiveTasks(active)
	metrics.SetBlockedTasks(blocked)
	return true
}

// CancelAllForDevice cancels every running and blocked task for a
// device, e.g. when its agent disconnects. Returns how many were
// cancelled.
func (r *Registry) CancelAllForDevice(deviceID string) int {
	n := 0
	for _, id := range r.liveTaskIDsForDevice(deviceID) {
		if r.Cancel(id) {
			n++
		}
	}
	return n
}

// CancelAllForRestart cancels like CancelAllForDevice but returns the
// original prompts of the cancelled tasks, in spawn order, so the
// caller can re-submit them after the device reconnects.
func (r *Registry) CancelAllForRestart(deviceID string) []string {
	ids := r.liveTaskIDsForDevice(deviceID)
	prompts := make([]string, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		task, ok := r.tasks[id]
		prompt := ""
		if ok {
			prompt = task.Prompt
		}
		r.mu.RUnlock()
		if r.Cancel(id) && prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return prompts
}

// SetWatchdogPhase records the watchdog's escalation level for a task.
// Only the watchdog calls this; a manual resume resets the phase.
func (r *Registry) SetWatchdogPhase(taskID string, phase int) bool {
	if phase < PhaseNone || phase > PhaseKilled {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[strings.TrimSpace(taskID)]
	if !ok || task.Terminal() {
		return false
	}
	task.WatchdogPhase = phase
	return true
}

func (r *Registry) Get(taskID string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[strings.TrimSpace(taskID)]
	if !ok {
		return Task{}, false
	}
	return task.Clone(), true
}

// ActiveTasks returns the device's running tasks ordered by start
// time, oldest first.
func (r *Registry) ActiveTasks(deviceID string) []Task {
	r.mu.RLock()
	ids := r.activeByDevice[strings.TrimSpace(deviceID)]
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		if task := r.tasks[id]; task != nil {
			out = append(out, task.Clone())
		}
	}
	r.mu.RUnlock()

	sortTasksByStart(out)
	return out
}

// BlockedTasks returns the device's blocked tasks in spawn order.
func (r *Registry) BlockedTasks(deviceID string) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Task
	for _, id := range r.tasksByDevice[strings.TrimSpace(deviceID)] {
		if task := r.tasks[id]; task != nil && task.Status == StatusBlocked {
			out = append(out, task.Clone())
		}
	}
	return out
}

// TasksForDevice returns every task still in the store for a device,
// terminal ones included, in spawn order.
func (r *Registry) TasksForDevice(deviceID string) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.tasksByDevice[strings.TrimSpace(deviceID)]
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		if task := r.tasks[id]; task != nil {
			out = append(out, task.Clone())
		}
	}
	return out
}

func (r *Registry) HasActiveTask(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeByDevice[strings.TrimSpace(deviceID)]) > 0
}

func (r *Registry) ActiveTaskCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

// ActiveTask returns the most recently started running task for a
// device.
func (r *Registry) ActiveTask(deviceID string) (Task, bool) {
	running := r.ActiveTasks(deviceID)
	if len(running) == 0 {
		return Task{}, false
	}
	return running[len(running)-1], true
}

// RunningTasks returns every running task across all devices, for the
// watchdog sweep.
func (r *Registry) RunningTasks() []Task {
	r.mu.RLock()
	var out []Task
	for _, task := range r.tasks {
		if task.Status == StatusRunning {
			out = append(out, task.Clone())
		}
	}
	r.mu.RUnlock()

	sortTasksByStart(out)
	return out
}

func (r *Registry) liveTaskIDsForDevice(deviceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.tasksByDevice[strings.TrimSpace(deviceID)]
	ids := make([]string, 0, len(list))
	for _, id := range list {
		if task := r.tasks[id]; task != nil && !task.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) scheduleCleanupLocked(task *Task) {
	if task == nil || task.cleanupSet || !task.Terminal() {
		return
	}
	task.cleanupSet = true
	id := task.ID
	time.AfterFunc(r.cleanupGrace, func() { r.removeTask(id) })
}

func (r *Registry) removeTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return
	}
	if w := r.waiters[taskID]; w != nil {
		delete(r.waiters, taskID)
		w.stop()
	}
	if cancel := r.cancels[taskID]; cancel != nil {
		delete(r.cancels, taskID)
		cancel()
	}
	delete(r.tasks, taskID)
	delete(r.inboxes, taskID)
	r.removeActiveLocked(task.DeviceID, taskID)
	r.removeDeviceListLocked(task.DeviceID, taskID)
}

func (r *Registry) activeCountLocked() int {
	n := 0
	for _, ids := range r.activeByDevice {
		n += len(ids)
	}
	return n
}

func (r *Registry) appendActiveLocked(deviceID, taskID string) {
	for _, id := range r.activeByDevice[deviceID] {
		if id == taskID {
			return
		}
	}
	r.activeByDevice[deviceID] = append(r.activeByDevice[deviceID], taskID)
}

func (r *Registry) removeActiveLocked(deviceID, taskID string) {
	ids := r.activeByDevice[deviceID]
	if len(ids) == 0 {
		return
	}
	out := ids[:0]
	for _, id := range ids {
		if id != taskID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		delete(r.activeByDevice, deviceID)
		return
	}
	r.activeByDevice[deviceID] = out
}

func (r *Registry) removeDeviceListLocked(deviceID, taskID string) {
	ids := r.tasksByDevice[deviceID]
	if len(ids) == 0 {
		return
	}
	out := ids[:0]
	for _, id := range ids {
		if id != taskID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		delete(r.tasksByDevice, deviceID)
		return
	}
	r.tasksByDevice[deviceID] = out
}

func appendActivityLocked(task *Task, now time.Time, note string) {
	task.LastActivityAt = now
	task.Activity = append(task.Activity, ActivityEntry{At: now, Note: note})
	if len(task.Activity) > activityLimit {
		task.Activity = task.Activity[len(task.Activity)-activityLimit:]
	}
}

func sortTasksByStart(list []Task) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
}

func shortName(prompt string) string {
	fields := strings.Fields(prompt)
	if len(fields) > 6 {
		fields = fields[:6]
	}
	name := strings.Join(fields, " ")
	if len(name) > 48 {
		name = strings.TrimSpace(name[:48])
	}
	return name
}
