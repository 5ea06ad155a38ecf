package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/okibrian/valet/internal/agentrun"
	"github.com/okibrian/valet/internal/brain"
	"github.com/okibrian/valet/internal/memory"
	"github.com/okibrian/valet/internal/protocol"
	"github.com/okibrian/valet/internal/receptionist"
	"github.com/okibrian/valet/internal/schedule"
	"github.com/okibrian/valet/internal/tasks"
)

const (
	chatMaxTokens     = 600
	approvalWindow    = 2 * time.Minute
	statusTimeFormat  = "15:04:05"
	chatFallbackReply = "I'm having trouble reaching my reasoning service right now. Please try again in a moment."
)

// handleUserText is the intake pipeline: route first, and only when no
// live task claims the message fall through to classification.
func (s *Server) handleUserText(ctx context.Context, deviceID, userID, text string) []any {
	start := time.Now()
	defer func() { s.metrics.ObserveIntakeStage("intake_total", time.Since(start)) }()

	routeStart := time.Now()
	decision := s.registry.Route(ctx, deviceID, text)
	s.metrics.ObserveIntakeStage("route", time.Since(routeStart))
	s.metrics.ObserveRouteDecision(string(decision.Method))

	switch decision.Method {
	case tasks.RouteBlockedResume:
		if s.registry.Resume(decision.Task.ID, text) {
			return []any{s.agentReply(deviceID, "resume_ack",
				fmt.Sprintf("Got it — passing that along to %q.", decision.Task.Name), decision.Task.ID)}
		}
		// The block resolved while we were deciding; handle fresh.
		return s.handleFreshMessage(ctx, deviceID, userID, text)

	case tasks.RouteStatusQuery:
		replyStart := time.Now()
		summary := s.statusSummary(deviceID)
		s.metrics.ObserveIntakeStage("status_reply", time.Since(replyStart))
		return []any{s.agentReply(deviceID, "status", summary, "")}

	case tasks.RouteSingleTask, tasks.RouteNameMatch, tasks.RouteMostRecent:
		// A cancel command addressed to a routed task kills it instead
		// of being folded into its inbox.
		if receptionist.Classify(text).Kind == receptionist.KindCancel {
			s.registry.Cancel(decision.Task.ID)
			return []any{s.agentReply(deviceID, "cancel_ack",
				fmt.Sprintf("Cancelled %q.", decision.Task.Name), decision.Task.ID)}
		}
		if s.registry.Inject(decision.Task.ID, text) {
			return []any{s.agentReply(deviceID, "task_note",
				fmt.Sprintf("Noted — I'll fold that into %q.", decision.Task.Name), decision.Task.ID)}
		}
		return s.handleFreshMessage(ctx, deviceID, userID, text)

	default:
		return s.handleFreshMessage(ctx, deviceID, userID, text)
	}
}

// handleFreshMessage covers the "none" routing result: commands,
// refusals, approvals, spawns, and plain chat.
func (s *Server) handleFreshMessage(ctx context.Context, deviceID, userID, text string) []any {
	classifyStart := time.Now()
	decision := receptionist.Classify(text)
	s.metrics.ObserveIntakeStage("classify", time.Since(classifyStart))

	switch {
	case decision.Kind == receptionist.KindCancel:
		return []any{s.cancelMostRecent(deviceID)}

	case decision.Blocked:
		return []any{s.agentReply(deviceID, "refusal", decision.Reason, "")}

	case decision.Kind == receptionist.KindActionable && decision.RequiresApproval:
		s.setPendingApproval(deviceID, userID, text)
		return []any{s.agentReply(deviceID, "needs_approval",
			"That looks potentially destructive. Reply \"yes, go ahead\" within two minutes and I'll start.", "")}

	case decision.Kind == receptionist.KindActionable:
		return []any{s.spawnReply(deviceID, userID, text)}

	default:
		if prompt, uid, ok := s.takePendingApproval(deviceID, text); ok {
			return []any{s.spawnReply(deviceID, uid, prompt)}
		}
		return []any{s.chatReply(ctx, deviceID, userID, text)}
	}
}

// cancelMostRecent cancels the newest live task for the device: the
// most recent running one, else the first blocked one.
func (s *Server) cancelMostRecent(deviceID string) protocol.AgentReply {
	if task, ok := s.registry.ActiveTask(deviceID); ok {
		s.registry.Cancel(task.ID)
		return s.agentReply(deviceID, "cancel_ack",
			fmt.Sprintf("Cancelled %q.", task.Name), task.ID)
	}
	if blocked := s.registry.BlockedTasks(deviceID); len(blocked) > 0 {
		task := blocked[len(blocked)-1]
		s.registry.Cancel(task.ID)
		return s.agentReply(deviceID, "cancel_ack",
			fmt.Sprintf("Cancelled %q.", task.Name), task.ID)
	}
	return s.agentReply(deviceID, "cancel_none", "Nothing is running right now.", "")
}

// spawnReply starts a background task for an actionable prompt.
func (s *Server) spawnReply(deviceID, userID, text string) protocol.AgentReply {
	spawnStart := time.Now()
	handle, err := s.spawnTask(deviceID, userID, text)
	s.metrics.ObserveIntakeStage("spawn_ack", time.Since(spawnStart))
	if err != nil {
		return s.agentReply(deviceID, "error",
			"I couldn't start that task: "+err.Error(), "")
	}
	name := text
	if task, ok := s.registry.Get(handle.TaskID); ok {
		name = task.Name
	}
	return s.agentReply(deviceID, "spawn_ack",
		fmt.Sprintf("On it — started %q in the background. I'll report back.", name), handle.TaskID)
}

func (s *Server) spawnTask(deviceID, userID, prompt string) (*tasks.Handle, error) {
	req := tasks.SpawnRequest{DeviceID: deviceID, UserID: userID, Prompt: prompt}
	handle, err := s.registry.Spawn(req, s.runner.Build(req))
	if err != nil {
		return nil, err
	}
	go s.watchTask(deviceID, handle)
	return handle, nil
}

// watchTask surfaces a task's completion: a task_result frame when the
// device is connected, a notification when it is not.
func (s *Server) watchTask(deviceID string, handle *tasks.Handle) {
	res, err := handle.Result()

	name := ""
	if task, ok := s.registry.Get(handle.TaskID); ok {
		if task.Status == tasks.StatusCancelled {
			// The cancel acknowledgement already told the user.
			return
		}
		name = task.Name
	}
	frame := protocol.TaskResult{
		Type:     protocol.TypeTaskResult,
		DeviceID: deviceID,
		TaskID:   handle.TaskID,
		Name:     name,
		Success:  err == nil && res.Success,
		Summary:  res.Summary,
	}
	if err != nil {
		frame.Error = err.Error()
	}

	if s.push(deviceID, frame) {
		return
	}
	text := fmt.Sprintf("Task %q finished: success=%v", name, frame.Success)
	if frame.Summary != "" {
		text += " — " + frame.Summary
	}
	if frame.Error != "" {
		text += " — " + frame.Error
	}
	s.notifyAway(text)
}

// handleRunnerEvent pushes runner milestones to the device, falling
// back to a notification for questions the device cannot receive.
func (s *Server) handleRunnerEvent(ev agentrun.Event) {
	task, ok := s.registry.Get(ev.TaskID)
	if !ok {
		return
	}

	switch ev.Kind {
	case "question":
		frame := protocol.TaskQuestion{
			Type:     protocol.TypeTaskQuestion,
			DeviceID: task.DeviceID,
			TaskID:   task.ID,
			Name:     task.Name,
			Reason:   ev.Reason,
			Hint:     ev.Hint,
		}
		if !s.push(task.DeviceID, frame) {
			s.notifyAway(fmt.Sprintf("Task %q is waiting on you: %s", task.Name, ev.Reason))
		}
	case "update":
		s.push(task.DeviceID, protocol.TaskUpdate{
			Type:     protocol.TypeTaskUpdate,
			DeviceID: task.DeviceID,
			TaskID:   task.ID,
			Name:     task.Name,
			Status:   string(task.Status),
			Note:     ev.Note,
		})
	}
}

func (s *Server) notifyAway(text string) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.notifier.Send(ctx, text); err != nil {
		log.Printf("gateway: notify (%s): %v", s.notifier.Name(), err)
	}
}

// FireSchedule feeds a due standing order into the intake path as if
// the user had typed its prompt.
func (s *Server) FireSchedule(ctx context.Context, entry schedule.Entry) {
	log.Printf("gateway: firing schedule %s for device %s", entry.ID, entry.DeviceID)
	frames := s.handleUserText(ctx, entry.DeviceID, entry.UserID, entry.Prompt)
	delivered := true
	for _, frame := range frames {
		if !s.push(entry.DeviceID, frame) {
			delivered = false
		}
	}
	if !delivered {
		s.notifyAway(fmt.Sprintf("Standing order fired while you were away: %s", entry.Prompt))
	}
}

// statusSummary renders the device's live tasks from their activity
// rings.
func (s *Server) statusSummary(deviceID string) string {
	running := s.registry.ActiveTasks(deviceID)
	blocked := s.registry.BlockedTasks(deviceID)
	if len(running) == 0 && len(blocked) == 0 {
		return "Nothing is running right now."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d running, %d waiting on you.\n", len(running), len(blocked))
	for _, t := range running {
		fmt.Fprintf(&b, "- %q (running): %s\n", t.Name, lastActivity(t))
	}
	for _, t := range blocked {
		reason := t.WaitReason
		if reason == "" {
			reason = "waiting for your input"
		}
		fmt.Fprintf(&b, "- %q (blocked): %s\n", t.Name, reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastActivity(t tasks.Task) string {
	if len(t.Activity) == 0 {
		return "just started"
	}
	last := t.Activity[len(t.Activity)-1]
	return fmt.Sprintf("%s (at %s)", last.Note, last.At.Format(statusTimeFormat))
}

// chatReply answers conversationally with recent memory as context and
// persists both turns.
func (s *Server) chatReply(ctx context.Context, deviceID, userID, text string) protocol.AgentReply {
	chatStart := time.Now()
	p := s.personas.Get("")

	msgs := []brain.Message{{Role: brain.RoleSystem, Content: p.SystemPrompt}}
	if recent, err := s.memories.RecentContext(ctx, userID, s.cfg.MemoryContextLimit); err == nil {
		for _, turn := range recent {
			role := brain.RoleUser
			if turn.Role == "assistant" {
				role = brain.RoleAssistant
			}
			msgs = append(msgs, brain.Message{Role: role, Content: turn.Content})
		}
	} else {
		log.Printf("gateway: recent context for user %s: %v", userID, err)
	}
	msgs = append(msgs, brain.Message{Role: brain.RoleUser, Content: text})

	resp, err := s.chat.Chat(ctx, brain.ChatRequest{Messages: msgs, MaxTokens: chatMaxTokens, Temperature: 0.7})
	s.metrics.ObserveIntakeStage("chat_reply", time.Since(chatStart))
	if err != nil {
		s.metrics.ObserveBrainError(s.chat.Name(), "chat")
		log.Printf("gateway: chat reply failed: %v", err)
		return s.agentReply(deviceID, "chat", chatFallbackReply, "")
	}
	answer := strings.TrimSpace(resp.Content)

	s.saveTurn(ctx, userID, deviceID, "user", text)
	s.saveTurn(ctx, userID, deviceID, "assistant", answer)
	return s.agentReply(deviceID, "chat", answer, "")
}

func (s *Server) saveTurn(ctx context.Context, userID, deviceID, role, content string) {
	redacted, changed := receptionist.RedactPII(content)
	err := s.memories.SaveTurn(ctx, memory.TurnRecord{
		UserID:      userID,
		DeviceID:    deviceID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: changed,
	})
	if err != nil {
		log.Printf("gateway: save %s turn: %v", role, err)
	}
}

func (s *Server) agentReply(deviceID, kind, text, taskID string) protocol.AgentReply {
	return protocol.AgentReply{
		Type:     protocol.TypeAgentReply,
		DeviceID: deviceID,
		Kind:     kind,
		Text:     text,
		TaskID:   taskID,
	}
}

func (s *Server) setPendingApproval(deviceID, userID, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[deviceID] = pendingApproval{
		prompt:  prompt,
		userID:  userID,
		expires: time.Now().UTC().Add(approvalWindow),
	}
}

// takePendingApproval consumes the stored high-risk prompt when the
// message reads as a confirmation inside the approval window.
func (s *Server) takePendingApproval(deviceID, text string) (string, string, bool) {
	if !isConfirmation(text) {
		return "", "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[deviceID]
	if !ok {
		return "", "", false
	}
	delete(s.pending, deviceID)
	if time.Now().UTC().After(p.expires) {
		return "", "", false
	}
	return p.prompt, p.userID, true
}

var confirmationPhrases = []string{
	"yes", "yep", "yeah", "ok", "okay", "sure",
	"confirm", "confirmed", "do it", "go ahead", "proceed",
	"yes, go ahead", "yes go ahead", "yes please",
}

func isConfirmation(text string) bool {
	in := strings.ToLower(strings.TrimSpace(text))
	in = strings.TrimRight(in, "?!. ")
	for _, phrase := range confirmationPhrases {
		if in == phrase {
			return true
		}
	}
	return false
}
