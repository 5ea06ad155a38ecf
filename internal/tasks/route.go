package tasks

import (
	"context"
	"log"
	"strings"
)

type RouteMethod string

const (
	RouteBlockedResume RouteMethod = "blocked_resume"
	RouteStatusQuery   RouteMethod = "status_query"
	RouteSingleTask    RouteMethod = "single_task"
	RouteNameMatch     RouteMethod = "name_match"
	RouteMostRecent    RouteMethod = "most_recent"
	RouteNone          RouteMethod = "none"
)

// RouteDecision names the task a message belongs to and how it was
// chosen. Matched is false only for RouteNone.
type RouteDecision struct {
	Method  RouteMethod `json:"method"`
	Task    Task        `json:"task,omitempty"`
	Matched bool        `json:"matched"`
}

const minNameMatchScore = 4

// Route decides which of a device's tasks an incoming message belongs
// to. Priority: blocked-task judge evaluation, then status queries,
// then the single-task shortcut, then name matching, then recency.
// Route never mutates task state; the caller acts on the decision
// (resume, status reply, or inject).
func (r *Registry) Route(ctx context.Context, deviceID, message string) RouteDecision {
	deviceID = strings.TrimSpace(deviceID)
	message = strings.TrimSpace(message)
	if deviceID == "" || message == "" {
		return RouteDecision{Method: RouteNone}
	}

	statusQuery := IsStatusQuery(message)
	blocked := r.BlockedTasks(deviceID)

	// A status question is never treated as an answer to a blocked
	// task, so the judge is skipped for those.
	if len(blocked) > 0 && !statusQuery {
		if idx, ok := r.judgeBlocked(ctx, message, blocked); ok {
			return RouteDecision{Method: RouteBlockedResume, Task: blocked[idx], Matched: true}
		}
	}

	running := r.ActiveTasks(deviceID)
	if len(running) == 0 && len(blocked) == 0 {
		return RouteDecision{Method: RouteNone}
	}
	if len(running) == 0 {
		if statusQuery {
			return RouteDecision{Method: RouteStatusQuery, Task: blocked[0], Matched: true}
		}
		// Only blocked tasks, and the judge declined: nothing can
		// take an injection, so the message starts fresh handling.
		return RouteDecision{Method: RouteNone}
	}
	if statusQuery {
		return RouteDecision{Method: RouteStatusQuery, Task: running[len(running)-1], Matched: true}
	}
	if len(running) == 1 {
		return RouteDecision{Method: RouteSingleTask, Task: running[0], Matched: true}
	}
	if best, score := bestNameMatch(message, running); score >= minNameMatchScore {
		return RouteDecision{Method: RouteNameMatch, Task: best, Matched: true}
	}
	return RouteDecision{Method: RouteMostRecent, Task: running[len(running)-1], Matched: true}
}

func (r *Registry) judgeBlocked(ctx context.Context, message string, blocked []Task) (int, bool) {
	r.mu.RLock()
	judge := r.judge
	metrics := r.metrics
	r.mu.RUnlock()
	if judge == nil {
		judge = HeuristicJudge{}
	}

	idx, ok, err := judge.PickBlockedTarget(ctx, message, blocked)
	if err != nil {
		log.Printf("tasks: blocked-task judge failed, using heuristic: %v", err)
		metrics.ObserveJudgeFallback()
		idx, ok, _ = HeuristicJudge{}.PickBlockedTarget(ctx, message, blocked)
	}
	if !ok || idx < 0 || idx >= len(blocked) {
		return 0, false
	}
	return idx, true
}

func bestNameMatch(message string, running []Task) (Task, int) {
	msg := strings.ToLower(message)
	var best Task
	bestScore := 0
	for _, t := range running {
		if score := nameMatchScore(msg, t); score > bestScore {
			best = t
			bestScore = score
		}
	}
	return best, bestScore
}

// nameMatchScore rates how strongly a message refers to a task by
// name: +10 for the full name as a substring, +8 for the persona id,
// +2 per matched name word of three or more characters.
func nameMatchScore(msgLower string, t Task) int {
	score := 0
	name := strings.ToLower(strings.TrimSpace(t.Name))
	if name != "" && strings.Contains(msgLower, name) {
		score += 10
	}
	if persona := strings.ToLower(strings.TrimSpace(t.PersonaID)); persona != "" && strings.Contains(msgLower, persona) {
		score += 8
	}
	for _, word := range strings.Fields(name) {
		word = strings.Trim(word, `.,!?;:"'()[]`)
		if len(word) < 3 {
			continue
		}
		if strings.Contains(msgLower, word) {
			score += 2
		}
	}
	return score
}
