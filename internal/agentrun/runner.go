// Package agentrun builds the work functions handed to the task
// registry: a stepwise reasoning loop that drains injected follow-ups
// between steps, blocks for user input when the brain asks for it, and
// journals everything to the work log.
package agentrun

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/okibrian/valet/internal/brain"
	"github.com/okibrian/valet/internal/persona"
	"github.com/okibrian/valet/internal/receptionist"
	"github.com/okibrian/valet/internal/tasks"
	"github.com/okibrian/valet/internal/worklog"
)

// needInputMarker is the contract with the brain prompt: a reply
// opening with this marker suspends the task until the user answers.
const needInputMarker = "NEED_USER_INPUT:"

const stepMaxTokens = 800

// Controls is the narrow registry surface a running work function may
// touch. It deliberately excludes everything else the registry can do.
type Controls interface {
	RecordActivity(taskID, note string)
	Block(taskID, reason, resumeHint string, timeout time.Duration) (<-chan string, error)
}

// Event surfaces runner milestones to the transport layer so it can
// push task_update/task_question frames to the device.
type Event struct {
	Kind   string // "update" or "question"
	TaskID string
	Note   string
	Reason string
	Hint   string
}

type Runner struct {
	brain    brain.Chatter
	controls Controls
	journal  worklog.Store
	personas *persona.Store
	onEvent  func(Event)
}

func NewRunner(b brain.Chatter, controls Controls, journal worklog.Store, personas *persona.Store) *Runner {
	return &Runner{brain: b, controls: controls, journal: journal, personas: personas}
}

// SetEventSink installs the milestone observer. Optional; nil drops
// events.
func (r *Runner) SetEventSink(fn func(Event)) {
	r.onEvent = fn
}

// Build returns the work function for one spawn request.
func (r *Runner) Build(req tasks.SpawnRequest) tasks.WorkFunc {
	return func(ctx context.Context, taskID string, inbox *tasks.Inbox) (tasks.Result, error) {
		p := persona.Default
		if r.personas != nil {
			p = r.personas.Get(req.PersonaID)
		}

		r.append(ctx, taskID, req, worklog.KindSpawned, req.Prompt)

		steps := planSteps(req.Prompt)
		var notes []string
		var guidance []string

		for i, step := range steps {
			select {
			case <-ctx.Done():
				r.append(ctx, taskID, req, worklog.KindOutcome, "cancelled before step "+fmt.Sprint(i+1))
				return tasks.Result{Success: false, Summary: "cancelled"}, nil
			default:
			}

			guidance = append(guidance, inbox.Drain()...)

			reply, err := r.runStep(ctx, taskID, req, p, step, notes, guidance)
			if err != nil {
				r.append(ctx, taskID, req, worklog.KindOutcome, "failed: "+err.Error())
				return tasks.Result{}, err
			}

			notes = append(notes, reply)
			note := fmt.Sprintf("step %d/%d: %s", i+1, len(steps), firstLine(reply))
			r.controls.RecordActivity(taskID, note)
			r.append(ctx, taskID, req, worklog.KindStep, note)
			r.emit(Event{Kind: "update", TaskID: taskID, Note: note})
		}

		summary := firstLine(notes[len(notes)-1])
		r.append(ctx, taskID, req, worklog.KindOutcome, "completed: "+summary)
		return tasks.Result{Success: true, Summary: summary}, nil
	}
}

// runStep asks the brain for one step, looping through block/resume
// rounds while the brain keeps asking the user for input.
func (r *Runner) runStep(ctx context.Context, taskID string, req tasks.SpawnRequest, p persona.Persona, step string, notes, guidance []string) (string, error) {
	var answers []string
	for {
		prompt := buildStepPrompt(req.Prompt, step, notes, guidance, answers)
		reply, err := brain.ChatText(ctx, r.brain, p.SystemPrompt, prompt, stepMaxTokens, 0.3)
		if err != nil {
			return "", fmt.Errorf("brain step: %w", err)
		}

		ask, needsInput := parseNeedInput(reply)
		if !needsInput {
			return reply, nil
		}

		answer, err := r.awaitUser(ctx, taskID, req, ask)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(answer, "[CANCELLED]") {
			return "stopped: " + ask, nil
		}
		answers = append(answers, answer)
	}
}

// awaitUser blocks the task until the user answers, the block times
// out, or the task is cancelled. Timeouts come back as an instruction
// string the next brain round can act on.
func (r *Runner) awaitUser(ctx context.Context, taskID string, req tasks.SpawnRequest, ask string) (string, error) {
	ch, err := r.controls.Block(taskID, ask, ask, 0)
	if err != nil {
		return "", fmt.Errorf("block for user input: %w", err)
	}
	r.append(ctx, taskID, req, worklog.KindBlocked, ask)
	r.emit(Event{Kind: "question", TaskID: taskID, Reason: ask, Hint: ask})

	select {
	case answer := <-ch:
		return answer, nil
	case <-ctx.Done():
		// Cancellation resolves the block too; prefer the notice if it
		// is already there.
		select {
		case answer := <-ch:
			return answer, nil
		default:
			return "[CANCELLED] task context done", nil
		}
	}
}

func (r *Runner) append(ctx context.Context, taskID string, req tasks.SpawnRequest, kind worklog.Kind, text string) {
	if r.journal == nil {
		return
	}
	redacted, _ := receptionist.RedactPII(text)
	// Journal writes are best-effort; the task must not fail because
	// the log is down.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.journal.Append(writeCtx, worklog.Entry{
		TaskID:   taskID,
		DeviceID: req.DeviceID,
		UserID:   req.UserID,
		Kind:     kind,
		Text:     redacted,
	}); err != nil {
		log.Printf("agentrun: worklog append failed for task %s: %v", taskID, err)
	}
}

func (r *Runner) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func planSteps(prompt string) []string {
	return []string{
		"Assess the request and decide the approach. State any missing information you need from the user.",
		"Carry out the request: " + prompt,
		"Verify the outcome and write a one-paragraph summary for the user.",
	}
}

func buildStepPrompt(original, step string, notes, guidance, answers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nCurrent step: %s\n", original, step)
	if len(notes) > 0 {
		b.WriteString("\nProgress so far:\n")
		for i, n := range notes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, firstLine(n))
		}
	}
	if len(guidance) > 0 {
		b.WriteString("\nThe user added while you were working:\n")
		for _, g := range guidance {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(answers) > 0 {
		b.WriteString("\nAnswers to your questions:\n")
		for _, a := range answers {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	b.WriteString("\nIf you cannot proceed without something only the user can provide, reply with exactly one line starting with " + needInputMarker + " followed by what you need. Otherwise do the step and report the result.")
	return b.String()
}

func parseNeedInput(reply string) (string, bool) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, needInputMarker); ok {
			rest = strings.TrimSpace(rest)
			if rest == "" {
				rest = "more information from you"
			}
			return rest, true
		}
	}
	return "", false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = strings.TrimSpace(s[:160])
	}
	return s
}
