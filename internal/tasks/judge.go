package tasks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Judge decides whether a message answers one of a device's blocked
// tasks. Implementations return an index into blocked. An error means
// the judge itself could not run and the next judge in the chain
// should be consulted; (0, false, nil) is a definitive "no match".
type Judge interface {
	PickBlockedTarget(ctx context.Context, message string, blocked []Task) (int, bool, error)
}

// ChatFunc is the narrow LLM surface the judge needs.
type ChatFunc func(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)

const judgeSystemPrompt = "You match a user's chat message against background tasks that are paused waiting for a reply. Answer with exactly one task label (for example TASK_1) if the message answers what that task is waiting for, or NONE if it does not clearly answer any of them."

var taskLabelRe = regexp.MustCompile(`TASK_(\d+)`)

// LLMJudge asks a model which blocked task, if any, the message
// resolves. The model answers with a task label or NONE.
type LLMJudge struct {
	Chat ChatFunc
}

func (j LLMJudge) PickBlockedTarget(ctx context.Context, message string, blocked []Task) (int, bool, error) {
	if j.Chat == nil {
		return 0, false, errors.New("llm judge: no chat function configured")
	}
	if len(blocked) == 0 {
		return 0, false, nil
	}

	var b strings.Builder
	for i, t := range blocked {
		hint := t.ResumeHint
		if hint == "" {
			hint = t.WaitReason
		}
		if hint == "" {
			hint = "a user reply"
		}
		fmt.Fprintf(&b, "TASK_%d: %q - waiting for: %s\n", i+1, t.Name, hint)
	}
	fmt.Fprintf(&b, "\nUser message: %q\n\nAnswer with the task label or NONE.", message)

	content, err := j.Chat(ctx, judgeSystemPrompt, b.String(), 16, 0)
	if err != nil {
		return 0, false, fmt.Errorf("llm judge: %w", err)
	}
	answer := strings.ToUpper(strings.TrimSpace(content))
	if answer == "" {
		return 0, false, errors.New("llm judge: empty answer")
	}
	if strings.Contains(answer, "NONE") {
		return 0, false, nil
	}
	m := taskLabelRe.FindStringSubmatch(answer)
	if m == nil {
		return 0, false, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > len(blocked) {
		return 0, false, nil
	}
	return n - 1, true, nil
}

// HeuristicJudge is the deterministic fallback. It is conservative on
// purpose: anything ambiguous stays unmatched and falls through to
// normal routing instead of resuming the wrong block.
type HeuristicJudge struct{}

var newRequestPrefixes = []string{
	"can you", "could you", "would you", "please", "help me",
	"write", "create", "build", "make", "show me", "find", "search",
	"go to", "open", "start", "add",
}

var confirmationPhrases = map[string]struct{}{
	"done": {}, "ok": {}, "okay": {}, "k": {}, "yes": {}, "yep": {},
	"yeah": {}, "no": {}, "nope": {}, "sure": {}, "got it": {},
	"go ahead": {}, "sounds good": {}, "do it": {}, "proceed": {},
	"all set": {}, "ready": {},
}

func (HeuristicJudge) PickBlockedTarget(_ context.Context, message string, blocked []Task) (int, bool, error) {
	if len(blocked) == 0 {
		return 0, false, nil
	}
	s := strings.ToLower(strings.TrimSpace(message))
	s = strings.TrimRight(s, "?!. ")
	if s == "" {
		return 0, false, nil
	}
	for _, prefix := range newRequestPrefixes {
		if s == prefix || strings.HasPrefix(s, prefix+" ") {
			return 0, false, nil
		}
	}
	if _, ok := confirmationPhrases[s]; ok && len(blocked) == 1 {
		return 0, true, nil
	}
	return 0, false, nil
}

// JudgeChain tries each judge in order until one runs without error.
// OnFallback, when set, observes each failed attempt.
type JudgeChain struct {
	Judges     []Judge
	OnFallback func(err error)
}

func NewJudgeChain(judges ...Judge) *JudgeChain {
	return &JudgeChain{Judges: judges}
}

func (c *JudgeChain) PickBlockedTarget(ctx context.Context, message string, blocked []Task) (int, bool, error) {
	var lastErr error
	for _, j := range c.Judges {
		if j == nil {
			continue
		}
		idx, ok, err := j.PickBlockedTarget(ctx, message, blocked)
		if err == nil {
			return idx, ok, nil
		}
		lastErr = err
		if c.OnFallback != nil {
			c.OnFallback(err)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("judge chain: no judges configured")
	}
	return 0, false, lastErr
}
