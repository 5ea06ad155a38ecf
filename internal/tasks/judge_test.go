package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestHeuristicJudgeDeclinesNewRequests(t *testing.T) {
	blocked := []Task{{Name: "Deploy Discord bot", ResumeHint: "need your Discord bot token"}}
	messages := []string{
		"can you order groceries",
		"please check my calendar",
		"build me a website",
		"create a playlist for the gym",
		"show me the weather",
	}
	for _, msg := range messages {
		if _, ok, err := (HeuristicJudge{}).PickBlockedTarget(context.Background(), msg, blocked); err != nil || ok {
			t.Fatalf("heuristic(%q) = ok=%v err=%v, want decline", msg, ok, err)
		}
	}
}

func TestHeuristicJudgeConfirmationNeedsSingleBlocked(t *testing.T) {
	one := []Task{{Name: "Deploy Discord bot"}}
	idx, ok, err := HeuristicJudge{}.PickBlockedTarget(context.Background(), "done!", one)
	if err != nil {
		t.Fatalf("heuristic error = %v", err)
	}
	if !ok || idx != 0 {
		t.Fatalf("heuristic(done, one blocked) = (%d, %v), want (0, true)", idx, ok)
	}

	two := []Task{{Name: "Deploy Discord bot"}, {Name: "Book flights"}}
	if _, ok, _ := (HeuristicJudge{}).PickBlockedTarget(context.Background(), "done!", two); ok {
		t.Fatalf("heuristic(done, two blocked) matched, want decline")
	}
}

func TestHeuristicJudgeLeavesAmbiguousUnmatched(t *testing.T) {
	blocked := []Task{{Name: "Deploy Discord bot", ResumeHint: "need your Discord bot token"}}
	if _, ok, _ := (HeuristicJudge{}).PickBlockedTarget(context.Background(), "Did you know I like tacos", blocked); ok {
		t.Fatalf("heuristic matched unrelated chatter, want decline")
	}
	if _, ok, _ := (HeuristicJudge{}).PickBlockedTarget(context.Background(), "here's the token: abc123", blocked); ok {
		t.Fatalf("heuristic matched free-form answer, want decline (LLM judge territory)")
	}
}

func TestLLMJudgeParsesTaskLabel(t *testing.T) {
	blocked := []Task{
		{Name: "Deploy Discord bot", ResumeHint: "need your Discord bot token"},
		{Name: "Book flights", ResumeHint: "departure date"},
	}

	j := LLMJudge{Chat: stubChat("TASK_2", nil)}
	idx, ok, err := j.PickBlockedTarget(context.Background(), "leave on the 14th", blocked)
	if err != nil {
		t.Fatalf("PickBlockedTarget() error = %v", err)
	}
	if !ok || idx != 1 {
		t.Fatalf("PickBlockedTarget() = (%d, %v), want (1, true)", idx, ok)
	}

	j = LLMJudge{Chat: stubChat("NONE", nil)}
	if _, ok, err := j.PickBlockedTarget(context.Background(), "random remark", blocked); err != nil || ok {
		t.Fatalf("NONE answer = ok=%v err=%v, want decline without error", ok, err)
	}

	j = LLMJudge{Chat: stubChat("TASK_9", nil)}
	if _, ok, err := j.PickBlockedTarget(context.Background(), "whatever", blocked); err != nil || ok {
		t.Fatalf("out-of-range label = ok=%v err=%v, want decline without error", ok, err)
	}

	j = LLMJudge{Chat: stubChat("I think it might be the bot one?", nil)}
	if _, ok, err := j.PickBlockedTarget(context.Background(), "whatever", blocked); err != nil || ok {
		t.Fatalf("unparseable answer = ok=%v err=%v, want decline without error", ok, err)
	}
}

func TestLLMJudgePromptDescribesBlockedTasks(t *testing.T) {
	blocked := []Task{{Name: "Deploy Discord bot", ResumeHint: "need your Discord bot token"}}

	var gotSystem, gotUser string
	j := LLMJudge{Chat: func(_ context.Context, system, user string, _ int, _ float64) (string, error) {
		gotSystem = system
		gotUser = user
		return "NONE", nil
	}}
	if _, _, err := j.PickBlockedTarget(context.Background(), "here's the token: abc123", blocked); err != nil {
		t.Fatalf("PickBlockedTarget() error = %v", err)
	}

	if !strings.Contains(gotSystem, "NONE") {
		t.Fatalf("system prompt missing NONE instruction: %q", gotSystem)
	}
	if !strings.Contains(gotUser, `TASK_1: "Deploy Discord bot" - waiting for: need your Discord bot token`) {
		t.Fatalf("user prompt missing task line: %q", gotUser)
	}
	if !strings.Contains(gotUser, "here's the token: abc123") {
		t.Fatalf("user prompt missing the message: %q", gotUser)
	}
}

func TestLLMJudgeErrors(t *testing.T) {
	blocked := []Task{{Name: "Deploy Discord bot"}}

	j := LLMJudge{}
	if _, _, err := j.PickBlockedTarget(context.Background(), "hi", blocked); err == nil {
		t.Fatalf("unconfigured judge error = nil, want error")
	}

	j = LLMJudge{Chat: stubChat("", errors.New("timeout"))}
	if _, _, err := j.PickBlockedTarget(context.Background(), "hi", blocked); err == nil {
		t.Fatalf("chat failure error = nil, want error")
	}
}

func TestJudgeChainFallsBackOnError(t *testing.T) {
	blocked := []Task{{Name: "Deploy Discord bot"}}

	var fallbackErr error
	chain := NewJudgeChain(LLMJudge{Chat: stubChat("", errors.New("api down"))}, HeuristicJudge{})
	chain.OnFallback = func(err error) { fallbackErr = err }

	idx, ok, err := chain.PickBlockedTarget(context.Background(), "yes", blocked)
	if err != nil {
		t.Fatalf("chain error = %v, want heuristic result", err)
	}
	if !ok || idx != 0 {
		t.Fatalf("chain = (%d, %v), want heuristic match (0, true)", idx, ok)
	}
	if fallbackErr == nil || !strings.Contains(fallbackErr.Error(), "api down") {
		t.Fatalf("OnFallback err = %v, want api down", fallbackErr)
	}
}

func TestJudgeChainAllFailing(t *testing.T) {
	blocked := []Task{{Name: "Deploy Discord bot"}}
	chain := NewJudgeChain(LLMJudge{Chat: stubChat("", errors.New("api down"))})
	if _, _, err := chain.PickBlockedTarget(context.Background(), "yes", blocked); err == nil {
		t.Fatalf("chain with only failing judges error = nil, want error")
	}
}
