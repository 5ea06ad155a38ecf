package tasks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRouteWithNoTasks(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	dec := r.Route(context.Background(), "d1", "hello there")
	if dec.Method != RouteNone || dec.Matched {
		t.Fatalf("Route() = %q matched=%v, want none", dec.Method, dec.Matched)
	}
}

func TestRouteSingleTaskAbsorbsMessages(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	h := spawnNamed(t, r, "d1", "Build portfolio site", "", release)

	dec := r.Route(context.Background(), "d1", "use a dark theme instead")
	if dec.Method != RouteSingleTask {
		t.Fatalf("Route() method = %q, want %q", dec.Method, RouteSingleTask)
	}
	if dec.Task.ID != h.TaskID {
		t.Fatalf("Route() task = %q, want %q", dec.Task.ID, h.TaskID)
	}
}

func TestRoutePriorityAcrossTwoRunningTasks(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	portfolio := spawnNamed(t, r, "d1", "Build portfolio site", "", release)
	time.Sleep(2 * time.Millisecond)
	research := spawnNamed(t, r, "d1", "Research NVDA earnings", "", release)

	dec := r.Route(context.Background(), "d1", "how's the portfolio site coming?")
	if dec.Method != RouteNameMatch {
		t.Fatalf("name question method = %q, want %q", dec.Method, RouteNameMatch)
	}
	if dec.Task.ID != portfolio.TaskID {
		t.Fatalf("name question task = %q, want portfolio task", dec.Task.ID)
	}

	dec = r.Route(context.Background(), "d1", "any updates?")
	if dec.Method != RouteStatusQuery {
		t.Fatalf("status question method = %q, want %q", dec.Method, RouteStatusQuery)
	}
	if dec.Task.ID != research.TaskID {
		t.Fatalf("status question task = %q, want most recent task", dec.Task.ID)
	}

	dec = r.Route(context.Background(), "d1", "looks great, ship it")
	if dec.Method != RouteMostRecent {
		t.Fatalf("fallback method = %q, want %q", dec.Method, RouteMostRecent)
	}
	if dec.Task.ID != research.TaskID {
		t.Fatalf("fallback task = %q, want most recent task", dec.Task.ID)
	}
}

func TestRouteStatusQueryWithOnlyBlockedTasks(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	h := spawnNamed(t, r, "d1", "Deploy Discord bot", "", release)
	if _, err := r.Block(h.TaskID, "waiting on token", "need your Discord bot token", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	dec := r.Route(context.Background(), "d1", "are you done yet?")
	if dec.Method != RouteStatusQuery {
		t.Fatalf("Route() method = %q, want %q", dec.Method, RouteStatusQuery)
	}
	if dec.Task.ID != h.TaskID {
		t.Fatalf("Route() task = %q, want blocked task", dec.Task.ID)
	}

	task, _ := r.Get(h.TaskID)
	if task.Status != StatusBlocked {
		t.Fatalf("status query mutated task: status = %q", task.Status)
	}
}

func TestRouteUnrelatedChatterDoesNotResumeBlocked(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	h := spawnNamed(t, r, "d1", "Deploy Discord bot", "", release)
	if _, err := r.Block(h.TaskID, "waiting on token", "need your Discord bot token", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	dec := r.Route(context.Background(), "d1", "Did you know I like tacos")
	if dec.Method != RouteNone {
		t.Fatalf("Route() method = %q, want %q", dec.Method, RouteNone)
	}

	task, _ := r.Get(h.TaskID)
	if task.Status != StatusBlocked {
		t.Fatalf("unrelated chatter changed status to %q", task.Status)
	}
}

func TestRouteBlockedResumeViaLLMJudge(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	h := spawnNamed(t, r, "d1", "Deploy Discord bot", "", release)
	if _, err := r.Block(h.TaskID, "waiting on token", "need your Discord bot token", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	r.SetJudge(NewJudgeChain(LLMJudge{Chat: stubChat("TASK_1", nil)}, HeuristicJudge{}))

	dec := r.Route(context.Background(), "d1", "here's the token: abc123")
	if dec.Method != RouteBlockedResume {
		t.Fatalf("Route() method = %q, want %q", dec.Method, RouteBlockedResume)
	}
	if dec.Task.ID != h.TaskID {
		t.Fatalf("Route() task = %q, want blocked task", dec.Task.ID)
	}

	// The router only picks the target; resuming stays with the caller.
	task, _ := r.Get(h.TaskID)
	if task.Status != StatusBlocked {
		t.Fatalf("Route() resumed the task itself: status = %q", task.Status)
	}
	if !r.Resume(dec.Task.ID, "here's the token: abc123") {
		t.Fatalf("Resume() = false, want true")
	}
}

func TestRouteJudgeDeclineFallsThroughToRunning(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	blocked := spawnNamed(t, r, "d1", "Deploy Discord bot", "", release)
	if _, err := r.Block(blocked.TaskID, "waiting on token", "need your Discord bot token", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	running := spawnNamed(t, r, "d1", "Summarize research notes", "", release)

	r.SetJudge(NewJudgeChain(LLMJudge{Chat: stubChat("NONE", nil)}, HeuristicJudge{}))

	dec := r.Route(context.Background(), "d1", "add a sources section as well")
	if dec.Method != RouteSingleTask {
		t.Fatalf("Route() method = %q, want fall-through to %q", dec.Method, RouteSingleTask)
	}
	if dec.Task.ID != running.TaskID {
		t.Fatalf("Route() task = %q, want the running task", dec.Task.ID)
	}
}

func TestRouteJudgeErrorFallsBackToHeuristic(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	h := spawnNamed(t, r, "d1", "Deploy Discord bot", "", release)
	if _, err := r.Block(h.TaskID, "waiting on confirmation", "a yes or no", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	var fallbacks int
	chain := NewJudgeChain(LLMJudge{Chat: stubChat("", errors.New("api down"))}, HeuristicJudge{})
	chain.OnFallback = func(error) { fallbacks++ }
	r.SetJudge(chain)

	dec := r.Route(context.Background(), "d1", "yes")
	if dec.Method != RouteBlockedResume {
		t.Fatalf("Route() method = %q, want %q via heuristic", dec.Method, RouteBlockedResume)
	}
	if fallbacks != 1 {
		t.Fatalf("fallbacks = %d, want 1", fallbacks)
	}
}

func TestRouteStatusQuerySkipsJudge(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	blocked := spawnNamed(t, r, "d1", "Deploy Discord bot", "", release)
	if _, err := r.Block(blocked.TaskID, "waiting on token", "", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	running := spawnNamed(t, r, "d1", "Summarize research notes", "", release)

	called := false
	r.SetJudge(judgeFunc(func(context.Context, string, []Task) (int, bool, error) {
		called = true
		return 0, true, nil
	}))

	dec := r.Route(context.Background(), "d1", "any progress?")
	if called {
		t.Fatalf("judge consulted for a status query")
	}
	if dec.Method != RouteStatusQuery || dec.Task.ID != running.TaskID {
		t.Fatalf("Route() = %q/%q, want status_query on running task", dec.Method, dec.Task.ID)
	}
}

func TestNameMatchScoring(t *testing.T) {
	cases := []struct {
		name    string
		message string
		task    Task
		want    int
	}{
		{
			name:    "full name substring",
			message: "pause build portfolio site for now",
			task:    Task{Name: "Build portfolio site"},
			want:    16,
		},
		{
			name:    "individual words only",
			message: "how's the portfolio site coming?",
			task:    Task{Name: "Build portfolio site"},
			want:    4,
		},
		{
			name:    "persona id",
			message: "tell nova to wrap up",
			task:    Task{Name: "Draft blog post", PersonaID: "nova"},
			want:    8,
		},
		{
			name:    "no overlap",
			message: "how's the portfolio site coming?",
			task:    Task{Name: "Research NVDA earnings"},
			want:    0,
		},
		{
			name:    "short words ignored",
			message: "is it up to do ok",
			task:    Task{Name: "go up to it"},
			want:    0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nameMatchScore(toLowerTrimmed(tc.message), tc.task)
			if got != tc.want {
				t.Fatalf("nameMatchScore(%q, %q) = %d, want %d", tc.message, tc.task.Name, got, tc.want)
			}
		})
	}
}

func spawnNamed(t *testing.T, r *Registry, deviceID, name, personaID string, release <-chan struct{}) *Handle {
	t.Helper()
	h, err := r.Spawn(SpawnRequest{
		DeviceID:  deviceID,
		UserID:    "u1",
		Prompt:    name,
		PersonaID: personaID,
		Name:      name,
	}, gatedWork(release, Result{Success: true}, nil))
	if err != nil {
		t.Fatalf("Spawn(%q) error = %v", name, err)
	}
	return h
}

func stubChat(answer string, err error) ChatFunc {
	return func(context.Context, string, string, int, float64) (string, error) {
		return answer, err
	}
}

type judgeFunc func(ctx context.Context, message string, blocked []Task) (int, bool, error)

func (f judgeFunc) PickBlockedTarget(ctx context.Context, message string, blocked []Task) (int, bool, error) {
	return f(ctx, message, blocked)
}

func toLowerTrimmed(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
