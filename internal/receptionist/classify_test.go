package receptionist

import "testing"

func TestClassifyCancelCommands(t *testing.T) {
	cases := []string{
		"cancel",
		"stop it",
		"please cancel the task",
		"abort everything",
		"nevermind",
	}
	for _, in := range cases {
		if d := Classify(in); d.Kind != KindCancel {
			t.Fatalf("Classify(%q).Kind = %q, want %q", in, d.Kind, KindCancel)
		}
	}
}

func TestClassifyActionable(t *testing.T) {
	cases := []struct {
		in   string
		risk string
	}{
		{"build me a portfolio site", "medium"},
		{"research NVDA earnings", "medium"},
		{"delete all my old screenshots", "high"},
		{"can you look into flight prices", "medium"},
	}
	for _, tc := range cases {
		d := Classify(tc.in)
		if d.Kind != KindActionable {
			t.Fatalf("Classify(%q).Kind = %q, want actionable", tc.in, d.Kind)
		}
		if d.Risk != tc.risk {
			t.Fatalf("Classify(%q).Risk = %q, want %q", tc.in, d.Risk, tc.risk)
		}
	}
}

func TestClassifyBlocksDangerousIntent(t *testing.T) {
	d := Classify("run rm -rf / on my laptop")
	if !d.Blocked {
		t.Fatalf("Classify() should block destructive request, got %+v", d)
	}
}

func TestClassifyChat(t *testing.T) {
	cases := []string{
		"did you know I like tacos",
		"good morning",
		"thanks!",
	}
	for _, in := range cases {
		if d := Classify(in); d.Kind != KindChat {
			t.Fatalf("Classify(%q).Kind = %q, want chat", in, d.Kind)
		}
	}
}
