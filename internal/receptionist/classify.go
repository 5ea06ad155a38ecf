// Package receptionist is the deterministic front door for messages no
// running task claimed: it decides whether the text is a command, an
// actionable request worth spawning a task for, or plain chat.
package receptionist

import (
	"regexp"
	"strings"
)

type Kind string

const (
	KindCancel     Kind = "cancel"
	KindActionable Kind = "actionable"
	KindChat       Kind = "chat"
)

type Decision struct {
	Kind             Kind
	Risk             string
	RequiresApproval bool
	Blocked          bool
	Reason           string
}

var (
	cancelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(please )?(cancel|stop|abort|kill)( (it|that|this|everything|all tasks?|the task))?$`),
		regexp.MustCompile(`(?i)^never ?mind( that)?$`),
		regexp.MustCompile(`(?i)^forget (it|that)$`),
	}
	blockedIntentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
		regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
		regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
		regexp.MustCompile(`(?i)\b(print|show|reveal)\b.*\b(api[_ -]?key|token|password|secret)\b`),
	}
	highRiskKeywords = []string{
		"delete", "remove", "drop", "truncate", "format", "wipe", "destroy",
		"shutdown", "reboot", "kill", "terminate",
		"chmod", "chown", "sudo", "install", "uninstall",
		"deploy", "push", "merge", "migrate",
	}
	actionableKeywords = []string{
		"build", "create", "implement", "fix", "refactor", "update",
		"edit", "write", "add", "run", "test", "generate", "research",
		"scaffold", "setup", "configure", "organize", "order", "book",
		"schedule", "download", "summarize",
	}
)

// Classify decides how to handle a message that did not route to any
// running or blocked task.
func Classify(text string) Decision {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return Decision{Kind: KindChat, Risk: "low"}
	}

	trimmed := strings.TrimRight(in, "?!. ")
	for _, re := range cancelPatterns {
		if re.MatchString(trimmed) {
			return Decision{Kind: KindCancel, Risk: "low"}
		}
	}

	for _, re := range blockedIntentPatterns {
		if re.MatchString(in) {
			return Decision{
				Kind:             KindChat,
				Risk:             "blocked",
				RequiresApproval: true,
				Blocked:          true,
				Reason:           "Request appears to include destructive or secret-exfiltration behavior.",
			}
		}
	}

	for _, kw := range highRiskKeywords {
		if strings.Contains(in, kw) {
			return Decision{Kind: KindActionable, Risk: "high", RequiresApproval: true}
		}
	}

	for _, kw := range actionableKeywords {
		if strings.Contains(in, kw) {
			return Decision{Kind: KindActionable, Risk: "medium"}
		}
	}

	// Lightweight fallback for imperative requests with at least three words.
	parts := strings.Fields(in)
	if len(parts) >= 3 {
		switch parts[0] {
		case "please", "can", "could", "would", "help", "make", "find", "go":
			return Decision{Kind: KindActionable, Risk: "medium"}
		}
	}

	return Decision{Kind: KindChat, Risk: "low"}
}

// LooksActionable reports whether the text reads as a request for
// background work rather than conversation.
func LooksActionable(text string) bool {
	d := Classify(text)
	return d.Kind == KindActionable && !d.Blocked
}
