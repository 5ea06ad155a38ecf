package receptionist

import (
	"strings"
	"testing"
)

func TestRedactPIIEmailAndPhone(t *testing.T) {
	in := "reach me at jo.doe@example.com or +1 (555) 010-9999"
	out, changed := RedactPII(in)
	if !changed {
		t.Fatalf("RedactPII() changed = false, want true")
	}
	if strings.Contains(out, "example.com") || strings.Contains(out, "555") {
		t.Fatalf("RedactPII() left PII behind: %q", out)
	}
	if !strings.Contains(out, "[REDACTED_EMAIL]") || !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("RedactPII() missing placeholders: %q", out)
	}
}

func TestRedactPIICardBeforePhone(t *testing.T) {
	out, changed := RedactPII("card: 4111 1111 1111 1111")
	if !changed || !strings.Contains(out, "[REDACTED_CARD]") {
		t.Fatalf("RedactPII() = %q, want card placeholder", out)
	}
}

func TestRedactPIINoChange(t *testing.T) {
	out, changed := RedactPII("nothing sensitive here")
	if changed || out != "nothing sensitive here" {
		t.Fatalf("RedactPII() unexpectedly changed clean text: %q", out)
	}
}
