package tasks

import (
	"regexp"
	"strings"
)

// Status questions must be recognized deterministically and cheaply
// before any judge call, so this is a closed literal pattern set, not
// a classifier.
var statusQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^any (updates?|status|progress|news)( on (it|that|this|things?))?$`),
	regexp.MustCompile(`(?i)^how('| i)?s it going$`),
	regexp.MustCompile(`(?i)^what('| i)?s the (status|progress|eta)( on (it|that|this))?$`),
	regexp.MustCompile(`(?i)^are you (still )?(working( on (it|that|this))?|running|busy)$`),
	regexp.MustCompile(`(?i)^(are you )?(done|finished)( yet)?$`),
	regexp.MustCompile(`(?i)^where are you at$`),
	regexp.MustCompile(`(?i)^how far along( are you)?$`),
	regexp.MustCompile(`(?i)^eta$`),
}

// IsStatusQuery reports whether msg asks about progress rather than
// giving a new instruction. Trailing punctuation is ignored.
func IsStatusQuery(msg string) bool {
	s := strings.TrimSpace(msg)
	s = strings.TrimRight(s, "?!. ")
	if s == "" {
		return false
	}
	for _, p := range statusQueryPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
