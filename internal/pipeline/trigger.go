package pipeline

import (
	"regexp"
	"strings"
)

// MatchesTrigger implements the trigger-pattern semantics of §4.8,
// applied to the last user message, case-insensitively:
//
//   - empty or "*"          -> always matches
//   - contains "|"          -> try as a regex first, falling back to a
//     pipe-separated substring-OR if the pattern doesn't compile
//   - anything else         -> try as a regex first, falling back to
//     plain substring containment
//
// An invalid regex must never panic or abort the turn; it degrades to
// the substring fallback instead.
func MatchesTrigger(pattern, message string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if message == "" {
		return false
	}
	lowerMessage := strings.ToLower(message)

	if strings.Contains(pattern, "|") {
		if re, err := regexp.Compile("(?i)" + pattern); err == nil {
			return re.MatchString(message)
		}
		for _, part := range strings.Split(pattern, "|") {
			if part == "" {
				continue
			}
			if strings.Contains(lowerMessage, strings.ToLower(part)) {
				return true
			}
		}
		return false
	}

	if re, err := regexp.Compile("(?i)" + pattern); err == nil {
		return re.MatchString(message)
	}
	return strings.Contains(lowerMessage, strings.ToLower(pattern))
}
