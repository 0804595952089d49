package pipeline

import "testing"

func TestMatchesTriggerEmptyOrStarAlwaysMatches(t *testing.T) {
	if !MatchesTrigger("", "anything") {
		t.Fatalf("MatchesTrigger(\"\", ...) = false, want true")
	}
	if !MatchesTrigger("*", "anything") {
		t.Fatalf("MatchesTrigger(\"*\", ...) = false, want true")
	}
}

func TestMatchesTriggerEmptyMessageNeverMatchesNonWildcard(t *testing.T) {
	if MatchesTrigger(".*", "") {
		t.Fatalf("MatchesTrigger(\".*\", \"\") = true, want false (empty message short-circuits)")
	}
	if MatchesTrigger("billing", "") {
		t.Fatalf("MatchesTrigger(\"billing\", \"\") = true, want false")
	}
}

func TestMatchesTriggerRegexCaseInsensitive(t *testing.T) {
	if !MatchesTrigger("^hello", "Hello there") {
		t.Fatalf("MatchesTrigger(\"^hello\", ...) = false, want true")
	}
	if MatchesTrigger("^hello", "say hello") {
		t.Fatalf("MatchesTrigger(\"^hello\", \"say hello\") = true, want false")
	}
}

func TestMatchesTriggerPipeFallsBackToSubstringOr(t *testing.T) {
	// "(" makes this an invalid regex even with the pipe, forcing the
	// substring-OR fallback.
	if !MatchesTrigger("refund|bill(ing", "I need a REFUND please") {
		t.Fatalf("MatchesTrigger pipe fallback = false, want true")
	}
	if MatchesTrigger("refund|bill(ing", "totally unrelated") {
		t.Fatalf("MatchesTrigger pipe fallback = true, want false")
	}
}

func TestMatchesTriggerInvalidRegexFallsBackToSubstring(t *testing.T) {
	if !MatchesTrigger("a(b", "contains a(b literally") {
		t.Fatalf("MatchesTrigger invalid-regex fallback = false, want true")
	}
}

func TestMatchesTriggerPlainSubstring(t *testing.T) {
	if !MatchesTrigger("billing", "I have a BILLING question") {
		t.Fatalf("MatchesTrigger substring = false, want true")
	}
	if MatchesTrigger("billing", "shipping question") {
		t.Fatalf("MatchesTrigger substring = true, want false")
	}
}
