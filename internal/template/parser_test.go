package template

import "testing"

func TestExtractModuleRefsSkipsEscaped(t *testing.T) {
	got := ExtractModuleRefs(`Hi \@user, see @profile and @profile again`)
	want := []string{"profile"}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("ExtractModuleRefs() = %v, want %v", got, want)
	}
}

func TestExtractModuleRefsOrderAndDedup(t *testing.T) {
	got := ExtractModuleRefs("@b @a @b @c")
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("ExtractModuleRefs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ExtractModuleRefs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractVarRefs(t *testing.T) {
	got := ExtractVarRefs("Hello ${name}, your id is ${user_id} and ${name} again")
	want := []string{"name", "user_id"}
	if len(got) != len(want) {
		t.Fatalf("ExtractVarRefs() = %v, want %v", got, want)
	}
}

func TestReplaceModuleSkipsEscapedOccurrence(t *testing.T) {
	got := ReplaceModule(`\@a and @a`, "a", "X")
	want := `\@a and X`
	if got != want {
		t.Fatalf("ReplaceModule() = %q, want %q", got, want)
	}
}

func TestFinalizeEscapesScenario(t *testing.T) {
	// Scenario 1 from spec.md §8: escape with no modules.
	got := FinalizeEscapes(`Hi \@user, welcome`)
	want := `Hi @user, welcome`
	if got != want {
		t.Fatalf("FinalizeEscapes() = %q, want %q", got, want)
	}
}

func TestReplaceModuleDoesNotAffectSimilarPrefix(t *testing.T) {
	got := ReplaceModule("@ab @abc", "ab", "X")
	// "@abc" must not match "ab" because matchModuleName is greedy.
	if got != "X @abc" {
		t.Fatalf("ReplaceModule() = %q, want %q", got, "X @abc")
	}
}

func TestSubstituteVarsUnboundIsEmpty(t *testing.T) {
	got := SubstituteVars("Hello ${name}!", nil)
	if got != "Hello !" {
		t.Fatalf("SubstituteVars() = %q, want %q", got, "Hello !")
	}
}

func TestSubstituteVarsBound(t *testing.T) {
	got := SubstituteVars("Hello ${name}!", map[string]any{"name": "Ada"})
	if got != "Hello Ada!" {
		t.Fatalf("SubstituteVars() = %q, want %q", got, "Hello Ada!")
	}
}
