package pipeline

import "testing"

func TestAddWarningCollapsesRepeatedKindAndModule(t *testing.T) {
	p := NewPromptState("tmpl")
	p.AddWarning(Warning{Kind: "missing_module", ModuleID: "greeting"})
	p.AddWarning(Warning{Kind: "missing_module", ModuleID: "greeting"})
	p.AddWarning(Warning{Kind: "missing_module", ModuleID: "greeting"})

	if len(p.Warnings) != 1 {
		t.Fatalf("len(Warnings) = %d, want 1 (collapsed)", len(p.Warnings))
	}
	if p.Warnings[0].Count != 3 {
		t.Errorf("Warnings[0].Count = %d, want 3", p.Warnings[0].Count)
	}
}

func TestAddWarningKeepsDistinctKindsAndModulesSeparate(t *testing.T) {
	p := NewPromptState("tmpl")
	p.AddWarning(Warning{Kind: "missing_module", ModuleID: "greeting"})
	p.AddWarning(Warning{Kind: "missing_module", ModuleID: "farewell"})
	p.AddWarning(Warning{Kind: "circular_dependency", ModuleID: "greeting"})

	if len(p.Warnings) != 3 {
		t.Fatalf("len(Warnings) = %d, want 3 (distinct kind/module pairs)", len(p.Warnings))
	}
	for _, w := range p.Warnings {
		if w.Count != 1 {
			t.Errorf("Warning %+v Count = %d, want 1", w, w.Count)
		}
	}
}

func TestAddWarningNilReceiverIsNoOp(t *testing.T) {
	var p *PromptState
	p.AddWarning(Warning{Kind: "missing_module", ModuleID: "x"})
}

func TestRecordStageResolutionAccumulatesTiming(t *testing.T) {
	p := NewPromptState("tmpl")
	p.RecordStageResolution(StageOne, "resolved-1", 10)
	p.RecordStageResolution(StageOne, "resolved-1-again", 5)

	if p.Timings[StageOne] != 15 {
		t.Errorf("Timings[StageOne] = %v, want 15", p.Timings[StageOne])
	}
	if p.Stage1Resolved != "resolved-1-again" {
		t.Errorf("Stage1Resolved = %q, want latest resolution", p.Stage1Resolved)
	}
}
