package findings

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestMerge_Empty(t *testing.T) {
	r := Merge(nil, DefaultMergeConfig())
	if len(r.Findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(r.Findings))
	}
	if r.Summary.Text != "no findings" {
		t.Fatalf("unexpected summary: %s", r.Summary.Text)
	}
}

func TestMerge_DuplicateKeepsHigherSeverity(t *testing.T) {
	sets := []FindingSet{
		{Agent: "code-review", Findings: []Finding{{
			Severity:    SeverityMedium,
			Category:    "correctness",
			Location:    Location{File: "pkg/db.go", Line: 42},
			Description: "unchecked error from rows.Close",
		}}},
		{Agent: "lint", Findings: []Finding{{
			Severity:    SeverityHigh,
			Category:    "errcheck",
			Location:    Location{File: "pkg/db.go", Line: 42},
			Description: "error from rows.Close is unchecked",
			Fix:         "defer func() { _ = rows.Close() }()",
		}}},
	}

	r := Merge(sets, DefaultMergeConfig())
	if len(r.Findings) != 1 {
		t.Fatalf("expected 1 merged finding, got %d", len(r.Findings))
	}
	f := r.Findings[0]
	if f.Severity != SeverityHigh {
		t.Fatalf("expected high severity to survive, got %s", f.Severity)
	}
	if f.Category != "errcheck" {
		t.Fatalf("expected category from higher severity finding, got %s", f.Category)
	}
	if !strings.HasPrefix(f.Description, "error from rows.Close is unchecked") {
		t.Fatalf("expected higher severity description first, got %q", f.Description)
	}
	if !strings.Contains(f.Description, "unchecked error from rows.Close") {
		t.Fatalf("expected merged description, got %q", f.Description)
	}
	if !reflect.DeepEqual(f.Sources, []string{"code-review", "lint"}) {
		t.Fatalf("unexpected sources: %v", f.Sources)
	}
}

func TestMerge_DifferentLocationsNotMerged(t *testing.T) {
	sets := []FindingSet{{Agent: "a", Findings: []Finding{
		{Severity: SeverityLow, Location: Location{File: "a.go", Line: 1}, Description: "unused variable count"},
		{Severity: SeverityLow, Location: Location{File: "b.go", Line: 1}, Description: "unused variable count"},
		{Severity: SeverityLow, Location: Location{File: "a.go", Line: 9}, Description: "unused variable count"},
	}}}
	r := Merge(sets, DefaultMergeConfig())
	if len(r.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(r.Findings))
	}
}

func TestMerge_UnrelatedDescriptionsSameLocation(t *testing.T) {
	sets := []FindingSet{{Agent: "a", Findings: []Finding{
		{Severity: SeverityLow, Location: Location{File: "a.go", Line: 1}, Description: "exported function lacks documentation"},
		{Severity: SeverityHigh, Location: Location{File: "a.go", Line: 1}, Description: "SQL query built via string concatenation"},
	}}}
	r := Merge(sets, DefaultMergeConfig())
	if len(r.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(r.Findings))
	}
}

func TestMerge_Ordering(t *testing.T) {
	sets := []FindingSet{{Agent: "a", Findings: []Finding{
		{Severity: SeverityLow, Location: Location{File: "z.go"}, Description: "first low"},
		{Severity: SeverityCritical, Location: Location{File: "b.go", Line: 3}, Description: "hardcoded credential"},
		{Severity: SeverityLow, Location: Location{File: "a.go"}, Description: "second low"},
		{Severity: SeverityCritical, Location: Location{File: "b.go", Line: 1}, Description: "command injection"},
		{Severity: SeverityInfo, Location: Location{File: "a.go"}, Description: "note about naming"},
		{Severity: SeverityLow, Location: Location{File: "a.go"}, Description: "third low unrelated wording"},
	}}}

	r := Merge(sets, DefaultMergeConfig())
	var got []string
	for _, f := range r.Findings {
		got = append(got, f.Description)
	}
	want := []string{
		"command injection",
		"hardcoded credential",
		"second low",
		"third low unrelated wording",
		"first low",
		"note about naming",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order:\n got %v\nwant %v", got, want)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	set := FindingSet{Agent: "review", Findings: []Finding{
		{Severity: SeverityHigh, Location: Location{File: "main.go", Line: 10}, Description: "possible nil pointer dereference of cfg"},
		{Severity: SeverityMedium, Location: Location{File: "main.go", Line: 10}, Description: "cfg may be nil pointer here"},
		{Severity: SeverityLow, Location: Location{File: "util.go"}, Description: "function name stutters"},
		{Severity: SeverityLow, Location: Location{File: "util.go"}, Description: "function name stutters"},
	}}

	once := Merge([]FindingSet{set}, DefaultMergeConfig())
	twice := Merge([]FindingSet{set, set}, DefaultMergeConfig())

	if !reflect.DeepEqual(once.Findings, twice.Findings) {
		t.Fatalf("merge not idempotent:\n once %+v\ntwice %+v", once.Findings, twice.Findings)
	}
	if once.Summary.Total != twice.Summary.Total {
		t.Fatalf("summary differs: %d vs %d", once.Summary.Total, twice.Summary.Total)
	}
}

func TestMerge_RejectsInvalidSeverity(t *testing.T) {
	sets := []FindingSet{{Agent: "a", Findings: []Finding{
		{Location: Location{File: "a.go"}, Description: "no severity"},
		{Severity: SeverityInfo, Location: Location{File: "a.go"}, Description: "fine"},
		{Severity: SeverityHigh, Location: Location{File: "a.go"}},
	}}}
	r := Merge(sets, DefaultMergeConfig())
	if len(r.Findings) != 1 {
		t.Fatalf("expected 1 valid finding, got %d", len(r.Findings))
	}
	if r.Summary.Rejected != 2 {
		t.Fatalf("expected 2 rejected, got %d", r.Summary.Rejected)
	}
}

func TestMerge_NormalizesPaths(t *testing.T) {
	sets := []FindingSet{
		{Agent: "a", Findings: []Finding{{Severity: SeverityLow, Location: Location{File: "./pkg/x.go"}, Description: "magic number timeout"}}},
		{Agent: "b", Findings: []Finding{{Severity: SeverityLow, Location: Location{File: "pkg/x.go"}, Description: "magic number timeout"}}},
	}
	r := Merge(sets, DefaultMergeConfig())
	if len(r.Findings) != 1 {
		t.Fatalf("expected paths to normalize into one finding, got %d", len(r.Findings))
	}
}

func TestMerge_CustomThreshold(t *testing.T) {
	sets := []FindingSet{{Agent: "a", Findings: []Finding{
		{Severity: SeverityLow, Location: Location{File: "a.go", Line: 4}, Description: "loop variable captured by closure"},
		{Severity: SeverityLow, Location: Location{File: "a.go", Line: 4}, Description: "goroutine closure captures variable"},
	}}}
	if got := len(Merge(sets, MergeConfig{KeywordOverlap: 0.9}).Findings); got != 2 {
		t.Fatalf("expected strict threshold to keep both, got %d", got)
	}
	if got := len(Merge(sets, MergeConfig{KeywordOverlap: 0.2}).Findings); got != 1 {
		t.Fatalf("expected loose threshold to merge, got %d", got)
	}
}

func TestParseSeverity(t *testing.T) {
	for _, s := range Severities {
		got, err := ParseSeverity(strings.ToUpper(s.String()))
		if err != nil || got != s {
			t.Fatalf("round trip failed for %s: %v %v", s, got, err)
		}
	}
	if _, err := ParseSeverity("warning"); err == nil {
		t.Fatal("expected error for severity outside the closed set")
	}
}

func TestReport_WriteText(t *testing.T) {
	r := Merge([]FindingSet{{Agent: "lint", Findings: []Finding{
		{Severity: SeverityHigh, Location: Location{File: "a.go", Line: 3}, Description: "shadowed err", Fix: "rename"},
	}}}, DefaultMergeConfig())
	r.RunID = "run-1"
	r.Agent = "review"
	r.State = "done"
	r.Finalize([]ComponentStatus{
		{Agent: "lint", State: ComponentCompleted, Findings: 1},
		{Agent: "security-review", State: ComponentFailed, Kind: "timeout", Reason: "deadline exceeded"},
	})

	var buf bytes.Buffer
	if err := r.WriteText(&buf, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"[HIGH] a.go:3", "fix: rename", "Components that did not complete:", "security-review (timeout)", "from 1 of 2 components"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
