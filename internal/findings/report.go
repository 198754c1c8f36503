package findings

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/samber/lo"
)

// ComponentState is the outcome of one dispatched agent invocation.
type ComponentState string

const (
	ComponentCompleted ComponentState = "completed"
	ComponentFailed    ComponentState = "failed"
)

// ComponentStatus records how one subagent fared during a run.
type ComponentStatus struct {
	Agent      string         `json:"agent"`
	State      ComponentState `json:"state"`
	Kind       string         `json:"kind,omitempty"` // failure kind: timeout, denied, error, unknown_agent, canceled
	Reason     string         `json:"reason,omitempty"`
	Findings   int            `json:"findings"`
	Summary    string         `json:"summary,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Summary counts findings per severity.
type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	Rejected   int            `json:"rejected,omitempty"`
	Text       string         `json:"text"`
}

// Report is the merged outcome of one orchestration run.
type Report struct {
	RunID      string            `json:"run_id"`
	Agent      string            `json:"agent"`
	State      string            `json:"state"`
	Findings   []Finding         `json:"findings"`
	Summary    Summary           `json:"summary"`
	Components []ComponentStatus `json:"components"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

func summarize(fs []Finding, rejected int) Summary {
	counts := lo.CountValuesBy(fs, func(f Finding) string { return f.Severity.String() })
	s := Summary{
		Total:      len(fs),
		BySeverity: counts,
		Rejected:   rejected,
	}
	s.Text = findingsText(s)
	return s
}

func findingsText(s Summary) string {
	if s.Total == 0 {
		return "no findings"
	}
	var parts []string
	for _, sev := range Severities {
		if n := s.BySeverity[sev.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	noun := "findings"
	if s.Total == 1 {
		noun = "finding"
	}
	return fmt.Sprintf("%d %s (%s)", s.Total, noun, strings.Join(parts, ", "))
}

// Completed returns the components that produced usable output.
func (r *Report) Completed() []ComponentStatus {
	return lo.Filter(r.Components, func(c ComponentStatus, _ int) bool { return c.State == ComponentCompleted })
}

// Failed returns the components that did not complete.
func (r *Report) Failed() []ComponentStatus {
	return lo.Filter(r.Components, func(c ComponentStatus, _ int) bool { return c.State == ComponentFailed })
}

// Finalize attaches component statuses and rewrites the summary text to mention them.
func (r *Report) Finalize(components []ComponentStatus) {
	r.Components = components
	text := findingsText(r.Summary)
	if n := len(components); n > 0 {
		text = fmt.Sprintf("%s from %d of %d components", text, len(r.Completed()), n)
	}
	r.Summary.Text = text
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a human-readable report. Colors are applied only when colorize is set.
func (r *Report) WriteText(w io.Writer, colorize bool) error {
	bold := newColor(colorize, color.Bold)
	dim := newColor(colorize, color.Faint)

	if _, err := bold.Fprintf(w, "%s run %s: %s\n", r.Agent, r.RunID, r.State); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n\n", r.Summary.Text)

	for _, f := range r.Findings {
		sev := severityColor(f.Severity, colorize)
		sev.Fprintf(w, "[%s]", strings.ToUpper(f.Severity.String()))
		fmt.Fprintf(w, " %s", f.Location)
		if f.Category != "" {
			dim.Fprintf(w, " (%s)", f.Category)
		}
		fmt.Fprintf(w, "\n  %s\n", f.Description)
		if f.Fix != "" {
			fmt.Fprintf(w, "  fix: %s\n", f.Fix)
		}
		if len(f.Sources) > 0 {
			dim.Fprintf(w, "  reported by: %s\n", strings.Join(f.Sources, ", "))
		}
	}

	if failed := r.Failed(); len(failed) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Components that did not complete:")
		for _, c := range failed {
			fmt.Fprintf(w, "  - %s (%s): %s\n", c.Agent, c.Kind, c.Reason)
		}
	}
	if completed := r.Completed(); len(completed) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Completed components:")
		for _, c := range completed {
			fmt.Fprintf(w, "  - %s: %d findings in %dms\n", c.Agent, c.Findings, c.DurationMs)
		}
	}
	return nil
}

func newColor(enabled bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func severityColor(s Severity, enabled bool) *color.Color {
	switch s {
	case SeverityCritical:
		return newColor(enabled, color.FgRed, color.Bold)
	case SeverityHigh:
		return newColor(enabled, color.FgRed)
	case SeverityMedium:
		return newColor(enabled, color.FgYellow)
	case SeverityLow:
		return newColor(enabled, color.FgCyan)
	default:
		return newColor(enabled, color.FgWhite)
	}
}
