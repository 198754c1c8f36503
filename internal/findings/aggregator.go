package findings

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// MergeConfig holds the duplicate detection threshold.
type MergeConfig struct {
	KeywordOverlap float64 // Jaccard similarity >= this → duplicate (default 0.5)
}

// DefaultMergeConfig returns the default threshold.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		KeywordOverlap: 0.5,
	}
}

// group is one deduplicated finding and the keyword sets of every member folded into it.
type group struct {
	finding      Finding
	descriptions []string
	members      []map[string]struct{}
}

// Merge deduplicates and orders findings from multiple source agents.
//
// Rules (applied in order):
//  1. Findings failing Validate are rejected and counted in the summary.
//  2. An exact repeat of an already seen finding only contributes its sources.
//  3. Two findings are duplicates when they share a file location (and line, when both
//     carry one) and their description keywords overlap by at least cfg.KeywordOverlap.
//     The higher severity survives, distinct descriptions are joined, sources are unioned.
//  4. Output is sorted by severity descending, then file and line ascending. Ties keep
//     discovery order.
//
// Merging the same finding sets twice yields the same output as merging them once.
func Merge(sets []FindingSet, cfg MergeConfig) *Report {
	var groups []*group
	seen := make(map[string]*group)
	rejected := 0

	for _, set := range sets {
		for _, f := range set.Findings {
			if f.Validate() != nil {
				rejected++
				continue
			}
			f.Location = f.Location.normalized()
			f.Sources = addSource(f.Sources, set.Agent)

			fp := fingerprint(f)
			if g, ok := seen[fp]; ok {
				g.finding.Sources = lo.Uniq(append(g.finding.Sources, f.Sources...))
				continue
			}

			kw := keywords(f.Description)
			g := findDuplicate(groups, f, kw, cfg)
			if g == nil {
				g = &group{
					finding:      f,
					descriptions: []string{strings.TrimSpace(f.Description)},
					members:      []map[string]struct{}{kw},
				}
				groups = append(groups, g)
			} else {
				g.absorb(f, kw)
			}
			seen[fp] = g
		}
	}

	out := make([]Finding, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.finding)
	}
	slices.SortStableFunc(out, compareFindings)

	return &Report{
		Findings: out,
		Summary:  summarize(out, rejected),
	}
}

func findDuplicate(groups []*group, f Finding, kw map[string]struct{}, cfg MergeConfig) *group {
	for _, g := range groups {
		if !sameLocation(g.finding.Location, f.Location) {
			continue
		}
		for _, member := range g.members {
			if jaccard(member, kw) >= cfg.KeywordOverlap {
				return g
			}
		}
	}
	return nil
}

func (g *group) absorb(f Finding, kw map[string]struct{}) {
	desc := strings.TrimSpace(f.Description)
	if !slices.Contains(g.descriptions, desc) {
		if f.Severity > g.finding.Severity {
			g.descriptions = append([]string{desc}, g.descriptions...)
		} else {
			g.descriptions = append(g.descriptions, desc)
		}
	}
	g.members = append(g.members, kw)

	merged := g.finding
	if f.Severity > merged.Severity {
		merged.Severity = f.Severity
		merged.Category = lo.CoalesceOrEmpty(f.Category, merged.Category)
		merged.Fix = lo.CoalesceOrEmpty(f.Fix, merged.Fix)
	} else {
		merged.Category = lo.CoalesceOrEmpty(merged.Category, f.Category)
		merged.Fix = lo.CoalesceOrEmpty(merged.Fix, f.Fix)
	}
	if merged.Location.Line == 0 {
		merged.Location.Line = f.Location.Line
	}
	merged.Description = strings.Join(g.descriptions, "; ")
	merged.Sources = lo.Uniq(append(slices.Clone(merged.Sources), f.Sources...))
	g.finding = merged
}

func sameLocation(a, b Location) bool {
	if a.File != b.File {
		return false
	}
	return a.Line == 0 || b.Line == 0 || a.Line == b.Line
}

func compareFindings(a, b Finding) int {
	if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Location.File, b.Location.File); c != 0 {
		return c
	}
	return cmp.Compare(a.Location.Line, b.Location.Line)
}

func addSource(sources []string, agent string) []string {
	if agent == "" {
		return lo.Uniq(sources)
	}
	return lo.Uniq(append(slices.Clone(sources), agent))
}

func fingerprint(f Finding) string {
	return strings.Join([]string{
		f.Severity.String(),
		f.Location.File,
		strconv.Itoa(f.Location.Line),
		f.Category,
		strings.TrimSpace(f.Description),
		f.Fix,
	}, "\x00")
}
