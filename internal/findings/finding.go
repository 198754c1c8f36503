package findings

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Severity is the closed set of finding severities, ordered from least to most severe.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// ErrInvalidSeverity is returned when a severity is not one of the closed set.
var ErrInvalidSeverity = errors.New("invalid severity")

// Severities lists every valid severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// Valid reports whether s is one of the closed set.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "info":
		return SeverityInfo, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeverity, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Location points at a file and, optionally, a line within it.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line,omitempty"`
}

// normalized returns the location with a cleaned, slash-separated path.
func (l Location) normalized() Location {
	if l.File == "" {
		return l
	}
	f := strings.ReplaceAll(l.File, "\\", "/")
	return Location{File: path.Clean(f), Line: l.Line}
}

func (l Location) String() string {
	if l.File == "" {
		return "-"
	}
	if l.Line > 0 {
		return l.File + ":" + strconv.Itoa(l.Line)
	}
	return l.File
}

// Finding is a single reported issue. Findings are immutable once produced.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category,omitempty"`
	Location    Location `json:"location"`
	Description string   `json:"description"`
	Fix         string   `json:"fix,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// Validate checks the fields every finding must carry.
func (f Finding) Validate() error {
	if !f.Severity.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSeverity, int(f.Severity))
	}
	if strings.TrimSpace(f.Description) == "" {
		return errors.New("finding has empty description")
	}
	return nil
}

// FindingSet is the output of one source agent.
type FindingSet struct {
	Agent    string
	Findings []Finding
}
