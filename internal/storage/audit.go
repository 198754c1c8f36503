package storage

import (
	"context"
	"time"
)

// Audit record stages.
const (
	StageDecision     = "decision"
	StageConfirmation = "confirmation"
)

// AuditWriter is the interface for writing audit records.
// Write() must NEVER block the caller.
type AuditWriter interface {
	Write(rec *AuditRecord)
	Close()
}

// AuditReader lists persisted audit records, newest first.
type AuditReader interface {
	ListRecords(ctx context.Context, params ListParams) ([]AuditRecord, int, error)
}

// AuditRecord is one persisted gate decision or confirmation outcome.
type AuditRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Tool      string    `json:"tool"`
	Subject   string    `json:"subject"`
	Decision  string    `json:"decision"` // "allow", "ask", "deny"
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Stage     string    `json:"stage"`
	LatencyMs float32   `json:"latency_ms"`
}

// ListParams holds filters and pagination for record listing.
type ListParams struct {
	RunID    *string
	Agent    *string
	Decision *string
	Since    *time.Time
	Page     int
	PageSize int
}

// normalize clamps pagination to sane values.
func (p ListParams) normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 500 {
		p.PageSize = 50
	}
	return p
}

func (p ListParams) offset() int {
	return (p.Page - 1) * p.PageSize
}

// matches applies the filters to an in-memory record.
func (p ListParams) matches(rec *AuditRecord) bool {
	if p.RunID != nil && rec.RunID != *p.RunID {
		return false
	}
	if p.Agent != nil && rec.Agent != *p.Agent {
		return false
	}
	if p.Decision != nil && rec.Decision != *p.Decision {
		return false
	}
	if p.Since != nil && rec.Timestamp.Before(*p.Since) {
		return false
	}
	return true
}
