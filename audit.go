package searchauthz

import (
	"context"
	"time"
)

// ============================================================================
// AUDIT TRAIL
// ============================================================================

// AuditEntry records one privilege decision for later inspection.
type AuditEntry struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Tenant    string    `json:"tenant,omitempty"`
	Action    string    `json:"action"`
	Indices   []string  `json:"indices,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// AuditFilter narrows an audit query. Zero values mean no constraint.
type AuditFilter struct {
	User   string
	Action string
	Status string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// AuditStore persists privilege decisions. Implementations must be safe for
// concurrent use; the evaluator writes from a background goroutine.
type AuditStore interface {
	Record(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
	Close() error
}
