package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/searchauthz"
)

// SQLAuditStore persists privilege decisions in SQL.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) Record(ctx context.Context, entry *searchauthz.AuditEntry) error {
	q := `INSERT INTO privilege_audit_log(timestamp, username, tenant, action, indices, status, reason) VALUES(:timestamp, :username, :tenant, :action, :indices, :status, :reason)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"timestamp": entry.Timestamp,
		"username":  entry.User,
		"tenant":    entry.Tenant,
		"action":    entry.Action,
		"indices":   joinIndices(entry.Indices),
		"status":    entry.Status,
		"reason":    entry.Reason,
	})
	return err
}

func (s *SQLAuditStore) Query(ctx context.Context, filter searchauthz.AuditFilter) ([]*searchauthz.AuditEntry, error) {
	q := `SELECT id, timestamp, username, tenant, action, indices, status, reason FROM privilege_audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.User != "" {
		q += " AND username = :username"
		params["username"] = filter.User
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if filter.Status != "" {
		q += " AND status = :status"
		params["status"] = filter.Status
	}
	if !filter.Since.IsZero() {
		q += " AND timestamp >= :since"
		params["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		q += " AND timestamp <= :until"
		params["until"] = filter.Until
	}
	q += " ORDER BY id DESC"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*searchauthz.AuditEntry, 0)
	for r.Next() {
		var id int64
		var timestampRaw interface{}
		var username, tenant, action, indices, status, reason string
		if err := r.Scan(&id, &timestampRaw, &username, &tenant, &action, &indices, &status, &reason); err != nil {
			return nil, err
		}
		entry := &searchauthz.AuditEntry{
			ID:      id,
			User:    username,
			Tenant:  tenant,
			Action:  action,
			Indices: splitIndices(indices),
			Status:  status,
			Reason:  reason,
		}
		switch v := timestampRaw.(type) {
		case time.Time:
			entry.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				entry.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				entry.Timestamp = t
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *SQLAuditStore) Close() error {
	return s.db.Close()
}
