package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
)

// AuditLog is one row of audit_logs. Actor is the operator name taken from
// the request context; system actions leave it empty.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends operator actions to audit_logs.
type AuditLogger struct {
	q db.Querier
}

// NewAuditLogger returns a logger writing through q.
func NewAuditLogger(q db.Querier) *AuditLogger {
	return &AuditLogger{q: q}
}

// Record persists the entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.q == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return Invalid("audit", "action, entity and entity_id are required")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	var actor *string
	if log.Actor != "" {
		actor = &log.Actor
	}
	_, err = l.q.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
