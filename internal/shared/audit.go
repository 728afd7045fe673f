package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog records one management mutation (role edit, override change,
// user activation) in audit_logs. Read-path authorization decisions are
// never audited.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID int64
	Meta     map[string]any
	At       time.Time
}

// auditColumns is the audit_logs column list the insert binds, in order.
// Must stay in step with the migration.
const auditColumns = "actor_id, action, entity, entity_id, meta, created_at"

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" {
		return errors.New("audit log requires action and entity")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
