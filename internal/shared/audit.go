package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes and queries audit_logs. It backs the "who
// sent/closed/cancelled this invoice" surface.
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
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}

// ActorQuery narrows a FindActorFor lookup. From and To bound occurred_at;
// either may be nil.
type ActorQuery struct {
	Entity   string
	EntityID string
	Action   string
	From     *time.Time
	To       *time.Time
}

// FindActorFor returns the actor that last performed the given action on an
// entity, or nil when no matching entry exists. Read-only.
func (l *AuditLogger) FindActorFor(ctx context.Context, q ActorQuery) (*int64, error) {
	if l == nil {
		return nil, errors.New("audit logger not initialised")
	}
	query := `SELECT actor_id FROM audit_logs WHERE entity = $1 AND entity_id = $2 AND action = $3`
	args := []any{q.Entity, q.EntityID, q.Action}
	if q.From != nil {
		args = append(args, *q.From)
		query += ` AND occurred_at >= $4`
	}
	if q.To != nil {
		args = append(args, *q.To)
		if q.From != nil {
			query += ` AND occurred_at <= $5`
		} else {
			query += ` AND occurred_at <= $4`
		}
	}
	query += ` ORDER BY occurred_at DESC LIMIT 1`

	var actorID int64
	if err := l.pool.QueryRow(ctx, query, args...).Scan(&actorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &actorID, nil
}
