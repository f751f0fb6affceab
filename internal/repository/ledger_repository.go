package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edugrade/edugrade-api/internal/models"
)

// LedgerRepository persists the append-only audit trail. Events land in two
// tables written in one transaction: audit_events, keyed by student for trail
// reads, and audit_events_by_date, a day-indexed projection for compliance
// range scans. Neither table has UPDATE or DELETE paths.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append writes the event to both ledger tables.
func (r *LedgerRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	const insertEvent = `INSERT INTO audit_events (student_id, created_at, event_id, action, actor, grade, description, payload, hash)
        VALUES (:student_id, :created_at, :event_id, :action, :actor, :grade, :description, :payload, :hash)`
	if _, err := tx.NamedExecContext(ctx, insertEvent, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	const insertByDate = `INSERT INTO audit_events_by_date (day, created_at, event_id, student_id, action, actor)
        VALUES ($1, $2, $3, $4, $5, $6)`
	day := event.CreatedAt.UTC().Truncate(24 * time.Hour)
	if _, err := tx.ExecContext(ctx, insertByDate, day, event.CreatedAt, event.EventID, event.StudentID, event.Action, event.Actor); err != nil {
		return fmt.Errorf("append audit date index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit event: %w", err)
	}
	return nil
}

// Trail returns the student's events, newest first.
func (r *LedgerRepository) Trail(ctx context.Context, studentID string, limit int) ([]models.AuditEvent, error) {
	const query = `SELECT student_id, created_at, event_id, action, actor, grade, description, payload, hash
        FROM audit_events
        WHERE student_id = $1
        ORDER BY created_at DESC, event_id DESC
        LIMIT $2`
	var events []models.AuditEvent
	if err := r.db.SelectContext(ctx, &events, query, studentID, limit); err != nil {
		return nil, fmt.Errorf("read audit trail: %w", err)
	}
	return events, nil
}

// ByDateRange scans the date projection between two instants, newest first.
// Only the indexed summary columns are populated on the returned events.
func (r *LedgerRepository) ByDateRange(ctx context.Context, from, to time.Time, limit int) ([]models.AuditEvent, error) {
	const query = `SELECT student_id, created_at, event_id, action, actor
        FROM audit_events_by_date
        WHERE created_at >= $1 AND created_at < $2
        ORDER BY created_at DESC
        LIMIT $3`
	var events []models.AuditEvent
	if err := r.db.SelectContext(ctx, &events, query, from.UTC(), to.UTC(), limit); err != nil {
		return nil, fmt.Errorf("read audit range: %w", err)
	}
	return events, nil
}
