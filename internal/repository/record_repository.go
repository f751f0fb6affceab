package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edugrade/edugrade-api/internal/models"
)

// RecordRepository maintains the document mirror of grading events. The
// mirror serves read paths that want the original value and its conversion
// history without touching the relationship graph.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Insert stores one direct grading record.
func (r *RecordRepository) Insert(ctx context.Context, record *models.GradeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Source == "" {
		record.Source = models.RecordSourceDirect
	}
	const query = `INSERT INTO grade_records (id, student_id, subject_id, original_value, original_kind, slot, source, approved, conversions, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :original_value, :original_kind, :slot, :source, :approved, :conversions, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("insert grade record: %w", err)
	}
	return nil
}

// UpsertEquivalence stores the homologated mirror record for a destination
// subject, replacing any previous equivalence record for the same pair.
// A partial unique index on (student_id, subject_id) for equivalence rows
// backs the conflict clause.
func (r *RecordRepository) UpsertEquivalence(ctx context.Context, record *models.GradeRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Source = models.RecordSourceEquivalence
	const query = `INSERT INTO grade_records (id, student_id, subject_id, original_value, original_kind, slot, source, approved, conversions, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :original_value, :original_kind, :slot, :source, :approved, :conversions, :created_at, :updated_at)
        ON CONFLICT (student_id, subject_id) WHERE source = 'EQUIVALENCE'
        DO UPDATE SET original_value = EXCLUDED.original_value, original_kind = EXCLUDED.original_kind,
            approved = EXCLUDED.approved, conversions = EXCLUDED.conversions, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert equivalence record: %w", err)
	}
	return nil
}

// AppendConversion pushes one applied conversion onto the record's history.
func (r *RecordRepository) AppendConversion(ctx context.Context, recordID string, conv models.AppliedConversion) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversion: %w", err)
	}
	const query = `UPDATE grade_records
        SET conversions = conversions || $1::jsonb, updated_at = $2
        WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, string(payload), time.Now().UTC(), recordID); err != nil {
		return fmt.Errorf("append conversion: %w", err)
	}
	return nil
}

// FindByID loads one mirror record.
func (r *RecordRepository) FindByID(ctx context.Context, id string) (*models.GradeRecord, error) {
	const query = `SELECT id, student_id, subject_id, original_value, original_kind, slot, source, approved, conversions, created_at, updated_at
        FROM grade_records
        WHERE id = $1`
	var record models.GradeRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, fmt.Errorf("find grade record: %w", err)
	}
	return &record, nil
}

// ListByStudent returns the student's mirror records, newest first.
func (r *RecordRepository) ListByStudent(ctx context.Context, studentID string) ([]models.GradeRecord, error) {
	const query = `SELECT id, student_id, subject_id, original_value, original_kind, slot, source, approved, conversions, created_at, updated_at
        FROM grade_records
        WHERE student_id = $1
        ORDER BY created_at DESC`
	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list grade records: %w", err)
	}
	return records, nil
}
