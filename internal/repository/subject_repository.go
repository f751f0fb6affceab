package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edugrade/edugrade-api/internal/models"
)

// SubjectRepository handles subject nodes and equivalence edges between them.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new subject repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// Create inserts a subject.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	subject.CreatedAt = now
	subject.UpdatedAt = now
	if subject.Status == "" {
		subject.Status = models.SubjectStatusActive
	}
	const query = `INSERT INTO subjects (id, code, name, institution_id, status, created_at, updated_at)
        VALUES (:id, :code, :name, :institution_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// FindByID returns one subject.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, code, name, institution_id, status, created_at, updated_at
        FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return &subject, nil
}

// SetStatus updates the subject lifecycle status.
func (r *SubjectRepository) SetStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE subjects SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set subject status: %w", err)
	}
	return nil
}

// ListByInstitution returns the subjects taught at an institution.
func (r *SubjectRepository) ListByInstitution(ctx context.Context, institutionID string) ([]models.Subject, error) {
	const query = `SELECT id, code, name, institution_id, status, created_at, updated_at
        FROM subjects WHERE institution_id = $1 ORDER BY code`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, institutionID); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// CreateEquivalence declares two subjects equivalent. Both directed edges are
// written so lookups from either side hit an index without a union.
func (r *SubjectRepository) CreateEquivalence(ctx context.Context, eq *models.Equivalence) error {
	now := time.Now().UTC()
	eq.CreatedAt = now
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin equivalence tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	const query = `INSERT INTO equivalences (subject_id, equivalent_subject_id, created_at)
        VALUES ($1, $2, $3) ON CONFLICT (subject_id, equivalent_subject_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, eq.SubjectID, eq.EquivalentSubjectID, now); err != nil {
		return fmt.Errorf("create equivalence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, eq.EquivalentSubjectID, eq.SubjectID, now); err != nil {
		return fmt.Errorf("create reverse equivalence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit equivalence: %w", err)
	}
	return nil
}

// FindEquivalentInInstitution resolves the subject at the destination
// institution that is equivalent to the given source subject. At most one
// equivalent per institution is expected.
func (r *SubjectRepository) FindEquivalentInInstitution(ctx context.Context, subjectID, institutionID string) (*models.Subject, error) {
	const query = `SELECT s.id, s.code, s.name, s.institution_id, s.status, s.created_at, s.updated_at
        FROM equivalences e
        JOIN subjects s ON s.id = e.equivalent_subject_id
        WHERE e.subject_id = $1 AND s.institution_id = $2
        LIMIT 1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, subjectID, institutionID); err != nil {
		return nil, fmt.Errorf("find equivalent subject: %w", err)
	}
	return &subject, nil
}
