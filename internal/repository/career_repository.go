package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edugrade/edugrade-api/internal/models"
)

// CareerRepository handles career plans and their ordered subject lists.
type CareerRepository struct {
	db *sqlx.DB
}

// NewCareerRepository creates a new career repository.
func NewCareerRepository(db *sqlx.DB) *CareerRepository {
	return &CareerRepository{db: db}
}

// Create inserts a career.
func (r *CareerRepository) Create(ctx context.Context, career *models.Career) error {
	if career.ID == "" {
		career.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	career.CreatedAt = now
	career.UpdatedAt = now
	if career.Status == "" {
		career.Status = "ACTIVE"
	}
	const query = `INSERT INTO careers (id, code, name, institution_id, status, created_at, updated_at)
        VALUES (:id, :code, :name, :institution_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, career); err != nil {
		return fmt.Errorf("create career: %w", err)
	}
	return nil
}

// FindByID returns one career.
func (r *CareerRepository) FindByID(ctx context.Context, id string) (*models.Career, error) {
	const query = `SELECT id, code, name, institution_id, status, created_at, updated_at FROM careers WHERE id = $1`
	var career models.Career
	if err := r.db.GetContext(ctx, &career, query, id); err != nil {
		return nil, fmt.Errorf("find career: %w", err)
	}
	return &career, nil
}

// AddSubject appends a subject to the career plan at the given position.
func (r *CareerRepository) AddSubject(ctx context.Context, careerID, subjectID string, position int) error {
	const query = `INSERT INTO career_subjects (career_id, subject_id, position)
        VALUES ($1, $2, $3)
        ON CONFLICT (career_id, subject_id) DO UPDATE SET position = EXCLUDED.position`
	if _, err := r.db.ExecContext(ctx, query, careerID, subjectID, position); err != nil {
		return fmt.Errorf("add career subject: %w", err)
	}
	return nil
}

// ListSubjects returns the career's subjects in plan order.
func (r *CareerRepository) ListSubjects(ctx context.Context, careerID string) ([]models.Subject, error) {
	const query = `SELECT s.id, s.code, s.name, s.institution_id, s.status, s.created_at, s.updated_at
        FROM career_subjects cs
        JOIN subjects s ON s.id = cs.subject_id
        WHERE cs.career_id = $1
        ORDER BY cs.position`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, careerID); err != nil {
		return nil, fmt.Errorf("list career subjects: %w", err)
	}
	return subjects, nil
}
