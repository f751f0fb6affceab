package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edugrade/edugrade-api/internal/models"
)

// InstitutionRepository handles institution nodes and their grading scales.
type InstitutionRepository struct {
	db *sqlx.DB
}

// NewInstitutionRepository creates a new institution repository.
func NewInstitutionRepository(db *sqlx.DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

// Create inserts an institution with its embedded grading scale.
func (r *InstitutionRepository) Create(ctx context.Context, inst *models.Institution) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.PassThreshold == 0 {
		inst.PassThreshold = models.DefaultPassThreshold
	}
	if inst.Status == "" {
		inst.Status = models.InstitutionStatusActive
	}
	const query = `INSERT INTO institutions (id, code, name, country, region, level, scale_id, scale_kind, scale_min, scale_max, pass_threshold, status, created_at, updated_at)
        VALUES (:id, :code, :name, :country, :region, :level, :scale_id, :scale_kind, :scale_min, :scale_max, :pass_threshold, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("create institution: %w", err)
	}
	return nil
}

// FindByID returns one institution.
func (r *InstitutionRepository) FindByID(ctx context.Context, id string) (*models.Institution, error) {
	const query = `SELECT id, code, name, country, region, level, scale_id, scale_kind, scale_min, scale_max, pass_threshold, status, created_at, updated_at
        FROM institutions WHERE id = $1`
	var inst models.Institution
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		return nil, fmt.Errorf("find institution: %w", err)
	}
	return &inst, nil
}

// SetStatus updates the institution lifecycle status.
func (r *InstitutionRepository) SetStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE institutions SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set institution status: %w", err)
	}
	return nil
}

// List returns all institutions ordered by name.
func (r *InstitutionRepository) List(ctx context.Context) ([]models.Institution, error) {
	const query = `SELECT id, code, name, country, region, level, scale_id, scale_kind, scale_min, scale_max, pass_threshold, status, created_at, updated_at
        FROM institutions ORDER BY name`
	var institutions []models.Institution
	if err := r.db.SelectContext(ctx, &institutions, query); err != nil {
		return nil, fmt.Errorf("list institutions: %w", err)
	}
	return institutions, nil
}
