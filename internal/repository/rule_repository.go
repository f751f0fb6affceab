package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edugrade/edugrade-api/internal/models"
)

// RuleRepository handles conversion rule persistence. Rules are versioned in
// place: an update bumps the version after snapshotting the prior state into
// the audit ledger at the service layer.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a conversion rule at version 1.
func (r *RuleRepository) Create(ctx context.Context, rule *models.ConversionRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Version = 1
	if rule.State == "" {
		rule.State = models.RuleStateCurrent
	}
	const query = `INSERT INTO conversion_rules (id, code, source_scale, dest_scale, version, mapping, valid_from, valid_until, state, created_at, updated_at)
        VALUES (:id, :code, :source_scale, :dest_scale, :version, :mapping, :valid_from, :valid_until, :state, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// FindByCode returns the rule identified by its business code.
func (r *RuleRepository) FindByCode(ctx context.Context, code string) (*models.ConversionRule, error) {
	const query = `SELECT id, code, source_scale, dest_scale, version, mapping, valid_from, valid_until, state, created_at, updated_at
        FROM conversion_rules WHERE code = $1`
	var rule models.ConversionRule
	if err := r.db.GetContext(ctx, &rule, query, code); err != nil {
		return nil, fmt.Errorf("find rule: %w", err)
	}
	return &rule, nil
}

// FindByScales returns the current rule converting between two scales,
// restricted to rules whose validity window covers now.
func (r *RuleRepository) FindByScales(ctx context.Context, sourceScale, destScale string) (*models.ConversionRule, error) {
	const query = `SELECT id, code, source_scale, dest_scale, version, mapping, valid_from, valid_until, state, created_at, updated_at
        FROM conversion_rules
        WHERE source_scale = $1 AND dest_scale = $2 AND state = 'CURRENT'
          AND (valid_from IS NULL OR valid_from <= NOW())
          AND (valid_until IS NULL OR valid_until >= NOW())
        ORDER BY version DESC
        LIMIT 1`
	var rule models.ConversionRule
	if err := r.db.GetContext(ctx, &rule, query, sourceScale, destScale); err != nil {
		return nil, fmt.Errorf("find rule by scales: %w", err)
	}
	return &rule, nil
}

// List returns all rules ordered by code.
func (r *RuleRepository) List(ctx context.Context) ([]models.ConversionRule, error) {
	const query = `SELECT id, code, source_scale, dest_scale, version, mapping, valid_from, valid_until, state, created_at, updated_at
        FROM conversion_rules ORDER BY code`
	var rules []models.ConversionRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// Update applies a patch to a rule and bumps its version. The patched rule is
// returned so the caller can repopulate caches.
func (r *RuleRepository) Update(ctx context.Context, rule *models.ConversionRule) error {
	rule.Version++
	rule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE conversion_rules
        SET mapping = :mapping, valid_from = :valid_from, valid_until = :valid_until,
            state = :state, version = :version, updated_at = :updated_at
        WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, rule)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update rule: %w", sql.ErrNoRows)
	}
	return nil
}
