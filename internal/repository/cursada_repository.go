package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edugrade/edugrade-api/internal/models"
)

// ErrDuplicateOpenAttempt is returned when an insert collides with the
// partial unique index guarding a single open attempt per (student, subject).
var ErrDuplicateOpenAttempt = errors.New("open attempt already exists")

// gradeColumns maps a grade slot to its raw/normalized column pair. Slots are
// validated upstream, but the whitelist keeps column names out of caller hands.
var gradeColumns = map[models.GradeSlot][2]string{
	models.SlotPartial1: {"partial1", "partial1_norm"},
	models.SlotPartial2: {"partial2", "partial2_norm"},
	models.SlotFinal:    {"final", "final_norm"},
	models.SlotMakeup:   {"makeup", "makeup_norm"},
}

// CursadaRepository persists course attempts and their lifecycle transitions.
type CursadaRepository struct {
	db *sqlx.DB
}

// NewCursadaRepository creates a new cursada repository.
func NewCursadaRepository(db *sqlx.DB) *CursadaRepository {
	return &CursadaRepository{db: db}
}

// Create inserts a new open attempt. The partial unique index on
// (student_id, subject_id) WHERE state = 'OPEN' enforces at most one open
// attempt; a collision surfaces as ErrDuplicateOpenAttempt.
func (r *CursadaRepository) Create(ctx context.Context, attempt *models.Cursada) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	attempt.State = models.CursadaOpen
	const query = `INSERT INTO cursadas (id, student_id, subject_id, academic_year, state, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :academic_year, :state, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOpenAttempt
		}
		return fmt.Errorf("create cursada: %w", err)
	}
	return nil
}

// SetGrade writes one grade slot on the open attempt for the pair. Re-grading
// an already filled slot overwrites it; recording on a closed or missing
// attempt affects zero rows and the caller maps that to a precondition error.
func (r *CursadaRepository) SetGrade(ctx context.Context, studentID, subjectID string, slot models.GradeSlot, raw string, norm float64, flagged bool) (int64, error) {
	cols, ok := gradeColumns[slot]
	if !ok {
		return 0, fmt.Errorf("unknown grade slot %q", slot)
	}
	query := fmt.Sprintf(`UPDATE cursadas
        SET %s = $1, %s = $2, flagged = flagged OR $3, updated_at = $4
        WHERE student_id = $5 AND subject_id = $6 AND state = 'OPEN'`, cols[0], cols[1])
	res, err := r.db.ExecContext(ctx, query, raw, norm, flagged, time.Now().UTC(), studentID, subjectID)
	if err != nil {
		return 0, fmt.Errorf("set grade: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set grade rows: %w", err)
	}
	return rows, nil
}

// Close atomically transitions the open attempt to CLOSED, computing the
// outcome from the normalized final and makeup grades inside the same
// statement. The state guard in the WHERE clause makes concurrent closes
// first-writer-wins: the loser sees sql.ErrNoRows.
func (r *CursadaRepository) Close(ctx context.Context, studentID, subjectID string, passThreshold float64) (*models.Cursada, error) {
	const query = `UPDATE cursadas
        SET state = 'CLOSED',
            outcome = CASE
                WHEN COALESCE(final_norm, 0) >= $1 OR COALESCE(makeup_norm, 0) >= $1 THEN 'APPROVED'
                ELSE 'REPROBATED'
            END,
            closed_at = $2,
            updated_at = $2
        WHERE student_id = $3 AND subject_id = $4 AND state = 'OPEN'
        RETURNING id, student_id, subject_id, academic_year,
            partial1, partial1_norm, partial2, partial2_norm,
            final, final_norm, makeup, makeup_norm,
            flagged, state, outcome, closed_at,
            source_subject_id, source_subject_name, rule_code, original_grade, converted_at,
            created_at, updated_at`
	var attempt models.Cursada
	if err := r.db.GetContext(ctx, &attempt, query, passThreshold, time.Now().UTC(), studentID, subjectID); err != nil {
		return nil, fmt.Errorf("close cursada: %w", err)
	}
	return &attempt, nil
}

// FindOpen returns the open attempt for the pair, if any.
func (r *CursadaRepository) FindOpen(ctx context.Context, studentID, subjectID string) (*models.Cursada, error) {
	const query = `SELECT id, student_id, subject_id, academic_year,
            partial1, partial1_norm, partial2, partial2_norm,
            final, final_norm, makeup, makeup_norm,
            flagged, state, outcome, closed_at,
            source_subject_id, source_subject_name, rule_code, original_grade, converted_at,
            created_at, updated_at
        FROM cursadas
        WHERE student_id = $1 AND subject_id = $2 AND state = 'OPEN'`
	var attempt models.Cursada
	if err := r.db.GetContext(ctx, &attempt, query, studentID, subjectID); err != nil {
		return nil, fmt.Errorf("find open cursada: %w", err)
	}
	return &attempt, nil
}

// ListByStudent returns every attempt of the student, newest first, with the
// subject denormalized for trajectory views.
func (r *CursadaRepository) ListByStudent(ctx context.Context, studentID string) ([]models.CursadaDetail, error) {
	const query = `SELECT c.id, c.student_id, c.subject_id, c.academic_year,
            c.partial1, c.partial1_norm, c.partial2, c.partial2_norm,
            c.final, c.final_norm, c.makeup, c.makeup_norm,
            c.flagged, c.state, c.outcome, c.closed_at,
            c.source_subject_id, c.source_subject_name, c.rule_code, c.original_grade, c.converted_at,
            c.created_at, c.updated_at,
            s.code AS subject_code, s.name AS subject_name
        FROM cursadas c
        JOIN subjects s ON s.id = c.subject_id
        WHERE c.student_id = $1
        ORDER BY c.created_at DESC`
	var attempts []models.CursadaDetail
	if err := r.db.SelectContext(ctx, &attempts, query, studentID); err != nil {
		return nil, fmt.Errorf("list cursadas: %w", err)
	}
	return attempts, nil
}

// ListApproved returns the most recent approved close per subject for the
// student. DISTINCT ON keeps only the latest re-take of each subject, so a
// subject failed then re-approved counts once.
func (r *CursadaRepository) ListApproved(ctx context.Context, studentID string) ([]models.ApprovedAttempt, error) {
	const query = `SELECT DISTINCT ON (c.subject_id)
            c.subject_id, s.name AS subject_name,
            COALESCE(c.makeup, c.final, '') AS final_grade,
            c.closed_at
        FROM cursadas c
        JOIN subjects s ON s.id = c.subject_id
        WHERE c.student_id = $1 AND c.state = 'CLOSED'
            AND c.outcome IN ('APPROVED', 'APPROVED_BY_EQUIVALENCE')
        ORDER BY c.subject_id, c.closed_at DESC`
	var approved []models.ApprovedAttempt
	if err := r.db.SelectContext(ctx, &approved, query, studentID); err != nil {
		return nil, fmt.Errorf("list approved cursadas: %w", err)
	}
	return approved, nil
}

// UpsertEquivalence applies the homologation write policy for one destination
// subject inside a transaction:
//   - a genuine APPROVED close is never overwritten,
//   - an existing APPROVED_BY_EQUIVALENCE close is refreshed in place,
//   - otherwise a new closed equivalence attempt is inserted.
//
// It reports whether a row was written.
func (r *CursadaRepository) UpsertEquivalence(ctx context.Context, attempt *models.Cursada) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin equivalence tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const lockQuery = `SELECT id, outcome FROM cursadas
        WHERE student_id = $1 AND subject_id = $2 AND state = 'CLOSED'
        ORDER BY closed_at DESC
        FOR UPDATE`
	rows, err := tx.QueryxContext(ctx, lockQuery, attempt.StudentID, attempt.SubjectID)
	if err != nil {
		return false, fmt.Errorf("lock closed cursadas: %w", err)
	}
	var equivalenceID string
	for rows.Next() {
		var id string
		var outcome sql.NullString
		if err := rows.Scan(&id, &outcome); err != nil {
			rows.Close()
			return false, fmt.Errorf("scan closed cursada: %w", err)
		}
		switch models.CursadaOutcome(outcome.String) {
		case models.OutcomeApproved:
			rows.Close()
			return false, tx.Commit()
		case models.OutcomeApprovedByEquivalence:
			if equivalenceID == "" {
				equivalenceID = id
			}
		}
	}
	rows.Close()

	now := time.Now().UTC()
	attempt.UpdatedAt = now
	if equivalenceID != "" {
		attempt.ID = equivalenceID
		const update = `UPDATE cursadas
            SET final = :final, final_norm = :final_norm, flagged = :flagged,
                outcome = 'APPROVED_BY_EQUIVALENCE', closed_at = :closed_at,
                source_subject_id = :source_subject_id, source_subject_name = :source_subject_name,
                rule_code = :rule_code, original_grade = :original_grade, converted_at = :converted_at,
                updated_at = :updated_at
            WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, update, attempt); err != nil {
			return false, fmt.Errorf("update equivalence cursada: %w", err)
		}
	} else {
		if attempt.ID == "" {
			attempt.ID = uuid.NewString()
		}
		attempt.CreatedAt = now
		const insert = `INSERT INTO cursadas (id, student_id, subject_id, academic_year,
                final, final_norm, flagged, state, outcome, closed_at,
                source_subject_id, source_subject_name, rule_code, original_grade, converted_at,
                created_at, updated_at)
            VALUES (:id, :student_id, :subject_id, :academic_year,
                :final, :final_norm, :flagged, 'CLOSED', 'APPROVED_BY_EQUIVALENCE', :closed_at,
                :source_subject_id, :source_subject_name, :rule_code, :original_grade, :converted_at,
                :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, attempt); err != nil {
			return false, fmt.Errorf("insert equivalence cursada: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit equivalence: %w", err)
	}
	return true, nil
}
