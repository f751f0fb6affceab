package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edugrade/edugrade-api/internal/models"
)

// StudentRepository handles student nodes and their institution membership.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Create inserts a student together with the initial membership edge.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student, institutionID string) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	if student.Status == "" {
		student.Status = models.StudentStatusActive
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin student tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	const insertStudent = `INSERT INTO students (id, file_number, first_name, last_name, email, document, country, status, created_at, updated_at)
        VALUES (:id, :file_number, :first_name, :last_name, :email, :document, :country, :status, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertStudent, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	const insertMembership = `INSERT INTO memberships (student_id, institution_id, since)
        VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, insertMembership, student.ID, institutionID, now); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit student: %w", err)
	}
	return nil
}

// FindByID returns one student.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, file_number, first_name, last_name, email, document, country, status, created_at, updated_at
        FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// List returns students, optionally filtered by institution membership.
func (r *StudentRepository) List(ctx context.Context, institutionID string) ([]models.Student, error) {
	query := `SELECT s.id, s.file_number, s.first_name, s.last_name, s.email, s.document, s.country, s.status, s.created_at, s.updated_at
        FROM students s`
	var args []interface{}
	if institutionID != "" {
		query += ` JOIN memberships m ON m.student_id = s.id WHERE m.institution_id = $1`
		args = append(args, institutionID)
	}
	query += " ORDER BY s.last_name, s.first_name"
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// FindMembership returns the student's current institution membership.
func (r *StudentRepository) FindMembership(ctx context.Context, studentID string) (*models.Membership, error) {
	const query = `SELECT student_id, institution_id, since FROM memberships WHERE student_id = $1`
	var membership models.Membership
	if err := r.db.GetContext(ctx, &membership, query, studentID); err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	return &membership, nil
}

// ReplaceMembership swaps the student's membership edge to the destination
// institution. Delete and insert run in one transaction so the student is
// never observed with zero or two memberships.
func (r *StudentRepository) ReplaceMembership(ctx context.Context, studentID, institutionID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin membership tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE student_id = $1`, studentID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	const insert = `INSERT INTO memberships (student_id, institution_id, since) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, insert, studentID, institutionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit membership: %w", err)
	}
	return nil
}

// SetStatus updates the student lifecycle status.
func (r *StudentRepository) SetStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE students SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set student status: %w", err)
	}
	return nil
}
