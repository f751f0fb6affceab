package models

import "time"

// StudentStatus tracks administrative activation.
type StudentStatus string

const (
	StudentStatusActive   StudentStatus = "ACTIVE"
	StudentStatusInactive StudentStatus = "INACTIVE"
)

// Student represents a student node in the relationship graph.
type Student struct {
	ID         string        `db:"id" json:"id"`
	FileNumber string        `db:"file_number" json:"file_number"`
	FirstName  string        `db:"first_name" json:"first_name"`
	LastName   string        `db:"last_name" json:"last_name"`
	Email      string        `db:"email" json:"email"`
	Document   string        `db:"document" json:"document"`
	Country    string        `db:"country" json:"country"`
	Status     StudentStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// Membership is the single current institution edge of a student.
// It is replaced, never duplicated, when the student transfers.
type Membership struct {
	StudentID     string    `db:"student_id" json:"student_id"`
	InstitutionID string    `db:"institution_id" json:"institution_id"`
	Since         time.Time `db:"since" json:"since"`
}
