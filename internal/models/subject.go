package models

import "time"

// SubjectStatus tracks administrative activation.
type SubjectStatus string

const (
	SubjectStatusActive   SubjectStatus = "ACTIVE"
	SubjectStatusInactive SubjectStatus = "INACTIVE"
)

// Subject represents a subject node owned by exactly one institution.
type Subject struct {
	ID            string        `db:"id" json:"id"`
	Code          string        `db:"code" json:"code"`
	Name          string        `db:"name" json:"name"`
	InstitutionID string        `db:"institution_id" json:"institution_id"`
	Status        SubjectStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Equivalence asserts two subjects are academically interchangeable.
// The graph is undirected but persisted as two directed rows so traversal
// is symmetric from either side.
type Equivalence struct {
	SubjectID           string    `db:"subject_id" json:"subject_id"`
	EquivalentSubjectID string    `db:"equivalent_subject_id" json:"equivalent_subject_id"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}
