package models

import "time"

// Career is a named ordered set of required subjects.
type Career struct {
	ID            string    `db:"id" json:"id"`
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	InstitutionID string    `db:"institution_id" json:"institution_id"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CareerSubject is the "contains" edge from a career to a subject.
type CareerSubject struct {
	CareerID  string `db:"career_id" json:"career_id"`
	SubjectID string `db:"subject_id" json:"subject_id"`
	Position  int    `db:"position" json:"position"`
}
