package models

import "time"

// CursadaState is the lifecycle state of one enrollment attempt.
type CursadaState string

const (
	CursadaOpen   CursadaState = "OPEN"
	CursadaClosed CursadaState = "CLOSED"
)

// CursadaOutcome is the closing outcome of an attempt.
type CursadaOutcome string

const (
	OutcomeApproved              CursadaOutcome = "APPROVED"
	OutcomeReprobated            CursadaOutcome = "REPROBATED"
	OutcomeApprovedByEquivalence CursadaOutcome = "APPROVED_BY_EQUIVALENCE"
)

// GradeSlot names the exam slots an attempt can hold.
type GradeSlot string

const (
	SlotPartial1 GradeSlot = "partial1"
	SlotPartial2 GradeSlot = "partial2"
	SlotFinal    GradeSlot = "final"
	SlotMakeup   GradeSlot = "makeup"
)

// ValidSlot reports whether s names a known grade slot.
func ValidSlot(s GradeSlot) bool {
	switch s {
	case SlotPartial1, SlotPartial2, SlotFinal, SlotMakeup:
		return true
	}
	return false
}

// Cursada is one enrollment attempt of a student in a subject. Each grade
// slot stores both the raw value as entered (letter or number) and its
// scale-neutral normalization, so closing can evaluate the pass boundary
// inside a single conditional statement.
//
// A student may accumulate any number of CLOSED rows per subject (re-takes)
// but at most one OPEN row, enforced by a partial unique index.
type Cursada struct {
	ID        string `db:"id" json:"id"`
	StudentID string `db:"student_id" json:"student_id"`
	SubjectID string `db:"subject_id" json:"subject_id"`
	Year      int    `db:"academic_year" json:"academic_year"`

	Partial1     *string  `db:"partial1" json:"partial1,omitempty"`
	Partial1Norm *float64 `db:"partial1_norm" json:"-"`
	Partial2     *string  `db:"partial2" json:"partial2,omitempty"`
	Partial2Norm *float64 `db:"partial2_norm" json:"-"`
	Final        *string  `db:"final" json:"final,omitempty"`
	FinalNorm    *float64 `db:"final_norm" json:"-"`
	Makeup       *string  `db:"makeup" json:"makeup,omitempty"`
	MakeupNorm   *float64 `db:"makeup_norm" json:"-"`

	// Flagged marks an attempt that received a grade which could not be
	// normalized and needs manual review.
	Flagged bool `db:"flagged" json:"flagged"`

	State    CursadaState    `db:"state" json:"state"`
	Outcome  *CursadaOutcome `db:"outcome" json:"outcome,omitempty"`
	ClosedAt *time.Time      `db:"closed_at" json:"closed_at,omitempty"`

	// Equivalence provenance, set only on APPROVED_BY_EQUIVALENCE rows.
	SourceSubjectID   *string    `db:"source_subject_id" json:"source_subject_id,omitempty"`
	SourceSubjectName *string    `db:"source_subject_name" json:"source_subject_name,omitempty"`
	RuleCode          *string    `db:"rule_code" json:"rule_code,omitempty"`
	OriginalGrade     *string    `db:"original_grade" json:"original_grade,omitempty"`
	ConvertedAt       *time.Time `db:"converted_at" json:"converted_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsEquivalence reports whether the attempt was approved by homologation.
func (c *Cursada) IsEquivalence() bool {
	return c.Outcome != nil && *c.Outcome == OutcomeApprovedByEquivalence
}

// CursadaDetail joins subject naming onto an attempt for trajectory reads.
type CursadaDetail struct {
	Cursada
	SubjectCode string `db:"subject_code" json:"subject_code"`
	SubjectName string `db:"subject_name" json:"subject_name"`
}

// ApprovedAttempt is the deduplicated view the homologation orchestrator
// works from: the most recent closed approved attempt per subject, re-takes
// collapsed.
type ApprovedAttempt struct {
	SubjectID   string     `db:"subject_id" json:"subject_id"`
	SubjectName string     `db:"subject_name" json:"subject_name"`
	FinalGrade  string     `db:"final_grade" json:"final_grade"`
	ClosedAt    *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}
