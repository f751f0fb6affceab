package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AppliedConversion is one append-only conversion entry on a grade record.
type AppliedConversion struct {
	RuleCode       string    `json:"rule_code"`
	DestScale      string    `json:"dest_scale"`
	ConvertedValue string    `json:"converted_value"`
	ConvertedAt    time.Time `json:"converted_at"`
	Actor          string    `json:"actor"`
}

// ConversionList is the JSONB-backed list of conversions on a record.
type ConversionList []AppliedConversion

// Value implements driver.Valuer.
func (l ConversionList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *ConversionList) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("scan conversion list: unsupported type %T", src)
	}
}

// RecordSource distinguishes directly earned grades from homologated ones.
type RecordSource string

const (
	RecordSourceDirect      RecordSource = "DIRECT"
	RecordSourceEquivalence RecordSource = "EQUIVALENCE"
)

// GradeRecord is the document-store mirror of a grading event, kept in sync
// with the relationship graph for read-path symmetry. The graph, not this
// record, is the source of truth for state-machine decisions.
type GradeRecord struct {
	ID            string         `db:"id" json:"id"`
	StudentID     string         `db:"student_id" json:"student_id"`
	SubjectID     string         `db:"subject_id" json:"subject_id"`
	OriginalValue string         `db:"original_value" json:"original_value"`
	OriginalKind  GradeKind      `db:"original_kind" json:"original_kind"`
	Slot          GradeSlot      `db:"slot" json:"slot"`
	Source        RecordSource   `db:"source" json:"source"`
	Approved      bool           `db:"approved" json:"approved"`
	Conversions   ConversionList `db:"conversions" json:"conversions"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}
