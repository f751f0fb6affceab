package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RuleState is the lifecycle state of a conversion rule version.
type RuleState string

const (
	RuleStateCurrent RuleState = "CURRENT"
	RuleStateRetired RuleState = "RETIRED"
)

// MappingEntry pairs a source-scale value with its destination-scale value.
// Values are kept as text because a single mapping may mix letters, integers
// and decimals ("B+" -> "8", "1.3" -> "9").
type MappingEntry struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// RuleMapping is the ordered list of value pairs of a rule, stored as JSONB.
type RuleMapping []MappingEntry

// Value implements driver.Valuer for JSONB persistence.
func (m RuleMapping) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (m *RuleMapping) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = nil
		return nil
	default:
		return fmt.Errorf("scan rule mapping: unsupported type %T", src)
	}
}

// ConversionRule is a versioned grade-conversion mapping between two scales.
// Rules are append-and-supersede: an update snapshots the prior version to
// the audit ledger and bumps Version, it never destructively edits history.
type ConversionRule struct {
	ID          string      `db:"id" json:"id"`
	Code        string      `db:"code" json:"code"`
	SourceScale string      `db:"source_scale" json:"source_scale"`
	DestScale   string      `db:"dest_scale" json:"dest_scale"`
	Version     int         `db:"version" json:"version"`
	Mapping     RuleMapping `db:"mapping" json:"mapping"`
	ValidFrom   *time.Time  `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil  *time.Time  `db:"valid_until" json:"valid_until,omitempty"`
	State       RuleState   `db:"state" json:"state"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// ActiveAt reports whether the rule's validity window covers t. Open ends of
// the window are unbounded.
func (r *ConversionRule) ActiveAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && t.After(*r.ValidUntil) {
		return false
	}
	return true
}

// RulePatch carries the mutable fields of a rule update.
type RulePatch struct {
	Mapping    RuleMapping `json:"mapping,omitempty"`
	ValidFrom  *time.Time  `json:"valid_from,omitempty"`
	ValidUntil *time.Time  `json:"valid_until,omitempty"`
	State      *RuleState  `json:"state,omitempty"`
}
