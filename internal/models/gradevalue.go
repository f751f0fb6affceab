package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GradeKind discriminates the two representations a grade can arrive in.
type GradeKind string

const (
	// GradeNumeric covers integer, decimal and GPA values.
	GradeNumeric GradeKind = "NUMERIC"
	// GradeLetter covers letter marks such as "A*" or "B+".
	GradeLetter GradeKind = "LETTER"
)

// GradeValue is a tagged union holding exactly one of the two grade
// representations. The zero value is not a valid grade.
type GradeValue struct {
	Kind    GradeKind
	Numeric float64
	Letter  string
}

// NumericGrade builds a numeric grade value.
func NumericGrade(v float64) GradeValue {
	return GradeValue{Kind: GradeNumeric, Numeric: v}
}

// LetterGrade builds a letter grade value.
func LetterGrade(v string) GradeValue {
	return GradeValue{Kind: GradeLetter, Letter: strings.TrimSpace(v)}
}

// ParseGradeValue interprets a raw textual grade, preferring the numeric form.
func ParseGradeValue(raw string) GradeValue {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return NumericGrade(f)
	}
	return LetterGrade(raw)
}

// String renders the canonical textual form used for storage and rule matching.
func (g GradeValue) String() string {
	if g.Kind == GradeLetter {
		return g.Letter
	}
	return strconv.FormatFloat(g.Numeric, 'f', -1, 64)
}

// IsZero reports whether the value carries no grade.
func (g GradeValue) IsZero() bool {
	return g.Kind == ""
}

type gradeValueJSON struct {
	Kind  GradeKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the union as {"kind": ..., "value": ...}.
func (g GradeValue) MarshalJSON() ([]byte, error) {
	switch g.Kind {
	case GradeLetter:
		return json.Marshal(map[string]interface{}{"kind": g.Kind, "value": g.Letter})
	case GradeNumeric:
		return json.Marshal(map[string]interface{}{"kind": g.Kind, "value": g.Numeric})
	default:
		return nil, fmt.Errorf("marshal grade value: unknown kind %q", g.Kind)
	}
}

// UnmarshalJSON decodes the union, accepting numeric or string payloads.
func (g *GradeValue) UnmarshalJSON(data []byte) error {
	var raw gradeValueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case GradeLetter:
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return fmt.Errorf("letter grade value: %w", err)
		}
		*g = LetterGrade(s)
	case GradeNumeric:
		var f float64
		if err := json.Unmarshal(raw.Value, &f); err != nil {
			// Tolerate numeric grades sent as strings.
			var s string
			if err2 := json.Unmarshal(raw.Value, &s); err2 != nil {
				return fmt.Errorf("numeric grade value: %w", err)
			}
			parsed, err3 := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err3 != nil {
				return fmt.Errorf("numeric grade value: %w", err3)
			}
			f = parsed
		}
		*g = NumericGrade(f)
	default:
		return fmt.Errorf("unknown grade kind %q", raw.Kind)
	}
	return nil
}

// letterMarks is the single canonical letter-to-neutral table. The legacy
// system carried divergent maps per code path; this one is authoritative.
var letterMarks = map[string]float64{
	"A*": 10,
	"A":  9,
	"B+": 8,
	"B":  7,
	"C+": 6,
	"C":  5,
	"D":  4,
	"E":  3,
	"F":  1,
}

// ScaleKind identifies the grading system an institution uses.
type ScaleKind string

const (
	ScaleNumericRange  ScaleKind = "NUMERIC_RANGE"
	ScaleLetterSet     ScaleKind = "LETTER_SET"
	ScaleGPARange      ScaleKind = "GPA_RANGE"
	ScaleInvertedRange ScaleKind = "INVERTED_NUMERIC_RANGE"
)

// GradingScale describes an institution's grading system. PassThreshold is
// expressed in the scale-neutral 0-10 space all grades normalize into.
type GradingScale struct {
	ID            string    `db:"scale_id" json:"id"`
	Kind          ScaleKind `db:"scale_kind" json:"kind"`
	Min           float64   `db:"scale_min" json:"min"`
	Max           float64   `db:"scale_max" json:"max"`
	PassThreshold float64   `db:"pass_threshold" json:"pass_threshold"`
}

// DefaultPassThreshold is the canonical pass boundary on the neutral 0-10
// space, matching the 1-10 close-cursada rule of record.
const DefaultPassThreshold = 4.0

// Normalize maps a grade value into the scale-neutral 0-10 space.
// Failures return the conservative fail value 0 with flagged=true so
// callers can surface the anomaly instead of silently passing someone.
func (s GradingScale) Normalize(g GradeValue) (norm float64, flagged bool) {
	switch g.Kind {
	case GradeLetter:
		if v, ok := letterMarks[strings.ToUpper(strings.TrimSpace(g.Letter))]; ok {
			return v, false
		}
		return 0, true
	case GradeNumeric:
		switch s.Kind {
		case ScaleGPARange:
			if s.Max <= 0 {
				return 0, true
			}
			return g.Numeric / s.Max * 10, false
		case ScaleInvertedRange:
			if s.Max <= s.Min {
				return 0, true
			}
			return (s.Max - g.Numeric) * 10 / (s.Max - s.Min), false
		default:
			// Numeric and letter-set scales treat numeric input as already
			// being on the neutral 1-10 space.
			return g.Numeric, false
		}
	default:
		return 0, true
	}
}

// GradeBuckets lists the distribution buckets in ascending order.
var GradeBuckets = []string{"0-3", "3-6", "6-7", "7-8", "8-9", "9-10"}

// GradeBucket assigns a neutral-space grade to its distribution bucket.
func GradeBucket(norm float64) string {
	switch {
	case norm < 3:
		return "0-3"
	case norm < 6:
		return "3-6"
	case norm < 7:
		return "6-7"
	case norm < 8:
		return "7-8"
	case norm < 9:
		return "8-9"
	default:
		return "9-10"
	}
}
