package models

import "time"

// InstitutionStatus tracks administrative activation.
type InstitutionStatus string

const (
	InstitutionStatusActive   InstitutionStatus = "ACTIVE"
	InstitutionStatusInactive InstitutionStatus = "INACTIVE"
)

// Institution represents an educational institution with its grading scale
// descriptor stored inline (flat columns keep sqlx scanning simple).
type Institution struct {
	ID            string            `db:"id" json:"id"`
	Code          string            `db:"code" json:"code"`
	Name          string            `db:"name" json:"name"`
	Country       string            `db:"country" json:"country"`
	Region        string            `db:"region" json:"region"`
	Level         string            `db:"level" json:"level"`
	ScaleID       string            `db:"scale_id" json:"scale_id"`
	ScaleKind     ScaleKind         `db:"scale_kind" json:"scale_kind"`
	ScaleMin      float64           `db:"scale_min" json:"scale_min"`
	ScaleMax      float64           `db:"scale_max" json:"scale_max"`
	PassThreshold float64           `db:"pass_threshold" json:"pass_threshold"`
	Status        InstitutionStatus `db:"status" json:"status"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// Scale assembles the grading scale descriptor of the institution.
func (i *Institution) Scale() GradingScale {
	threshold := i.PassThreshold
	if threshold == 0 {
		threshold = DefaultPassThreshold
	}
	return GradingScale{
		ID:            i.ScaleID,
		Kind:          i.ScaleKind,
		Min:           i.ScaleMin,
		Max:           i.ScaleMax,
		PassThreshold: threshold,
	}
}
