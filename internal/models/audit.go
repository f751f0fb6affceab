package models

import "time"

// Audit action kinds written to the ledger.
const (
	AuditActionEnrolled            = "ENROLLED"
	AuditActionGradeRecorded       = "GRADE_RECORDED"
	AuditActionCursadaClosed       = "CURSADA_CLOSED"
	AuditActionConversionApplied   = "CONVERSION_APPLIED"
	AuditActionRuleVersioned       = "RULE_VERSIONED"
	AuditActionNoEquivalence       = "NO_EQUIVALENCE"
	AuditActionInstitutionTransfer = "INSTITUTION_TRANSFER"
	AuditActionTranscriptIssued    = "TRANSCRIPT_ISSUED"
)

// AuditEvent is one immutable ledger entry. StudentID is the partition key,
// (CreatedAt, EventID) the ordering key; EventID is a time-based UUID so ids
// stay monotonic and collision-free under concurrent writers.
type AuditEvent struct {
	StudentID   string    `db:"student_id" json:"student_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	EventID     string    `db:"event_id" json:"event_id"`
	Action      string    `db:"action" json:"action"`
	Actor       string    `db:"actor" json:"actor"`
	Grade       string    `db:"grade" json:"grade"`
	Description string    `db:"description" json:"description"`
	Payload     []byte    `db:"payload" json:"payload,omitempty"`
	Hash        string    `db:"hash" json:"hash"`
}
