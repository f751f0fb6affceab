package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

const defaultTrailLimit = 100

type ledgerRepo interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	Trail(ctx context.Context, studentID string, limit int) ([]models.AuditEvent, error)
	ByDateRange(ctx context.Context, from, to time.Time, limit int) ([]models.AuditEvent, error)
}

// AuditService owns the append-only trajectory ledger. Every event carries a
// SHA-256 integrity hash computed over its canonical serialization, fixed at
// append time; Verify recomputes it on read to detect tampering.
type AuditService struct {
	ledger  ledgerRepo
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAuditService constructs AuditService.
func NewAuditService(ledger ledgerRepo, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{ledger: ledger, metrics: metrics, logger: logger}
}

// AppendEntry is the payload for one ledger append.
type AppendEntry struct {
	StudentID   string
	Action      string
	Actor       string
	Grade       string
	Description string
	Payload     interface{}
}

// Append seals and persists one event. The event identifier is a time-based
// UUID so the trail has a total order even within one timestamp tick.
func (s *AuditService) Append(ctx context.Context, entry AppendEntry) (*models.AuditEvent, error) {
	eventID, err := uuid.NewUUID()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAuditWriteFailed.Code, appErrors.ErrAuditWriteFailed.Status, "failed to mint event id")
	}
	event := &models.AuditEvent{
		StudentID:   entry.StudentID,
		CreatedAt:   time.Now().UTC(),
		EventID:     eventID.String(),
		Action:      entry.Action,
		Actor:       entry.Actor,
		Grade:       entry.Grade,
		Description: entry.Description,
	}
	if event.Actor == "" {
		event.Actor = "system"
	}
	if entry.Payload != nil {
		raw, err := json.Marshal(entry.Payload)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrAuditWriteFailed.Code, appErrors.ErrAuditWriteFailed.Status, "failed to encode event payload")
		}
		event.Payload = raw
	}
	event.Hash = integrityHash(event)
	if err := s.ledger.Append(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAuditWriteFailed.Code, appErrors.ErrAuditWriteFailed.Status, "failed to append audit event")
	}
	s.metrics.RecordAuditEvent(event.Action)
	return event, nil
}

// Record appends an event, degrading a ledger failure to a warning log plus
// a returned AuditWriteFailed error, so domain writes never fail because of
// the audit trail but the caller can still surface the dropped write.
func (s *AuditService) Record(ctx context.Context, entry AppendEntry) error {
	_, err := s.Append(ctx, entry)
	if err != nil {
		s.logger.Warn("audit trail write failed",
			zap.String("student_id", entry.StudentID),
			zap.String("action", entry.Action),
			zap.Error(err))
	}
	return err
}

// Trail returns the student's events, newest first. Integrity annotation
// happens on the read surface, per event.
func (s *AuditService) Trail(ctx context.Context, studentID string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultTrailLimit
	}
	events, err := s.ledger.Trail(ctx, studentID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read audit trail")
	}
	return events, nil
}

// ByDateRange scans the compliance date index.
func (s *AuditService) ByDateRange(ctx context.Context, from, to time.Time, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultTrailLimit
	}
	if !to.After(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date range end must be after start")
	}
	events, err := s.ledger.ByDateRange(ctx, from, to, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read audit range")
	}
	return events, nil
}

// Verify recomputes the integrity hash of an event and compares it to the
// stored one.
func (s *AuditService) Verify(event *models.AuditEvent) bool {
	return event.Hash == integrityHash(event)
}

// integrityHash is the SHA-256 of the event's canonical JSON form: a map with
// sorted keys over the identity fields fixed at append time (student, action,
// timestamp, actor, original grade). The payload stays out of the hash; it is
// stored as JSONB, which re-renders spacing and key order on read-back, so
// hashing its bytes would make every verification of a stored event fail.
// json.Marshal sorts map keys, which makes the serialization deterministic.
func integrityHash(event *models.AuditEvent) string {
	canonical := map[string]interface{}{
		"student_id": event.StudentID,
		"action":     event.Action,
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
		"actor":      event.Actor,
		"grade":      event.Grade,
	}
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
