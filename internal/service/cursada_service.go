package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	"github.com/edugrade/edugrade-api/internal/repository"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type cursadaRepo interface {
	Create(ctx context.Context, attempt *models.Cursada) error
	SetGrade(ctx context.Context, studentID, subjectID string, slot models.GradeSlot, raw string, norm float64, flagged bool) (int64, error)
	Close(ctx context.Context, studentID, subjectID string, passThreshold float64) (*models.Cursada, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.CursadaDetail, error)
	ListApproved(ctx context.Context, studentID string) ([]models.ApprovedAttempt, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindMembership(ctx context.Context, studentID string) (*models.Membership, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type institutionReader interface {
	FindByID(ctx context.Context, id string) (*models.Institution, error)
}

type recordWriter interface {
	Insert(ctx context.Context, record *models.GradeRecord) error
}

// EnrollRequest opens a new attempt.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SubjectID string `json:"subject_id" validate:"required"`
	Year      int    `json:"academic_year" validate:"required,min=1900"`
}

// RecordGradeRequest writes one grade slot on the open attempt.
type RecordGradeRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SubjectID string `json:"subject_id" validate:"required"`
	Slot      string `json:"slot" validate:"required,oneof=partial1 partial2 final makeup"`
	Value     string `json:"value" validate:"required"`
}

// CloseRequest seals the open attempt.
type CloseRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SubjectID string `json:"subject_id" validate:"required"`
}

// CursadaService drives the enrollment attempt state machine: open on
// enrollment, grades recorded while open, a single atomic close that decides
// the outcome. Every transition lands in the audit ledger; closes also feed
// the analytics counters.
type CursadaService struct {
	attempts     cursadaRepo
	students     studentReader
	subjects     subjectReader
	institutions institutionReader
	records      recordWriter
	audit        *AuditService
	analytics    *AnalyticsService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewCursadaService constructs CursadaService.
func NewCursadaService(attempts cursadaRepo, students studentReader, subjects subjectReader, institutions institutionReader, records recordWriter, audit *AuditService, analytics *AnalyticsService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CursadaService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CursadaService{
		attempts:     attempts,
		students:     students,
		subjects:     subjects,
		institutions: institutions,
		records:      records,
		audit:        audit,
		analytics:    analytics,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// Enroll opens an attempt for the student in the subject. Re-enrollment
// after a failed close is allowed; a second open attempt for the same pair
// is rejected.
func (s *CursadaService) Enroll(ctx context.Context, req EnrollRequest, actor string) (*models.Cursada, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Status != models.StudentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "student is not active")
	}
	subject, err := s.subjects.FindByID(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	attempt := &models.Cursada{
		StudentID: req.StudentID,
		SubjectID: req.SubjectID,
		Year:      req.Year,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicateOpenAttempt) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an open attempt for this subject")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}
	s.audit.Record(ctx, AppendEntry{
		StudentID:   req.StudentID,
		Action:      models.AuditActionEnrolled,
		Actor:       actor,
		Description: "enrolled in " + subject.Name,
		Payload:     attempt,
	})
	return attempt, nil
}

// RecordGrade writes one slot on the open attempt. The raw value is kept as
// entered; normalization to the neutral space happens here, against the
// grading scale of the subject's institution, so closing never has to parse
// grades. A value the scale cannot place is stored as zero and the attempt
// is flagged for review rather than rejected.
func (s *CursadaService) RecordGrade(ctx context.Context, req RecordGradeRequest, actor string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	slot := models.GradeSlot(req.Slot)
	scale, _, err := s.subjectScale(ctx, req.SubjectID)
	if err != nil {
		return err
	}
	value := models.ParseGradeValue(req.Value)
	norm, flagged := scale.Normalize(value)
	if flagged {
		s.logger.Warn("grade could not be normalized, attempt flagged",
			zap.String("student_id", req.StudentID),
			zap.String("subject_id", req.SubjectID),
			zap.String("value", req.Value))
	}
	rows, err := s.attempts.SetGrade(ctx, req.StudentID, req.SubjectID, slot, req.Value, norm, flagged)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}
	if rows == 0 {
		return appErrors.Clone(appErrors.ErrNoOpenAttempt, "no open attempt for this student and subject")
	}
	record := &models.GradeRecord{
		StudentID:     req.StudentID,
		SubjectID:     req.SubjectID,
		OriginalValue: req.Value,
		OriginalKind:  value.Kind,
		Slot:          slot,
		Approved:      norm >= scale.PassThreshold,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		s.logger.Warn("grade record mirror write failed",
			zap.String("student_id", req.StudentID),
			zap.Error(err))
	}
	s.audit.Record(ctx, AppendEntry{
		StudentID:   req.StudentID,
		Action:      models.AuditActionGradeRecorded,
		Actor:       actor,
		Grade:       req.Value,
		Description: fmt.Sprintf("grade recorded on slot %s", slot),
	})
	return nil
}

// Close seals the open attempt. The outcome is decided inside a single
// conditional update keyed on the open state, so two concurrent closes
// cannot both win and a grade racing the close cannot be lost.
func (s *CursadaService) Close(ctx context.Context, req CloseRequest, actor string) (*models.Cursada, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid close payload")
	}
	scale, institution, err := s.subjectScale(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.attempts.Close(ctx, req.StudentID, req.SubjectID, scale.PassThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNoOpenAttempt, "no open attempt to close")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close attempt")
	}
	outcome := ""
	if attempt.Outcome != nil {
		outcome = string(*attempt.Outcome)
	}
	s.metrics.RecordClosure(outcome)
	s.audit.Record(ctx, AppendEntry{
		StudentID:   req.StudentID,
		Action:      models.AuditActionCursadaClosed,
		Actor:       actor,
		Grade:       decidingGrade(attempt),
		Description: "attempt closed with outcome " + outcome,
		Payload:     attempt,
	})
	s.analytics.Observe(ctx, models.ObservationContext{
		Region:        institution.Region,
		InstitutionID: institution.ID,
		Country:       institution.Country,
		Level:         institution.Level,
		Year:          attempt.Year,
	}, decidingNorm(attempt), attempt.Outcome != nil && *attempt.Outcome == models.OutcomeApproved)
	return attempt, nil
}

// Trajectory returns every attempt of the student, open and closed.
func (s *CursadaService) Trajectory(ctx context.Context, studentID string) ([]models.CursadaDetail, error) {
	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempts")
	}
	return attempts, nil
}

// Approved returns the student's approved subjects, deduplicated across
// re-takes.
func (s *CursadaService) Approved(ctx context.Context, studentID string) ([]models.ApprovedAttempt, error) {
	approved, err := s.attempts.ListApproved(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approved attempts")
	}
	return approved, nil
}

// subjectScale resolves the grading scale governing a subject through its
// institution.
func (s *CursadaService) subjectScale(ctx context.Context, subjectID string) (models.GradingScale, *models.Institution, error) {
	subject, err := s.subjects.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.GradingScale{}, nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return models.GradingScale{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	institution, err := s.institutions.FindByID(ctx, subject.InstitutionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.GradingScale{}, nil, appErrors.Clone(appErrors.ErrNotFound, "institution not found")
		}
		return models.GradingScale{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load institution")
	}
	return institution.Scale(), institution, nil
}

func decidingGrade(attempt *models.Cursada) string {
	if attempt.Makeup != nil {
		return *attempt.Makeup
	}
	if attempt.Final != nil {
		return *attempt.Final
	}
	return ""
}

func decidingNorm(attempt *models.Cursada) float64 {
	if attempt.MakeupNorm != nil && attempt.FinalNorm != nil {
		if *attempt.MakeupNorm > *attempt.FinalNorm {
			return *attempt.MakeupNorm
		}
		return *attempt.FinalNorm
	}
	if attempt.MakeupNorm != nil {
		return *attempt.MakeupNorm
	}
	if attempt.FinalNorm != nil {
		return *attempt.FinalNorm
	}
	return 0
}
