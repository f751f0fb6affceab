package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type equivalenceFinder interface {
	FindEquivalentInInstitution(ctx context.Context, subjectID, institutionID string) (*models.Subject, error)
}

type equivalenceUpserter interface {
	UpsertEquivalence(ctx context.Context, attempt *models.Cursada) (bool, error)
}

type membershipSwapper interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindMembership(ctx context.Context, studentID string) (*models.Membership, error)
	ReplaceMembership(ctx context.Context, studentID, institutionID string) error
}

type equivalenceRecordWriter interface {
	UpsertEquivalence(ctx context.Context, record *models.GradeRecord) error
}

// Homologation statuses per subject.
const (
	TransferHomologated     = "HOMOLOGATED"
	TransferSkippedNoPeer   = "SKIPPED_NO_EQUIVALENCE"
	TransferSkippedNoRule   = "SKIPPED_NO_RULE"
	TransferSkippedApproved = "SKIPPED_ALREADY_APPROVED"
)

// TransferRequest moves a student between institutions. RuleCode, when set,
// pins every homologation to that rule instead of resolving by scale pair.
type TransferRequest struct {
	StudentID         string `json:"student_id" validate:"required"`
	DestInstitutionID string `json:"dest_institution_id" validate:"required"`
	RuleCode          string `json:"rule_code"`
}

// SubjectTransfer is the per-subject outcome of a homologation run.
type SubjectTransfer struct {
	SourceSubjectID   string `json:"source_subject_id"`
	SourceSubjectName string `json:"source_subject_name"`
	DestSubjectID     string `json:"dest_subject_id,omitempty"`
	Status            string `json:"status"`
	OriginalGrade     string `json:"original_grade,omitempty"`
	ConvertedGrade    string `json:"converted_grade,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// TransferResult summarizes one transfer run. On a partial failure it is
// returned alongside the error, carrying only the subjects that settled
// before the run aborted, so the caller can retry idempotently. Warnings
// lists audit writes that were dropped while the run itself succeeded.
type TransferResult struct {
	StudentID           string            `json:"student_id"`
	SourceInstitutionID string            `json:"source_institution_id"`
	DestInstitutionID   string            `json:"dest_institution_id"`
	Subjects            []SubjectTransfer `json:"subjects"`
	Homologated         int               `json:"homologated"`
	Skipped             int               `json:"skipped"`
	MembershipMoved     bool              `json:"membership_moved"`
	Warnings            []string          `json:"warnings,omitempty"`
	TransferredAt       time.Time         `json:"transferred_at"`
}

// TransferService orchestrates institution transfers: it walks the student's
// approved subjects (latest re-take only), homologates each into the
// destination institution through the equivalence graph and the conversion
// engine, then swaps the membership edge. Subjects without an equivalent or
// without a conversion path are skipped with an audit note, never failed.
type TransferService struct {
	students     membershipSwapper
	subjects     equivalenceFinder
	attempts     cursadaRepo
	equivalences equivalenceUpserter
	records      equivalenceRecordWriter
	institutions institutionReader
	conversion   *ConversionService
	audit        *AuditService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	parallelism  int
}

// NewTransferService constructs TransferService.
func NewTransferService(students membershipSwapper, subjects equivalenceFinder, attempts cursadaRepo, equivalences equivalenceUpserter, records equivalenceRecordWriter, institutions institutionReader, conversion *ConversionService, audit *AuditService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, parallelism int) *TransferService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism <= 0 {
		parallelism = 4
	}
	return &TransferService{
		students:     students,
		subjects:     subjects,
		attempts:     attempts,
		equivalences: equivalences,
		records:      records,
		institutions: institutions,
		conversion:   conversion,
		audit:        audit,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		parallelism:  parallelism,
	}
}

// Transfer runs the full homologation for one student. Subjects are
// processed with bounded parallelism; the membership swap happens only after
// every subject settled, so a failed run leaves the student at the source
// institution with at worst some equivalences already granted, which a retry
// re-applies idempotently.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest, actor string) (*TransferResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	membership, err := s.students.FindMembership(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "student has no institution membership")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	if membership.InstitutionID == req.DestInstitutionID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already belongs to the destination institution")
	}
	source, err := s.institutions.FindByID(ctx, membership.InstitutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source institution")
	}
	dest, err := s.institutions.FindByID(ctx, req.DestInstitutionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "destination institution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load destination institution")
	}
	approved, err := s.attempts.ListApproved(ctx, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approved subjects")
	}

	// A pinned rule is resolved once, before anything mutates.
	var pinned *models.ConversionRule
	if req.RuleCode != "" {
		pinned, err = s.conversion.ResolveRule(ctx, req.RuleCode)
		if err != nil {
			return nil, err
		}
	}

	outcomes := make([]SubjectTransfer, len(approved))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		hardErr  error
		warnings []string
	)
	sem := make(chan struct{}, s.parallelism)
	for i, attempt := range approved {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, attempt models.ApprovedAttempt) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, warns, err := s.homologate(runCtx, req.StudentID, attempt, source, dest, pinned, actor)
			mu.Lock()
			warnings = append(warnings, warns...)
			mu.Unlock()
			if err != nil {
				mu.Lock()
				if hardErr == nil {
					hardErr = err
				}
				mu.Unlock()
				cancel()
				return
			}
			outcomes[i] = outcome
		}(i, attempt)
	}
	wg.Wait()
	if hardErr != nil {
		// The subjects that settled before the abort are surfaced so a
		// retry can pick up where this run stopped.
		return partialResult(req.StudentID, source.ID, dest.ID, outcomes, warnings), hardErr
	}

	if err := s.students.ReplaceMembership(ctx, req.StudentID, dest.ID); err != nil {
		return partialResult(req.StudentID, source.ID, dest.ID, outcomes, warnings),
			appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to swap membership")
	}

	result := &TransferResult{
		StudentID:           req.StudentID,
		SourceInstitutionID: source.ID,
		DestInstitutionID:   dest.ID,
		Subjects:            outcomes,
		MembershipMoved:     true,
		Warnings:            warnings,
		TransferredAt:       time.Now().UTC(),
	}
	for _, outcome := range outcomes {
		if outcome.Status == TransferHomologated {
			result.Homologated++
		} else {
			result.Skipped++
		}
	}
	s.metrics.RecordTransfer()
	if err := s.audit.Record(ctx, AppendEntry{
		StudentID:   req.StudentID,
		Action:      models.AuditActionInstitutionTransfer,
		Actor:       actor,
		Description: "transferred from " + source.Name + " to " + dest.Name,
		Payload:     result,
	}); err != nil {
		result.Warnings = append(result.Warnings, auditWarning(err))
	}
	return result, nil
}

// partialResult collects the settled subjects of an aborted run.
func partialResult(studentID, sourceID, destID string, outcomes []SubjectTransfer, warnings []string) *TransferResult {
	result := &TransferResult{
		StudentID:           studentID,
		SourceInstitutionID: sourceID,
		DestInstitutionID:   destID,
		Warnings:            warnings,
		TransferredAt:       time.Now().UTC(),
	}
	for _, outcome := range outcomes {
		if outcome.Status == "" {
			continue
		}
		result.Subjects = append(result.Subjects, outcome)
		if outcome.Status == TransferHomologated {
			result.Homologated++
		} else {
			result.Skipped++
		}
	}
	return result
}

func auditWarning(err error) string {
	return appErrors.ErrAuditWriteFailed.Code + ": " + err.Error()
}

// homologate settles one approved source subject into the destination
// institution. Missing equivalents and missing conversion paths are soft
// skips; store failures propagate and abort the run. Dropped audit writes
// come back as warnings.
func (s *TransferService) homologate(ctx context.Context, studentID string, attempt models.ApprovedAttempt, source, dest *models.Institution, pinned *models.ConversionRule, actor string) (SubjectTransfer, []string, error) {
	var warnings []string
	outcome := SubjectTransfer{
		SourceSubjectID:   attempt.SubjectID,
		SourceSubjectName: attempt.SubjectName,
		OriginalGrade:     attempt.FinalGrade,
	}
	peer, err := s.subjects.FindEquivalentInInstitution(ctx, attempt.SubjectID, dest.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			outcome.Status = TransferSkippedNoPeer
			outcome.Reason = "no equivalent subject at destination"
			if err := s.audit.Record(ctx, AppendEntry{
				StudentID:   studentID,
				Action:      models.AuditActionNoEquivalence,
				Actor:       actor,
				Description: attempt.SubjectName + " has no equivalent at " + dest.Name,
			}); err != nil {
				warnings = append(warnings, auditWarning(err))
			}
			return outcome, warnings, nil
		}
		return outcome, warnings, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve equivalent subject")
	}
	outcome.DestSubjectID = peer.ID

	value := models.ParseGradeValue(attempt.FinalGrade)
	var (
		converted models.GradeValue
		applied   *models.AppliedConversion
	)
	if pinned != nil {
		converted, applied, err = s.conversion.applyRule(pinned, actor, value)
	} else {
		converted, applied, err = s.conversion.Apply(ctx, source.ScaleID, dest.ScaleID, actor, value)
	}
	if err != nil {
		if appErrors.Is(err, appErrors.ErrRuleNotFound) || appErrors.Is(err, appErrors.ErrNoEquivalence) {
			outcome.Status = TransferSkippedNoRule
			outcome.Reason = err.Error()
			if err := s.audit.Record(ctx, AppendEntry{
				StudentID:   studentID,
				Action:      models.AuditActionNoEquivalence,
				Actor:       actor,
				Grade:       attempt.FinalGrade,
				Description: "grade for " + attempt.SubjectName + " could not be converted to scale " + dest.ScaleID,
			}); err != nil {
				warnings = append(warnings, auditWarning(err))
			}
			return outcome, warnings, nil
		}
		return outcome, warnings, err
	}
	outcome.ConvertedGrade = converted.String()

	norm, flagged := dest.Scale().Normalize(converted)
	now := time.Now().UTC()
	convertedRaw := converted.String()
	equivalence := &models.Cursada{
		StudentID:         studentID,
		SubjectID:         peer.ID,
		Year:              now.Year(),
		Final:             &convertedRaw,
		FinalNorm:         &norm,
		Flagged:           flagged,
		ClosedAt:          &now,
		SourceSubjectID:   &attempt.SubjectID,
		SourceSubjectName: &attempt.SubjectName,
		RuleCode:          &applied.RuleCode,
		OriginalGrade:     &attempt.FinalGrade,
		ConvertedAt:       &applied.ConvertedAt,
	}
	written, err := s.equivalences.UpsertEquivalence(ctx, equivalence)
	if err != nil {
		return outcome, warnings, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to grant equivalence")
	}
	if !written {
		outcome.Status = TransferSkippedApproved
		outcome.Reason = "subject already genuinely approved at destination"
		return outcome, warnings, nil
	}

	record := &models.GradeRecord{
		StudentID:     studentID,
		SubjectID:     peer.ID,
		OriginalValue: attempt.FinalGrade,
		OriginalKind:  value.Kind,
		Slot:          models.SlotFinal,
		Approved:      true,
		Conversions:   models.ConversionList{*applied},
	}
	if err := s.records.UpsertEquivalence(ctx, record); err != nil {
		s.logger.Warn("equivalence record mirror write failed",
			zap.String("student_id", studentID),
			zap.String("subject_id", peer.ID),
			zap.Error(err))
	}
	if err := s.audit.Record(ctx, AppendEntry{
		StudentID:   studentID,
		Action:      models.AuditActionConversionApplied,
		Actor:       actor,
		Grade:       convertedRaw,
		Description: attempt.SubjectName + " homologated as " + peer.Name + " via rule " + applied.RuleCode,
		Payload:     applied,
	}); err != nil {
		warnings = append(warnings, auditWarning(err))
	}
	outcome.Status = TransferHomologated
	return outcome, warnings, nil
}
