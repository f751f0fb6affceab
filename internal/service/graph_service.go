package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type studentAdminRepo interface {
	Create(ctx context.Context, student *models.Student, institutionID string) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
	List(ctx context.Context, institutionID string) ([]models.Student, error)
	FindMembership(ctx context.Context, studentID string) (*models.Membership, error)
	SetStatus(ctx context.Context, id, status string) error
}

type institutionAdminRepo interface {
	Create(ctx context.Context, inst *models.Institution) error
	FindByID(ctx context.Context, id string) (*models.Institution, error)
	List(ctx context.Context) ([]models.Institution, error)
	SetStatus(ctx context.Context, id, status string) error
}

type subjectAdminRepo interface {
	Create(ctx context.Context, subject *models.Subject) error
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ListByInstitution(ctx context.Context, institutionID string) ([]models.Subject, error)
	CreateEquivalence(ctx context.Context, eq *models.Equivalence) error
	SetStatus(ctx context.Context, id, status string) error
}

type careerAdminRepo interface {
	Create(ctx context.Context, career *models.Career) error
	FindByID(ctx context.Context, id string) (*models.Career, error)
	AddSubject(ctx context.Context, careerID, subjectID string, position int) error
	ListSubjects(ctx context.Context, careerID string) ([]models.Subject, error)
}

// CreateStudentRequest registers a student at an institution.
type CreateStudentRequest struct {
	FileNumber    string `json:"file_number" validate:"required"`
	FirstName     string `json:"first_name" validate:"required"`
	LastName      string `json:"last_name" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	Document      string `json:"document" validate:"required"`
	Country       string `json:"country" validate:"required"`
	InstitutionID string `json:"institution_id" validate:"required"`
}

// CreateInstitutionRequest registers an institution with its grading scale.
type CreateInstitutionRequest struct {
	Code          string  `json:"code" validate:"required"`
	Name          string  `json:"name" validate:"required"`
	Country       string  `json:"country" validate:"required"`
	Region        string  `json:"region" validate:"required"`
	Level         string  `json:"level" validate:"required"`
	ScaleID       string  `json:"scale_id" validate:"required"`
	ScaleKind     string  `json:"scale_kind" validate:"required,oneof=NUMERIC_RANGE LETTER_SET GPA_RANGE INVERTED_NUMERIC_RANGE"`
	ScaleMin      float64 `json:"scale_min"`
	ScaleMax      float64 `json:"scale_max" validate:"required"`
	PassThreshold float64 `json:"pass_threshold"`
}

// CreateSubjectRequest registers a subject at an institution.
type CreateSubjectRequest struct {
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	InstitutionID string `json:"institution_id" validate:"required"`
}

// CreateEquivalenceRequest links two subjects as equivalent.
type CreateEquivalenceRequest struct {
	SubjectID           string `json:"subject_id" validate:"required"`
	EquivalentSubjectID string `json:"equivalent_subject_id" validate:"required,nefield=SubjectID"`
}

// CreateCareerRequest registers a career plan.
type CreateCareerRequest struct {
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	InstitutionID string `json:"institution_id" validate:"required"`
}

// GraphService is the administrative surface over the trajectory graph:
// student, institution, subject and career nodes plus the equivalence edges
// the homologation engine traverses.
type GraphService struct {
	students     studentAdminRepo
	institutions institutionAdminRepo
	subjects     subjectAdminRepo
	careers      careerAdminRepo
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewGraphService constructs GraphService.
func NewGraphService(students studentAdminRepo, institutions institutionAdminRepo, subjects subjectAdminRepo, careers careerAdminRepo, validate *validator.Validate, logger *zap.Logger) *GraphService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphService{
		students:     students,
		institutions: institutions,
		subjects:     subjects,
		careers:      careers,
		validator:    validate,
		logger:       logger,
	}
}

// CreateStudent registers a student with an initial membership.
func (s *GraphService) CreateStudent(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if _, err := s.institutions.FindByID(ctx, req.InstitutionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "institution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load institution")
	}
	student := &models.Student{
		FileNumber: req.FileNumber,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Document:   req.Document,
		Country:    req.Country,
	}
	if err := s.students.Create(ctx, student, req.InstitutionID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// GetStudent returns a student with the current membership attached.
func (s *GraphService) GetStudent(ctx context.Context, id string) (*models.Student, *models.Membership, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	membership, err := s.students.FindMembership(ctx, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load membership")
	}
	return student, membership, nil
}

// DeactivateStudent soft-deletes a student. Closed attempts and the audit
// trail survive; new enrollments are refused.
func (s *GraphService) DeactivateStudent(ctx context.Context, id string) error {
	if _, err := s.students.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.students.SetStatus(ctx, id, string(models.StudentStatusInactive)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	return nil
}

// ListStudents lists students, optionally scoped to one institution.
func (s *GraphService) ListStudents(ctx context.Context, institutionID string) ([]models.Student, error) {
	students, err := s.students.List(ctx, institutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, nil
}

// CreateInstitution registers an institution node.
func (s *GraphService) CreateInstitution(ctx context.Context, req CreateInstitutionRequest) (*models.Institution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid institution payload")
	}
	inst := &models.Institution{
		Code:          req.Code,
		Name:          req.Name,
		Country:       req.Country,
		Region:        req.Region,
		Level:         req.Level,
		ScaleID:       req.ScaleID,
		ScaleKind:     models.ScaleKind(req.ScaleKind),
		ScaleMin:      req.ScaleMin,
		ScaleMax:      req.ScaleMax,
		PassThreshold: req.PassThreshold,
	}
	if err := s.institutions.Create(ctx, inst); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create institution")
	}
	return inst, nil
}

// ListInstitutions lists all institutions.
func (s *GraphService) ListInstitutions(ctx context.Context) ([]models.Institution, error) {
	institutions, err := s.institutions.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list institutions")
	}
	return institutions, nil
}

// DeactivateInstitution soft-deletes an institution node.
func (s *GraphService) DeactivateInstitution(ctx context.Context, id string) error {
	if _, err := s.institutions.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "institution not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load institution")
	}
	if err := s.institutions.SetStatus(ctx, id, string(models.InstitutionStatusInactive)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate institution")
	}
	return nil
}

// CreateSubject registers a subject node.
func (s *GraphService) CreateSubject(ctx context.Context, req CreateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	if _, err := s.institutions.FindByID(ctx, req.InstitutionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "institution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load institution")
	}
	subject := &models.Subject{
		Code:          req.Code,
		Name:          req.Name,
		InstitutionID: req.InstitutionID,
	}
	if err := s.subjects.Create(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	return subject, nil
}

// ListSubjects lists the subjects of an institution.
func (s *GraphService) ListSubjects(ctx context.Context, institutionID string) ([]models.Subject, error) {
	subjects, err := s.subjects.ListByInstitution(ctx, institutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// DeactivateSubject soft-deletes a subject node. Equivalence edges stay so
// past homologations remain explainable.
func (s *GraphService) DeactivateSubject(ctx context.Context, id string) error {
	if _, err := s.subjects.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if err := s.subjects.SetStatus(ctx, id, string(models.SubjectStatusInactive)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate subject")
	}
	return nil
}

// CreateEquivalence links two subjects, in both directions.
func (s *GraphService) CreateEquivalence(ctx context.Context, req CreateEquivalenceRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid equivalence payload")
	}
	for _, id := range []string{req.SubjectID, req.EquivalentSubjectID} {
		if _, err := s.subjects.FindByID(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "subject "+id+" not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
		}
	}
	eq := &models.Equivalence{
		SubjectID:           req.SubjectID,
		EquivalentSubjectID: req.EquivalentSubjectID,
	}
	if err := s.subjects.CreateEquivalence(ctx, eq); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create equivalence")
	}
	return nil
}

// CreateCareer registers a career plan.
func (s *GraphService) CreateCareer(ctx context.Context, req CreateCareerRequest) (*models.Career, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid career payload")
	}
	career := &models.Career{
		Code:          req.Code,
		Name:          req.Name,
		InstitutionID: req.InstitutionID,
	}
	if err := s.careers.Create(ctx, career); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create career")
	}
	return career, nil
}

// AddCareerSubject appends a subject to a career plan.
func (s *GraphService) AddCareerSubject(ctx context.Context, careerID, subjectID string, position int) error {
	if _, err := s.careers.FindByID(ctx, careerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "career not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load career")
	}
	if err := s.careers.AddSubject(ctx, careerID, subjectID, position); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add career subject")
	}
	return nil
}

// CareerSubjects lists a career plan's subjects in order.
func (s *GraphService) CareerSubjects(ctx context.Context, careerID string) ([]models.Subject, error) {
	subjects, err := s.careers.ListSubjects(ctx, careerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list career subjects")
	}
	return subjects, nil
}
