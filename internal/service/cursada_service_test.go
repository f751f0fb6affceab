package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	"github.com/edugrade/edugrade-api/internal/repository"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type mockCursadaRepo struct {
	created   []*models.Cursada
	createErr error

	setGradeRows int64
	lastSlot     models.GradeSlot
	lastNorm     float64
	lastFlagged  bool

	closed       *models.Cursada
	closeErr     error
	attempts     []models.CursadaDetail
	approved     []models.ApprovedAttempt
	upsertResult bool
	upsertErr    map[string]error
	upserted     []*models.Cursada
}

func (m *mockCursadaRepo) Create(ctx context.Context, attempt *models.Cursada) error {
	if m.createErr != nil {
		return m.createErr
	}
	attempt.ID = "cur-1"
	attempt.State = models.CursadaOpen
	m.created = append(m.created, attempt)
	return nil
}

func (m *mockCursadaRepo) SetGrade(ctx context.Context, studentID, subjectID string, slot models.GradeSlot, raw string, norm float64, flagged bool) (int64, error) {
	m.lastSlot = slot
	m.lastNorm = norm
	m.lastFlagged = flagged
	return m.setGradeRows, nil
}

func (m *mockCursadaRepo) Close(ctx context.Context, studentID, subjectID string, passThreshold float64) (*models.Cursada, error) {
	if m.closeErr != nil {
		return nil, m.closeErr
	}
	return m.closed, nil
}

func (m *mockCursadaRepo) ListByStudent(ctx context.Context, studentID string) ([]models.CursadaDetail, error) {
	return m.attempts, nil
}

func (m *mockCursadaRepo) ListApproved(ctx context.Context, studentID string) ([]models.ApprovedAttempt, error) {
	return m.approved, nil
}

func (m *mockCursadaRepo) UpsertEquivalence(ctx context.Context, attempt *models.Cursada) (bool, error) {
	if err := m.upsertErr[attempt.SubjectID]; err != nil {
		return false, err
	}
	m.upserted = append(m.upserted, attempt)
	return m.upsertResult, nil
}

type mockStudentRepo struct {
	students    map[string]*models.Student
	memberships map[string]*models.Membership
	swapped     []string
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindMembership(ctx context.Context, studentID string) (*models.Membership, error) {
	if mem, ok := m.memberships[studentID]; ok {
		return mem, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ReplaceMembership(ctx context.Context, studentID, institutionID string) error {
	m.memberships[studentID] = &models.Membership{StudentID: studentID, InstitutionID: institutionID, Since: time.Now().UTC()}
	m.swapped = append(m.swapped, institutionID)
	return nil
}

type mockSubjectRepo struct {
	subjects    map[string]*models.Subject
	equivalents map[string]*models.Subject
}

func (m *mockSubjectRepo) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	if s, ok := m.subjects[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubjectRepo) FindEquivalentInInstitution(ctx context.Context, subjectID, institutionID string) (*models.Subject, error) {
	if s, ok := m.equivalents[subjectID]; ok && s.InstitutionID == institutionID {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockInstitutionRepo struct {
	institutions map[string]*models.Institution
}

func (m *mockInstitutionRepo) FindByID(ctx context.Context, id string) (*models.Institution, error) {
	if inst, ok := m.institutions[id]; ok {
		return inst, nil
	}
	return nil, sql.ErrNoRows
}

type mockRecordRepo struct {
	byID     map[string]*models.GradeRecord
	inserted []*models.GradeRecord
	upserted []*models.GradeRecord
	appended []models.AppliedConversion
}

func (m *mockRecordRepo) Insert(ctx context.Context, record *models.GradeRecord) error {
	m.inserted = append(m.inserted, record)
	return nil
}

func (m *mockRecordRepo) UpsertEquivalence(ctx context.Context, record *models.GradeRecord) error {
	record.Source = models.RecordSourceEquivalence
	m.upserted = append(m.upserted, record)
	return nil
}

func (m *mockRecordRepo) FindByID(ctx context.Context, id string) (*models.GradeRecord, error) {
	record, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return record, nil
}

func (m *mockRecordRepo) AppendConversion(ctx context.Context, recordID string, conv models.AppliedConversion) error {
	m.appended = append(m.appended, conv)
	return nil
}

type mockAnalyticsRepo struct {
	observed []models.ObservationContext
	norms    []float64
	passed   []bool
}

func (m *mockAnalyticsRepo) Observe(ctx context.Context, obs models.ObservationContext, norm float64, passed bool) error {
	m.observed = append(m.observed, obs)
	m.norms = append(m.norms, norm)
	m.passed = append(m.passed, passed)
	return nil
}

func (m *mockAnalyticsRepo) Cell(ctx context.Context, key string) (models.CellSummary, error) {
	return models.CellSummary{Key: key}, nil
}

func (m *mockAnalyticsRepo) Distribution(ctx context.Context, obs models.ObservationContext) ([]models.DistributionCell, error) {
	return nil, nil
}

type cursadaFixture struct {
	attempts     *mockCursadaRepo
	students     *mockStudentRepo
	subjects     *mockSubjectRepo
	institutions *mockInstitutionRepo
	records      *mockRecordRepo
	analytics    *mockAnalyticsRepo
	ledger       *mockLedgerRepo
	svc          *CursadaService
}

func newCursadaFixture() *cursadaFixture {
	f := &cursadaFixture{
		attempts: &mockCursadaRepo{},
		students: &mockStudentRepo{
			students:    map[string]*models.Student{"stu-1": {ID: "stu-1", Status: models.StudentStatusActive}},
			memberships: map[string]*models.Membership{"stu-1": {StudentID: "stu-1", InstitutionID: "inst-1"}},
		},
		subjects: &mockSubjectRepo{
			subjects: map[string]*models.Subject{"sub-1": {ID: "sub-1", Code: "MAT101", Name: "Algebra", InstitutionID: "inst-1"}},
		},
		institutions: &mockInstitutionRepo{
			institutions: map[string]*models.Institution{"inst-1": {
				ID: "inst-1", Country: "AR", Region: "buenos-aires", Level: "university",
				ScaleID: "ar-10", ScaleKind: models.ScaleNumericRange, ScaleMin: 1, ScaleMax: 10,
				PassThreshold: models.DefaultPassThreshold,
			}},
		},
		records:   &mockRecordRepo{},
		analytics: &mockAnalyticsRepo{},
		ledger:    &mockLedgerRepo{},
	}
	audit := NewAuditService(f.ledger, nil, zap.NewNop())
	analytics := NewAnalyticsService(f.analytics, true, zap.NewNop())
	f.svc = NewCursadaService(f.attempts, f.students, f.subjects, f.institutions, f.records, audit, analytics, nil, validator.New(), zap.NewNop())
	return f
}

func TestCursadaServiceEnroll(t *testing.T) {
	f := newCursadaFixture()

	attempt, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SubjectID: "sub-1", Year: 2026}, "registrar-1")
	require.NoError(t, err)
	assert.Equal(t, models.CursadaOpen, attempt.State)
	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, models.AuditActionEnrolled, f.ledger.events[0].Action)
	assert.Equal(t, "registrar-1", f.ledger.events[0].Actor)
}

func TestCursadaServiceEnrollDuplicateOpen(t *testing.T) {
	f := newCursadaFixture()
	f.attempts.createErr = repository.ErrDuplicateOpenAttempt

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SubjectID: "sub-1", Year: 2026}, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestCursadaServiceEnrollUnknownStudent(t *testing.T) {
	f := newCursadaFixture()

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "ghost", SubjectID: "sub-1", Year: 2026}, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCursadaServiceEnrollInactiveStudent(t *testing.T) {
	f := newCursadaFixture()
	f.students.students["stu-1"].Status = models.StudentStatusInactive

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SubjectID: "sub-1", Year: 2026}, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	assert.Empty(t, f.ledger.events)
}

func TestCursadaServiceRecordGrade(t *testing.T) {
	f := newCursadaFixture()
	f.attempts.setGradeRows = 1

	err := f.svc.RecordGrade(context.Background(), RecordGradeRequest{StudentID: "stu-1", SubjectID: "sub-1", Slot: "final", Value: "8"}, "prof-9")
	require.NoError(t, err)
	assert.Equal(t, models.GradeSlot("final"), f.attempts.lastSlot)
	assert.Equal(t, 8.0, f.attempts.lastNorm)
	assert.False(t, f.attempts.lastFlagged)

	require.Len(t, f.records.inserted, 1)
	assert.True(t, f.records.inserted[0].Approved)

	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, models.AuditActionGradeRecorded, f.ledger.events[0].Action)
	assert.Equal(t, "8", f.ledger.events[0].Grade)
}

func TestCursadaServiceRecordGradeNoOpenAttempt(t *testing.T) {
	f := newCursadaFixture()
	f.attempts.setGradeRows = 0

	err := f.svc.RecordGrade(context.Background(), RecordGradeRequest{StudentID: "stu-1", SubjectID: "sub-1", Slot: "final", Value: "8"}, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoOpenAttempt))
}

func TestCursadaServiceRecordGradeFlagsUnknownLetter(t *testing.T) {
	f := newCursadaFixture()
	f.attempts.setGradeRows = 1

	err := f.svc.RecordGrade(context.Background(), RecordGradeRequest{StudentID: "stu-1", SubjectID: "sub-1", Slot: "partial1", Value: "??"}, "")
	require.NoError(t, err)
	assert.True(t, f.attempts.lastFlagged)
	assert.Equal(t, 0.0, f.attempts.lastNorm)
}

func TestCursadaServiceRecordGradeRejectsBadSlot(t *testing.T) {
	f := newCursadaFixture()

	err := f.svc.RecordGrade(context.Background(), RecordGradeRequest{StudentID: "stu-1", SubjectID: "sub-1", Slot: "midterm", Value: "8"}, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCursadaServiceClose(t *testing.T) {
	f := newCursadaFixture()
	outcome := models.OutcomeApproved
	final := "8"
	finalNorm := 8.0
	closedAt := time.Now().UTC()
	f.attempts.closed = &models.Cursada{
		ID: "cur-1", StudentID: "stu-1", SubjectID: "sub-1", Year: 2026,
		Final: &final, FinalNorm: &finalNorm,
		State: models.CursadaClosed, Outcome: &outcome, ClosedAt: &closedAt,
	}

	attempt, err := f.svc.Close(context.Background(), CloseRequest{StudentID: "stu-1", SubjectID: "sub-1"}, "prof-9")
	require.NoError(t, err)
	require.NotNil(t, attempt.Outcome)
	assert.Equal(t, models.OutcomeApproved, *attempt.Outcome)

	require.Len(t, f.ledger.events, 1)
	assert.Equal(t, models.AuditActionCursadaClosed, f.ledger.events[0].Action)
	assert.Equal(t, "8", f.ledger.events[0].Grade)

	// Closing is the single observation point for the analytics counters.
	require.Len(t, f.analytics.observed, 1)
	assert.Equal(t, "buenos-aires", f.analytics.observed[0].Region)
	assert.Equal(t, 2026, f.analytics.observed[0].Year)
	assert.Equal(t, 8.0, f.analytics.norms[0])
	assert.True(t, f.analytics.passed[0])
}

func TestCursadaServiceCloseNoOpenAttempt(t *testing.T) {
	f := newCursadaFixture()
	f.attempts.closeErr = sql.ErrNoRows

	_, err := f.svc.Close(context.Background(), CloseRequest{StudentID: "stu-1", SubjectID: "sub-1"}, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoOpenAttempt))
	assert.Empty(t, f.analytics.observed)
}

func TestCursadaServiceCloseMakeupDecides(t *testing.T) {
	f := newCursadaFixture()
	outcome := models.OutcomeApproved
	final, makeup := "3", "7"
	finalNorm, makeupNorm := 3.0, 7.0
	f.attempts.closed = &models.Cursada{
		ID: "cur-1", StudentID: "stu-1", SubjectID: "sub-1", Year: 2026,
		Final: &final, FinalNorm: &finalNorm, Makeup: &makeup, MakeupNorm: &makeupNorm,
		State: models.CursadaClosed, Outcome: &outcome,
	}

	_, err := f.svc.Close(context.Background(), CloseRequest{StudentID: "stu-1", SubjectID: "sub-1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "7", f.ledger.events[0].Grade)
	assert.Equal(t, 7.0, f.analytics.norms[0])
}
