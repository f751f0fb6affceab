package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
)

type mockCareerRepo struct {
	careers map[string]*models.Career
	plans   map[string][]models.Subject
}

func (m *mockCareerRepo) Create(ctx context.Context, career *models.Career) error {
	if m.careers == nil {
		m.careers = make(map[string]*models.Career)
	}
	m.careers[career.ID] = career
	return nil
}

func (m *mockCareerRepo) FindByID(ctx context.Context, id string) (*models.Career, error) {
	career, ok := m.careers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return career, nil
}

func (m *mockCareerRepo) AddSubject(ctx context.Context, careerID, subjectID string, position int) error {
	return nil
}

func (m *mockCareerRepo) ListSubjects(ctx context.Context, careerID string) ([]models.Subject, error) {
	return m.plans[careerID], nil
}

func newTranscriptFixture() (*TranscriptService, *mockCursadaRepo, *mockLedgerRepo) {
	outcome := models.OutcomeApproved
	equivalence := models.OutcomeApprovedByEquivalence
	final := "8"
	finalNorm := 8.0
	equivNorm := 9.0
	sourceName := "Algebra I"
	closedAt := time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)
	attempts := &mockCursadaRepo{
		attempts: []models.CursadaDetail{
			{
				Cursada:     models.Cursada{ID: "cur-2", StudentID: "stu-1", SubjectID: "sub-2", Year: 2026, Final: &final, FinalNorm: &equivNorm, State: models.CursadaClosed, Outcome: &equivalence, SourceSubjectName: &sourceName},
				SubjectCode: "FIS101", SubjectName: "Physics",
			},
			{
				Cursada:     models.Cursada{ID: "cur-1", StudentID: "stu-1", SubjectID: "sub-1", Year: 2025, Final: &final, FinalNorm: &finalNorm, State: models.CursadaClosed, Outcome: &outcome, ClosedAt: &closedAt},
				SubjectCode: "MAT101", SubjectName: "Algebra",
			},
		},
		approved: []models.ApprovedAttempt{
			{SubjectID: "sub-1", SubjectName: "Algebra", FinalGrade: "8", ClosedAt: &closedAt},
		},
	}
	students := &mockStudentRepo{
		students: map[string]*models.Student{"stu-1": {ID: "stu-1", FirstName: "Ana", LastName: "Paz", FileNumber: "F-100"}},
	}
	careers := &mockCareerRepo{
		careers: map[string]*models.Career{"car-1": {ID: "car-1", Code: "LM", Name: "Mathematics"}},
		plans: map[string][]models.Subject{"car-1": {
			{ID: "sub-1"}, {ID: "sub-2"}, {ID: "sub-3"},
		}},
	}
	ledger := &mockLedgerRepo{}
	audit := NewAuditService(ledger, nil, zap.NewNop())
	return NewTranscriptService(students, attempts, careers, audit, zap.NewNop()), attempts, ledger
}

func TestTranscriptServiceBuild(t *testing.T) {
	svc, _, _ := newTranscriptFixture()

	transcript, err := svc.Build(context.Background(), "stu-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", transcript.Student.FirstName)
	assert.Len(t, transcript.Attempts, 2)
	assert.Len(t, transcript.Approved, 1)
	assert.InDelta(t, 8.5, transcript.HistoricalAverage, 0.0001)
	assert.Nil(t, transcript.Career)
}

func TestTranscriptServiceBuildUnknownStudent(t *testing.T) {
	svc, _, _ := newTranscriptFixture()

	_, err := svc.Build(context.Background(), "ghost", "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestTranscriptServiceBuildCareerProgress(t *testing.T) {
	svc, _, _ := newTranscriptFixture()

	transcript, err := svc.Build(context.Background(), "stu-1", "car-1")
	require.NoError(t, err)
	require.NotNil(t, transcript.Career)
	assert.Equal(t, "Mathematics", transcript.Career.CareerName)
	assert.Equal(t, 3, transcript.Career.TotalSubjects)
	assert.Equal(t, 1, transcript.Career.ApprovedSubjects)
	assert.InDelta(t, 100.0/3, transcript.Career.CompletionPct, 0.0001)
}

func TestTranscriptServiceBuildUnknownCareer(t *testing.T) {
	svc, _, _ := newTranscriptFixture()

	_, err := svc.Build(context.Background(), "stu-1", "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestTranscriptServiceExportCSV(t *testing.T) {
	svc, _, ledger := newTranscriptFixture()

	payload, contentType, err := svc.Export(context.Background(), "stu-1", "", "csv", "registrar-1")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	body := string(payload)
	assert.Contains(t, body, "Subject,Year,Grade,Result,Origin")
	assert.Contains(t, body, "MAT101 Algebra")
	assert.Contains(t, body, "APPROVED_BY_EQUIVALENCE")
	assert.Contains(t, body, "equivalence of Algebra I")
	assert.Contains(t, body, "Historical average: 8.50")

	require.Len(t, ledger.events, 1)
	assert.Equal(t, models.AuditActionTranscriptIssued, ledger.events[0].Action)
	assert.Equal(t, "registrar-1", ledger.events[0].Actor)
}

func TestTranscriptServiceExportPDF(t *testing.T) {
	svc, _, _ := newTranscriptFixture()

	payload, contentType, err := svc.Export(context.Background(), "stu-1", "", "pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.True(t, strings.HasPrefix(string(payload), "%PDF"))
}

func TestTranscriptServiceExportUnknownFormat(t *testing.T) {
	svc, _, ledger := newTranscriptFixture()

	_, _, err := svc.Export(context.Background(), "stu-1", "", "xml", "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, ledger.events)
}
