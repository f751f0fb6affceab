package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/edugrade/edugrade-api/internal/models"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
	"github.com/edugrade/edugrade-api/pkg/export"
)

// Transcript is one student's academic history, ready for rendering.
type Transcript struct {
	Student  *models.Student          `json:"student"`
	Attempts []models.CursadaDetail   `json:"attempts"`
	Approved []models.ApprovedAttempt `json:"approved"`

	// HistoricalAverage is the mean of the deciding normalized grades over
	// approved subjects, latest re-take only. Zero when nothing is approved.
	HistoricalAverage float64 `json:"historical_average"`

	// Career is set only when the transcript was requested against a career
	// plan.
	Career *CareerProgress `json:"career_progress,omitempty"`
}

// CareerProgress measures a student's advance through a career plan.
type CareerProgress struct {
	CareerID         string  `json:"career_id"`
	CareerName       string  `json:"career_name"`
	TotalSubjects    int     `json:"total_subjects"`
	ApprovedSubjects int     `json:"approved_subjects"`
	CompletionPct    float64 `json:"completion_pct"`
}

// TranscriptService assembles and exports student transcripts. Issuing one
// is itself an auditable event on the student's trail.
type TranscriptService struct {
	students studentReader
	attempts cursadaRepo
	careers  careerAdminRepo
	audit    *AuditService
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewTranscriptService constructs TranscriptService.
func NewTranscriptService(students studentReader, attempts cursadaRepo, careers careerAdminRepo, audit *AuditService, logger *zap.Logger) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptService{
		students: students,
		attempts: attempts,
		careers:  careers,
		audit:    audit,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// Build assembles the transcript from the trajectory graph. A non-empty
// careerID additionally measures progress through that career's plan.
func (s *TranscriptService) Build(ctx context.Context, studentID, careerID string) (*Transcript, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempts")
	}
	approved, err := s.attempts.ListApproved(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approved attempts")
	}
	transcript := &Transcript{
		Student:           student,
		Attempts:          attempts,
		Approved:          approved,
		HistoricalAverage: historicalAverage(attempts),
	}
	if careerID != "" {
		progress, err := s.careerProgress(ctx, careerID, approved)
		if err != nil {
			return nil, err
		}
		transcript.Career = progress
	}
	return transcript, nil
}

// historicalAverage averages the deciding norm over approved attempts,
// keeping only the latest re-take per subject. Attempts arrive newest first.
func historicalAverage(attempts []models.CursadaDetail) float64 {
	seen := make(map[string]struct{})
	var sum float64
	var n int
	for _, attempt := range attempts {
		if attempt.Outcome == nil {
			continue
		}
		if *attempt.Outcome != models.OutcomeApproved && *attempt.Outcome != models.OutcomeApprovedByEquivalence {
			continue
		}
		if _, dup := seen[attempt.SubjectID]; dup {
			continue
		}
		seen[attempt.SubjectID] = struct{}{}
		sum += decidingNorm(&attempt.Cursada)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (s *TranscriptService) careerProgress(ctx context.Context, careerID string, approved []models.ApprovedAttempt) (*CareerProgress, error) {
	career, err := s.careers.FindByID(ctx, careerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "career not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load career")
	}
	plan, err := s.careers.ListSubjects(ctx, careerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load career plan")
	}
	approvedIDs := make(map[string]struct{}, len(approved))
	for _, attempt := range approved {
		approvedIDs[attempt.SubjectID] = struct{}{}
	}
	progress := &CareerProgress{
		CareerID:      career.ID,
		CareerName:    career.Name,
		TotalSubjects: len(plan),
	}
	for _, subject := range plan {
		if _, ok := approvedIDs[subject.ID]; ok {
			progress.ApprovedSubjects++
		}
	}
	if progress.TotalSubjects > 0 {
		progress.CompletionPct = float64(progress.ApprovedSubjects) / float64(progress.TotalSubjects) * 100
	}
	return progress, nil
}

// Export renders the transcript in the requested format ("csv" or "pdf")
// and records TRANSCRIPT_ISSUED on the ledger.
func (s *TranscriptService) Export(ctx context.Context, studentID, careerID, format, actor string) ([]byte, string, error) {
	transcript, err := s.Build(ctx, studentID, careerID)
	if err != nil {
		return nil, "", err
	}
	data := transcriptDataset(transcript)
	var (
		payload     []byte
		contentType string
	)
	switch strings.ToLower(format) {
	case "csv":
		payload, err = s.csv.Render(data)
		contentType = "text/csv"
	case "pdf":
		title := fmt.Sprintf("Academic Transcript - %s %s", transcript.Student.FirstName, transcript.Student.LastName)
		payload, err = s.pdf.Render(data, title)
		contentType = "application/pdf"
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported transcript format "+format)
	}
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render transcript")
	}
	s.audit.Record(ctx, AppendEntry{
		StudentID:   studentID,
		Action:      models.AuditActionTranscriptIssued,
		Actor:       actor,
		Description: "transcript exported as " + strings.ToLower(format),
	})
	return payload, contentType, nil
}

func transcriptDataset(t *Transcript) export.Dataset {
	rows := make([]map[string]string, 0, len(t.Attempts))
	for _, attempt := range t.Attempts {
		outcome := string(attempt.State)
		if attempt.Outcome != nil {
			outcome = string(*attempt.Outcome)
		}
		origin := "direct"
		if attempt.IsEquivalence() && attempt.SourceSubjectName != nil {
			origin = "equivalence of " + *attempt.SourceSubjectName
		}
		rows = append(rows, map[string]string{
			"Subject": fmt.Sprintf("%s %s", attempt.SubjectCode, attempt.SubjectName),
			"Year":    fmt.Sprintf("%d", attempt.Year),
			"Grade":   decidingGrade(&attempt.Cursada),
			"Result":  outcome,
			"Origin":  origin,
		})
	}
	summary := []string{
		fmt.Sprintf("Approved subjects: %d", len(t.Approved)),
		fmt.Sprintf("Total attempts: %d", len(t.Attempts)),
		fmt.Sprintf("Historical average: %.2f", t.HistoricalAverage),
	}
	if t.Career != nil {
		summary = append(summary, fmt.Sprintf("Career %s: %d/%d subjects (%.1f%%)",
			t.Career.CareerName, t.Career.ApprovedSubjects, t.Career.TotalSubjects, t.Career.CompletionPct))
	}
	return export.Dataset{
		Headers: []string{"Subject", "Year", "Grade", "Result", "Origin"},
		Rows:    rows,
		Summary: summary,
	}
}
