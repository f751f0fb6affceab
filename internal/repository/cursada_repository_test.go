package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edugrade/edugrade-api/internal/models"
)

func newCursadaRepoMock(t *testing.T) (*CursadaRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewCursadaRepository(sqlxDB), mock, func() { sqlxDB.Close() }
}

func cursadaColumns() []string {
	return []string{
		"id", "student_id", "subject_id", "academic_year",
		"partial1", "partial1_norm", "partial2", "partial2_norm",
		"final", "final_norm", "makeup", "makeup_norm",
		"flagged", "state", "outcome", "closed_at",
		"source_subject_id", "source_subject_name", "rule_code", "original_grade", "converted_at",
		"created_at", "updated_at",
	}
}

func TestCursadaRepositoryCreate(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectExec(`INSERT INTO cursadas`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	attempt := &models.Cursada{StudentID: "stu-1", SubjectID: "sub-1", Year: 2026}
	err := repo.Create(context.Background(), attempt)
	require.NoError(t, err)
	assert.NotEmpty(t, attempt.ID)
	assert.Equal(t, models.CursadaOpen, attempt.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositoryCreateDuplicateOpen(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectExec(`INSERT INTO cursadas`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "cursadas_one_open"})

	err := repo.Create(context.Background(), &models.Cursada{StudentID: "stu-1", SubjectID: "sub-1", Year: 2026})
	assert.True(t, errors.Is(err, ErrDuplicateOpenAttempt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositorySetGrade(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectExec(`UPDATE cursadas\s+SET final = \$1, final_norm = \$2, flagged = flagged OR \$3`).
		WithArgs("8", 8.0, false, sqlmock.AnyArg(), "stu-1", "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := repo.SetGrade(context.Background(), "stu-1", "sub-1", models.SlotFinal, "8", 8.0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositorySetGradeClosedAttempt(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectExec(`UPDATE cursadas`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows, err := repo.SetGrade(context.Background(), "stu-1", "sub-1", models.SlotMakeup, "7", 7.0, false)
	require.NoError(t, err)
	assert.Zero(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositorySetGradeUnknownSlot(t *testing.T) {
	repo, _, closer := newCursadaRepoMock(t)
	defer closer()

	_, err := repo.SetGrade(context.Background(), "stu-1", "sub-1", models.GradeSlot("oral"), "8", 8.0, false)
	require.Error(t, err)
}

func TestCursadaRepositoryClose(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(cursadaColumns()).AddRow(
		"cur-1", "stu-1", "sub-1", 2026,
		nil, nil, nil, nil,
		"8", 8.0, nil, nil,
		false, "CLOSED", "APPROVED", now,
		nil, nil, nil, nil, nil,
		now, now,
	)
	mock.ExpectQuery(`UPDATE cursadas\s+SET state = 'CLOSED'`).
		WithArgs(4.0, sqlmock.AnyArg(), "stu-1", "sub-1").
		WillReturnRows(rows)

	attempt, err := repo.Close(context.Background(), "stu-1", "sub-1", 4.0)
	require.NoError(t, err)
	assert.Equal(t, models.CursadaClosed, attempt.State)
	require.NotNil(t, attempt.Outcome)
	assert.Equal(t, models.OutcomeApproved, *attempt.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositoryCloseAlreadyClosed(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectQuery(`UPDATE cursadas\s+SET state = 'CLOSED'`).
		WillReturnRows(sqlmock.NewRows(cursadaColumns()))

	_, err := repo.Close(context.Background(), "stu-1", "sub-1", 4.0)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositoryListApproved(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	closedAt := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"subject_id", "subject_name", "final_grade", "closed_at"}).
		AddRow("sub-1", "Algebra", "8", closedAt).
		AddRow("sub-2", "Physics", "B+", closedAt)
	mock.ExpectQuery(`SELECT DISTINCT ON \(c\.subject_id\)`).
		WithArgs("stu-1").
		WillReturnRows(rows)

	approved, err := repo.ListApproved(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, approved, 2)
	assert.Equal(t, "Algebra", approved[0].SubjectName)
	assert.Equal(t, "B+", approved[1].FinalGrade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositoryUpsertEquivalenceRespectsGenuineApproval(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, outcome FROM cursadas`).
		WithArgs("stu-1", "sub-ar-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "outcome"}).AddRow("cur-9", "APPROVED"))
	mock.ExpectCommit()

	written, err := repo.UpsertEquivalence(context.Background(), &models.Cursada{StudentID: "stu-1", SubjectID: "sub-ar-1"})
	require.NoError(t, err)
	assert.False(t, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositoryUpsertEquivalenceInserts(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, outcome FROM cursadas`).
		WithArgs("stu-1", "sub-ar-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "outcome"}))
	mock.ExpectExec(`INSERT INTO cursadas`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempt := &models.Cursada{StudentID: "stu-1", SubjectID: "sub-ar-1", Year: 2026}
	written, err := repo.UpsertEquivalence(context.Background(), attempt)
	require.NoError(t, err)
	assert.True(t, written)
	assert.NotEmpty(t, attempt.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursadaRepositoryUpsertEquivalenceRefreshes(t *testing.T) {
	repo, mock, closer := newCursadaRepoMock(t)
	defer closer()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, outcome FROM cursadas`).
		WithArgs("stu-1", "sub-ar-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "outcome"}).
			AddRow("cur-5", "APPROVED_BY_EQUIVALENCE").
			AddRow("cur-2", "REPROBATED"))
	mock.ExpectExec(`UPDATE cursadas`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempt := &models.Cursada{StudentID: "stu-1", SubjectID: "sub-ar-1", Year: 2026}
	written, err := repo.UpsertEquivalence(context.Background(), attempt)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "cur-5", attempt.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
