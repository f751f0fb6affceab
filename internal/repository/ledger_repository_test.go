package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edugrade/edugrade-api/internal/models"
)

func newLedgerRepoMock(t *testing.T) (*LedgerRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewLedgerRepository(sqlxDB), mock, func() { sqlxDB.Close() }
}

func ledgerEvent() *models.AuditEvent {
	return &models.AuditEvent{
		StudentID:   "stu-1",
		CreatedAt:   time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		EventID:     "evt-1",
		Action:      models.AuditActionEnrolled,
		Actor:       "registrar-1",
		Description: "enrolled in algebra",
		Hash:        "deadbeef",
	}
}

func TestLedgerRepositoryAppendWritesBothTables(t *testing.T) {
	repo, mock, closer := newLedgerRepoMock(t)
	defer closer()

	event := ledgerEvent()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_events `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_events_by_date`).
		WithArgs(day, event.CreatedAt, event.EventID, event.StudentID, event.Action, event.Actor).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryAppendRollsBackOnIndexFailure(t *testing.T) {
	repo, mock, closer := newLedgerRepoMock(t)
	defer closer()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_events `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_events_by_date`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Append(context.Background(), ledgerEvent())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryTrail(t *testing.T) {
	repo, mock, closer := newLedgerRepoMock(t)
	defer closer()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"student_id", "created_at", "event_id", "action", "actor", "grade", "description", "payload", "hash"}).
		AddRow("stu-1", now, "evt-2", models.AuditActionCursadaClosed, "system", "8", "attempt closed", []byte(`{}`), "hash-2").
		AddRow("stu-1", now.Add(-time.Hour), "evt-1", models.AuditActionEnrolled, "system", "", "enrolled", nil, "hash-1")
	mock.ExpectQuery(`SELECT student_id, created_at, event_id, action, actor, grade, description, payload, hash`).
		WithArgs("stu-1", 50).
		WillReturnRows(rows)

	events, err := repo.Trail(context.Background(), "stu-1", 50)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-2", events[0].EventID)
	assert.Equal(t, models.AuditActionCursadaClosed, events[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryByDateRange(t *testing.T) {
	repo, mock, closer := newLedgerRepoMock(t)
	defer closer()

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	rows := sqlmock.NewRows([]string{"student_id", "created_at", "event_id", "action", "actor"}).
		AddRow("stu-1", from.Add(time.Hour), "evt-1", models.AuditActionGradeRecorded, "prof-9")
	mock.ExpectQuery(`SELECT student_id, created_at, event_id, action, actor`).
		WithArgs(from, to, 100).
		WillReturnRows(rows)

	events, err := repo.ByDateRange(context.Background(), from, to, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditActionGradeRecorded, events[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}
