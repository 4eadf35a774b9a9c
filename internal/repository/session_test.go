package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"respirosync/internal/models"
)

func setupMockSessionDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SessionRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewSessionRepository(db, zap.NewNop())
	return db, mock, repo
}

var sessionColumns = []string{
	"session_id", "device_id", "started_at", "ended_at",
	"breath_cycles", "average_bpm", "apnea_episodes", "stage_duration",
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sleep_sessions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession_Success(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	sessionID := uuid.New().String()
	now := time.Now()

	mock.ExpectExec(`INSERT INTO sleep_sessions`).
		WithArgs(sessionID, "chest-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateSession(context.Background(), sessionID, "chest-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession_EmptyID(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	err := repo.CreateSession(context.Background(), "", "chest-1", time.Now())
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSummary_Success(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	start := time.Now().Add(-time.Hour)
	end := time.Now()
	s := &models.SessionSummary{
		SessionID:     uuid.New().String(),
		DeviceID:      "chest-1",
		StartedAt:     start,
		EndedAt:       end,
		BreathCycles:  840,
		AverageBPM:    14,
		ApneaEpisodes: 2,
		StageDuration: map[models.SleepStage]time.Duration{
			models.StageDeepSleep: 90 * time.Second,
		},
	}

	mock.ExpectExec(`ON CONFLICT \(session_id\) DO UPDATE`).
		WithArgs(s.SessionID, "chest-1", start, end, 840, 14.0, 2, `{"DEEP_SLEEP":90}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveSummary(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_Success(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	sessionID := uuid.New().String()
	start := time.Now().Add(-time.Hour)
	end := time.Now()

	rows := sqlmock.NewRows(sessionColumns).AddRow(
		sessionID, "chest-1", start, end, 100, 12.5, 1, []byte(`{"REM_SLEEP":30,"AWAKE":5.5}`),
	)
	mock.ExpectQuery(`FROM sleep_sessions`).
		WithArgs(sessionID).
		WillReturnRows(rows)

	s, err := repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, s.SessionID)
	assert.Equal(t, 100, s.BreathCycles)
	assert.Equal(t, 30*time.Second, s.StageDuration[models.StageREMSleep])
	assert.Equal(t, 5500*time.Millisecond, s.StageDuration[models.StageAwake])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_NotFound(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM sleep_sessions`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	_, err := repo.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessions_OpenSession(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	start := time.Now()
	rows := sqlmock.NewRows(sessionColumns).
		AddRow("s-2", "chest-1", start, nil, 0, 0.0, 0, []byte(`{}`)).
		AddRow("s-1", "chest-1", start.Add(-time.Hour), start.Add(-time.Minute), 10, 13.0, 0, []byte(`{}`))
	mock.ExpectQuery(`FROM sleep_sessions`).
		WithArgs("chest-1", 20).
		WillReturnRows(rows)

	sessions, err := repo.ListSessions(context.Background(), "chest-1", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].EndedAt.IsZero())
	assert.Equal(t, 10, sessions[1].BreathCycles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateApneaEvent_Success(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	now := time.Now()
	event := &models.ApneaEvent{
		EventID:                uuid.New().String(),
		SessionID:              "s-1",
		DeviceID:               "chest-1",
		TriggeredAt:            now,
		SecondsSinceLastBreath: 11.5,
		LastBPM:                13,
		SleepStage:             models.StageDeepSleep,
	}

	mock.ExpectExec(`INSERT INTO apnea_events`).
		WithArgs(event.EventID, "s-1", "chest-1", now, 11.5, 13.0, "DEEP_SLEEP").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateApneaEvent(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListApneaEvents(t *testing.T) {
	db, mock, repo := setupMockSessionDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"event_id", "session_id", "device_id", "triggered_at",
		"seconds_since_last_breath", "last_bpm", "sleep_stage",
	}).AddRow("e-1", "s-1", "chest-1", now, 10.0, 12.0, "REM_SLEEP")

	mock.ExpectQuery(`FROM apnea_events`).
		WithArgs(pq.Array([]string{"s-1", "s-2"})).
		WillReturnRows(rows)

	events, err := repo.ListApneaEvents(context.Background(), "s-1", "s-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StageREMSleep, events[0].SleepStage)
	require.NoError(t, mock.ExpectationsWereMet())

	none, err := repo.ListApneaEvents(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, none)
}
