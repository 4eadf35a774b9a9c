// Package repository 会话摘要与报警事件的 PostgreSQL 持久化
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"respirosync/internal/models"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository 会话仓库
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// CreateSession 会话开始时写入一行，报警事件依赖该行
func (r *SessionRepository) CreateSession(ctx context.Context, sessionID, deviceID string, startedAt time.Time) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	query := `
		INSERT INTO sleep_sessions (session_id, device_id, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID, deviceID, startedAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// SaveSummary 会话结束时写入摘要（不存在则插入）
func (r *SessionRepository) SaveSummary(ctx context.Context, s *models.SessionSummary) error {
	if s == nil || s.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	stageJSON, err := encodeStageDuration(s.StageDuration)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sleep_sessions (
			session_id,
			device_id,
			started_at,
			ended_at,
			breath_cycles,
			average_bpm,
			apnea_episodes,
			stage_duration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			breath_cycles = EXCLUDED.breath_cycles,
			average_bpm = EXCLUDED.average_bpm,
			apnea_episodes = EXCLUDED.apnea_episodes,
			stage_duration = EXCLUDED.stage_duration
	`
	_, err = r.db.ExecContext(ctx, query,
		s.SessionID,
		s.DeviceID,
		s.StartedAt,
		s.EndedAt,
		s.BreathCycles,
		s.AverageBPM,
		s.ApneaEpisodes,
		stageJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save session summary: %w", err)
	}

	r.logger.Debug("Saved session summary",
		zap.String("session_id", s.SessionID),
		zap.Int("breath_cycles", s.BreathCycles),
	)
	return nil
}

// GetSession 根据 session_id 获取摘要
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	query := `
		SELECT session_id, device_id, started_at, ended_at,
		       breath_cycles, average_bpm, apnea_episodes, stage_duration
		FROM sleep_sessions
		WHERE session_id = $1
	`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListSessions 按设备列出最近的会话
func (r *SessionRepository) ListSessions(ctx context.Context, deviceID string, limit int) ([]*models.SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT session_id, device_id, started_at, ended_at,
		       breath_cycles, average_bpm, apnea_episodes, stage_duration
		FROM sleep_sessions
		WHERE device_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SessionSummary
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// CreateApneaEvent 写入报警事件
func (r *SessionRepository) CreateApneaEvent(ctx context.Context, event *models.ApneaEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}

	query := `
		INSERT INTO apnea_events (
			event_id,
			session_id,
			device_id,
			triggered_at,
			seconds_since_last_breath,
			last_bpm,
			sleep_stage
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.SessionID,
		event.DeviceID,
		event.TriggeredAt,
		event.SecondsSinceLastBreath,
		event.LastBPM,
		event.SleepStage.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to create apnea event: %w", err)
	}
	return nil
}

// ListApneaEvents 列出若干会话的报警事件，按触发时间排序
func (r *SessionRepository) ListApneaEvents(ctx context.Context, sessionIDs ...string) ([]*models.ApneaEvent, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT event_id, session_id, device_id, triggered_at,
		       seconds_since_last_breath, last_bpm, sleep_stage
		FROM apnea_events
		WHERE session_id = ANY($1)
		ORDER BY triggered_at
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(sessionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list apnea events: %w", err)
	}
	defer rows.Close()

	var events []*models.ApneaEvent
	for rows.Next() {
		var (
			e     models.ApneaEvent
			stage string
		)
		if err := rows.Scan(
			&e.EventID,
			&e.SessionID,
			&e.DeviceID,
			&e.TriggeredAt,
			&e.SecondsSinceLastBreath,
			&e.LastBPM,
			&stage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan apnea event: %w", err)
		}
		e.SleepStage = models.ParseSleepStage(stage)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apnea events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.SessionSummary, error) {
	var (
		s         models.SessionSummary
		endedAt   sql.NullTime
		stageJSON []byte
	)
	if err := row.Scan(
		&s.SessionID,
		&s.DeviceID,
		&s.StartedAt,
		&endedAt,
		&s.BreathCycles,
		&s.AverageBPM,
		&s.ApneaEpisodes,
		&stageJSON,
	); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		s.EndedAt = endedAt.Time
	}

	durations, err := decodeStageDuration(stageJSON)
	if err != nil {
		return nil, err
	}
	s.StageDuration = durations
	return &s, nil
}

// stage_duration 以 {"DEEP_SLEEP": 秒数} 形式存储
func encodeStageDuration(d map[models.SleepStage]time.Duration) (string, error) {
	seconds := make(map[string]float64, len(d))
	for stage, dur := range d {
		seconds[stage.String()] = dur.Seconds()
	}
	b, err := json.Marshal(seconds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stage_duration: %w", err)
	}
	return string(b), nil
}

func decodeStageDuration(raw []byte) (map[models.SleepStage]time.Duration, error) {
	out := make(map[models.SleepStage]time.Duration)
	if len(raw) == 0 {
		return out, nil
	}

	var seconds map[string]float64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage_duration: %w", err)
	}
	for name, sec := range seconds {
		out[models.ParseSleepStage(name)] = time.Duration(sec * float64(time.Second))
	}
	return out, nil
}
