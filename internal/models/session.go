package models

import "time"

// SessionSummary 会话结束时的摘要（对应 sleep_sessions 表）
type SessionSummary struct {
	SessionID     string                       `json:"session_id" db:"session_id"`
	DeviceID      string                       `json:"device_id" db:"device_id"`
	StartedAt     time.Time                    `json:"started_at" db:"started_at"`
	EndedAt       time.Time                    `json:"ended_at" db:"ended_at"`
	BreathCycles  int                          `json:"breath_cycles" db:"breath_cycles"`
	AverageBPM    float64                      `json:"average_bpm" db:"average_bpm"`
	ApneaEpisodes int                          `json:"apnea_episodes" db:"apnea_episodes"`
	StageDuration map[SleepStage]time.Duration `json:"stage_duration" db:"stage_duration"` // JSONB
}

// Duration 会话时长
func (s *SessionSummary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// ApneaEvent 疑似呼吸暂停事件（对应 apnea_events 表）
type ApneaEvent struct {
	EventID                string     `json:"event_id" db:"event_id"`
	SessionID              string     `json:"session_id" db:"session_id"`
	DeviceID               string     `json:"device_id" db:"device_id"`
	TriggeredAt            time.Time  `json:"triggered_at" db:"triggered_at"`
	SecondsSinceLastBreath float64    `json:"seconds_since_last_breath" db:"seconds_since_last_breath"`
	LastBPM                float64    `json:"last_bpm" db:"last_bpm"`
	SleepStage             SleepStage `json:"sleep_stage" db:"sleep_stage"`
}
