package repository

// Schema 会话与报警事件表结构
const Schema = `
CREATE TABLE IF NOT EXISTS sleep_sessions (
	session_id      TEXT PRIMARY KEY,
	device_id       TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ,
	breath_cycles   INTEGER NOT NULL DEFAULT 0,
	average_bpm     DOUBLE PRECISION NOT NULL DEFAULT 0,
	apnea_episodes  INTEGER NOT NULL DEFAULT 0,
	stage_duration  JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS apnea_events (
	event_id                   TEXT PRIMARY KEY,
	session_id                 TEXT NOT NULL REFERENCES sleep_sessions(session_id) ON DELETE CASCADE,
	device_id                  TEXT NOT NULL,
	triggered_at               TIMESTAMPTZ NOT NULL,
	seconds_since_last_breath  DOUBLE PRECISION NOT NULL,
	last_bpm                   DOUBLE PRECISION NOT NULL,
	sleep_stage                TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_apnea_events_session ON apnea_events (session_id, triggered_at);
`
