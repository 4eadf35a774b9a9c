// Package report 会话历史汇总、Excel 导出与摘要上传
package report

import (
	"context"
	"sync"
	"time"

	"respirosync/internal/models"
)

// TimelineRow 时间线中的一行（一次轮询快照）
type TimelineRow struct {
	Timestamp    time.Time
	Elapsed      time.Duration
	BPM          float64
	Stage        models.SleepStage
	Confidence   float64
	Regularity   float64
	Movement     float64
	BreathCycles int
	Apnea        bool
}

// History 收集一个会话内的轮询快照，会话结束时生成摘要
type History struct {
	deviceID string

	mu        sync.Mutex
	sessionID string
	startedAt time.Time
	rows      []TimelineRow
	stageDur  map[models.SleepStage]time.Duration
	bpmSum    float64
	bpmN      int
	episodes  int
	inApnea   bool
}

// NewHistory 创建会话历史
func NewHistory(deviceID string) *History {
	return &History{
		deviceID: deviceID,
		stageDur: make(map[models.SleepStage]time.Duration),
	}
}

// Begin 开始记录新会话
func (h *History) Begin(sessionID string, startedAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked(sessionID, startedAt)
}

func (h *History) resetLocked(sessionID string, startedAt time.Time) {
	h.sessionID = sessionID
	h.startedAt = startedAt
	h.rows = nil
	h.stageDur = make(map[models.SleepStage]time.Duration)
	h.bpmSum = 0
	h.bpmN = 0
	h.episodes = 0
	h.inApnea = false
}

// Handle 实现 poller.Sink；空闲帧不记录，但结束当前呼吸暂停
//
// 与 alarm.ApneaTracker 使用同一规则：错误帧之后再次出现的暂停算新的一次。
func (h *History) Handle(_ context.Context, m *models.SleepMetrics, err error) {
	if err != nil || m == nil {
		h.mu.Lock()
		h.inApnea = false
		h.mu.Unlock()
		return
	}
	h.Record(m)
}

// Record 记录一次快照
func (h *History) Record(m *models.SleepMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recordLocked(m, true)
}

// recordLocked countApnea 为 false 时只更新时间线，不计暂停次数
func (h *History) recordLocked(m *models.SleepMetrics, countApnea bool) {
	if m.SessionID != h.sessionID {
		h.resetLocked(m.SessionID, m.Timestamp.Add(-m.SessionElapsed))
	}

	// 上一帧的阶段持续到本帧
	if n := len(h.rows); n > 0 {
		prev := h.rows[n-1]
		if dt := m.SessionElapsed - prev.Elapsed; dt > 0 {
			h.stageDur[prev.Stage] += dt
		}
	}
	if countApnea {
		if m.PossibleApnea && !h.inApnea {
			h.episodes++
		}
		h.inApnea = m.PossibleApnea
	}

	if m.BreathingRateBPM > 0 {
		h.bpmSum += m.BreathingRateBPM
		h.bpmN++
	}

	h.rows = append(h.rows, TimelineRow{
		Timestamp:    m.Timestamp,
		Elapsed:      m.SessionElapsed,
		BPM:          m.BreathingRateBPM,
		Stage:        m.SleepStage,
		Confidence:   m.Confidence,
		Regularity:   m.BreathingRegularity,
		Movement:     m.MovementIntensity,
		BreathCycles: m.BreathCyclesDetected,
		Apnea:        m.PossibleApnea,
	})
}

// Timeline 时间线副本
func (h *History) Timeline() []TimelineRow {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TimelineRow, len(h.rows))
	copy(out, h.rows)
	return out
}

// Summary 生成会话摘要；final 为停止时的最终快照，可为 nil
//
// final 只补齐时间线与阶段时长。轮询之外没有告警事件，暂停次数不因它增加。
func (h *History) Summary(final *models.SleepMetrics, endedAt time.Time) *models.SessionSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	if final != nil {
		h.recordLocked(final, false)
	}

	s := &models.SessionSummary{
		SessionID:     h.sessionID,
		DeviceID:      h.deviceID,
		StartedAt:     h.startedAt,
		EndedAt:       endedAt,
		ApneaEpisodes: h.episodes,
		StageDuration: make(map[models.SleepStage]time.Duration, len(h.stageDur)),
	}
	for stage, d := range h.stageDur {
		s.StageDuration[stage] = d
	}
	if n := len(h.rows); n > 0 {
		s.BreathCycles = h.rows[n-1].BreathCycles
	}
	if h.bpmN > 0 {
		s.AverageBPM = h.bpmSum / float64(h.bpmN)
	}
	return s
}
