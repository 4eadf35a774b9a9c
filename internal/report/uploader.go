package report

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"respirosync/internal/models"
)

// SessionReport 上传的会话摘要
type SessionReport struct {
	SessionID       string             `json:"session_id"`
	DeviceID        string             `json:"device_id"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         time.Time          `json:"ended_at"`
	DurationSeconds float64            `json:"duration_seconds"`
	BreathCycles    int                `json:"breath_cycles"`
	AverageBPM      float64            `json:"average_bpm"`
	ApneaEpisodes   int                `json:"apnea_episodes"`
	StageSeconds    map[string]float64 `json:"stage_seconds"`
}

// NewSessionReport 从摘要构建上传内容
func NewSessionReport(s *models.SessionSummary) *SessionReport {
	r := &SessionReport{
		SessionID:       s.SessionID,
		DeviceID:        s.DeviceID,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.Duration().Seconds(),
		BreathCycles:    s.BreathCycles,
		AverageBPM:      s.AverageBPM,
		ApneaEpisodes:   s.ApneaEpisodes,
		StageSeconds:    make(map[string]float64, len(s.StageDuration)),
	}
	for stage, d := range s.StageDuration {
		r.StageSeconds[stage.String()] = d.Seconds()
	}
	return r
}

// Uploader 会话摘要上传客户端
type Uploader struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewUploader 创建上传客户端
func NewUploader(url string, timeout time.Duration, logger *zap.Logger) *Uploader {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Uploader{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Upload 上传会话摘要，非 2xx 视为失败
func (u *Uploader) Upload(ctx context.Context, s *models.SessionSummary) error {
	report := NewSessionReport(s)

	resp, err := u.httpClient.R().
		SetContext(ctx).
		SetBody(report).
		Post(u.url)
	if err != nil {
		u.logger.Error("Report upload failed",
			zap.String("session_id", s.SessionID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to upload report: %w", err)
	}

	if resp.IsError() {
		u.logger.Error("Report endpoint returned error",
			zap.String("session_id", s.SessionID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("report endpoint error: status %d", resp.StatusCode())
	}

	u.logger.Info("Uploaded session report",
		zap.String("session_id", s.SessionID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
