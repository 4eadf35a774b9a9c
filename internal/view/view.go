// Package view 监测屏幕的无界面渲染：把指标快照转换为屏幕上显示的文本
package view

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"respirosync/internal/models"
)

const (
	StatusActive     = "Session Active"
	StatusNotRunning = "Not Running"

	IdleHint        = "Position phone on chest"
	IdleOrientation = "Vertical orientation, screen facing out"
	ApneaWarning    = "Possible Apnea Detected"
)

// StageText 屏幕上显示的阶段简称
func StageText(stage models.SleepStage) string {
	switch stage {
	case models.StageAwake:
		return "AWAKE"
	case models.StageLightSleep:
		return "LIGHT"
	case models.StageDeepSleep:
		return "DEEP"
	case models.StageREMSleep:
		return "REM"
	default:
		return "UNKNOWN"
	}
}

// Card 一张指标卡片
type Card struct {
	Title string
	Value string
	Unit  string
}

// Screen 一帧屏幕内容
type Screen struct {
	Running bool
	Status  string
	Cards   []Card
	Warning string
	Hints   []string
}

// Render 根据轮询结果渲染一帧；任何错误都显示为空闲状态
func Render(m *models.SleepMetrics, err error) Screen {
	if err != nil || m == nil {
		return Screen{
			Status: StatusNotRunning,
			Hints:  []string{IdleHint, IdleOrientation},
		}
	}

	s := Screen{
		Running: true,
		Status:  StatusActive,
		Cards: []Card{
			{Title: "Breathing Rate", Value: fmt.Sprintf("%.1f", m.BreathingRateBPM), Unit: "BPM"},
			{Title: "Sleep Stage", Value: StageText(m.SleepStage)},
			{Title: "Confidence", Value: fmt.Sprintf("%d%%", int(m.Confidence*100))},
			{Title: "Breaths", Value: fmt.Sprintf("%d", m.BreathCyclesDetected)},
		},
	}
	if m.PossibleApnea {
		s.Warning = ApneaWarning
	}
	return s
}

// String 单行文本形式
func (s Screen) String() string {
	var b strings.Builder
	b.WriteString(s.Status)
	for _, c := range s.Cards {
		b.WriteString(" | ")
		b.WriteString(c.Title)
		b.WriteString(": ")
		b.WriteString(c.Value)
		if c.Unit != "" {
			b.WriteString(" ")
			b.WriteString(c.Unit)
		}
	}
	if s.Warning != "" {
		b.WriteString(" | ")
		b.WriteString(s.Warning)
	}
	for _, h := range s.Hints {
		b.WriteString(" | ")
		b.WriteString(h)
	}
	return b.String()
}

// Console 将每帧屏幕输出到日志
type Console struct {
	logger *zap.Logger
}

// NewConsole 创建控制台渲染 Sink
func NewConsole(logger *zap.Logger) *Console {
	return &Console{logger: logger}
}

// Handle 实现 poller.Sink
func (c *Console) Handle(_ context.Context, m *models.SleepMetrics, err error) {
	screen := Render(m, err)
	if !screen.Running {
		c.logger.Info(screen.String())
		return
	}

	fields := []zap.Field{
		zap.String("session_id", m.SessionID),
		zap.Float64("breathing_rate_bpm", m.BreathingRateBPM),
		zap.String("sleep_stage", m.SleepStage.String()),
		zap.Float64("confidence", m.Confidence),
		zap.Int("breath_cycles", m.BreathCyclesDetected),
		zap.Float64("regularity", m.BreathingRegularity),
		zap.Float64("movement", m.MovementIntensity),
	}
	if screen.Warning != "" {
		c.logger.Warn(screen.String(), append(fields, zap.Duration("since_last_breath", m.SinceLastBreath))...)
		return
	}
	c.logger.Info(screen.String(), fields...)
}
