package alarm

import (
	"time"

	"github.com/google/uuid"

	"respirosync/internal/models"
)

// ApneaEventBuilder 疑似呼吸暂停事件构建器
type ApneaEventBuilder struct {
	deviceID string
}

// NewApneaEventBuilder 创建事件构建器
func NewApneaEventBuilder(deviceID string) *ApneaEventBuilder {
	return &ApneaEventBuilder{deviceID: deviceID}
}

// Build 根据触发时的指标快照构建事件
func (b *ApneaEventBuilder) Build(m *models.SleepMetrics) *models.ApneaEvent {
	triggeredAt := m.Timestamp
	if triggeredAt.IsZero() {
		triggeredAt = time.Now()
	}

	return &models.ApneaEvent{
		EventID:                uuid.New().String(),
		SessionID:              m.SessionID,
		DeviceID:               b.deviceID,
		TriggeredAt:            triggeredAt,
		SecondsSinceLastBreath: m.SinceLastBreath.Seconds(),
		LastBPM:                m.BreathingRateBPM,
		SleepStage:             m.SleepStage,
	}
}
