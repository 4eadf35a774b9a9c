// Package alarm 疑似呼吸暂停报警：检测 PossibleApnea 的上升沿并生成事件
package alarm

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"respirosync/internal/models"
)

// EventStore 事件持久化（repository.SessionRepository 实现）
type EventStore interface {
	CreateApneaEvent(ctx context.Context, event *models.ApneaEvent) error
}

// StreamWriter 事件流写入（publisher.RedisStore 实现）
type StreamWriter interface {
	PublishJSON(ctx context.Context, stream string, data interface{}) (string, error)
}

// ApneaTracker 每个呼吸暂停片段只产生一个事件
type ApneaTracker struct {
	builder *ApneaEventBuilder
	store   EventStore
	streams StreamWriter
	stream  string
	onEvent func(*models.ApneaEvent)
	logger  *zap.Logger

	mu        sync.Mutex
	sessionID string
	active    bool
	episodes  int
}

// Option 可选配置
type Option func(*ApneaTracker)

// WithStore 持久化事件
func WithStore(store EventStore) Option {
	return func(t *ApneaTracker) { t.store = store }
}

// WithStream 发布事件到指定 stream
func WithStream(streams StreamWriter, stream string) Option {
	return func(t *ApneaTracker) {
		t.streams = streams
		t.stream = stream
	}
}

// WithOnEvent 事件产生后的回调
func WithOnEvent(fn func(*models.ApneaEvent)) Option {
	return func(t *ApneaTracker) { t.onEvent = fn }
}

// NewApneaTracker 创建报警跟踪器
func NewApneaTracker(deviceID string, logger *zap.Logger, opts ...Option) *ApneaTracker {
	t := &ApneaTracker{
		builder: NewApneaEventBuilder(deviceID),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe 处理一次指标快照；在 false→true 上升沿返回新事件，否则返回 nil
func (t *ApneaTracker) Observe(m *models.SleepMetrics) *models.ApneaEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.SessionID != t.sessionID {
		t.sessionID = m.SessionID
		t.active = false
		t.episodes = 0
	}

	if !m.PossibleApnea {
		t.active = false
		return nil
	}
	if t.active {
		return nil
	}

	t.active = true
	t.episodes++
	return t.builder.Build(m)
}

// Reset 会话结束时清空状态
func (t *ApneaTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = ""
	t.active = false
	t.episodes = 0
}

// Episodes 当前会话已产生的事件数
func (t *ApneaTracker) Episodes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episodes
}

// Handle 实现 poller.Sink
func (t *ApneaTracker) Handle(ctx context.Context, m *models.SleepMetrics, err error) {
	if err != nil || m == nil {
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
		return
	}

	event := t.Observe(m)
	if event == nil {
		return
	}

	t.logger.Warn("Possible apnea detected",
		zap.String("event_id", event.EventID),
		zap.String("session_id", event.SessionID),
		zap.String("device_id", event.DeviceID),
		zap.Float64("seconds_since_last_breath", event.SecondsSinceLastBreath),
		zap.Float64("last_bpm", event.LastBPM),
	)

	if t.streams != nil {
		if _, err := t.streams.PublishJSON(ctx, t.stream, event); err != nil {
			t.logger.Error("Failed to publish apnea event",
				zap.String("event_id", event.EventID),
				zap.String("stream", t.stream),
				zap.Error(err),
			)
		}
	}
	if t.store != nil {
		if err := t.store.CreateApneaEvent(ctx, event); err != nil {
			t.logger.Error("Failed to store apnea event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}
	if t.onEvent != nil {
		t.onEvent(event)
	}
}
