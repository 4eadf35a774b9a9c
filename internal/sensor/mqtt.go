package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	mqttcommon "respirosync/common/mqtt"
	"respirosync/internal/models"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现，测试中可替换）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// ConnectionWatcher 连接断开通知（common/mqtt.Client 实现）
type ConnectionWatcher interface {
	OnConnectionLost(handler mqttcommon.ConnectionLostHandler) (remove func())
}

// MaxBadMessages 连续无法解析的消息达到该数量时判定通道不可用
const MaxBadMessages = 3

// 手机端上报的状态字段
const (
	StatusOK                = "ok"
	StatusPermissionRevoked = "permission_revoked"
	StatusSensorUnavailable = "sensor_unavailable"
)

// IMUMessage MQTT 采样消息格式
//
//	{"status":"ok","samples":[{"kind":"accel","x":0,"y":9.8,"z":0.02,"timestamp_ms":1700000000000}]}
type IMUMessage struct {
	Status  string                `json:"status,omitempty"`
	Samples []models.MotionSample `json:"samples"`
}

// MQTTSource 订阅手机端上报的 IMU 采样
//
// 设备时间戳在首条采样时对齐到本地时钟，保证与引擎查询时钟一致。
type MQTTSource struct {
	client Subscriber
	topic  string
	qos    byte
	clock  func() time.Time
	logger *zap.Logger
}

// NewMQTTSource 创建 MQTT 来源
func NewMQTTSource(client Subscriber, topic string, qos byte, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		client: client,
		topic:  topic,
		qos:    qos,
		clock:  time.Now,
		logger: logger,
	}
}

// Subscribe 订阅采样主题
func (s *MQTTSource) Subscribe(ctx context.Context, onSample SampleHandler, onError ErrorHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &mqttSubscription{
		source:   s,
		onSample: onSample,
		onError:  onError,
	}
	if err := s.client.Subscribe(s.topic, s.qos, sub.handle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	if w, ok := s.client.(ConnectionWatcher); ok {
		sub.removeHook = w.OnConnectionLost(sub.connectionLost)
	}

	s.logger.Info("Subscribed to sensor topic", zap.String("topic", s.topic))
	return sub, nil
}

type mqttSubscription struct {
	source   *MQTTSource
	onSample SampleHandler
	onError  ErrorHandler

	// 回调期间持有读锁，Close 持写锁，保证 Close 返回后无回调
	mu     sync.RWMutex
	closed bool

	offsetOnce sync.Once
	offset     time.Duration

	badMessages atomic.Int32
	removeHook  func()
}

func (m *mqttSubscription) handle(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}

	var msg IMUMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return m.badMessage(fmt.Errorf("failed to unmarshal IMU message: %w", err))
	}

	switch msg.Status {
	case "", StatusOK:
	case StatusPermissionRevoked:
		m.onError(ErrPermissionDenied)
		return nil
	case StatusSensorUnavailable:
		m.onError(ErrSensorUnavailable)
		return nil
	default:
		return m.badMessage(fmt.Errorf("unknown IMU status %q on topic %s", msg.Status, topic))
	}
	m.badMessages.Store(0)

	for _, sample := range msg.Samples {
		if sample.Kind != models.SampleAccel && sample.Kind != models.SampleGyro {
			continue
		}
		sample.Timestamp = m.rebase(sample.At())
		m.onSample(sample)
	}
	return nil
}

// badMessage 累计连续错误消息，达到 MaxBadMessages 时上报通道不可用
func (m *mqttSubscription) badMessage(err error) error {
	if m.badMessages.Add(1) == MaxBadMessages {
		m.onError(fmt.Errorf("%w: %v", ErrSensorUnavailable, err))
	}
	return err
}

func (m *mqttSubscription) connectionLost(err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.onError(fmt.Errorf("%w: mqtt connection lost: %v", ErrSensorUnavailable, err))
}

// rebase 将设备时间换算到本地时钟（以首条采样对齐）
func (m *mqttSubscription) rebase(deviceTime time.Time) time.Time {
	m.offsetOnce.Do(func() {
		m.offset = m.source.clock().Sub(deviceTime)
	})
	return deviceTime.Add(m.offset)
}

// Close 取消订阅并等待进行中的回调结束
func (m *mqttSubscription) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.removeHook != nil {
		m.removeHook()
	}
	if err := m.source.client.Unsubscribe(m.source.topic); err != nil {
		return fmt.Errorf("failed to unsubscribe sensor topic: %w", err)
	}
	return nil
}
