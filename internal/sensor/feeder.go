package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"respirosync/internal/models"
)

// Publisher MQTT 发布能力（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// FeederConfig 模拟手机上报参数
type FeederConfig struct {
	Topic        string
	QoS          byte
	SampleRateHz int
	BatchSize    int           // 每条消息包含的采样时刻数
	RevokeAfter  time.Duration // 运行多久后上报权限被撤销，0 不上报
	Synth        SynthConfig
}

// Feeder 以手机端的消息格式发布模拟 IMU 采样，用于联调 MQTTSource
type Feeder struct {
	pub    Publisher
	cfg    FeederConfig
	clock  func() time.Time
	logger *zap.Logger
}

// NewFeeder 创建模拟上报器
func NewFeeder(pub Publisher, cfg FeederConfig, logger *zap.Logger) (*Feeder, error) {
	if cfg.SampleRateHz <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRateHz)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Feeder{
		pub:    pub,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger,
	}, nil
}

// Run 按采样率持续发布，直到 ctx 取消或权限撤销消息发出
func (f *Feeder) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(f.cfg.SampleRateHz)
	batchesPerSecond := float64(f.cfg.SampleRateHz) / float64(f.cfg.BatchSize)
	limiter := rate.NewLimiter(rate.Limit(batchesPerSecond), 1)

	start := f.clock()
	synth := NewSynthesizer(f.cfg.Synth, start)
	at := start
	published := 0

	f.logger.Info("Feeder started",
		zap.String("topic", f.cfg.Topic),
		zap.Int("sample_rate_hz", f.cfg.SampleRateHz),
		zap.Int("batch_size", f.cfg.BatchSize),
	)

	for {
		if err := limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				f.logger.Info("Feeder stopped", zap.Int("messages", published))
				return nil
			}
			return err
		}

		if f.cfg.RevokeAfter > 0 && at.Sub(start) >= f.cfg.RevokeAfter {
			if err := f.publish(IMUMessage{Status: StatusPermissionRevoked}); err != nil {
				return err
			}
			f.logger.Info("Published permission revocation", zap.Int("messages", published))
			return nil
		}

		msg := IMUMessage{Status: StatusOK, Samples: make([]models.MotionSample, 0, 2*f.cfg.BatchSize)}
		for i := 0; i < f.cfg.BatchSize; i++ {
			accel, gyro := synth.Next(at)
			accel.TimestampMS = at.UnixMilli()
			gyro.TimestampMS = at.UnixMilli()
			msg.Samples = append(msg.Samples, accel, gyro)
			at = at.Add(interval)
		}

		if err := f.publish(msg); err != nil {
			return err
		}
		published++
	}
}

func (f *Feeder) publish(msg IMUMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal IMU message: %w", err)
	}
	if err := f.pub.Publish(f.cfg.Topic, f.cfg.QoS, false, payload); err != nil {
		return fmt.Errorf("failed to publish IMU message: %w", err)
	}
	return nil
}
