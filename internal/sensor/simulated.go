package sensor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SimulatedSource 按固定采样率推送模拟胸腔运动
type SimulatedSource struct {
	synth        SynthConfig
	sampleRateHz int
	clock        func() time.Time
	logger       *zap.Logger
}

// NewSimulatedSource 创建模拟来源
func NewSimulatedSource(cfg SynthConfig, sampleRateHz int, logger *zap.Logger) *SimulatedSource {
	return &SimulatedSource{
		synth:        cfg,
		sampleRateHz: sampleRateHz,
		clock:        time.Now,
		logger:       logger,
	}
}

// Subscribe 启动采样 goroutine
func (s *SimulatedSource) Subscribe(ctx context.Context, onSample SampleHandler, onError ErrorHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.sampleRateHz <= 0 {
		return nil, ErrSensorUnavailable
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &simulatedSubscription{cancel: cancel}
	synth := NewSynthesizer(s.synth, s.clock())
	interval := time.Second / time.Duration(s.sampleRateHz)

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				accel, gyro := synth.Next(s.clock())
				onSample(accel)
				onSample(gyro)
			}
		}
	}()

	s.logger.Info("Simulated sensor started",
		zap.Int("sample_rate_hz", s.sampleRateHz),
		zap.Float64("breathing_rate_bpm", s.synth.BreathingRateBPM),
	)
	return sub, nil
}

type simulatedSubscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Close 停止采样 goroutine 并等待退出
func (s *simulatedSubscription) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
