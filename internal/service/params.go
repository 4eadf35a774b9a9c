package service

import (
	"time"

	"respirosync/internal/classifier"
	"respirosync/internal/config"
	"respirosync/internal/sensor"
)

// ClassifierParams 由配置生成分类器参数，未配置的项沿用默认值
func ClassifierParams(cfg *config.Config) classifier.Params {
	p := classifier.DefaultParams()
	if cfg.Engine.WarmupSeconds >= 0 {
		p.Warmup = seconds(cfg.Engine.WarmupSeconds)
	}
	if cfg.Engine.ApneaTimeoutSeconds > 0 {
		p.ApneaTimeout = seconds(cfg.Engine.ApneaTimeoutSeconds)
	}
	if cfg.Engine.RateWindowSeconds > 0 {
		p.RateWindow = seconds(cfg.Engine.RateWindowSeconds)
	}
	if cfg.Engine.MovementWindowSeconds > 0 {
		p.MovementWindow = seconds(cfg.Engine.MovementWindowSeconds)
	}
	if cfg.Engine.RetentionSeconds > 0 {
		p.Retention = seconds(cfg.Engine.RetentionSeconds)
	}
	if cfg.Engine.Hysteresis > 0 {
		p.Hysteresis = cfg.Engine.Hysteresis
	}
	return p
}

// SynthConfig 由配置生成模拟胸腔运动参数
func SynthConfig(cfg *config.Config) sensor.SynthConfig {
	sim := cfg.Sensor.Simulated
	return sensor.SynthConfig{
		BreathingRateBPM: sim.BreathingRateBPM,
		Amplitude:        sim.Amplitude,
		Noise:            sim.Noise,
		Movement:         sim.Movement,
		PauseEvery:       seconds(sim.PauseEvery),
		PauseDuration:    seconds(sim.PauseDuration),
		Seed:             time.Now().UnixNano(),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
