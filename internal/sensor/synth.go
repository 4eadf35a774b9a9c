package sensor

import (
	"math"
	"math/rand"
	"time"

	"respirosync/internal/models"
)

const gravity = 9.81

// SynthConfig 模拟胸腔运动参数
type SynthConfig struct {
	BreathingRateBPM float64
	Amplitude        float64       // z 轴呼吸起伏幅值（m/s²）
	Noise            float64       // 各轴均匀噪声幅值
	Movement         float64       // 陀螺仪体动幅值（rad/s）
	PauseEvery       time.Duration // 每隔多久插入一次呼吸暂停，0 不插入
	PauseDuration    time.Duration
	Seed             int64
}

// Synthesizer 生成竖直佩戴、屏幕朝外的手机 IMU 采样
//
// 重力落在 y 轴，呼吸起伏落在 z 轴。呼吸暂停期间相位停止推进。
type Synthesizer struct {
	cfg   SynthConfig
	rng   *rand.Rand
	start time.Time
	last  time.Time
	phase float64
}

// NewSynthesizer 创建模拟器，start 为第一条采样时间
func NewSynthesizer(cfg SynthConfig, start time.Time) *Synthesizer {
	return &Synthesizer{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		start: start,
		last:  start,
	}
}

// InPause 判断 at 是否处于模拟呼吸暂停区间
func (s *Synthesizer) InPause(at time.Time) bool {
	if s.cfg.PauseEvery <= 0 || s.cfg.PauseDuration <= 0 {
		return false
	}
	cycle := s.cfg.PauseEvery + s.cfg.PauseDuration
	return at.Sub(s.start)%cycle >= s.cfg.PauseEvery
}

// Next 生成 at 时刻的一对加速度/陀螺仪采样
func (s *Synthesizer) Next(at time.Time) (accel, gyro models.MotionSample) {
	dt := at.Sub(s.last).Seconds()
	if dt > 0 && !s.InPause(at) && s.cfg.BreathingRateBPM > 0 {
		s.phase += 2 * math.Pi * dt * s.cfg.BreathingRateBPM / 60
	}
	if dt > 0 {
		s.last = at
	}

	accel = models.MotionSample{
		Kind:      models.SampleAccel,
		X:         s.noise(),
		Y:         gravity + s.noise(),
		Z:         s.cfg.Amplitude*math.Sin(s.phase) + s.noise(),
		Timestamp: at,
	}
	gyro = models.MotionSample{
		Kind:      models.SampleGyro,
		X:         s.cfg.Movement * s.rng.Float64(),
		Y:         s.cfg.Movement * s.rng.Float64(),
		Z:         s.cfg.Movement * s.rng.Float64(),
		Timestamp: at,
	}
	return accel, gyro
}

func (s *Synthesizer) noise() float64 {
	if s.cfg.Noise == 0 {
		return 0
	}
	return (s.rng.Float64()*2 - 1) * s.cfg.Noise
}
