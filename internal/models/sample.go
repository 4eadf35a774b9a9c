package models

import "time"

// SampleKind 采样类型
type SampleKind string

const (
	SampleAccel SampleKind = "accel"
	SampleGyro  SampleKind = "gyro"
)

// MotionSample 单条 IMU 采样
// 加速度单位 m/s²，陀螺仪单位 rad/s（或设备原生单位）
type MotionSample struct {
	Kind      SampleKind `json:"kind"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Z         float64    `json:"z"`
	Timestamp time.Time  `json:"-"`
	// TimestampMS 线上格式使用毫秒时间戳
	TimestampMS int64 `json:"timestamp_ms"`
}

// At 返回采样时间（优先使用 Timestamp，其次 TimestampMS）
func (s MotionSample) At() time.Time {
	if !s.Timestamp.IsZero() {
		return s.Timestamp
	}
	return time.UnixMilli(s.TimestampMS)
}
