package classifier

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// MovementTracker 体动强度估计（陀螺仪角速度 + 加速度变化率）
type MovementTracker struct {
	params Params

	gyro series
	jerk series

	hasAccel  bool
	lastAccel [3]float64
	lastAt    time.Time
}

// NewMovementTracker 创建体动跟踪器
func NewMovementTracker(params Params) *MovementTracker {
	return &MovementTracker{params: params}
}

// AddGyro 输入陀螺仪采样
func (m *MovementTracker) AddGyro(x, y, z float64, at time.Time) {
	m.gyro.push(at, magnitude(x, y, z))
	m.gyro.prune(at.Add(-m.params.MovementWindow))
}

// AddAccel 输入加速度采样，用于计算加速度变化率
func (m *MovementTracker) AddAccel(x, y, z float64, at time.Time) {
	if m.hasAccel {
		dt := at.Sub(m.lastAt).Seconds()
		if dt <= 0 {
			return
		}
		jerk := magnitude(x-m.lastAccel[0], y-m.lastAccel[1], z-m.lastAccel[2]) / dt
		m.jerk.push(at, jerk)
		m.jerk.prune(at.Add(-m.params.MovementWindow))
	}
	m.hasAccel = true
	m.lastAccel = [3]float64{x, y, z}
	m.lastAt = at
}

// Intensity 返回 now 之前体动窗口内的体动强度（0.0 – 1.0）
func (m *MovementTracker) Intensity(now time.Time) float64 {
	from := now.Add(-m.params.MovementWindow)

	var intensity float64
	if g := m.gyro.since(from); len(g) > 0 && m.params.GyroSaturation > 0 {
		intensity = stat.Mean(g, nil) / m.params.GyroSaturation
	}
	if j := m.jerk.since(from); len(j) > 0 && m.params.JerkSaturation > 0 {
		intensity = math.Max(intensity, stat.Mean(j, nil)/m.params.JerkSaturation)
	}
	return clamp01(intensity)
}

func magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}
