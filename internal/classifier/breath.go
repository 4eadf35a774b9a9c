package classifier

import (
	"math"
	"time"
)

type breathPhase int

const (
	phaseUnknown breathPhase = iota
	phaseExhale
	phaseInhale
)

// BreathDetector 基于胸腔轴向加速度的呼吸周期检测
//
// 信号先经快速 EMA 平滑，再减去慢速 EMA 基线；
// 去基线信号先跌破 -Hysteresis、再升过 +Hysteresis 记为一次呼吸。
type BreathDetector struct {
	params Params

	initialized bool
	lastAt      time.Time
	fast        float64
	slow        float64
	phase       breathPhase

	cycles      int
	lastBreath  time.Time
	breathTimes []time.Time
}

// NewBreathDetector 创建呼吸检测器
func NewBreathDetector(params Params) *BreathDetector {
	return &BreathDetector{params: params}
}

// Add 输入一条胸腔轴向加速度，返回是否检测到新的呼吸周期
func (d *BreathDetector) Add(v float64, at time.Time) bool {
	if !d.initialized {
		d.initialized = true
		d.lastAt = at
		d.fast = v
		d.slow = v
		return false
	}

	dt := at.Sub(d.lastAt).Seconds()
	if dt <= 0 {
		// 乱序或重复时间戳直接丢弃
		return false
	}
	d.lastAt = at

	d.fast += emaAlpha(dt, d.params.FastTau) * (v - d.fast)
	d.slow += emaAlpha(dt, d.params.SlowTau) * (v - d.slow)
	signal := d.fast - d.slow

	switch {
	case signal < -d.params.Hysteresis:
		d.phase = phaseExhale
	case signal > d.params.Hysteresis && d.phase == phaseExhale:
		d.phase = phaseInhale
		if d.lastBreath.IsZero() || at.Sub(d.lastBreath) >= d.params.MinBreathInterval {
			d.recordBreath(at)
			return true
		}
	}
	return false
}

func (d *BreathDetector) recordBreath(at time.Time) {
	d.cycles++
	d.lastBreath = at
	d.breathTimes = append(d.breathTimes, at)

	cutoff := at.Add(-d.params.Retention)
	i := 0
	for i < len(d.breathTimes) && d.breathTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		d.breathTimes = append(d.breathTimes[:0], d.breathTimes[i:]...)
	}
}

// Cycles 累计呼吸次数
func (d *BreathDetector) Cycles() int {
	return d.cycles
}

// LastBreath 最近一次呼吸时刻，尚未检测到时为零值
func (d *BreathDetector) LastBreath() time.Time {
	return d.lastBreath
}

// Intervals 返回 [from, ∞) 窗口内相邻呼吸的间隔（秒）及窗口内呼吸次数
func (d *BreathDetector) Intervals(from time.Time) ([]float64, int) {
	var intervals []float64
	count := 0
	var prev time.Time
	for _, t := range d.breathTimes {
		if t.Before(from) {
			continue
		}
		if count > 0 {
			intervals = append(intervals, t.Sub(prev).Seconds())
		}
		prev = t
		count++
	}
	return intervals, count
}

func emaAlpha(dt float64, tau time.Duration) float64 {
	if tau <= 0 {
		return 1
	}
	return 1 - math.Exp(-dt/tau.Seconds())
}
