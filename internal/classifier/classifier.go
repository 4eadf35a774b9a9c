// Package classifier 将胸前手机的 IMU 采样转换为呼吸/睡眠指标
//
// 主要功能：
// - 呼吸周期检测（胸腔轴向加速度过零 + 迟滞）
// - 呼吸率、呼吸规律性（窗口内呼吸间隔的均值与变异系数）
// - 体动强度（陀螺仪角速度、加速度变化率）
// - 睡眠阶段与置信度（启发式规则）
// - 疑似呼吸暂停（距上次呼吸超过超时阈值）
//
// 分类器本身不加锁，由 engine 串行调用。
package classifier

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"respirosync/internal/models"
)

// Result 分类结果
type Result struct {
	BreathingRateBPM    float64
	BreathingRegularity float64
	MovementIntensity   float64
	Stage               models.SleepStage
	Confidence          float64
	BreathCycles        int
	PossibleApnea       bool
	Elapsed             time.Duration
	SinceLastBreath     time.Duration
}

// Classifier 单次会话的分类器
type Classifier struct {
	params   Params
	start    time.Time
	breath   *BreathDetector
	movement *MovementTracker
}

// New 创建分类器，start 为会话开始时间
func New(params Params, start time.Time) *Classifier {
	return &Classifier{
		params:   params,
		start:    start,
		breath:   NewBreathDetector(params),
		movement: NewMovementTracker(params),
	}
}

// Finite 三轴读数均为有限值
func Finite(x, y, z float64) bool {
	for _, v := range [...]float64{x, y, z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// AddAccel 输入加速度采样（z 轴垂直于屏幕，即胸腔起伏方向）
//
// 含 NaN/Inf 的采样直接丢弃，否则会污染 EMA 状态。
func (c *Classifier) AddAccel(x, y, z float64, at time.Time) bool {
	if !Finite(x, y, z) {
		return false
	}
	c.movement.AddAccel(x, y, z, at)
	return c.breath.Add(z, at)
}

// AddGyro 输入陀螺仪采样
func (c *Classifier) AddGyro(x, y, z float64, at time.Time) {
	if !Finite(x, y, z) {
		return
	}
	c.movement.AddGyro(x, y, z, at)
}

// Snapshot 计算 now 时刻的指标
func (c *Classifier) Snapshot(now time.Time) Result {
	elapsed := now.Sub(c.start)
	if elapsed < 0 {
		elapsed = 0
	}

	intervals, inWindow := c.breath.Intervals(now.Add(-c.params.RateWindow))

	var bpm, regularity float64
	if len(intervals) > 0 {
		mean := stat.Mean(intervals, nil)
		if mean > 0 {
			bpm = 60 / mean
		}
		if len(intervals) > 1 && mean > 0 {
			regularity = clamp01(1 - stat.StdDev(intervals, nil)/mean)
		}
	}

	movement := c.movement.Intensity(now)

	f := Features{
		WarmedUp:       elapsed >= c.params.Warmup,
		CyclesInWindow: inWindow,
		BPM:            bpm,
		Regularity:     regularity,
		Movement:       movement,
	}
	stage := ClassifyStage(f, c.params.MinCyclesForStage)

	ref := c.breath.LastBreath()
	if ref.IsZero() {
		ref = c.start
	}
	sinceLast := now.Sub(ref)
	if sinceLast < 0 {
		sinceLast = 0
	}

	return Result{
		BreathingRateBPM:    bpm,
		BreathingRegularity: regularity,
		MovementIntensity:   movement,
		Stage:               stage,
		Confidence:          Confidence(stage, f),
		BreathCycles:        c.breath.Cycles(),
		PossibleApnea:       sinceLast >= c.params.ApneaTimeout,
		Elapsed:             elapsed,
		SinceLastBreath:     sinceLast,
	}
}
