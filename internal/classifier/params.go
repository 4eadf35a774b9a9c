package classifier

import "time"

// Params 分类器参数
type Params struct {
	Warmup         time.Duration // 预热时长，期间阶段固定为 UNKNOWN
	ApneaTimeout   time.Duration // 距上次呼吸超过该时长判定为疑似呼吸暂停
	RateWindow     time.Duration // 呼吸率/规律性计算窗口
	MovementWindow time.Duration // 体动计算窗口
	Retention      time.Duration // 呼吸时刻保留时长

	Hysteresis        float64       // 过零检测迟滞（m/s²）
	MinBreathInterval time.Duration // 两次呼吸最小间隔（拒绝 > 40 BPM 的抖动）
	FastTau           time.Duration // 平滑 EMA 时间常数
	SlowTau           time.Duration // 基线 EMA 时间常数

	GyroSaturation float64 // 陀螺仪均值达到该值时体动强度为 1（rad/s）
	JerkSaturation float64 // 加速度变化率均值达到该值时体动强度为 1（m/s³）

	MinCyclesForStage int // 窗口内至少多少次呼吸才输出睡眠阶段
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		Warmup:            60 * time.Second,
		ApneaTimeout:      10 * time.Second,
		RateWindow:        60 * time.Second,
		MovementWindow:    30 * time.Second,
		Retention:         5 * time.Minute,
		Hysteresis:        0.01,
		MinBreathInterval: 1500 * time.Millisecond,
		FastTau:           250 * time.Millisecond,
		SlowTau:           4 * time.Second,
		GyroSaturation:    0.5,
		JerkSaturation:    5,
		MinCyclesForStage: 3,
	}
}
