package models

import "time"

// SleepStage 睡眠阶段（数值与引擎 C 头文件保持一致）
type SleepStage int

const (
	StageAwake      SleepStage = 0
	StageLightSleep SleepStage = 1
	StageDeepSleep  SleepStage = 2
	StageREMSleep   SleepStage = 3
	StageUnknown    SleepStage = 4
)

// AllStages 全部阶段，按数值顺序
var AllStages = []SleepStage{StageAwake, StageLightSleep, StageDeepSleep, StageREMSleep, StageUnknown}

// String 返回阶段的完整名称（如 "LIGHT_SLEEP"）
func (s SleepStage) String() string {
	switch s {
	case StageAwake:
		return "AWAKE"
	case StageLightSleep:
		return "LIGHT_SLEEP"
	case StageDeepSleep:
		return "DEEP_SLEEP"
	case StageREMSleep:
		return "REM_SLEEP"
	default:
		return "UNKNOWN"
	}
}

// MarshalText 序列化为阶段名称，便于 JSON/Redis 直接可读
func (s SleepStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 从阶段名称反序列化，未知名称映射为 UNKNOWN
func (s *SleepStage) UnmarshalText(text []byte) error {
	*s = ParseSleepStage(string(text))
	return nil
}

// ParseSleepStage 解析阶段名称
func ParseSleepStage(name string) SleepStage {
	for _, st := range AllStages {
		if st.String() == name {
			return st
		}
	}
	return StageUnknown
}

// SleepMetrics 某一时刻的睡眠/呼吸指标快照
//
// 每次查询时由引擎基于会话开始以来累积的数据重新计算，调用方只读。
type SleepMetrics struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	SleepStage          SleepStage `json:"sleep_stage"`
	Confidence          float64    `json:"confidence"`           // 0.0 – 1.0
	BreathingRateBPM    float64    `json:"breathing_rate_bpm"`   // 呼吸次数/分钟
	BreathingRegularity float64    `json:"breathing_regularity"` // 0.0 – 1.0，越高越规律
	MovementIntensity   float64    `json:"movement_intensity"`   // 0.0 – 1.0，越高体动越多

	BreathCyclesDetected int  `json:"breath_cycles_detected"` // 会话内累计，不递减
	PossibleApnea        bool `json:"possible_apnea"`

	SessionElapsed  time.Duration `json:"session_elapsed"`
	SinceLastBreath time.Duration `json:"since_last_breath"`
}
