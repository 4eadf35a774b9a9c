package classifier

import "respirosync/internal/models"

// Features 阶段判定使用的特征
type Features struct {
	WarmedUp       bool
	CyclesInWindow int
	BPM            float64
	Regularity     float64
	Movement       float64
}

const (
	awakeMovement   = 0.5
	deepMovement    = 0.15
	deepRegularity  = 0.85
	deepMaxBPM      = 16.0
	remMovement     = 0.3
	remIrregularity = 0.6
	fullCoverage    = 10.0
)

// ClassifyStage 启发式睡眠阶段判定
//
//	体动大 → AWAKE；静止+规律+偏慢 → DEEP；静止但不规律 → REM；其余 → LIGHT
func ClassifyStage(f Features, minCycles int) models.SleepStage {
	if !f.WarmedUp || f.CyclesInWindow < minCycles {
		return models.StageUnknown
	}
	switch {
	case f.Movement >= awakeMovement:
		return models.StageAwake
	case f.Movement < deepMovement && f.Regularity >= deepRegularity && f.BPM <= deepMaxBPM:
		return models.StageDeepSleep
	case f.Movement < remMovement && f.Regularity < remIrregularity:
		return models.StageREMSleep
	default:
		return models.StageLightSleep
	}
}

// Confidence 阶段判定置信度（0.0 – 1.0）
func Confidence(stage models.SleepStage, f Features) float64 {
	switch stage {
	case models.StageUnknown:
		return 0
	case models.StageAwake:
		return clamp01(f.Movement)
	}
	coverage := clamp01(float64(f.CyclesInWindow) / fullCoverage)
	return clamp01(coverage * (0.5 + 0.5*f.Regularity) * (1 - 0.5*f.Movement))
}

func clamp01(v float64) float64 {
	if v != v || v < 0 { // NaN 视为 0
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
