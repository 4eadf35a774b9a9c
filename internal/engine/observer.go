package engine

import (
	"time"

	"respirosync/internal/models"
)

// Observer 引擎内部事件观察者（用于监控指标）
//
// 回调在引擎锁内执行，实现必须快速且不可回调引擎。
type Observer interface {
	SessionStarted()
	SessionStopped(duration time.Duration)
	SampleIngested(kind models.SampleKind)
	BreathDetected()
	SensorFailed(err error)
}

type nopObserver struct{}

func (nopObserver) SessionStarted()                  {}
func (nopObserver) SessionStopped(time.Duration)     {}
func (nopObserver) SampleIngested(models.SampleKind) {}
func (nopObserver) BreathDetected()                  {}
func (nopObserver) SensorFailed(error)               {}
