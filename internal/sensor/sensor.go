// Package sensor 提供胸前手机 IMU 采样来源
//
// 来源在 Subscribe 后异步回调采样；Subscription.Close 返回后保证不再有任何回调。
package sensor

import (
	"context"
	"errors"

	"respirosync/internal/models"
)

var (
	// ErrPermissionDenied 用户未授予（或撤销了）身体传感器权限
	ErrPermissionDenied = errors.New("body sensor permission denied")
	// ErrSensorUnavailable 传感器硬件/通道不可用
	ErrSensorUnavailable = errors.New("sensor unavailable")
)

// SampleHandler 采样回调
type SampleHandler func(sample models.MotionSample)

// ErrorHandler 传感器故障回调（权限被撤销、硬件不可用等）
type ErrorHandler func(err error)

// Source 采样来源
type Source interface {
	// Subscribe 开始采集。ctx 只约束建立订阅的过程，不约束订阅的生命周期。
	Subscribe(ctx context.Context, onSample SampleHandler, onError ErrorHandler) (Subscription, error)
}

// Subscription 一次采集订阅
type Subscription interface {
	// Close 停止采集，阻塞直到最后一个回调返回。可重复调用。
	Close() error
}

// PermissionGate 平台权限检查（Android BODY_SENSORS）
type PermissionGate interface {
	BodySensorsGranted() bool
}

// StaticGate 固定结果的权限检查（来自配置）
type StaticGate bool

// BodySensorsGranted 实现 PermissionGate
func (g StaticGate) BodySensorsGranted() bool {
	return bool(g)
}
