package engine

import (
	"errors"

	"respirosync/internal/sensor"
)

var (
	// ErrPermissionDenied 身体传感器权限被拒绝
	ErrPermissionDenied = sensor.ErrPermissionDenied
	// ErrSensorUnavailable 传感器不可用
	ErrSensorUnavailable = sensor.ErrSensorUnavailable
	// ErrSessionAlreadyRunning 会话已在运行
	ErrSessionAlreadyRunning = errors.New("session already running")
	// ErrSessionNotRunning 会话未运行
	ErrSessionNotRunning = errors.New("session not running")
	// ErrEngineReleased 引擎已释放，不可再使用
	ErrEngineReleased = errors.New("engine released")
)
