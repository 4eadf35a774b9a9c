// Package engine RespiroSync 核心引擎：会话控制 + 指标采样
//
// 状态机：Idle → StartSession → Running → StopSession → Idle → Release → Disposed。
// Disposed 之后所有操作返回 ErrEngineReleased。
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"respirosync/internal/classifier"
	"respirosync/internal/models"
	"respirosync/internal/sensor"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Engine 呼吸监测引擎
//
// lifecycle 串行化 Start/Stop/Release；mu 保护会话数据，传感器回调与查询都只持有 mu。
// 订阅的建立与关闭都在 mu 之外进行，避免与进行中的回调互相等待。
type Engine struct {
	lifecycle sync.Mutex
	mu        sync.Mutex

	source   sensor.Source
	gate     sensor.PermissionGate
	params   classifier.Params
	clock    func() time.Time
	observer Observer
	logger   *zap.Logger

	state      State
	generation uint64
	sessionID  string
	startedAt  time.Time
	cls        *classifier.Classifier
	sub        sensor.Subscription
	failure    error
}

// Option 引擎可选项
type Option func(*Engine)

// WithClock 替换时钟（测试用）
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New 创建引擎
func New(source sensor.Source, gate sensor.PermissionGate, params classifier.Params, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		gate:     gate,
		params:   params,
		clock:    time.Now,
		observer: nopObserver{},
		logger:   logger,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartSession 开始监测会话，返回会话ID
//
// 已在运行时返回 ErrSessionAlreadyRunning 且不改变状态。
func (e *Engine) StartSession(ctx context.Context) (string, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	switch e.state {
	case StateDisposed:
		e.mu.Unlock()
		return "", ErrEngineReleased
	case StateRunning:
		e.mu.Unlock()
		return "", ErrSessionAlreadyRunning
	}
	if e.gate != nil && !e.gate.BodySensorsGranted() {
		e.mu.Unlock()
		return "", ErrPermissionDenied
	}

	e.generation++
	gen := e.generation
	startedAt := e.clock()
	e.cls = classifier.New(e.params, startedAt)
	e.failure = nil
	e.mu.Unlock()

	sub, err := e.source.Subscribe(ctx,
		func(s models.MotionSample) { e.ingest(gen, s) },
		func(err error) { e.fail(gen, err) },
	)
	if err != nil {
		e.mu.Lock()
		e.generation++
		e.cls = nil
		e.mu.Unlock()
		e.logger.Warn("Failed to subscribe sensor", zap.Error(err))
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	sessionID := uuid.NewString()

	e.mu.Lock()
	e.state = StateRunning
	e.sub = sub
	e.sessionID = sessionID
	e.startedAt = startedAt
	e.observer.SessionStarted()
	e.mu.Unlock()

	e.logger.Info("Session started",
		zap.String("session_id", sessionID),
		zap.Time("started_at", startedAt),
	)
	return sessionID, nil
}

// StopSession 停止会话并释放传感器订阅，返回停止时刻的最终指标
//
// 未运行时为空操作（返回 nil, nil）。返回后不会再有传感器回调写入引擎。
func (e *Engine) StopSession() (*models.SleepMetrics, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() (*models.SleepMetrics, error) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil, nil
	}
	now := e.clock()
	final := e.snapshotLocked(now)
	sub := e.sub
	sessionID := e.sessionID
	duration := now.Sub(e.startedAt)

	// 先切换代数，竞争中的回调全部丢弃
	e.generation++
	e.state = StateIdle
	e.cls = nil
	e.sub = nil
	e.sessionID = ""
	e.failure = nil
	e.observer.SessionStopped(duration)
	e.mu.Unlock()

	var closeErr error
	if sub != nil {
		if err := sub.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close sensor subscription: %w", err)
			e.logger.Error("Error closing sensor subscription",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Session stopped",
		zap.String("session_id", sessionID),
		zap.Duration("duration", duration),
		zap.Int("breath_cycles", final.BreathCyclesDetected),
	)
	return final, closeErr
}

// Release 最终释放；运行中会先停止会话。重复调用为空操作。
func (e *Engine) Release() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	disposed := e.state == StateDisposed
	e.mu.Unlock()
	if disposed {
		return nil
	}

	_, err := e.stopLocked()

	e.mu.Lock()
	e.state = StateDisposed
	e.mu.Unlock()

	e.logger.Info("Engine released")
	return err
}

// FeedAccel 直接输入加速度采样（不运行时忽略）
func (e *Engine) FeedAccel(x, y, z float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}
	e.applyLocked(models.MotionSample{Kind: models.SampleAccel, X: x, Y: y, Z: z, Timestamp: at})
}

// FeedGyro 直接输入陀螺仪采样（不运行时忽略）
func (e *Engine) FeedGyro(x, y, z float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}
	e.applyLocked(models.MotionSample{Kind: models.SampleGyro, X: x, Y: y, Z: z, Timestamp: at})
}

// CurrentMetrics 返回当前指标快照
func (e *Engine) CurrentMetrics() (*models.SleepMetrics, error) {
	return e.MetricsAt(e.clock())
}

// MetricsAt 返回 now 时刻的指标快照
//
// 未运行返回 ErrSessionNotRunning；会话期间传感器故障返回对应错误，不返回旧数据。
func (e *Engine) MetricsAt(now time.Time) (*models.SleepMetrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDisposed:
		return nil, ErrEngineReleased
	case StateIdle:
		return nil, ErrSessionNotRunning
	}
	if e.failure != nil {
		return nil, e.failure
	}
	return e.snapshotLocked(now), nil
}

// State 当前状态
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID 当前会话ID，未运行时为空
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

func (e *Engine) ingest(gen uint64, s models.MotionSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || e.cls == nil {
		return
	}
	e.applyLocked(s)
}

func (e *Engine) applyLocked(s models.MotionSample) {
	if !classifier.Finite(s.X, s.Y, s.Z) {
		return
	}
	at := s.At()
	switch s.Kind {
	case models.SampleAccel:
		if e.cls.AddAccel(s.X, s.Y, s.Z, at) {
			e.observer.BreathDetected()
		}
	case models.SampleGyro:
		e.cls.AddGyro(s.X, s.Y, s.Z, at)
	default:
		return
	}
	e.observer.SampleIngested(s.Kind)
}

func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || e.failure != nil {
		return
	}
	e.failure = err
	e.observer.SensorFailed(err)
	e.logger.Error("Sensor failure during session",
		zap.String("session_id", e.sessionID),
		zap.Error(err),
	)
}

func (e *Engine) snapshotLocked(now time.Time) *models.SleepMetrics {
	r := e.cls.Snapshot(now)
	return &models.SleepMetrics{
		SessionID:            e.sessionID,
		Timestamp:            now,
		SleepStage:           r.Stage,
		Confidence:           r.Confidence,
		BreathingRateBPM:     r.BreathingRateBPM,
		BreathingRegularity:  r.BreathingRegularity,
		MovementIntensity:    r.MovementIntensity,
		BreathCyclesDetected: r.BreathCycles,
		PossibleApnea:        r.PossibleApnea,
		SessionElapsed:       r.Elapsed,
		SinceLastBreath:      r.SinceLastBreath,
	}
}
