package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqttcommon "respirosync/common/mqtt"
	"respirosync/internal/classifier"
	"respirosync/internal/models"
	"respirosync/internal/sensor"
)

var t0 = time.Date(2026, 5, 6, 23, 15, 0, 0, time.UTC)

// fakeSource 记录回调，测试中手动投递
type fakeSource struct {
	mu           sync.Mutex
	subscribeErr error
	subscribes   int
	onSample     sensor.SampleHandler
	onError      sensor.ErrorHandler
	subs         []*fakeSubscription
}

type fakeSubscription struct {
	closed atomic.Bool
}

func (f *fakeSubscription) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSource) Subscribe(ctx context.Context, onSample sensor.SampleHandler, onError sensor.ErrorHandler) (sensor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.onSample = onSample
	f.onError = onError
	sub := &fakeSubscription{}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSource) sample(s models.MotionSample) {
	f.mu.Lock()
	h := f.onSample
	f.mu.Unlock()
	h(s)
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	h := f.onError
	f.mu.Unlock()
	h(err)
}

// countingObserver 统计引擎事件
type countingObserver struct {
	samples  atomic.Int64
	breaths  atomic.Int64
	started  atomic.Int64
	stopped  atomic.Int64
	failures atomic.Int64
}

func (o *countingObserver) SessionStarted()                  { o.started.Add(1) }
func (o *countingObserver) SessionStopped(time.Duration)     { o.stopped.Add(1) }
func (o *countingObserver) SampleIngested(models.SampleKind) { o.samples.Add(1) }
func (o *countingObserver) BreathDetected()                  { o.breaths.Add(1) }
func (o *countingObserver) SensorFailed(error)               { o.failures.Add(1) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestEngine(src sensor.Source, granted bool) (*Engine, *countingObserver, *fakeClock) {
	obs := &countingObserver{}
	clock := &fakeClock{now: t0}
	params := classifier.DefaultParams()
	params.Warmup = 30 * time.Second
	e := New(src, sensor.StaticGate(granted), params, zap.NewNop(),
		WithClock(clock.Now),
		WithObserver(obs),
	)
	return e, obs, clock
}

// feedBreathing 以 50Hz 输入正弦胸腔运动
func feedBreathing(e *Engine, from time.Time, d time.Duration, bpm float64) time.Time {
	step := 20 * time.Millisecond
	at := from
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		at = from.Add(elapsed)
		z := 0.08 * math.Sin(2*math.Pi*at.Sub(t0).Seconds()*bpm/60)
		e.FeedAccel(0, 9.81, z, at)
	}
	return at
}

func TestStartSession_AlreadyRunning(t *testing.T) {
	src := &fakeSource{}
	e, obs, _ := newTestEngine(src, true)

	id, err := e.StartSession(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = e.StartSession(context.Background())
	assert.ErrorIs(t, err, ErrSessionAlreadyRunning)

	// 状态不变
	assert.Equal(t, StateRunning, e.State())
	assert.Equal(t, id, e.SessionID())
	assert.Equal(t, 1, src.subscribes)
	assert.Equal(t, int64(1), obs.started.Load())
}

func TestMetrics_IdleReturnsNothing(t *testing.T) {
	e, _, _ := newTestEngine(&fakeSource{}, true)

	m, err := e.CurrentMetrics()
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrSessionNotRunning)

	// 停止后同样不返回旧快照
	_, err = e.StartSession(context.Background())
	require.NoError(t, err)
	feedBreathing(e, t0, 20*time.Second, 15)
	_, err = e.StopSession()
	require.NoError(t, err)

	m, err = e.CurrentMetrics()
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrSessionNotRunning)
}

func TestStartSession_PermissionDenied(t *testing.T) {
	src := &fakeSource{}
	e, _, _ := newTestEngine(src, false)

	_, err := e.StartSession(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 0, src.subscribes)
}

func TestStartSession_SensorUnavailable(t *testing.T) {
	src := &fakeSource{subscribeErr: sensor.ErrSensorUnavailable}
	e, _, _ := newTestEngine(src, true)

	_, err := e.StartSession(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)
	assert.Equal(t, StateIdle, e.State())

	// 硬件恢复后可以正常开始
	src.mu.Lock()
	src.subscribeErr = nil
	src.mu.Unlock()
	_, err = e.StartSession(context.Background())
	assert.NoError(t, err)
}

func TestStopSession_NoopWhenIdle(t *testing.T) {
	e, obs, _ := newTestEngine(&fakeSource{}, true)

	m, err := e.StopSession()
	assert.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, int64(0), obs.stopped.Load())
}

func TestStopSession_ReleasesAndRestartsCleanly(t *testing.T) {
	src := &fakeSource{}
	e, obs, clock := newTestEngine(src, true)

	first, err := e.StartSession(context.Background())
	require.NoError(t, err)
	last := feedBreathing(e, t0, 40*time.Second, 15)
	clock.Set(last)

	final, err := e.StopSession()
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Greater(t, final.BreathCyclesDetected, 5)
	assert.Equal(t, first, final.SessionID)
	assert.True(t, src.subs[0].closed.Load())
	assert.Equal(t, StateIdle, e.State())
	assert.Empty(t, e.SessionID())

	second, err := e.StartSession(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	m, err := e.CurrentMetrics()
	require.NoError(t, err)
	assert.Equal(t, 0, m.BreathCyclesDetected)
	assert.False(t, src.subs[1].closed.Load())
	assert.Equal(t, int64(2), obs.started.Load())
}

func TestStopSession_LateCallbacksDropped(t *testing.T) {
	src := &fakeSource{}
	e, obs, _ := newTestEngine(src, true)

	_, err := e.StartSession(context.Background())
	require.NoError(t, err)
	src.mu.Lock()
	staleSample := src.onSample
	staleError := src.onError
	src.mu.Unlock()

	src.sample(models.MotionSample{Kind: models.SampleAccel, Y: 9.81, Timestamp: t0})
	require.Equal(t, int64(1), obs.samples.Load())

	_, err = e.StopSession()
	require.NoError(t, err)

	// 旧订阅的回调在新会话中也不生效
	_, err = e.StartSession(context.Background())
	require.NoError(t, err)
	staleSample(models.MotionSample{Kind: models.SampleAccel, Y: 9.81, Timestamp: t0.Add(time.Second)})
	staleError(sensor.ErrSensorUnavailable)

	assert.Equal(t, int64(1), obs.samples.Load())
	assert.Equal(t, int64(0), obs.failures.Load())
	_, err = e.CurrentMetrics()
	assert.NoError(t, err)
}

func TestSensorFailureSurfacesOnQuery(t *testing.T) {
	src := &fakeSource{}
	e, obs, _ := newTestEngine(src, true)

	_, err := e.StartSession(context.Background())
	require.NoError(t, err)
	feedBreathing(e, t0, 10*time.Second, 15)

	src.fail(sensor.ErrPermissionDenied)
	src.fail(sensor.ErrSensorUnavailable) // 只记录第一次故障

	m, err := e.CurrentMetrics()
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, int64(1), obs.failures.Load())

	// 重新开始后故障清除
	_, err = e.StopSession()
	require.NoError(t, err)
	_, err = e.StartSession(context.Background())
	require.NoError(t, err)
	_, err = e.CurrentMetrics()
	assert.NoError(t, err)
}

func TestRelease_IsTerminal(t *testing.T) {
	src := &fakeSource{}
	e, _, _ := newTestEngine(src, true)

	_, err := e.StartSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Release())
	assert.Equal(t, StateDisposed, e.State())
	assert.True(t, src.subs[0].closed.Load())

	_, err = e.StartSession(context.Background())
	assert.ErrorIs(t, err, ErrEngineReleased)
	_, err = e.CurrentMetrics()
	assert.ErrorIs(t, err, ErrEngineReleased)

	m, err := e.StopSession()
	assert.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, e.Release())
}

func TestMetrics_InvariantsAcrossPolls(t *testing.T) {
	e, _, _ := newTestEngine(&fakeSource{}, true)
	_, err := e.StartSession(context.Background())
	require.NoError(t, err)

	prev := 0
	at := t0
	for i := 0; i < 90; i++ {
		at = feedBreathing(e, at, time.Second, 14)
		m, err := e.MetricsAt(at)
		require.NoError(t, err)
		require.GreaterOrEqual(t, m.BreathCyclesDetected, prev)
		require.GreaterOrEqual(t, m.BreathingRateBPM, 0.0)
		require.GreaterOrEqual(t, m.Confidence, 0.0)
		require.LessOrEqual(t, m.Confidence, 1.0)
		prev = m.BreathCyclesDetected
	}

	m, err := e.MetricsAt(at)
	require.NoError(t, err)
	assert.InDelta(t, 14, m.BreathingRateBPM, 0.5)
	assert.NotEqual(t, models.StageUnknown, m.SleepStage)
	assert.False(t, m.PossibleApnea)
}

func TestMetrics_ApneaAfterConfiguredTimeout(t *testing.T) {
	e, _, _ := newTestEngine(&fakeSource{}, true)
	_, err := e.StartSession(context.Background())
	require.NoError(t, err)

	feedBreathing(e, t0, 30*time.Second, 15)
	m, err := e.MetricsAt(t0.Add(30 * time.Second))
	require.NoError(t, err)
	require.False(t, m.PossibleApnea)

	lastBreath := t0.Add(30 * time.Second).Add(-m.SinceLastBreath)
	timeout := classifier.DefaultParams().ApneaTimeout

	m, err = e.MetricsAt(lastBreath.Add(timeout - 100*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, m.PossibleApnea)

	m, err = e.MetricsAt(lastBreath.Add(timeout + 100*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, m.PossibleApnea)
}

func TestFeedAccel_NonFiniteDoesNotStopDetection(t *testing.T) {
	e, obs, _ := newTestEngine(&fakeSource{}, true)
	_, err := e.StartSession(context.Background())
	require.NoError(t, err)

	at := feedBreathing(e, t0, 30*time.Second, 15)
	m, err := e.MetricsAt(at)
	require.NoError(t, err)
	before := m.BreathCyclesDetected
	ingested := obs.samples.Load()

	e.FeedAccel(0, 9.81, math.NaN(), at.Add(10*time.Millisecond))
	e.FeedGyro(math.Inf(1), 0, 0, at.Add(10*time.Millisecond))
	assert.Equal(t, ingested, obs.samples.Load())

	at = feedBreathing(e, at.Add(20*time.Millisecond), 60*time.Second, 15)
	m, err = e.MetricsAt(at)
	require.NoError(t, err)
	assert.Greater(t, m.BreathCyclesDetected, before+10)
	assert.False(t, m.PossibleApnea)
}

// brokerStub 模拟 MQTT 客户端，投递原始负载
type brokerStub struct {
	mu      sync.Mutex
	handler mqttcommon.MessageHandler
	lost    mqttcommon.ConnectionLostHandler
}

func (b *brokerStub) Subscribe(_ string, _ byte, handler mqttcommon.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *brokerStub) Unsubscribe(...string) error { return nil }

func (b *brokerStub) OnConnectionLost(handler mqttcommon.ConnectionLostHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.lost = nil
	}
}

func (b *brokerStub) deliver(payload string) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	_ = h("respirosync/dev-1/imu", []byte(payload))
}

func (b *brokerStub) dropConnection() {
	b.mu.Lock()
	h := b.lost
	b.mu.Unlock()
	if h != nil {
		h(assert.AnError)
	}
}

func TestMQTTSession_UndecodablePayloadsSurfaceAsFailure(t *testing.T) {
	broker := &brokerStub{}
	src := sensor.NewMQTTSource(broker, "respirosync/dev-1/imu", 1, zap.NewNop())
	e, obs, clock := newTestEngine(src, true)

	_, err := e.StartSession(context.Background())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		broker.deliver("garbage-not-json")
	}
	clock.Set(t0.Add(15 * time.Second))

	m, err := e.CurrentMetrics()
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrSensorUnavailable)
	assert.Equal(t, int64(1), obs.failures.Load())
}

func TestMQTTSession_ConnectionLossSurfacesAsFailure(t *testing.T) {
	broker := &brokerStub{}
	src := sensor.NewMQTTSource(broker, "respirosync/dev-1/imu", 1, zap.NewNop())
	e, _, clock := newTestEngine(src, true)

	_, err := e.StartSession(context.Background())
	require.NoError(t, err)

	broker.dropConnection()
	clock.Set(t0.Add(15 * time.Second))

	m, err := e.CurrentMetrics()
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrSensorUnavailable)

	// 停止后钩子被注销
	_, err = e.StopSession()
	require.NoError(t, err)
	broker.mu.Lock()
	assert.Nil(t, broker.lost)
	broker.mu.Unlock()
}

func TestFeedIgnoredWhenIdle(t *testing.T) {
	e, obs, _ := newTestEngine(&fakeSource{}, true)
	e.FeedAccel(0, 9.81, 0.1, t0)
	e.FeedGyro(0.1, 0, 0, t0)
	assert.Equal(t, int64(0), obs.samples.Load())
}

func TestSimulatedSource_NoIngestAfterStop(t *testing.T) {
	src := sensor.NewSimulatedSource(sensor.SynthConfig{BreathingRateBPM: 15, Amplitude: 0.08}, 250, zap.NewNop())
	obs := &countingObserver{}
	e := New(src, sensor.StaticGate(true), classifier.DefaultParams(), zap.NewNop(), WithObserver(obs))

	_, err := e.StartSession(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return obs.samples.Load() > 20 }, 2*time.Second, 5*time.Millisecond)

	_, err = e.StopSession()
	require.NoError(t, err)
	after := obs.samples.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, obs.samples.Load())
	assert.NoError(t, e.Release())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Disposed", StateDisposed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
