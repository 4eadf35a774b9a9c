package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"respirosync/internal/models"
)

type fakeSampler struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSampler) CurrentMetrics() (*models.SleepMetrics, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return &models.SleepMetrics{}, f.err
	}
	return &models.SleepMetrics{BreathCyclesDetected: int(n)}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	metrics []*models.SleepMetrics
	errs    []error
}

func (r *recordingSink) Handle(_ context.Context, m *models.SleepMetrics, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	r.errs = append(r.errs, err)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metrics)
}

func TestPoller_PollsImmediatelyAndPeriodically(t *testing.T) {
	sampler := &fakeSampler{}
	sink := &recordingSink{}
	p := New(sampler, 10*time.Millisecond, zap.NewNop(), sink)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 2*time.Millisecond)
	p.Stop()

	sink.mu.Lock()
	assert.Equal(t, 1, sink.metrics[0].BreathCyclesDetected)
	assert.NoError(t, sink.errs[0])
	sink.mu.Unlock()
}

func TestPoller_StopCancelsPendingPolls(t *testing.T) {
	sampler := &fakeSampler{}
	p := New(sampler, 5*time.Millisecond, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return sampler.calls.Load() >= 2 }, time.Second, time.Millisecond)
	p.Stop()

	after := sampler.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, sampler.calls.Load())

	// 重复 Stop 为空操作，之后可以重新启动
	p.Stop()
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPoller_StartTwice(t *testing.T) {
	p := New(&fakeSampler{}, time.Hour, zap.NewNop())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPoller_ErrorDeliversNilMetrics(t *testing.T) {
	sampler := &fakeSampler{err: assert.AnError}
	sink := &recordingSink{}
	p := New(sampler, time.Hour, zap.NewNop(), sink)

	p.PollOnce(context.Background())

	require.Equal(t, 1, sink.count())
	assert.Nil(t, sink.metrics[0])
	assert.ErrorIs(t, sink.errs[0], assert.AnError)
}

func TestPoller_ParentContextCancel(t *testing.T) {
	sampler := &fakeSampler{}
	p := New(sampler, 5*time.Millisecond, zap.NewNop(), SinkFunc(func(context.Context, *models.SleepMetrics, error) {}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()
	p.Stop()

	after := sampler.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, sampler.calls.Load())
}
