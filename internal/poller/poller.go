// Package poller 展示层定时轮询：每个间隔查询一次引擎并分发给各个 Sink
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"respirosync/internal/models"
)

// ErrAlreadyStarted 轮询已启动
var ErrAlreadyStarted = errors.New("poller already started")

// Sampler 指标查询（engine.Engine 实现）
type Sampler interface {
	CurrentMetrics() (*models.SleepMetrics, error)
}

// Sink 轮询结果接收方；err 非空时 m 为 nil，表示应显示空闲状态
type Sink interface {
	Handle(ctx context.Context, m *models.SleepMetrics, err error)
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, m *models.SleepMetrics, err error)

// Handle 实现 Sink
func (f SinkFunc) Handle(ctx context.Context, m *models.SleepMetrics, err error) {
	f(ctx, m, err)
}

// Poller 定时轮询器
type Poller struct {
	sampler  Sampler
	interval time.Duration
	sinks    []Sink
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建轮询器
func New(sampler Sampler, interval time.Duration, logger *zap.Logger, sinks ...Sink) *Poller {
	return &Poller{
		sampler:  sampler,
		interval: interval,
		sinks:    sinks,
		logger:   logger,
	}
}

// Start 立即轮询一次，之后每个间隔轮询一次，直到 Stop 或 ctx 取消
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.PollOnce(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.PollOnce(runCtx)
			}
		}
	}()

	p.logger.Debug("Poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop 取消所有待执行的轮询并等待当前轮询结束。未启动时为空操作。
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Debug("Poller stopped")
}

// PollOnce 执行一次查询并分发
func (p *Poller) PollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m, err := p.sampler.CurrentMetrics()
	if err != nil {
		m = nil
	}

	// 单次分发不超过一个轮询间隔，避免慢 Sink 拖住定时器
	pollCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	for _, sink := range p.sinks {
		sink.Handle(pollCtx, m, err)
	}
}
