// 并发准入控制
// 查询与LLM调用两个资源类别各持有一个有界信号量，满载时等待至超时后拒绝

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"nl2sql-go/internal/config"
)

// ErrRateLimitExceeded 在等待超时内未获得槽位
var ErrRateLimitExceeded = errors.New("并发请求数超过限制")

// SlotLimiter 双类别并发限流器
// 进程级单例，被所有并发请求共享
type SlotLimiter struct {
	enabled        bool
	acquireTimeout time.Duration
	querySlots     chan struct{}
	llmSlots       chan struct{}
	logger         *zap.Logger
}

// ReleaseFunc 归还槽位，多次调用安全
type ReleaseFunc func()

// NewSlotLimiter 创建限流器
func NewSlotLimiter(cfg *config.RateLimitConfig, logger *zap.Logger) *SlotLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &SlotLimiter{
		enabled:        cfg.Enabled,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
	}
	if cfg.Enabled {
		l.querySlots = make(chan struct{}, cfg.MaxConcurrentQueries)
		l.llmSlots = make(chan struct{}, cfg.MaxConcurrentLLM)
	}
	return l
}

// AcquireQuerySlot 获取查询类别槽位
// 返回的ReleaseFunc必须在所有退出路径上调用（defer release()）
func (l *SlotLimiter) AcquireQuerySlot(ctx context.Context) (ReleaseFunc, error) {
	return l.acquire(ctx, l.querySlots, "query")
}

// AcquireLLMSlot 获取LLM调用类别槽位
func (l *SlotLimiter) AcquireLLMSlot(ctx context.Context) (ReleaseFunc, error) {
	return l.acquire(ctx, l.llmSlots, "llm")
}

func (l *SlotLimiter) acquire(ctx context.Context, slots chan struct{}, class string) (ReleaseFunc, error) {
	// 限流关闭时获取总是立即成功
	if !l.enabled {
		return func() {}, nil
	}

	timer := time.NewTimer(l.acquireTimeout)
	defer timer.Stop()

	select {
	case slots <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-slots })
		}, nil
	case <-timer.C:
		l.logger.Warn("槽位获取超时",
			zap.String("class", class),
			zap.Duration("timeout", l.acquireTimeout),
		)
		return nil, ErrRateLimitExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight 当前占用的槽位数，用于监控
func (l *SlotLimiter) InFlight(class string) int {
	if !l.enabled {
		return 0
	}
	if class == "llm" {
		return len(l.llmSlots)
	}
	return len(l.querySlots)
}
