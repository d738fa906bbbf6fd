// 熔断器，防止级联故障
// 每个下游依赖（单个数据库、LLM服务）持有独立的熔断器实例

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"nl2sql-go/internal/config"
)

// ErrCircuitOpen 熔断器处于open状态，快速失败未执行操作
var ErrCircuitOpen = errors.New("服务熔断，拒绝请求")

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker 单依赖熔断器
//
// 状态机：closed（正常放行，统计连续失败）→ open（快速失败）→
// half-open（恢复超时后放行一个试探调用）→ closed/open
type Breaker struct {
	name         string
	enabled      bool
	maxFailures  int
	resetTimeout time.Duration

	mu           sync.Mutex
	failures     int
	lastFailTime time.Time
	state        CircuitState
	trialActive  bool // half-open状态下是否已有试探调用在途

	logger *zap.Logger
}

// NewBreaker 创建熔断器
func NewBreaker(name string, cfg *config.CircuitBreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:         name,
		enabled:      cfg.Enabled,
		maxFailures:  cfg.FailureThreshold,
		resetTimeout: cfg.RecoveryTimeout,
		state:        StateClosed,
		logger:       logger,
	}
}

// Execute 在熔断器保护下执行操作
// open状态返回ErrCircuitOpen且不调用fn；half-open只允许一个试探调用
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.enabled {
		return fn(ctx)
	}

	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailTime) > b.resetTimeout {
			b.state = StateHalfOpen
			b.trialActive = true
			b.logger.Info("熔断器进入half-open状态", zap.String("dependency", b.name))
			return true
		}
		return false
	case StateHalfOpen:
		// 已有试探调用在途时其余请求继续快速失败
		if b.trialActive {
			return false
		}
		b.trialActive = true
		return true
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.trialActive = false
		b.logger.Info("熔断器恢复closed状态", zap.String("dependency", b.name))
	}
	b.failures = 0
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailTime = time.Now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.trialActive = false
		b.logger.Warn("试探调用失败，熔断器回到open状态", zap.String("dependency", b.name))
		return
	}

	if b.failures >= b.maxFailures {
		b.state = StateOpen
		b.logger.Warn("连续失败达到阈值，熔断器打开",
			zap.String("dependency", b.name),
			zap.Int("failures", b.failures),
		)
	}
}

// State 当前状态，用于监控与测试
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry 按依赖名称管理熔断器实例
// 进程启动时创建一次，传递给编排器使用
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      *config.CircuitBreakerConfig
	logger   *zap.Logger
}

// NewBreakerRegistry 创建熔断器注册表
func NewBreakerRegistry(cfg *config.CircuitBreakerConfig, logger *zap.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		logger:   logger,
	}
}

// ForDependency 获取指定依赖的熔断器，不存在时创建
func (r *BreakerRegistry) ForDependency(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg, r.logger)
	r.breakers[name] = b
	return b
}

// States 所有依赖的熔断器状态快照
func (r *BreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State().String()
	}
	return states
}
