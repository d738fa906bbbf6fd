package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nl2sql-go/internal/config"
)

var errDownstream = errors.New("downstream unavailable")

func newTestBreaker(threshold int, recovery time.Duration) *Breaker {
	return NewBreaker("test-db", &config.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
	}, nil)
}

func TestBreaker_连续失败后打开(t *testing.T) {
	breaker := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	calls := 0
	fail := func(context.Context) error {
		calls++
		return errDownstream
	}

	for i := 0; i < 3; i++ {
		err := breaker.Execute(ctx, fail)
		assert.ErrorIs(t, err, errDownstream)
	}
	assert.Equal(t, StateOpen, breaker.State())
	assert.Equal(t, 3, calls)

	// open状态下快速失败，不再调用下游
	err := breaker.Execute(ctx, fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "熔断打开后不应再调用被保护的操作")
}

func TestBreaker_成功重置失败计数(t *testing.T) {
	breaker := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	require.Error(t, breaker.Execute(ctx, func(context.Context) error { return errDownstream }))
	require.Error(t, breaker.Execute(ctx, func(context.Context) error { return errDownstream }))
	require.NoError(t, breaker.Execute(ctx, func(context.Context) error { return nil }))

	// 计数已清零，再失败两次不应触发熔断
	require.Error(t, breaker.Execute(ctx, func(context.Context) error { return errDownstream }))
	require.Error(t, breaker.Execute(ctx, func(context.Context) error { return errDownstream }))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreaker_恢复超时后试探并恢复(t *testing.T) {
	breaker := newTestBreaker(2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(ctx, func(context.Context) error { return errDownstream })
	}
	require.Equal(t, StateOpen, breaker.State())

	time.Sleep(60 * time.Millisecond)

	// 恢复超时已过，放行一个试探调用；成功则回到closed
	calls := 0
	err := breaker.Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, breaker.State())

	require.NoError(t, breaker.Execute(ctx, func(context.Context) error { return nil }))
}

func TestBreaker_试探失败回到打开状态(t *testing.T) {
	breaker := newTestBreaker(2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(ctx, func(context.Context) error { return errDownstream })
	}
	time.Sleep(60 * time.Millisecond)

	err := breaker.Execute(ctx, func(context.Context) error { return errDownstream })
	assert.ErrorIs(t, err, errDownstream)
	assert.Equal(t, StateOpen, breaker.State())

	// 再次进入open后，未到恢复超时的请求快速失败
	err = breaker.Execute(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_关闭时透传(t *testing.T) {
	breaker := NewBreaker("test-db", &config.CircuitBreakerConfig{
		Enabled:          false,
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}, nil)

	for i := 0; i < 10; i++ {
		err := breaker.Execute(context.Background(), func(context.Context) error { return errDownstream })
		assert.ErrorIs(t, err, errDownstream, "禁用熔断时错误原样透传")
	}
}

func TestBreakerRegistry_按依赖隔离(t *testing.T) {
	registry := NewBreakerRegistry(&config.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}, nil)

	blog := registry.ForDependency("blog")
	shop := registry.ForDependency("shop")
	assert.NotSame(t, blog, shop)
	assert.Same(t, blog, registry.ForDependency("blog"))

	// blog熔断不影响shop
	_ = blog.Execute(context.Background(), func(context.Context) error { return errDownstream })
	assert.Equal(t, StateOpen, blog.State())
	assert.Equal(t, StateClosed, shop.State())

	states := registry.States()
	assert.Equal(t, "open", states["blog"])
	assert.Equal(t, "closed", states["shop"])
}
