package config

import "time"

// RateLimitConfig 并发准入控制配置
// 查询与LLM调用是两个独立的资源类别，各有独立的并发预算
type RateLimitConfig struct {
	Enabled              bool          // 关闭后所有槽位获取立即成功
	MaxConcurrentQueries int           // 查询类别并发上限
	MaxConcurrentLLM     int           // LLM调用类别并发上限
	AcquireTimeout       time.Duration // 槽位等待超时，超时即拒绝
}

// CircuitBreakerConfig 熔断器配置，按依赖（每个数据库、LLM）独立实例化
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int           // 连续失败次数阈值，达到后进入open状态
	RecoveryTimeout  time.Duration // open状态持续时间，到期后进入half-open试探
}

// LoadRateLimitConfig 从环境变量加载限流配置
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:              getEnvBool("RATE_LIMIT_ENABLED", true),
		MaxConcurrentQueries: getEnvInt("RATE_LIMIT_MAX_QUERIES", 10),
		MaxConcurrentLLM:     getEnvInt("RATE_LIMIT_MAX_LLM_CALLS", 5),
		AcquireTimeout:       getEnvDuration("RATE_LIMIT_ACQUIRE_TIMEOUT", 30*time.Second),
	}
}

// LoadCircuitBreakerConfig 从环境变量加载熔断配置
func LoadCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:          getEnvBool("CIRCUIT_BREAKER_ENABLED", true),
		FailureThreshold: getEnvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		RecoveryTimeout:  getEnvDuration("CIRCUIT_BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
	}
}
