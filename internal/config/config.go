// 应用配置聚合
// 所有配置在进程启动时加载一次，运行期间不可变

package config

import "fmt"

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port        int    // HTTP监听端口
	Environment string // development / production
	MCPEnabled  bool   // 是否启用MCP端点
	MCPPort     int    // MCP监听端口
}

// Config 应用完整配置
type Config struct {
	Server         *ServerConfig
	Databases      *DatabasesConfig
	Security       *SecurityConfig
	LLM            *LLMConfig
	RateLimit      *RateLimitConfig
	CircuitBreaker *CircuitBreakerConfig
}

// Load 加载完整应用配置
func Load() (*Config, error) {
	databases, err := LoadDatabasesConfig()
	if err != nil {
		return nil, fmt.Errorf("加载数据库配置失败: %w", err)
	}

	llm, err := LoadLLMConfig()
	if err != nil {
		return nil, fmt.Errorf("加载LLM配置失败: %w", err)
	}

	return &Config{
		Server: &ServerConfig{
			Port:        getEnvInt("SERVER_PORT", 8080),
			Environment: getEnvString("ENVIRONMENT", "development"),
			MCPEnabled:  getEnvBool("MCP_ENABLED", true),
			MCPPort:     getEnvInt("MCP_PORT", 8081),
		},
		Databases:      databases,
		Security:       LoadSecurityConfig(),
		LLM:            llm,
		RateLimit:      LoadRateLimitConfig(),
		CircuitBreaker: LoadCircuitBreakerConfig(),
	}, nil
}
