package config

import (
	"fmt"
	"time"
)

// 支持的LLM提供商
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// LLMConfig LLM客户端配置
// SQL生成、数据库选择与结果校验共用同一个客户端
type LLMConfig struct {
	Provider    string        // openai / anthropic / ollama
	APIKey      string        // API密钥（ollama不需要）
	BaseURL     string        // 自定义API地址，兼容OpenAI协议的网关
	Model       string        // 模型名称
	Temperature float64       // 采样温度，SQL生成要求近确定性输出
	MaxTokens   int           // 单次调用的输出token上限
	Timeout     time.Duration // 单次LLM调用超时

	ResultValidationEnabled bool // 是否启用LLM结果校验阶段
}

// LoadLLMConfig 从环境变量加载LLM配置
func LoadLLMConfig() (*LLMConfig, error) {
	cfg := &LLMConfig{
		Provider:    getEnvString("LLM_PROVIDER", ProviderOpenAI),
		APIKey:      getEnvString("LLM_API_KEY", ""),
		BaseURL:     getEnvString("LLM_BASE_URL", ""),
		Model:       getEnvString("LLM_MODEL", ""),
		Temperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
		MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),

		ResultValidationEnabled: getEnvBool("RESULT_VALIDATION_ENABLED", false),
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY未设置（provider=%s）", cfg.Provider)
		}
	case ProviderAnthropic:
		if cfg.Model == "" {
			cfg.Model = "claude-sonnet-4-20250514"
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY未设置（provider=%s）", cfg.Provider)
		}
	case ProviderOllama:
		if cfg.Model == "" {
			cfg.Model = "llama3"
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
	default:
		return nil, fmt.Errorf("不支持的LLM提供商: %s", cfg.Provider)
	}

	return cfg, nil
}
