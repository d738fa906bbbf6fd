// LLM客户端封装
// 基于LangChainGo统一接入OpenAI/Anthropic/Ollama，对上层暴露最小完成接口
//
// SQL生成器、数据库选择器与结果校验器都只依赖LLMClient接口，
// 不感知具体厂商SDK，测试时可替换为确定性假实现

package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"nl2sql-go/internal/config"
)

// CompletionRequest 一次LLM完成请求
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Completion LLM完成结果
type Completion struct {
	Content    string // 模型输出的原始文本
	TokensUsed int    // 本次调用消耗的token总量（prompt+completion）
}

// LLMClient 注入到各管道组件的LLM能力接口
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	ModelName() string
}

// langchainClient 基于LangChainGo的LLMClient实现
type langchainClient struct {
	model     llms.Model
	modelName string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewLLMClient 根据配置创建对应提供商的客户端
func NewLLMClient(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	var model llms.Model
	var err error

	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)

	case config.ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
			anthropic.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		)

	default:
		return nil, fmt.Errorf("不支持的LLM提供商: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("创建%s客户端失败: %w", cfg.Provider, err)
	}

	logger.Info("LLM客户端初始化完成",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
	)

	return &langchainClient{
		model:     model,
		modelName: cfg.Model,
		timeout:   cfg.Timeout,
		logger:    logger,
	}, nil
}

// Complete 执行一次对话完成调用
func (c *langchainClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt),
	}

	resp, err := c.model.GenerateContent(callCtx, messages,
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("LLM调用失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM返回空响应")
	}

	choice := resp.Choices[0]
	return &Completion{
		Content:    choice.Content,
		TokensUsed: extractTokenUsage(choice.GenerationInfo, choice.Content),
	}, nil
}

func (c *langchainClient) ModelName() string {
	return c.modelName
}

// extractTokenUsage 从GenerationInfo提取token用量
// 提供商未上报时退化为按内容长度估算（约4字符一个token）
func extractTokenUsage(info map[string]any, content string) int {
	if total := tokenField(info, "TotalTokens"); total > 0 {
		return total
	}
	prompt := tokenField(info, "PromptTokens")
	completion := tokenField(info, "CompletionTokens")
	if prompt+completion > 0 {
		return prompt + completion
	}
	return len(content) / 4
}

func tokenField(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
