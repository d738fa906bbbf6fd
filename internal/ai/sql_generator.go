// SQL生成器
// 将自然语言问题与目标库schema组装为提示词，经LLM产出单条SQL
//
// 提示词中的只读与LIMIT约束仅是建议性引导，
// 实际强制由下游的SQL校验器与执行器行数上限完成

package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nl2sql-go/internal/metrics"
)

// SQLGenerator LLM驱动的自然语言→SQL翻译器
type SQLGenerator struct {
	client      LLMClient
	temperature float64
	maxTokens   int
	maxRows     int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewSQLGenerator 创建SQL生成器
func NewSQLGenerator(client LLMClient, temperature float64, maxTokens, maxRows int, m *metrics.Metrics, logger *zap.Logger) *SQLGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLGenerator{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		maxRows:     maxRows,
		metrics:     m,
		logger:      logger,
	}
}

// Generate 生成SQL语句，返回语句文本与本次调用的token消耗
func (g *SQLGenerator) Generate(ctx context.Context, question, schema string) (string, int, error) {
	systemPrompt, err := buildGenerationSystemPrompt(schema, g.maxRows)
	if err != nil {
		return "", 0, fmt.Errorf("构建生成提示词失败: %w", err)
	}

	start := time.Now()
	completion, err := g.client.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   question,
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	})
	if g.metrics != nil {
		tokens := 0
		if completion != nil {
			tokens = completion.TokensUsed
		}
		g.metrics.RecordLLMCall(g.client.ModelName(), "sql_generation", err == nil, time.Since(start), tokens)
	}
	if err != nil {
		return "", 0, fmt.Errorf("SQL生成调用失败: %w", err)
	}

	sql := ExtractSQL(completion.Content)
	if sql == "" {
		return "", completion.TokensUsed, fmt.Errorf("模型输出中未提取到SQL语句")
	}

	g.logger.Debug("SQL生成完成",
		zap.String("sql", sql),
		zap.Int("tokens_used", completion.TokensUsed),
		zap.Duration("latency", time.Since(start)),
	)
	return sql, completion.TokensUsed, nil
}
