// 查询结果校验器（可选阶段）
// 让LLM评估结果是否回答了用户问题，产出0-100的置信度
//
// 严格尽力而为：本阶段任何失败都不会使整个查询失败，只回落默认置信度

package ai

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"nl2sql-go/internal/metrics"
)

// 校验自身失败时的默认置信度：结果已通过安全校验并成功执行，默认给予信任
const defaultConfidence = 100

var confidencePattern = regexp.MustCompile(`\d{1,3}`)

// ResultValidator LLM驱动的结果合理性校验器
type ResultValidator struct {
	client  LLMClient
	enabled bool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewResultValidator 创建结果校验器
func NewResultValidator(client LLMClient, enabled bool, m *metrics.Metrics, logger *zap.Logger) *ResultValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultValidator{client: client, enabled: enabled, metrics: m, logger: logger}
}

// Enabled 该阶段是否启用
func (v *ResultValidator) Enabled() bool {
	return v.enabled
}

// Validate 评估结果摘要与问题的匹配度，返回0-100置信度
// resultSummary 由编排器预先渲染（列名、行数与样本行），避免超长载荷
func (v *ResultValidator) Validate(ctx context.Context, question, resultSummary string) int {
	if !v.enabled {
		return defaultConfidence
	}

	start := time.Now()
	completion, err := v.client.Complete(ctx, CompletionRequest{
		SystemPrompt: resultValidationPromptTemplate,
		UserPrompt:   "问题：" + question + "\n\n查询结果：\n" + resultSummary,
		Temperature:  0.0,
		MaxTokens:    16,
	})
	if v.metrics != nil {
		tokens := 0
		if completion != nil {
			tokens = completion.TokensUsed
		}
		v.metrics.RecordLLMCall(v.client.ModelName(), "result_validation", err == nil, time.Since(start), tokens)
	}
	if err != nil {
		v.logger.Warn("结果校验LLM调用失败，使用默认置信度", zap.Error(err))
		return defaultConfidence
	}

	score, ok := parseConfidence(completion.Content)
	if !ok {
		v.logger.Warn("结果校验响应不可解析", zap.String("content", completion.Content))
		return defaultConfidence
	}
	return score
}

// parseConfidence 从模型输出中提取首个0-100的整数
func parseConfidence(content string) (int, bool) {
	match := confidencePattern.FindString(content)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}
