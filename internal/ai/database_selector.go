// 数据库选择器
// 多库场景下根据问题语义路由到目标库；选择失败只降级置信度，从不中断请求

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nl2sql-go/internal/metrics"
)

// DatabaseCandidate 一个候选数据库及其路由描述
type DatabaseCandidate struct {
	Name        string
	Description string
}

// SelectionResult 数据库路由结果
type SelectionResult struct {
	Database   string  // 选中的数据库逻辑名称
	Confidence float64 // 0.0-1.0
	Reason     string  // 人类可读的选择理由
}

// DatabaseSelector LLM驱动的数据库路由器
type DatabaseSelector struct {
	client  LLMClient
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDatabaseSelector 创建数据库选择器
func NewDatabaseSelector(client LLMClient, m *metrics.Metrics, logger *zap.Logger) *DatabaseSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseSelector{client: client, metrics: m, logger: logger}
}

// Select 为问题选择目标数据库
//
// 单候选直接返回，置信度1.0，不产生LLM调用。
// LLM调用失败或响应不可解析时回退到第一个候选，置信度固定0.5。
// 该方法从不返回错误——路由失败不是请求级失败。
func (s *DatabaseSelector) Select(ctx context.Context, question string, candidates []DatabaseCandidate) *SelectionResult {
	if len(candidates) == 0 {
		return nil
	}

	// 单库短路，避免无谓的LLM成本
	if len(candidates) == 1 {
		return &SelectionResult{
			Database:   candidates[0].Name,
			Confidence: 1.0,
			Reason:     "仅配置了一个数据库",
		}
	}

	systemPrompt, err := buildSelectionSystemPrompt(candidates)
	if err != nil {
		return s.fallback(candidates, fmt.Sprintf("构建选择提示词失败: %v", err))
	}

	start := time.Now()
	completion, err := s.client.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   question,
		Temperature:  0.0,
		MaxTokens:    256,
	})
	if s.metrics != nil {
		tokens := 0
		if completion != nil {
			tokens = completion.TokensUsed
		}
		s.metrics.RecordLLMCall(s.client.ModelName(), "database_selection", err == nil, time.Since(start), tokens)
	}
	if err != nil {
		s.logger.Warn("数据库选择LLM调用失败，回退到第一个候选", zap.Error(err))
		return s.fallback(candidates, fmt.Sprintf("LLM调用失败: %v", err))
	}

	return s.parseSelection(completion.Content, candidates)
}

// parseSelection 解析LLM返回的选择结果
func (s *DatabaseSelector) parseSelection(content string, candidates []DatabaseCandidate) *SelectionResult {
	raw, err := ExtractJSON(content)
	if err != nil {
		s.logger.Warn("数据库选择响应不可解析", zap.String("content", content))
		return s.fallback(candidates, "LLM响应不是有效的JSON")
	}

	// confidence用指针区分"缺失"与显式的0：只有键不存在时才取默认值
	var parsed struct {
		Database   string   `json:"database"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Database == "" {
		return s.fallback(candidates, "LLM响应缺少database字段")
	}

	confidence := 0.8
	if parsed.Confidence != nil {
		confidence = clamp(*parsed.Confidence, 0.0, 1.0)
	}

	// 返回的名称必须在候选之内；不在时先尝试大小写不敏感的子串匹配
	if name, ok := matchCandidate(parsed.Database, candidates); ok {
		result := &SelectionResult{
			Database:   name,
			Confidence: confidence,
			Reason:     parsed.Reason,
		}
		s.logger.Info("数据库路由完成",
			zap.String("database", result.Database),
			zap.Float64("confidence", result.Confidence),
			zap.String("reason", result.Reason),
		)
		return result
	}

	return s.fallback(candidates, fmt.Sprintf("LLM返回了未知的数据库: %s", parsed.Database))
}

// matchCandidate 精确匹配失败后做大小写不敏感的双向子串匹配
func matchCandidate(name string, candidates []DatabaseCandidate) (string, bool) {
	for _, c := range candidates {
		if c.Name == name {
			return c.Name, true
		}
	}

	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return "", false
	}
	for _, c := range candidates {
		cl := strings.ToLower(c.Name)
		if strings.Contains(cl, lower) || strings.Contains(lower, cl) {
			return c.Name, true
		}
	}
	return "", false
}

func (s *DatabaseSelector) fallback(candidates []DatabaseCandidate, cause string) *SelectionResult {
	return &SelectionResult{
		Database:   candidates[0].Name,
		Confidence: 0.5,
		Reason:     fmt.Sprintf("回退到第一个配置的数据库（%s）", cause),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
