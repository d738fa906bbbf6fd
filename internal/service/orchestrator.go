// 查询编排器
// 驱动一次请求走完完整生命周期：
// 解析目标库 → 生成SQL → 安全校验 → 准入控制 → 执行 → 结果校验 → 组装响应
//
// 线性管道，每个阶段都可能提前退出；除熔断器的half-open试探外无任何内部重试。
// 任何失败都返回结构良好的QueryResponse，从不向调用方抛出

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nl2sql-go/internal/ai"
	"nl2sql-go/internal/metrics"
	"nl2sql-go/internal/resilience"
)

// sqlGenerator 生成阶段依赖
type sqlGenerator interface {
	Generate(ctx context.Context, question, schema string) (string, int, error)
}

// databaseSelector 路由阶段依赖
type databaseSelector interface {
	Select(ctx context.Context, question string, candidates []ai.DatabaseCandidate) *ai.SelectionResult
}

// resultValidator 结果校验阶段依赖
type resultValidator interface {
	Enabled() bool
	Validate(ctx context.Context, question, resultSummary string) int
}

// sqlRunner 执行阶段依赖
type sqlRunner interface {
	Execute(ctx context.Context, database, sql string) (*QueryResult, error)
}

// schemaProvider 表结构上下文依赖
type schemaProvider interface {
	SchemaText(ctx context.Context, database string) (string, error)
}

// databaseRegistry 目标库注册信息
type databaseRegistry interface {
	Has(name string) bool
	Names() []string
	DefaultDatabase() string
	Candidates() []ai.DatabaseCandidate
	HasDescriptions() bool
}

// Orchestrator 查询管道编排器
type Orchestrator struct {
	registry    databaseRegistry
	schemas     schemaProvider
	generator   sqlGenerator
	selector    databaseSelector
	resultCheck resultValidator
	validator   *SQLValidator
	executor    sqlRunner
	limiter     *resilience.SlotLimiter
	breakers    *resilience.BreakerRegistry
	llmBreaker  *resilience.Breaker
	autoSelect  bool
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// OrchestratorDeps 编排器依赖集合
type OrchestratorDeps struct {
	Registry        *PoolManager
	Schemas         *SchemaIntrospector
	Generator       *ai.SQLGenerator
	Selector        *ai.DatabaseSelector
	ResultValidator *ai.ResultValidator
	Validator       *SQLValidator
	Executor        *SQLExecutor
	Limiter         *resilience.SlotLimiter
	Breakers        *resilience.BreakerRegistry
	AutoSelect      bool
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:    deps.Registry,
		schemas:     deps.Schemas,
		generator:   deps.Generator,
		selector:    deps.Selector,
		resultCheck: deps.ResultValidator,
		validator:   deps.Validator,
		executor:    deps.Executor,
		limiter:     deps.Limiter,
		breakers:    deps.Breakers,
		llmBreaker:  deps.Breakers.ForDependency("llm"),
		autoSelect:  deps.AutoSelect,
		metrics:     deps.Metrics,
		logger:      logger,
	}
}

// ExecuteQuery 执行一次完整的自然语言查询
// 永不panic、永不返回Go错误：所有结果都是结构化的QueryResponse
func (o *Orchestrator) ExecuteQuery(ctx context.Context, req *QueryRequest) (resp *QueryResponse) {
	start := time.Now()
	database := ""

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("查询管道panic",
				zap.Any("panic", r),
				zap.String("question", req.Question),
			)
			resp = failureResponse(NewPipelineError(ErrCodeInternalError,
				fmt.Sprintf("内部错误: %v", r)), nil, nil, 0)
		}
		if o.metrics != nil {
			label := database
			if label == "" {
				label = "unresolved"
			}
			o.metrics.RecordQuery(label, resp.Success, time.Since(start))
		}
	}()

	if strings.TrimSpace(req.Question) == "" {
		return failureResponse(NewPipelineError(ErrCodeInternalError, "问题不能为空"), nil, nil, 0)
	}
	returnType := req.ReturnType
	if returnType == "" {
		returnType = ReturnTypeResult
	}

	// 阶段1：解析目标数据库
	database, perr := o.resolveDatabase(ctx, req)
	if perr != nil {
		return failureResponse(perr, nil, nil, 0)
	}

	// 阶段2：生成SQL（LLM类别准入 + LLM熔断保护）
	generatedSQL, tokensUsed, perr := o.generateSQL(ctx, req.Question, database)
	if perr != nil {
		return failureResponse(perr, nil, nil, tokensUsed)
	}

	// 阶段3：安全校验。拒绝时generated_sql仍然返回，便于人工检查修改
	validation := o.validator.Validate(generatedSQL)
	if !validation.IsValid {
		o.logger.Warn("SQL被安全策略拒绝",
			zap.String("database", database),
			zap.String("sql", generatedSQL),
			zap.String("reason", validation.ErrorMessage),
		)
		return failureResponse(
			NewPipelineError(ErrCodeValidationFailed, validation.ErrorMessage),
			&generatedSQL, validation, tokensUsed)
	}

	// sql_only请求到此为止，不执行
	if returnType == ReturnTypeSQLOnly {
		return &QueryResponse{
			Success:      true,
			GeneratedSQL: &generatedSQL,
			Validation:   validation,
			Confidence:   100,
			TokensUsed:   tokensUsed,
		}
	}

	// 阶段4：查询类别准入控制
	release, err := o.limiter.AcquireQuerySlot(ctx)
	if err != nil {
		return failureResponse(o.admissionError(err), &generatedSQL, validation, tokensUsed)
	}
	defer release()

	// 阶段5：执行，按目标库独立熔断
	result, perr := o.executeSQL(ctx, database, generatedSQL)
	if perr != nil {
		return failureResponse(perr, &generatedSQL, validation, tokensUsed)
	}

	// 阶段6：结果校验（尽力而为，失败只回落默认置信度）
	confidence := o.resultCheck.Validate(ctx, req.Question, summarizeResult(result))

	o.logger.Info("查询完成",
		zap.String("database", database),
		zap.Int("row_count", result.RowCount),
		zap.Int("confidence", confidence),
		zap.Int("tokens_used", tokensUsed),
		zap.Duration("total_time", time.Since(start)),
	)

	return &QueryResponse{
		Success:      true,
		GeneratedSQL: &generatedSQL,
		Validation:   validation,
		Data:         result,
		Confidence:   confidence,
		TokensUsed:   tokensUsed,
	}
}

// resolveDatabase 按优先级确定目标库：
// 显式指定 → 单库 → 默认库（选择器关闭时）→ LLM选择器 → 默认库 → 无法消歧
func (o *Orchestrator) resolveDatabase(ctx context.Context, req *QueryRequest) (string, *PipelineError) {
	if req.Database != "" {
		if !o.registry.Has(req.Database) {
			return "", NewPipelineError(ErrCodeDatabaseNotFound,
				fmt.Sprintf("数据库%s未配置", req.Database)).
				WithDetail("available_databases", o.registry.Names())
		}
		return req.Database, nil
	}

	names := o.registry.Names()
	if len(names) == 1 {
		return names[0], nil
	}

	selectorUsable := o.autoSelect && o.registry.HasDescriptions()

	if !selectorUsable {
		if def := o.registry.DefaultDatabase(); def != "" {
			return def, nil
		}
		return "", o.ambiguousError()
	}

	selection := o.selector.Select(ctx, req.Question, o.registry.Candidates())
	if selection != nil && o.registry.Has(selection.Database) {
		o.logger.Info("选择器确定目标数据库",
			zap.String("database", selection.Database),
			zap.Float64("confidence", selection.Confidence),
			zap.String("reason", selection.Reason),
		)
		return selection.Database, nil
	}

	if def := o.registry.DefaultDatabase(); def != "" {
		return def, nil
	}
	return "", o.ambiguousError()
}

func (o *Orchestrator) ambiguousError() *PipelineError {
	return NewPipelineError(ErrCodeAmbiguousDatabase,
		"配置了多个数据库但无法确定目标库：请在请求中指定database，或配置DEFAULT_DATABASE/数据库描述").
		WithDetail("available_databases", o.registry.Names())
}

// generateSQL 生成阶段：LLM槽位准入在生成调用外层，熔断保护在调用内层
func (o *Orchestrator) generateSQL(ctx context.Context, question, database string) (string, int, *PipelineError) {
	schema, err := o.schemas.SchemaText(ctx, database)
	if err != nil {
		// schema自省失败不阻断生成，提示词降级为无结构上下文
		o.logger.Warn("schema自省失败，继续生成", zap.String("database", database), zap.Error(err))
		schema = ""
	}

	release, err := o.limiter.AcquireLLMSlot(ctx)
	if err != nil {
		return "", 0, o.admissionError(err)
	}
	defer release()

	var sql string
	var tokens int
	err = o.llmBreaker.Execute(ctx, func(ctx context.Context) error {
		var genErr error
		sql, tokens, genErr = o.generator.Generate(ctx, question, schema)
		return genErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", tokens, NewPipelineError(ErrCodeCircuitOpen, "LLM服务熔断中，请稍后重试")
		}
		return "", tokens, NewPipelineError(ErrCodeGenerationFailed,
			fmt.Sprintf("SQL生成失败: %v", err))
	}
	return sql, tokens, nil
}

// executeSQL 执行阶段，目标库独立熔断
func (o *Orchestrator) executeSQL(ctx context.Context, database, sql string) (*QueryResult, *PipelineError) {
	var result *QueryResult
	err := o.breakers.ForDependency(database).Execute(ctx, func(ctx context.Context) error {
		var execErr error
		result, execErr = o.executor.Execute(ctx, database, sql)
		return execErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, NewPipelineError(ErrCodeCircuitOpen,
				fmt.Sprintf("数据库%s熔断中，请稍后重试", database))
		}
		var perr *PipelineError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, NewPipelineError(ErrCodeExecutionFailed, err.Error())
	}
	return result, nil
}

// admissionError 区分限流拒绝与上下文取消
func (o *Orchestrator) admissionError(err error) *PipelineError {
	if errors.Is(err, resilience.ErrRateLimitExceeded) {
		return NewPipelineError(ErrCodeRateLimitExceeded, "并发请求数超过限制，请稍后重试")
	}
	return NewPipelineError(ErrCodeInternalError, fmt.Sprintf("请求被中断: %v", err))
}

// failureResponse 组装失败响应，维持响应不变式
func failureResponse(perr *PipelineError, generatedSQL *string, validation *ValidationResult, tokensUsed int) *QueryResponse {
	return &QueryResponse{
		Success:      false,
		GeneratedSQL: generatedSQL,
		Validation:   validation,
		Error: &ErrorDetail{
			Code:    perr.Code,
			Message: perr.Message,
			Details: perr.Details,
		},
		Confidence: 0,
		TokensUsed: tokensUsed,
	}
}

// summarizeResult 为结果校验渲染紧凑摘要，最多携带5行样本
func summarizeResult(result *QueryResult) string {
	sampleCount := len(result.Rows)
	if sampleCount > 5 {
		sampleCount = 5
	}
	sample, err := json.Marshal(result.Rows[:sampleCount])
	if err != nil {
		sample = []byte("[]")
	}
	return fmt.Sprintf("列: [%s]\n行数: %d\n样本: %s",
		strings.Join(result.Columns, ", "), result.RowCount, sample)
}
