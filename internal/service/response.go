// Package service 实现自然语言查询管道：
// SQL安全校验、连接池管理、语句执行与请求编排
package service

// 错误码分类，作为响应中error.code返回
const (
	ErrCodeDatabaseNotFound  = "database_not_found"  // 请求/选中的数据库没有对应的连接池
	ErrCodeAmbiguousDatabase = "ambiguous_database"  // 多库配置下无法确定目标库
	ErrCodeGenerationFailed  = "generation_failed"   // SQL生成LLM调用失败或输出不可用
	ErrCodeValidationFailed  = "validation_failed"   // 语句被安全策略拒绝
	ErrCodeRateLimitExceeded = "rate_limit_exceeded" // 准入控制在超时内未授予槽位
	ErrCodeCircuitOpen       = "circuit_open"        // 依赖熔断器打开，快速失败
	ErrCodeExecutionFailed   = "execution_failed"    // 数据库层执行错误
	ErrCodeInternalError     = "internal_error"      // 未分类的内部故障
)

// PipelineError 管道内部传递的带错误码的错误
// 在编排器边界转换为响应中的ErrorDetail，从不向外抛出
type PipelineError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *PipelineError) Error() string {
	return e.Message
}

// NewPipelineError 创建管道错误
func NewPipelineError(code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// WithDetail 附加诊断信息
func (e *PipelineError) WithDetail(key string, value any) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// 请求的返回形式
const (
	ReturnTypeSQLOnly = "sql_only" // 只生成并校验SQL，不执行
	ReturnTypeResult  = "result"   // 执行并返回结果集
)

// QueryRequest 一次自然语言查询请求
type QueryRequest struct {
	Question   string `json:"question" binding:"required"`
	Database   string `json:"database,omitempty"`
	ReturnType string `json:"return_type,omitempty"`
}

// ValidationResult SQL安全校验结果，每次校验新建且不再修改
type ValidationResult struct {
	IsValid                bool     `json:"is_valid"`
	IsSelect               bool     `json:"is_select"`
	AllowsDataModification bool     `json:"allows_data_modification"`
	ErrorMessage           string   `json:"error_message,omitempty"`
	UsesBlockedFunctions   []string `json:"uses_blocked_functions"`
}

// QueryResult 表格化查询结果
// 行保持数据库返回顺序，列顺序对渲染有意义
type QueryResult struct {
	Columns         []string         `json:"columns"`
	Rows            []map[string]any `json:"rows"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
	Truncated       bool             `json:"truncated,omitempty"` // 结果超过行数上限被截断
}

// ErrorDetail 响应中的结构化错误
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// QueryResponse 查询管道的最终输出
//
// 不变式：Success=true ⇔ Error为nil；
// Confidence与TokensUsed永远是非负整数，默认0，从不为null——
// 调用方渲染成本/置信度徽标时无需判空
type QueryResponse struct {
	Success      bool              `json:"success"`
	GeneratedSQL *string           `json:"generated_sql"`
	Validation   *ValidationResult `json:"validation"`
	Data         *QueryResult      `json:"data"`
	Error        *ErrorDetail      `json:"error"`
	Confidence   int               `json:"confidence"`
	TokensUsed   int               `json:"tokens_used"`
}
