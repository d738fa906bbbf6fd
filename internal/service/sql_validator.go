// SQL安全校验器
// 基于AST静态分析：语句类型分类、单语句强制、禁用函数扫描
//
// 校验是sql文本与不可变安全策略的纯函数，无任何IO；
// 畸形SQL是正常的可报告结果（is_valid=false），不是系统故障

package service

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
	"go.uber.org/zap"

	"nl2sql-go/internal/config"
	"nl2sql-go/internal/metrics"
)

// SQLValidator 语句安全校验器
type SQLValidator struct {
	allowWrite   bool
	allowExplain bool
	blocked      map[string]bool
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewSQLValidator 创建校验器
func NewSQLValidator(cfg *config.SecurityConfig, m *metrics.Metrics, logger *zap.Logger) *SQLValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	blocked := make(map[string]bool, len(cfg.BlockedFunctions))
	for _, f := range cfg.BlockedFunctions {
		blocked[strings.ToLower(f)] = true
	}
	return &SQLValidator{
		allowWrite:   cfg.AllowWriteOperations,
		allowExplain: cfg.AllowExplain,
		blocked:      blocked,
		metrics:      m,
		logger:       logger,
	}
}

// Validate 校验单条SQL语句
func (v *SQLValidator) Validate(sql string) *ValidationResult {
	result := v.validate(sql)
	if v.metrics != nil && !result.IsValid {
		v.metrics.RecordSQLRejection(rejectionReason(result))
	}
	return result
}

func (v *SQLValidator) validate(sql string) *ValidationResult {
	result := &ValidationResult{UsesBlockedFunctions: []string{}}

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		result.ErrorMessage = "SQL语句为空"
		return result
	}

	// COPY/MERGE是PostgreSQL特有语法，方言解析器不识别，按写操作前置分类。
	// 表达式层同理：::转换符无法解析，生成提示词强制CAST写法
	switch firstKeyword(trimmed) {
	case "COPY", "MERGE":
		result.AllowsDataModification = true
		if !v.allowWrite {
			result.ErrorMessage = "写操作未被允许：" + firstKeyword(trimmed)
			return result
		}
		result.IsValid = true
		return result
	}

	stmts, _, err := parser.New().Parse(trimmed, "", "")
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("SQL解析失败: %v", err)
		return result
	}

	// 拒绝语句分隔符走私：SELECT 1; DROP TABLE x
	if len(stmts) != 1 {
		result.ErrorMessage = fmt.Sprintf("仅允许单条语句，实际解析出%d条", len(stmts))
		return result
	}
	stmt := stmts[0]

	switch stmt.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt, *ast.ShowStmt:
		result.IsSelect = true

	case *ast.ExplainStmt:
		if !v.allowExplain {
			result.ErrorMessage = "EXPLAIN语句未被允许"
			return result
		}

	case *ast.InsertStmt, *ast.UpdateStmt, *ast.DeleteStmt,
		*ast.TruncateTableStmt, *ast.LoadDataStmt:
		result.AllowsDataModification = true
		if !v.allowWrite {
			result.ErrorMessage = "写操作未被允许：数据修改语句被安全策略拒绝"
			return result
		}

	default:
		if _, isDDL := stmt.(ast.DDLNode); isDDL {
			result.AllowsDataModification = true
			if !v.allowWrite {
				result.ErrorMessage = "写操作未被允许：DDL语句被安全策略拒绝"
				return result
			}
			break
		}
		result.ErrorMessage = fmt.Sprintf("不支持的语句类型: %T", stmt)
		return result
	}

	// 即使在合法的读语句内部，调用黑名单函数也必须拒绝
	visitor := &blockedFuncVisitor{blocked: v.blocked}
	stmt.Accept(visitor)
	if len(visitor.found) > 0 {
		result.UsesBlockedFunctions = visitor.found
		result.ErrorMessage = "语句调用了被禁用的函数: " + strings.Join(visitor.found, ", ")
		return result
	}

	result.IsValid = true
	return result
}

// blockedFuncVisitor 遍历AST收集命中黑名单的函数调用
type blockedFuncVisitor struct {
	blocked map[string]bool
	seen    map[string]bool
	found   []string
}

func (v *blockedFuncVisitor) Enter(n ast.Node) (ast.Node, bool) {
	if fc, ok := n.(*ast.FuncCallExpr); ok {
		name := strings.ToLower(fc.FnName.String())
		if v.blocked[name] {
			if v.seen == nil {
				v.seen = make(map[string]bool)
			}
			if !v.seen[name] {
				v.seen[name] = true
				v.found = append(v.found, name)
			}
		}
	}
	return n, false
}

func (v *blockedFuncVisitor) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

// firstKeyword 返回语句首个关键字的大写形式
func firstKeyword(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimRight(fields[0], "(;"))
}

// rejectionReason 将校验结果归类为指标维度
func rejectionReason(r *ValidationResult) string {
	switch {
	case len(r.UsesBlockedFunctions) > 0:
		return "blocked_function"
	case r.AllowsDataModification:
		return "write_blocked"
	case strings.Contains(r.ErrorMessage, "EXPLAIN"):
		return "explain_blocked"
	case strings.Contains(r.ErrorMessage, "单条语句"):
		return "multi_statement"
	default:
		return "parse_error"
	}
}
