// SQL执行器
// 在单个目标库的连接池上执行已通过安全校验的语句
//
// 执行器不复查安全策略——策略是校验器的唯一职责；
// 这里只负责超时控制、行数上限与结果物化

package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"nl2sql-go/internal/config"
	"nl2sql-go/internal/metrics"
)

// SQLExecutor 语句执行器
type SQLExecutor struct {
	pools        *PoolManager
	queryTimeout time.Duration
	maxRows      int
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewSQLExecutor 创建执行器
func NewSQLExecutor(pools *PoolManager, cfg *config.DatabasesConfig, m *metrics.Metrics, logger *zap.Logger) *SQLExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLExecutor{
		pools:        pools,
		queryTimeout: cfg.QueryTimeout,
		maxRows:      cfg.MaxRows,
		metrics:      m,
		logger:       logger,
	}
}

// Execute 在指定数据库上执行语句并物化结果
//
// 结果行数超过上限时截断并置Truncated标记，而不是失败；
// 所有失败以*PipelineError返回，从不产生部分结果
func (e *SQLExecutor) Execute(ctx context.Context, database, sql string) (*QueryResult, error) {
	pool, ok := e.pools.Pool(database)
	if !ok {
		return nil, NewPipelineError(ErrCodeDatabaseNotFound,
			fmt.Sprintf("数据库%s没有对应的连接池", database))
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := pool.Query(queryCtx, sql)
	if err != nil {
		return nil, e.wrapExecutionError(err, database)
	}
	defer rows.Close()

	// 列顺序来自结果描述符，对调用方渲染有意义
	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	result := &QueryResult{
		Columns: columns,
		Rows:    make([]map[string]any, 0, 16),
	}

	for rows.Next() {
		if result.RowCount >= e.maxRows {
			result.Truncated = true
			e.logger.Warn("结果集超过行数上限，已截断",
				zap.String("database", database),
				zap.Int("max_rows", e.maxRows),
			)
			break
		}

		values, err := rows.Values()
		if err != nil {
			return nil, e.wrapExecutionError(err, database)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}

	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return nil, e.wrapExecutionError(err, database)
		}
	}

	result.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	e.logger.Debug("语句执行完成",
		zap.String("database", database),
		zap.Int("row_count", result.RowCount),
		zap.Float64("execution_time_ms", result.ExecutionTimeMS),
		zap.Bool("truncated", result.Truncated),
	)
	return result, nil
}

// wrapExecutionError 将驱动层错误归一为执行失败
func (e *SQLExecutor) wrapExecutionError(err error, database string) *PipelineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewPipelineError(ErrCodeExecutionFailed,
			fmt.Sprintf("查询超时（上限%s）", e.queryTimeout)).
			WithDetail("database", database)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return NewPipelineError(ErrCodeExecutionFailed,
			fmt.Sprintf("数据库错误: %s", pgErr.Message)).
			WithDetail("database", database).
			WithDetail("sqlstate", pgErr.Code)
	}

	return NewPipelineError(ErrCodeExecutionFailed,
		fmt.Sprintf("语句执行失败: %v", err)).
		WithDetail("database", database)
}

// convertValue 将驱动返回值转换为可JSON序列化的形式
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return "base64:" + base64.StdEncoding.EncodeToString(val)
	default:
		return v
	}
}
