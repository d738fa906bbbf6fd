// Schema自省器
// 读取information_schema为SQL生成器提供表结构上下文，结果按库缓存

package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const schemaQuery = `
SELECT
    c.table_name,
    c.column_name,
    c.data_type,
    COALESCE(tc.constraint_type = 'PRIMARY KEY', false) AS is_primary_key
FROM information_schema.columns c
LEFT JOIN information_schema.key_column_usage kcu
    ON c.table_schema = kcu.table_schema
    AND c.table_name = kcu.table_name
    AND c.column_name = kcu.column_name
LEFT JOIN information_schema.table_constraints tc
    ON kcu.constraint_name = tc.constraint_name
    AND kcu.table_schema = tc.table_schema
    AND tc.constraint_type = 'PRIMARY KEY'
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position`

type cachedSchema struct {
	text      string
	fetchedAt time.Time
}

// SchemaIntrospector 表结构读取与缓存
type SchemaIntrospector struct {
	pools *PoolManager
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]cachedSchema

	logger *zap.Logger
}

// NewSchemaIntrospector 创建自省器
func NewSchemaIntrospector(pools *PoolManager, ttl time.Duration, logger *zap.Logger) *SchemaIntrospector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SchemaIntrospector{
		pools:  pools,
		ttl:    ttl,
		cache:  make(map[string]cachedSchema),
		logger: logger,
	}
}

// SchemaText 返回目标库的格式化表结构描述
// 缓存未过期时直接返回；自省失败时返回错误由调用方决定降级策略
func (si *SchemaIntrospector) SchemaText(ctx context.Context, database string) (string, error) {
	si.mu.Lock()
	if cached, ok := si.cache[database]; ok && time.Since(cached.fetchedAt) < si.ttl {
		si.mu.Unlock()
		return cached.text, nil
	}
	si.mu.Unlock()

	text, err := si.introspect(ctx, database)
	if err != nil {
		return "", err
	}

	si.mu.Lock()
	si.cache[database] = cachedSchema{text: text, fetchedAt: time.Now()}
	si.mu.Unlock()

	return text, nil
}

// Invalidate 使指定库的缓存失效
func (si *SchemaIntrospector) Invalidate(database string) {
	si.mu.Lock()
	delete(si.cache, database)
	si.mu.Unlock()
}

func (si *SchemaIntrospector) introspect(ctx context.Context, database string) (string, error) {
	pool, ok := si.pools.Pool(database)
	if !ok {
		return "", fmt.Errorf("数据库%s没有对应的连接池", database)
	}

	rows, err := pool.Query(ctx, schemaQuery)
	if err != nil {
		return "", fmt.Errorf("读取数据库%s的schema失败: %w", database, err)
	}
	defer rows.Close()

	type column struct {
		name      string
		dataType  string
		isPrimary bool
	}
	tables := make(map[string][]column)
	var tableOrder []string

	for rows.Next() {
		var tableName string
		var col column
		if err := rows.Scan(&tableName, &col.name, &col.dataType, &col.isPrimary); err != nil {
			return "", fmt.Errorf("扫描schema行失败: %w", err)
		}
		if _, seen := tables[tableName]; !seen {
			tableOrder = append(tableOrder, tableName)
		}
		tables[tableName] = append(tables[tableName], col)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("遍历schema结果失败: %w", err)
	}

	var sb strings.Builder
	for _, tableName := range tableOrder {
		fmt.Fprintf(&sb, "表 %s:\n", tableName)
		for _, col := range tables[tableName] {
			if col.isPrimary {
				fmt.Fprintf(&sb, "  - %s (%s, 主键)\n", col.name, col.dataType)
			} else {
				fmt.Fprintf(&sb, "  - %s (%s)\n", col.name, col.dataType)
			}
		}
	}

	si.logger.Debug("schema自省完成",
		zap.String("database", database),
		zap.Int("table_count", len(tableOrder)),
	)
	return strings.TrimRight(sb.String(), "\n"), nil
}
