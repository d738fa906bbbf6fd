// 连接池注册表
// 每个配置的目标库独占一个pgxpool连接池，进程启动时建立，进程生命周期内存活

package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"nl2sql-go/internal/ai"
	"nl2sql-go/internal/config"
	"nl2sql-go/internal/metrics"
)

// PoolManager 按逻辑名称管理数据库连接池
type PoolManager struct {
	pools     map[string]*pgxpool.Pool
	configs   map[string]*config.DatabaseConfig
	order     []string // 配置顺序，路由降级时有意义
	defaultDB string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewPoolManager 为每个配置的数据库建立连接池
// 任何一个池建立失败都会关闭已建立的池并返回错误
func NewPoolManager(ctx context.Context, cfg *config.DatabasesConfig, m *metrics.Metrics, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pm := &PoolManager{
		pools:     make(map[string]*pgxpool.Pool, len(cfg.Databases)),
		configs:   make(map[string]*config.DatabaseConfig, len(cfg.Databases)),
		defaultDB: cfg.DefaultDatabase,
		metrics:   m,
		logger:    logger,
	}

	for i := range cfg.Databases {
		dbCfg := &cfg.Databases[i]
		poolCfg, err := dbCfg.PoolConfig()
		if err != nil {
			pm.Close()
			return nil, err
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			pm.Close()
			return nil, fmt.Errorf("创建数据库%s的连接池失败: %w", dbCfg.Name, err)
		}

		pm.pools[dbCfg.Name] = pool
		pm.configs[dbCfg.Name] = dbCfg
		pm.order = append(pm.order, dbCfg.Name)

		logger.Info("连接池已建立",
			zap.String("database", dbCfg.Name),
			zap.String("host", dbCfg.Host),
			zap.Int32("max_conns", dbCfg.MaxConns),
		)
	}

	return pm, nil
}

// Pool 按名称获取连接池
func (pm *PoolManager) Pool(name string) (*pgxpool.Pool, bool) {
	pool, ok := pm.pools[name]
	return pool, ok
}

// Has 名称是否有对应的连接池
func (pm *PoolManager) Has(name string) bool {
	_, ok := pm.pools[name]
	return ok
}

// Names 全部逻辑名称，保持配置顺序
func (pm *PoolManager) Names() []string {
	return pm.order
}

// DefaultDatabase 配置的默认数据库名称，可能为空
func (pm *PoolManager) DefaultDatabase() string {
	return pm.defaultDB
}

// Candidates 路由候选列表，保持配置顺序
func (pm *PoolManager) Candidates() []ai.DatabaseCandidate {
	candidates := make([]ai.DatabaseCandidate, 0, len(pm.order))
	for _, name := range pm.order {
		candidates = append(candidates, ai.DatabaseCandidate{
			Name:        name,
			Description: pm.configs[name].Description,
		})
	}
	return candidates
}

// HasDescriptions 是否有任何候选携带路由描述
func (pm *PoolManager) HasDescriptions() bool {
	for _, name := range pm.order {
		if pm.configs[name].Description != "" {
			return true
		}
	}
	return false
}

// HealthCheck 对每个池执行ping，返回逐库结果
func (pm *PoolManager) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(pm.pools))
	for name, pool := range pm.pools {
		results[name] = pool.Ping(ctx)
		if pm.metrics != nil {
			pm.metrics.SetPoolConnections(name, pool.Stat().TotalConns())
		}
	}
	return results
}

// Close 关闭全部连接池
func (pm *PoolManager) Close() {
	for name, pool := range pm.pools {
		pool.Close()
		pm.logger.Info("连接池已关闭", zap.String("database", name))
	}
}
