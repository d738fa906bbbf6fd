package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConfig 单个PostgreSQL目标库的连接配置
// 进程启动时加载一次，之后不可变；每个配置拥有一个独立连接池
type DatabaseConfig struct {
	Name        string `json:"name"`                  // 逻辑名称，路由与请求中引用的标识
	Host        string `json:"host"`                  // 数据库主机地址
	Port        int    `json:"port"`                  // 数据库端口
	User        string `json:"user"`                  // 数据库用户名
	Password    string `json:"password"`              // 数据库密码
	Database    string `json:"database"`              // 数据库名称
	Description string `json:"description,omitempty"` // 人类可读描述，供数据库路由使用
	SSLMode     string `json:"ssl_mode,omitempty"`    // SSL模式：disable, prefer, require等

	// 连接池配置 - 基于pgxpool最佳实践
	MinConns int32 `json:"min_conns,omitempty"` // 最小连接数（保持热连接）
	MaxConns int32 `json:"max_conns,omitempty"` // 最大连接数
}

// applyDefaults 填充未设置字段的默认值
func (c *DatabaseConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
}

// Validate 验证数据库配置的有效性
func (c *DatabaseConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("数据库逻辑名称不能为空")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("数据库 %s: 端口必须在1-65535范围内", c.Name)
	}
	if c.User == "" {
		return fmt.Errorf("数据库 %s: 用户名不能为空", c.Name)
	}
	if c.Database == "" {
		return fmt.Errorf("数据库 %s: 数据库名称不能为空", c.Name)
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("数据库 %s: 最小连接数不能大于最大连接数", c.Name)
	}
	return nil
}

// ConnectionString 构建pgx连接字符串
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=nl2sql",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// PoolConfig 获取pgxpool连接池配置
func (c *DatabaseConfig) PoolConfig() (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("解析数据库连接字符串失败: %w", err)
	}

	cfg.MinConns = c.MinConns
	cfg.MaxConns = c.MaxConns
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = 5 * time.Minute

	return cfg, nil
}

// DatabasesConfig 全部目标库配置与路由策略
type DatabasesConfig struct {
	Databases         []DatabaseConfig // 配置顺序即候选顺序，路由降级时取第一个
	DefaultDatabase   string           // 多库场景下的默认路由目标
	AutoSelectEnabled bool             // 是否启用LLM数据库选择器
	QueryTimeout      time.Duration    // 单条语句执行超时
	MaxRows           int              // 结果集行数上限，超出截断
}

// LoadDatabasesConfig 从环境变量加载数据库配置
//
// 多库配置通过 PG_DATABASES 提供JSON数组：
//
//	[{"name":"blog","host":"...","user":"...","password":"...","database":"...","description":"..."}]
//
// 未设置 PG_DATABASES 时退回单库的 DB_* 变量。
func LoadDatabasesConfig() (*DatabasesConfig, error) {
	cfg := &DatabasesConfig{
		DefaultDatabase:   getEnvString("DEFAULT_DATABASE", ""),
		AutoSelectEnabled: getEnvBool("AUTO_SELECT_DATABASE", true),
		QueryTimeout:      getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
		MaxRows:           getEnvInt("MAX_RESULT_ROWS", 1000),
	}

	if raw := os.Getenv("PG_DATABASES"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Databases); err != nil {
			return nil, fmt.Errorf("解析PG_DATABASES失败: %w", err)
		}
	} else {
		cfg.Databases = []DatabaseConfig{{
			Name:        getEnvString("DB_NAME", "main"),
			Host:        getEnvString("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnvString("DB_USER", "postgres"),
			Password:    getEnvString("DB_PASSWORD", ""),
			Database:    getEnvString("DB_DATABASE", "postgres"),
			Description: getEnvString("DB_DESCRIPTION", ""),
		}}
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("至少需要配置一个数据库")
	}

	seen := make(map[string]bool, len(cfg.Databases))
	for i := range cfg.Databases {
		cfg.Databases[i].applyDefaults()
		if err := cfg.Databases[i].Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.Databases[i].Name] {
			return nil, fmt.Errorf("数据库逻辑名称重复: %s", cfg.Databases[i].Name)
		}
		seen[cfg.Databases[i].Name] = true
	}

	if cfg.DefaultDatabase != "" && !seen[cfg.DefaultDatabase] {
		return nil, fmt.Errorf("默认数据库 %s 未在配置中定义", cfg.DefaultDatabase)
	}

	return cfg, nil
}
