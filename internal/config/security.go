package config

import (
	"os"
	"strings"
)

// builtinBlockedFunctions 内置危险函数黑名单
// 覆盖休眠、文件IO、大对象导入导出、dblink与后端管理函数
var builtinBlockedFunctions = []string{
	"pg_sleep",
	"pg_sleep_for",
	"pg_sleep_until",
	"pg_terminate_backend",
	"pg_cancel_backend",
	"pg_reload_conf",
	"pg_rotate_logfile",
	"pg_read_file",
	"pg_read_binary_file",
	"pg_write_file",
	"pg_ls_dir",
	"pg_stat_file",
	"lo_import",
	"lo_export",
	"dblink",
	"dblink_exec",
	"dblink_connect",
	"dblink_open",
}

// SecurityConfig SQL安全策略，进程级不可变
type SecurityConfig struct {
	AllowWriteOperations bool     // 是否允许写操作（INSERT/UPDATE/DELETE及DDL）
	AllowExplain         bool     // 是否允许EXPLAIN语句
	BlockedFunctions     []string // 禁用函数名单（内置名单 + 配置追加）
}

// LoadSecurityConfig 从环境变量加载安全策略
// BLOCKED_FUNCTIONS 为逗号分隔的追加名单，始终与内置名单合并
func LoadSecurityConfig() *SecurityConfig {
	cfg := &SecurityConfig{
		AllowWriteOperations: getEnvBool("ALLOW_WRITE_OPERATIONS", false),
		AllowExplain:         getEnvBool("ALLOW_EXPLAIN", false),
	}

	merged := make(map[string]bool, len(builtinBlockedFunctions))
	for _, f := range builtinBlockedFunctions {
		merged[f] = true
		cfg.BlockedFunctions = append(cfg.BlockedFunctions, f)
	}

	if raw := os.Getenv("BLOCKED_FUNCTIONS"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			f = strings.ToLower(strings.TrimSpace(f))
			if f != "" && !merged[f] {
				merged[f] = true
				cfg.BlockedFunctions = append(cfg.BlockedFunctions, f)
			}
		}
	}

	return cfg
}
