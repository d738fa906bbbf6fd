// Package handler HTTP接口层
// 对外暴露查询管道、数据库列表与健康检查
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nl2sql-go/internal/service"
)

// QueryExecutor 查询管道能力，便于测试替换
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, req *service.QueryRequest) *service.QueryResponse
}

// DatabaseLister 目标库信息
type DatabaseLister interface {
	Names() []string
	DefaultDatabase() string
	HealthCheck(ctx context.Context) map[string]error
}

// QueryHandler 查询接口处理器
type QueryHandler struct {
	orchestrator QueryExecutor
	databases    DatabaseLister
	logger       *zap.Logger
}

// NewQueryHandler 创建处理器
func NewQueryHandler(orchestrator QueryExecutor, databases DatabaseLister, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{
		orchestrator: orchestrator,
		databases:    databases,
		logger:       logger,
	}
}

// Query POST /api/v1/query
// 管道级失败同样返回200与结构化错误——只有请求本身畸形才返回4xx
func (h *QueryHandler) Query(c *gin.Context) {
	var req service.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "invalid_request",
				"message": "请求体不合法: " + err.Error(),
			},
			"confidence":  0,
			"tokens_used": 0,
		})
		return
	}

	if req.ReturnType != "" &&
		req.ReturnType != service.ReturnTypeSQLOnly &&
		req.ReturnType != service.ReturnTypeResult {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "invalid_request",
				"message": "return_type必须是sql_only或result",
			},
			"confidence":  0,
			"tokens_used": 0,
		})
		return
	}

	resp := h.orchestrator.ExecuteQuery(c.Request.Context(), &req)
	c.JSON(http.StatusOK, resp)
}

// ListDatabases GET /api/v1/databases
func (h *QueryHandler) ListDatabases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"databases":        h.databases.Names(),
		"default_database": h.databases.DefaultDatabase(),
	})
}

// Health GET /health
func (h *QueryHandler) Health(c *gin.Context) {
	results := h.databases.HealthCheck(c.Request.Context())

	healthy := true
	databases := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			healthy = false
			databases[name] = err.Error()
		} else {
			databases[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":   healthy,
		"databases": databases,
	})
}
