// Package mcpserver 通过Model Context Protocol暴露查询管道
// 注册query与list_databases两个工具，走streamable HTTP传输
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"nl2sql-go/internal/service"
)

// queryExecutor 查询管道能力
type queryExecutor interface {
	ExecuteQuery(ctx context.Context, req *service.QueryRequest) *service.QueryResponse
}

// databaseLister 目标库信息
type databaseLister interface {
	Names() []string
	DefaultDatabase() string
}

// Server MCP服务端
type Server struct {
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
}

// New 创建MCP服务端并注册工具
func New(orchestrator queryExecutor, databases databaseLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpSrv := server.NewMCPServer(
		"nl2sql",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpSrv,
		logger:    logger,
	}

	queryTool := mcp.NewTool("query",
		mcp.WithDescription("将自然语言问题转换为SQL并在目标PostgreSQL数据库上执行，返回结构化结果"),
		mcp.WithString("question",
			mcp.Description("自然语言形式的查询问题"),
			mcp.Required(),
		),
		mcp.WithString("database",
			mcp.Description("目标数据库逻辑名称；省略时自动路由"),
		),
		mcp.WithString("return_type",
			mcp.Description("sql_only只生成SQL不执行，result执行并返回数据，默认result"),
		),
	)
	mcpSrv.AddTool(queryTool, s.handleQuery(orchestrator))

	listTool := mcp.NewTool("list_databases",
		mcp.WithDescription("列出全部可查询的数据库及默认库"),
	)
	mcpSrv.AddTool(listTool, s.handleListDatabases(databases))

	s.httpServer = server.NewStreamableHTTPServer(mcpSrv,
		server.WithEndpointPath("/mcp"),
	)
	return s
}

func (s *Server) handleQuery(orchestrator queryExecutor) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := request.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError("缺少question参数"), nil
		}

		req := &service.QueryRequest{
			Question:   question,
			Database:   request.GetString("database", ""),
			ReturnType: request.GetString("return_type", ""),
		}

		resp := orchestrator.ExecuteQuery(ctx, req)
		payload, err := json.Marshal(resp)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("序列化响应失败: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func (s *Server) handleListDatabases(databases databaseLister) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload, err := json.Marshal(map[string]any{
			"databases":        databases.Names(),
			"default_database": databases.DefaultDatabase(),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("序列化响应失败: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// Start 启动streamable HTTP监听，阻塞直到Shutdown
func (s *Server) Start(addr string) error {
	s.logger.Info("MCP服务启动", zap.String("addr", addr), zap.String("endpoint", "/mcp"))
	return s.httpServer.Start(addr)
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
