// nl2sql服务入口
// 装配查询管道的全部组件，同时暴露HTTP与MCP两个接口面

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nl2sql-go/internal/ai"
	"nl2sql-go/internal/config"
	"nl2sql-go/internal/handler"
	"nl2sql-go/internal/mcpserver"
	"nl2sql-go/internal/metrics"
	"nl2sql-go/internal/resilience"
	"nl2sql-go/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = config.LoadEnv(".env")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Server.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 连接池：每个配置的目标库一个，进程生命周期内存活
	pools, err := service.NewPoolManager(ctx, cfg.Databases, m, logger)
	if err != nil {
		return err
	}
	defer pools.Close()

	llmClient, err := ai.NewLLMClient(cfg.LLM, logger)
	if err != nil {
		return err
	}

	// 管道组件装配
	introspector := service.NewSchemaIntrospector(pools, 5*time.Minute, logger)
	generator := ai.NewSQLGenerator(llmClient, cfg.LLM.Temperature, cfg.LLM.MaxTokens,
		cfg.Databases.MaxRows, m, logger)
	selector := ai.NewDatabaseSelector(llmClient, m, logger)
	resultValidator := ai.NewResultValidator(llmClient, cfg.LLM.ResultValidationEnabled, m, logger)
	validator := service.NewSQLValidator(cfg.Security, m, logger)
	executor := service.NewSQLExecutor(pools, cfg.Databases, m, logger)
	limiter := resilience.NewSlotLimiter(cfg.RateLimit, logger)
	breakers := resilience.NewBreakerRegistry(cfg.CircuitBreaker, logger)

	orchestrator := service.NewOrchestrator(service.OrchestratorDeps{
		Registry:        pools,
		Schemas:         introspector,
		Generator:       generator,
		Selector:        selector,
		ResultValidator: resultValidator,
		Validator:       validator,
		Executor:        executor,
		Limiter:         limiter,
		Breakers:        breakers,
		AutoSelect:      cfg.Databases.AutoSelectEnabled,
		Metrics:         m,
		Logger:          logger,
	})

	queryHandler := handler.NewQueryHandler(orchestrator, pools, logger)
	router := handler.NewRouter(queryHandler, m, logger, cfg.Server.Environment)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("HTTP服务启动", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var mcpSrv *mcpserver.Server
	if cfg.Server.MCPEnabled {
		mcpSrv = mcpserver.New(orchestrator, pools, logger)
		go func() {
			if err := mcpSrv.Start(fmt.Sprintf(":%d", cfg.Server.MCPPort)); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("收到退出信号，开始优雅关闭")
	case err := <-errCh:
		logger.Error("服务异常退出", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP服务关闭超时", zap.Error(err))
	}
	if mcpSrv != nil {
		if err := mcpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("MCP服务关闭超时", zap.Error(err))
		}
	}

	logger.Info("服务已退出")
	return nil
}

// newLogger 按运行环境选择日志配置
func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
