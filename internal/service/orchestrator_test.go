package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nl2sql-go/internal/ai"
	"nl2sql-go/internal/config"
	"nl2sql-go/internal/resilience"
)

type fakeRegistry struct {
	names        []string
	defaultDB    string
	descriptions map[string]string
}

func (f *fakeRegistry) Has(name string) bool {
	for _, n := range f.names {
		if n == name {
			return true
		}
	}
	return false
}
func (f *fakeRegistry) Names() []string         { return f.names }
func (f *fakeRegistry) DefaultDatabase() string { return f.defaultDB }
func (f *fakeRegistry) Candidates() []ai.DatabaseCandidate {
	candidates := make([]ai.DatabaseCandidate, 0, len(f.names))
	for _, n := range f.names {
		candidates = append(candidates, ai.DatabaseCandidate{Name: n, Description: f.descriptions[n]})
	}
	return candidates
}
func (f *fakeRegistry) HasDescriptions() bool { return len(f.descriptions) > 0 }

type fakeGenerator struct {
	sql    string
	tokens int
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(context.Context, string, string) (string, int, error) {
	f.calls++
	if f.err != nil {
		return "", f.tokens, f.err
	}
	return f.sql, f.tokens, nil
}

type fakeSelector struct {
	result *ai.SelectionResult
	calls  int
}

func (f *fakeSelector) Select(context.Context, string, []ai.DatabaseCandidate) *ai.SelectionResult {
	f.calls++
	return f.result
}

type fakeResultValidator struct {
	enabled bool
	score   int
}

func (f *fakeResultValidator) Enabled() bool { return f.enabled }
func (f *fakeResultValidator) Validate(context.Context, string, string) int {
	if !f.enabled {
		return 100
	}
	return f.score
}

type fakeRunner struct {
	result *QueryResult
	err    error
	calls  int
}

func (f *fakeRunner) Execute(context.Context, string, string) (*QueryResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSchemas struct{ text string }

func (f *fakeSchemas) SchemaText(context.Context, string) (string, error) { return f.text, nil }

type orchestratorFixture struct {
	orchestrator *Orchestrator
	generator    *fakeGenerator
	selector     *fakeSelector
	runner       *fakeRunner
}

func departmentsResult() *QueryResult {
	return &QueryResult{
		Columns:         []string{"id", "name"},
		Rows:            []map[string]any{{"id": 1, "name": "研发部"}, {"id": 2, "name": "市场部"}},
		RowCount:        2,
		ExecutionTimeMS: 3.5,
	}
}

func newFixture(registry *fakeRegistry) *orchestratorFixture {
	generator := &fakeGenerator{sql: "SELECT * FROM departments LIMIT 1000", tokens: 150}
	selector := &fakeSelector{}
	runner := &fakeRunner{result: departmentsResult()}

	limiter := resilience.NewSlotLimiter(&config.RateLimitConfig{
		Enabled:              true,
		MaxConcurrentQueries: 10,
		MaxConcurrentLLM:     5,
		AcquireTimeout:       time.Second,
	}, nil)
	breakers := resilience.NewBreakerRegistry(&config.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
	}, nil)

	orc := &Orchestrator{
		registry:    registry,
		schemas:     &fakeSchemas{text: "表 departments:\n  - id (integer, 主键)\n  - name (text)"},
		generator:   generator,
		selector:    selector,
		resultCheck: &fakeResultValidator{enabled: false},
		validator: NewSQLValidator(&config.SecurityConfig{
			BlockedFunctions: []string{"pg_sleep"},
		}, nil, nil),
		executor:   runner,
		limiter:    limiter,
		breakers:   breakers,
		llmBreaker: breakers.ForDependency("llm"),
		autoSelect: true,
		logger:     zap.NewNop(),
	}
	return &orchestratorFixture{orchestrator: orc, generator: generator, selector: selector, runner: runner}
}

func singleDB() *fakeRegistry {
	return &fakeRegistry{names: []string{"main"}}
}

// assertInvariant 响应不变式：success=false ⇔ error非空，计数字段恒为非负
func assertInvariant(t *testing.T, resp *QueryResponse) {
	t.Helper()
	require.NotNil(t, resp)
	if resp.Success {
		assert.Nil(t, resp.Error)
	} else {
		require.NotNil(t, resp.Error)
		assert.NotEmpty(t, resp.Error.Code)
	}
	assert.GreaterOrEqual(t, resp.Confidence, 0)
	assert.GreaterOrEqual(t, resp.TokensUsed, 0)
}

func TestOrchestrator_成功执行完整管道(t *testing.T) {
	f := newFixture(singleDB())

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})

	assertInvariant(t, resp)
	require.True(t, resp.Success)
	require.NotNil(t, resp.GeneratedSQL)
	assert.Contains(t, *resp.GeneratedSQL, "SELECT")
	assert.Contains(t, *resp.GeneratedSQL, "departments")
	require.NotNil(t, resp.Data)
	assert.Equal(t, 2, resp.Data.RowCount)
	assert.Equal(t, 150, resp.TokensUsed)
	assert.Equal(t, 1, f.runner.calls)
}

func TestOrchestrator_SQLOnly跳过执行(t *testing.T) {
	f := newFixture(singleDB())

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{
		Question:   "查询所有部门",
		ReturnType: ReturnTypeSQLOnly,
	})

	assertInvariant(t, resp)
	require.True(t, resp.Success)
	require.NotNil(t, resp.GeneratedSQL)
	assert.Nil(t, resp.Data)
	assert.Equal(t, 0, f.runner.calls, "sql_only不应触碰执行器")
}

func TestOrchestrator_显式指定不存在的数据库(t *testing.T) {
	f := newFixture(singleDB())

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{
		Question: "查询所有部门",
		Database: "nonexistent",
	})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeDatabaseNotFound, resp.Error.Code)
	assert.Equal(t, []string{"main"}, resp.Error.Details["available_databases"])
	assert.Equal(t, 0, f.generator.calls, "数据库解析失败后不应调用LLM")
}

func TestOrchestrator_多库无默认无描述时报歧义(t *testing.T) {
	f := newFixture(&fakeRegistry{names: []string{"blog", "shop"}})

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "显示最近的订单"})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeAmbiguousDatabase, resp.Error.Code)
}

func TestOrchestrator_多库经选择器路由(t *testing.T) {
	registry := &fakeRegistry{
		names: []string{"blog", "shop"},
		descriptions: map[string]string{
			"blog": "posts, comments, users",
			"shop": "products, orders, customers",
		},
	}
	f := newFixture(registry)
	f.selector.result = &ai.SelectionResult{Database: "shop", Confidence: 0.92, Reason: "订单数据在shop库"}

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "显示最近的订单"})

	assertInvariant(t, resp)
	require.True(t, resp.Success)
	assert.Equal(t, 1, f.selector.calls)
}

func TestOrchestrator_选择器关闭时使用默认库(t *testing.T) {
	registry := &fakeRegistry{
		names:     []string{"blog", "shop"},
		defaultDB: "blog",
		descriptions: map[string]string{
			"blog": "posts",
			"shop": "orders",
		},
	}
	f := newFixture(registry)
	f.orchestrator.autoSelect = false

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "显示最近的文章"})

	assertInvariant(t, resp)
	require.True(t, resp.Success)
	assert.Equal(t, 0, f.selector.calls, "选择器关闭时不应被调用")
}

func TestOrchestrator_生成失败(t *testing.T) {
	f := newFixture(singleDB())
	f.generator.err = errors.New("provider unavailable")
	f.generator.tokens = 30

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeGenerationFailed, resp.Error.Code)
	assert.Nil(t, resp.GeneratedSQL)
	assert.Equal(t, 0, f.runner.calls)
}

func TestOrchestrator_校验拒绝仍返回SQL(t *testing.T) {
	f := newFixture(singleDB())
	f.generator.sql = "DROP TABLE departments"

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "删除部门表"})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	require.NotNil(t, resp.GeneratedSQL, "被拒绝的SQL必须返回供人工检查")
	assert.Equal(t, "DROP TABLE departments", *resp.GeneratedSQL)
	require.NotNil(t, resp.Validation)
	assert.True(t, resp.Validation.AllowsDataModification)
	assert.Equal(t, 0, resp.Confidence)
	assert.Equal(t, 0, f.runner.calls)
}

func TestOrchestrator_禁用函数被拒绝(t *testing.T) {
	f := newFixture(singleDB())
	f.generator.sql = "SELECT pg_sleep(100)"

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "休眠"})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	assert.Contains(t, resp.Validation.UsesBlockedFunctions, "pg_sleep")
}

func TestOrchestrator_执行失败(t *testing.T) {
	f := newFixture(singleDB())
	f.runner.err = NewPipelineError(ErrCodeExecutionFailed, "relation \"departments\" does not exist")

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeExecutionFailed, resp.Error.Code)
	require.NotNil(t, resp.GeneratedSQL)
}

func TestOrchestrator_数据库熔断快速失败(t *testing.T) {
	f := newFixture(singleDB())
	f.runner.err = NewPipelineError(ErrCodeExecutionFailed, "connection refused")

	// 连续失败到阈值触发熔断
	for i := 0; i < 5; i++ {
		resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})
		assertInvariant(t, resp)
		assert.Equal(t, ErrCodeExecutionFailed, resp.Error.Code)
	}
	callsBefore := f.runner.calls

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeCircuitOpen, resp.Error.Code)
	assert.Equal(t, callsBefore, f.runner.calls, "熔断打开后不应调用执行器")
}

func TestOrchestrator_查询槽位耗尽(t *testing.T) {
	f := newFixture(singleDB())
	f.orchestrator.limiter = resilience.NewSlotLimiter(&config.RateLimitConfig{
		Enabled:              true,
		MaxConcurrentQueries: 1,
		MaxConcurrentLLM:     5,
		AcquireTimeout:       50 * time.Millisecond,
	}, nil)

	// 手工占满查询槽位
	release, err := f.orchestrator.limiter.AcquireQuerySlot(context.Background())
	require.NoError(t, err)
	defer release()

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})

	assertInvariant(t, resp)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeRateLimitExceeded, resp.Error.Code)
	assert.Equal(t, 0, f.runner.calls)
}

func TestOrchestrator_结果校验给出置信度(t *testing.T) {
	f := newFixture(singleDB())
	f.orchestrator.resultCheck = &fakeResultValidator{enabled: true, score: 85}

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})

	assertInvariant(t, resp)
	require.True(t, resp.Success)
	assert.Equal(t, 85, resp.Confidence)
}

func TestOrchestrator_空问题(t *testing.T) {
	f := newFixture(singleDB())

	resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "   "})

	assertInvariant(t, resp)
	assert.False(t, resp.Success)
}

func TestOrchestrator_所有失败分支维持响应不变式(t *testing.T) {
	scenarios := map[string]func(*orchestratorFixture){
		"生成失败":  func(f *orchestratorFixture) { f.generator.err = errors.New("boom") },
		"校验拒绝":  func(f *orchestratorFixture) { f.generator.sql = "DELETE FROM users" },
		"解析失败":  func(f *orchestratorFixture) { f.generator.sql = "not sql at all %%%" },
		"执行失败":  func(f *orchestratorFixture) { f.runner.err = errors.New("io timeout") },
	}

	for name, mutate := range scenarios {
		t.Run(name, func(t *testing.T) {
			f := newFixture(singleDB())
			mutate(f)

			resp := f.orchestrator.ExecuteQuery(context.Background(), &QueryRequest{Question: "查询所有部门"})
			assertInvariant(t, resp)
			assert.False(t, resp.Success)
		})
	}
}
