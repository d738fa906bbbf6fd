package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `表 departments: id (integer, 主键), name (text), created_at (timestamp)`

func TestSQLGenerator_提取纯SQL输出(t *testing.T) {
	client := &fakeLLMClient{
		response: "SELECT * FROM departments LIMIT 1000;",
		tokens:   120,
	}
	generator := NewSQLGenerator(client, 0.1, 1024, 1000, nil, nil)

	sql, tokens, err := generator.Generate(context.Background(), "查询所有部门", testSchema)

	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM departments LIMIT 1000", sql)
	assert.Equal(t, 120, tokens)
	assert.Equal(t, 1, client.calls)
}

func TestSQLGenerator_剥离markdown代码块(t *testing.T) {
	cases := map[string]string{
		"sql代码块":  "```sql\nSELECT name FROM departments LIMIT 100\n```",
		"无语言标记":   "```\nSELECT name FROM departments LIMIT 100\n```",
		"带解释前缀":   "以下是查询语句：\n\nSELECT name FROM departments LIMIT 100",
		"解释加代码块":  "这是你要的SQL：\n```sql\nSELECT name FROM departments LIMIT 100;\n```",
	}

	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			client := &fakeLLMClient{response: response, tokens: 50}
			generator := NewSQLGenerator(client, 0.1, 1024, 1000, nil, nil)

			sql, _, err := generator.Generate(context.Background(), "查部门名", testSchema)

			require.NoError(t, err)
			assert.Equal(t, "SELECT name FROM departments LIMIT 100", sql)
		})
	}
}

func TestSQLGenerator_提示词包含方言约束(t *testing.T) {
	prompt, err := buildGenerationSystemPrompt(testSchema, 1000)
	require.NoError(t, err)

	// 下游校验器是MySQL方言解析器，提示词必须禁止::转换符
	assert.Contains(t, prompt, "CAST(")
	assert.Contains(t, prompt, "禁止使用::转换符")
	assert.Contains(t, prompt, "ILIKE")
	assert.Contains(t, prompt, "1000")
}

func TestSQLGenerator_LLM错误向上传播(t *testing.T) {
	client := &fakeLLMClient{err: errors.New("rate limited by provider")}
	generator := NewSQLGenerator(client, 0.1, 1024, 1000, nil, nil)

	_, _, err := generator.Generate(context.Background(), "查询所有部门", testSchema)
	assert.Error(t, err)
}

func TestSQLGenerator_空输出报生成错误(t *testing.T) {
	client := &fakeLLMClient{response: "   \n  "}
	generator := NewSQLGenerator(client, 0.1, 1024, 1000, nil, nil)

	_, _, err := generator.Generate(context.Background(), "查询所有部门", testSchema)
	assert.Error(t, err)
}

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"纯SQL", "SELECT 1", "SELECT 1"},
		{"尾部分号", "SELECT 1;", "SELECT 1"},
		{"WITH开头", "WITH t AS (SELECT 1) SELECT * FROM t", "WITH t AS (SELECT 1) SELECT * FROM t"},
		{"多行SQL", "SELECT id,\n  name\nFROM users\nLIMIT 10", "SELECT id,\n  name\nFROM users\nLIMIT 10"},
		{"解释在前", "好的，这样查：\nSELECT id FROM users LIMIT 10", "SELECT id FROM users LIMIT 10"},
		{"空输入", "", ""},
		{"只有解释", "抱歉，我无法生成该查询", "抱歉，我无法生成该查询"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractSQL(tc.input))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	t.Run("有效JSON", func(t *testing.T) {
		raw, err := ExtractJSON(`{"a": 1}`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a": 1}`, string(raw))
	})

	t.Run("前后有文字", func(t *testing.T) {
		raw, err := ExtractJSON(`结果如下 {"a": 1} 请查收`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a": 1}`, string(raw))
	})

	t.Run("markdown包装", func(t *testing.T) {
		raw, err := ExtractJSON("```json\n{\"a\": 1}\n```")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a": 1}`, string(raw))
	})

	t.Run("无JSON", func(t *testing.T) {
		_, err := ExtractJSON("没有任何结构化内容")
		assert.Error(t, err)
	})
}
