// Package ai 提供查询管道的LLM相关能力：
// SQL生成、数据库路由选择与查询结果校验
package ai

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// SQL生成系统提示词模板
const sqlGenerationPromptTemplate = `你是一个专业的SQL查询生成专家，擅长将自然语言转换为准确的PostgreSQL查询语句。

## 数据库结构信息
{{.DatabaseSchema}}

## 安全规则（必须严格遵守）
1. 只生成一条SELECT查询，禁止任何DELETE、UPDATE、INSERT、DROP、CREATE、ALTER、TRUNCATE操作
2. 所有字段名与表名必须与数据库结构完全匹配，不得臆造
3. 结果必须包含LIMIT子句，上限{{.MaxRows}}行
4. 禁止调用系统管理类函数

## 输出要求
- 返回纯净的SQL语句，不包含任何解释文字与markdown标记
- 符合PostgreSQL语法
- 字符串模糊匹配使用ILIKE
- 类型转换必须写成CAST(表达式 AS 类型)，禁止使用::转换符`

// 数据库选择系统提示词模板
const databaseSelectionPromptTemplate = `你是数据库路由助手。根据用户的问题，从以下候选数据库中选出最匹配的一个。

## 候选数据库
{{.Candidates}}

## 输出要求
只返回一个JSON对象，不包含其他文字：
{"database": "数据库名称", "confidence": 0.0到1.0之间的置信度, "reason": "选择理由"}`

// 结果校验系统提示词模板
const resultValidationPromptTemplate = `你是查询结果审核助手。判断以下SQL查询结果是否合理地回答了用户的问题。

评估要点：结果的列与行是否与问题意图相符、数据形状是否合理、是否明显答非所问。

## 输出要求
只返回一个0到100之间的整数置信度，不包含其他文字。100表示结果完全回答了问题，0表示完全无关。`

var sqlGenerationPrompt = prompts.PromptTemplate{
	Template:       sqlGenerationPromptTemplate,
	InputVariables: []string{"DatabaseSchema", "MaxRows"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

var databaseSelectionPrompt = prompts.PromptTemplate{
	Template:       databaseSelectionPromptTemplate,
	InputVariables: []string{"Candidates"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

// buildGenerationSystemPrompt 渲染SQL生成系统提示词
func buildGenerationSystemPrompt(schema string, maxRows int) (string, error) {
	if strings.TrimSpace(schema) == "" {
		schema = "（未获取到表结构信息，请基于问题中提到的表名生成查询）"
	}
	return sqlGenerationPrompt.Format(map[string]any{
		"DatabaseSchema": schema,
		"MaxRows":        maxRows,
	})
}

// buildSelectionSystemPrompt 渲染数据库选择系统提示词
func buildSelectionSystemPrompt(candidates []DatabaseCandidate) (string, error) {
	var sb strings.Builder
	for _, c := range candidates {
		desc := c.Description
		if desc == "" {
			desc = "（无描述）"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, desc)
	}
	return databaseSelectionPrompt.Format(map[string]any{
		"Candidates": strings.TrimRight(sb.String(), "\n"),
	})
}
