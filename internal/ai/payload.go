// LLM输出解析工具
// 模型输出视为不可信的外部载荷：解析失败是正常结果，通过错误返回而非panic

package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON 从自由文本中提取第一个完整的JSON对象
// 依次尝试：去除markdown代码块包装、截取首个'{'到末个'}'的片段
func ExtractJSON(text string) (json.RawMessage, error) {
	candidate := strings.TrimSpace(stripMarkdownFences(text))

	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		fragment := candidate[start : end+1]
		if json.Valid([]byte(fragment)) {
			return json.RawMessage(fragment), nil
		}
	}

	return nil, fmt.Errorf("响应中未找到有效的JSON对象")
}

// stripMarkdownFences 去除```lang ... ```形式的代码块包装
func stripMarkdownFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}

	// 去掉首行的```lang标记
	body := lines[1:]
	// 去掉结尾的```行
	for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "```" {
		body = body[:len(body)-1]
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

var sqlLeadingKeywords = []string{"SELECT", "WITH", "EXPLAIN", "INSERT", "UPDATE", "DELETE", "SHOW"}

// ExtractSQL 从模型输出中提取SQL语句
// 策略优先级：代码块内容 → 首个以SQL关键字开头的行到结尾 → 整段文本
func ExtractSQL(text string) string {
	candidate := strings.TrimSpace(stripMarkdownFences(text))
	if candidate == "" {
		return ""
	}

	// 输出混有解释文字时，从首个以SQL关键字开头的行截取
	lines := strings.Split(candidate, "\n")
scan:
	for i, line := range lines {
		upper := strings.ToUpper(strings.TrimSpace(line))
		for _, kw := range sqlLeadingKeywords {
			if upper == kw || strings.HasPrefix(upper, kw+" ") || strings.HasPrefix(upper, kw+"(") {
				candidate = strings.Join(lines[i:], "\n")
				break scan
			}
		}
	}

	candidate = strings.TrimSpace(candidate)
	candidate = strings.TrimSuffix(candidate, ";")
	return strings.TrimSpace(candidate)
}
