package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy 单个字段的一种候选提取方法。
//
// 返回值的第二个 bool 表示本策略是否命中；未命中不是错误，
// 由上层按顺序继续尝试下一个策略。
type Strategy[T any] func(doc *goquery.Document) (T, bool)

// firstMatch 按顺序执行策略列表，返回第一个命中的结果。
//
// 这是整个提取器的核心组合子：页面结构经常变化，单一选择器不可信，
// 新增/调整策略只需要修改策略列表，不需要改控制流。
func firstMatch[T any](doc *goquery.Document, strategies []Strategy[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s(doc); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// 占位文本关键词：命中的文本视为"未提取到"，继续尝试下一个策略。
var placeholderHints = []string{
	"loading",
	"加载中",
	"正在加载",
	"--",
}

// isPlaceholder 判断文本是否为加载占位符。
func isPlaceholder(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return true
	}
	for _, hint := range placeholderHints {
		if lower == hint || strings.HasPrefix(lower, hint) {
			return true
		}
	}
	return false
}

// textBySelectors 构造一个"选择器候选列表"型策略：
// 依次尝试每个选择器，取第一个修剪后非空、非占位符的文本。
func textBySelectors(selectors ...string) Strategy[string] {
	return func(doc *goquery.Document) (string, bool) {
		for _, sel := range selectors {
			text := strings.TrimSpace(doc.Find(sel).First().Text())
			if text != "" && !isPlaceholder(text) {
				return text, true
			}
		}
		return "", false
	}
}

// attrBySelectors 构造一个取属性值的策略，属性按优先级排列
// （懒加载场景下 data-src 优先于 src）。
func attrBySelectors(selectors []string, attrs ...string) Strategy[string] {
	return func(doc *goquery.Document) (string, bool) {
		for _, sel := range selectors {
			node := doc.Find(sel).First()
			if node.Length() == 0 {
				continue
			}
			for _, attr := range attrs {
				if v, ok := node.Attr(attr); ok {
					v = strings.TrimSpace(v)
					if v != "" && !isPlaceholderImageURL(v) {
						return v, true
					}
				}
			}
		}
		return "", false
	}
}
