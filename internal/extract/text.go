package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	digitsRe            = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)
	priceWithCurrencyRe = regexp.MustCompile(`[¥￥]\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
)

// 标题选择器候选，按历年页面改版出现的结构排序。
var titleSelectors = []string{
	`.title-content .title-text`,
	`.d-title`,
	`h1.title`,
	`[class*="title-text"]`,
	`h1`,
}

// 价格选择器候选。价格文本必须包含数字子串，否则换下一个候选。
var priceSelectors = []string{
	`.price-content .price-text`,
	`.reference-price .value`,
	`.price-column .price`,
	`[class*="price"] .value`,
	`[class*="price-text"]`,
}

var sellerSelectors = []string{
	`.shop-name`,
	`.company-name a`,
	`[class*="supplier-name"]`,
}

// extractTitle 提取商品标题。
func extractTitle(doc *goquery.Document) (string, bool) {
	return firstMatch(doc, []Strategy[string]{
		textBySelectors(titleSelectors...),
	})
}

// extractSeller 提取卖家名称（可为空）。
func extractSeller(doc *goquery.Document) (string, bool) {
	return firstMatch(doc, []Strategy[string]{
		textBySelectors(sellerSelectors...),
	})
}

// extractPrice 提取商品价格。
//
// 在选择器候选之上额外要求文本带数字子串：有些结构命中的是
// "价格面议" 之类的占位文案，此时继续尝试下一个候选。
func extractPrice(doc *goquery.Document) (float64, bool) {
	for _, sel := range priceSelectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" || isPlaceholder(text) {
			continue
		}
		if !digitsRe.MatchString(text) {
			continue
		}
		if price, err := parsePrice(text); err == nil {
			return price, true
		}
	}
	return 0, false
}

// parsePrice 将价格字符串转换为数值。
//
// 移除货币符号（¥/￥）和千位分隔符后解析；文本含多个数字时
// 取位数最长的那个（"3.50起 已售1万+" 这类混排文案）。
func parsePrice(txt string) (float64, error) {
	if match := priceWithCurrencyRe.FindStringSubmatch(txt); len(match) > 1 {
		candidate := strings.ReplaceAll(match[1], ",", "")
		if val, err := strconv.ParseFloat(candidate, 64); err == nil {
			return val, nil
		}
	}

	cleaned := strings.ReplaceAll(txt, "¥", "")
	cleaned = strings.ReplaceAll(cleaned, "￥", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty price")
	}
	matches := digitsRe.FindAllString(cleaned, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no digits")
	}
	var bestVal float64
	bestLen := 0
	found := false
	for _, match := range matches {
		val, err := strconv.ParseFloat(match, 64)
		if err != nil {
			continue
		}
		if !found || len(match) > bestLen || (len(match) == bestLen && val > bestVal) {
			bestVal = val
			bestLen = len(match)
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no valid digits")
	}
	return bestVal, nil
}
