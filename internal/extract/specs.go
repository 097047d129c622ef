package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/PuerkitoBio/goquery"
)

// 规格参数区域的选择器候选。不同版式下规格可能是表格或 dl 列表。
var specTableSelectors = []string{
	`.offer-attr-list .offer-attr-item`,
	`.obj-content tr`,
	`table[class*="attributes"] tr`,
	`.product-props li`,
}

// 重量关键词（中/韩双语）。先在规格参数里找，找不到再全文正则兜底。
var weightKeywords = []string{
	"重量", "毛重", "净重", "克重",
	"무게", "중량",
	"weight",
}

// 全文重量模式，如 "毛重: 1.2kg" / "무게 500g"。
var weightTextRes = []*regexp.Regexp{
	regexp.MustCompile(`(?:毛重|净重|重量|무게|중량)[：:\s]*([0-9]+(?:\.[0-9]+)?)\s*(kg|g|千克|公斤|克|킬로그램|그램)`),
	regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(kg|千克|公斤|킬로그램)\b`),
}

// extractSpecifications 提取规格参数（名称/值对）。
func extractSpecifications(doc *goquery.Document) []model.Specification {
	var specs []model.Specification
	for _, sel := range specTableSelectors {
		doc.Find(sel).Each(func(_ int, row *goquery.Selection) {
			name := strings.TrimSpace(row.Find(".offer-attr-item-name, th, .name, dt").First().Text())
			value := strings.TrimSpace(row.Find(".offer-attr-item-value, td, .value, dd").First().Text())
			if name == "" || value == "" {
				// 单元格结构不标准时退回"冒号分隔文本"
				if parts := strings.SplitN(strings.TrimSpace(row.Text()), "：", 2); len(parts) == 2 {
					name = strings.TrimSpace(parts[0])
					value = strings.TrimSpace(parts[1])
				}
			}
			if name != "" && value != "" {
				specs = append(specs, model.Specification{Name: name, Value: value})
			}
		})
		if len(specs) > 0 {
			break
		}
	}
	return specs
}

// extractWeightKg 提取重量并统一为千克。
//
// 顺序：先在规格参数中找名称或值带重量关键词的条目，
// 再对整页可见文本应用少量正则模式兜底。
func extractWeightKg(doc *goquery.Document, specs []model.Specification) *float64 {
	for _, spec := range specs {
		if !containsWeightKeyword(spec.Name) && !containsWeightKeyword(spec.Value) {
			continue
		}
		if kg, ok := parseWeightText(spec.Value); ok {
			return &kg
		}
		if kg, ok := parseWeightText(spec.Name + " " + spec.Value); ok {
			return &kg
		}
	}

	bodyText := doc.Find("body").Text()
	if kg, ok := parseWeightText(bodyText); ok {
		return &kg
	}
	return nil
}

func containsWeightKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range weightKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// parseWeightText 从文本中解析重量，克换算为千克。
func parseWeightText(text string) (float64, bool) {
	for _, re := range weightTextRes {
		match := re.FindStringSubmatch(text)
		if len(match) < 3 {
			continue
		}
		val, err := strconv.ParseFloat(match[1], 64)
		if err != nil || val <= 0 {
			continue
		}
		switch match[2] {
		case "g", "克", "그램":
			return val / 1000, true
		default:
			return val, true
		}
	}
	return 0, false
}
