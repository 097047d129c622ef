package extract

import (
	"fmt"
	"strings"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/PuerkitoBio/goquery"
)

// SKU/选项提取是三层降级结构：
//
//  1. 结构化 DOM 选项组（extractDOMOptions）
//  2. 页面全局数据对象（scanGlobalData，见 scripts.go）
//  3. 内联 <script> 文本的模式匹配（scanScriptOptions，见 scripts.go）
//
// 三层都拿不到 SKU 价格/库存数据、但拿到了选项结构时，
// 按选项取值的笛卡尔积合成变体（synthesizeVariants）。

// DOM 选项组选择器候选。
var optionGroupSelectors = []string{
	`.sku-prop-module .prop-item`,
	`.sku-wrapper .sku-item`,
	`[class*="sku-prop"] [class*="prop-group"]`,
}

// extractDOMOptions 第一层：从结构化 DOM 中提取选项组。
func extractDOMOptions(doc *goquery.Document) []model.Option {
	var options []model.Option
	for _, groupSel := range optionGroupSelectors {
		doc.Find(groupSel).Each(func(_ int, group *goquery.Selection) {
			name := strings.TrimSpace(group.Find(".prop-name, .sku-prop-name, .label").First().Text())
			name = strings.TrimSuffix(name, "：")
			name = strings.TrimSuffix(name, ":")
			if name == "" {
				return
			}

			var values []model.OptionValue
			group.Find(".prop-item-value, .sku-prop-value, li").Each(func(_ int, node *goquery.Selection) {
				valueName := strings.TrimSpace(node.AttrOr("title", ""))
				if valueName == "" {
					valueName = strings.TrimSpace(node.Text())
				}
				if valueName == "" || isPlaceholder(valueName) {
					return
				}
				image := ""
				if img := node.Find("img").First(); img.Length() > 0 {
					image = imageFromNode(img)
				}
				id := strings.TrimSpace(node.AttrOr("data-value-id", ""))
				if id == "" {
					id = valueName
				}
				values = append(values, model.OptionValue{ID: id, Name: valueName, Image: image})
			})
			if len(values) == 0 {
				return
			}

			id := strings.TrimSpace(group.AttrOr("data-prop-id", ""))
			if id == "" {
				// 页面没有稳定标识时退回名称
				id = name
			}
			options = append(options, model.Option{ID: id, Name: name, Values: values})
		})
		if len(options) > 0 {
			break
		}
	}
	return options
}

// synthesizeVariants 在缺少 SKU 价格/库存数据时按选项组合成变体。
//
// 单选项：每个取值一个变体；多选项：全部取值的笛卡尔积，
// 硬上限 cap 个（防止组合爆炸）。每个变体继承基准价格与默认库存，
// 并选取组合内第一个带图的选项取值作为变体图。
func synthesizeVariants(options []model.Option, basePrice float64, defaultStock, cap int) []model.Variant {
	if len(options) == 0 {
		return nil
	}
	if cap <= 0 {
		cap = 50
	}

	variants := make([]model.Variant, 0, cap)
	selections := make([]model.OptionValue, len(options))

	var walk func(depth int) bool
	walk = func(depth int) bool {
		if len(variants) >= cap {
			return false
		}
		if depth == len(options) {
			variant := model.Variant{
				SkuID:            fmt.Sprintf("auto-%d", len(variants)+1),
				OptionSelections: make(map[string]string, len(options)),
				Price:            basePrice,
				Stock:            defaultStock,
			}
			for i, opt := range options {
				variant.OptionSelections[opt.Name] = selections[i].Name
				if variant.Image == "" && selections[i].Image != "" {
					variant.Image = selections[i].Image
				}
			}
			variants = append(variants, variant)
			return true
		}
		for _, value := range options[depth].Values {
			selections[depth] = value
			if !walk(depth + 1) {
				return false
			}
		}
		return true
	}
	walk(0)
	return variants
}

// buildVariantsFromSkuMap 把 skuMap 数据（组合键 -> 价格/库存）装配成变体。
//
// 组合键形如 "&gt;红色&gt;XL&gt;" 或 "红色>XL"，按分隔符切开后
// 依序对应到选项组；对不上的键跳过（数据块可能与当前选项结构不同步）。
func buildVariantsFromSkuMap(options []model.Option, skuMap map[string]skuMapEntry, basePrice float64, defaultStock int) []model.Variant {
	if len(options) == 0 || len(skuMap) == 0 {
		return nil
	}

	// 保持确定性：按选项顺序生成所有合法组合键的候选名
	var variants []model.Variant
	for _, key := range sortedKeys(skuMap) {
		entry := skuMap[key]
		names := splitSkuKey(key)
		if len(names) != len(options) {
			continue
		}

		selections := make(map[string]string, len(options))
		image := ""
		matched := true
		for i, opt := range options {
			value, ok := findOptionValue(opt, names[i])
			if !ok {
				matched = false
				break
			}
			selections[opt.Name] = value.Name
			if image == "" && value.Image != "" {
				image = value.Image
			}
		}
		if !matched {
			continue
		}

		price := entry.price()
		if price <= 0 {
			price = basePrice
		}
		stock := entry.stock()
		if stock < 0 {
			stock = defaultStock
		}
		skuID := entry.skuID()
		if skuID == "" {
			skuID = fmt.Sprintf("sku-%d", len(variants)+1)
		}
		variants = append(variants, model.Variant{
			SkuID:            skuID,
			OptionSelections: selections,
			Price:            price,
			Stock:            stock,
			Image:            image,
		})
	}
	return variants
}

// splitSkuKey 切分 skuMap 组合键。
func splitSkuKey(key string) []string {
	key = strings.ReplaceAll(key, "&gt;", ">")
	key = strings.ReplaceAll(key, ";", ">")
	parts := strings.Split(key, ">")
	names := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}

func findOptionValue(opt model.Option, name string) (model.OptionValue, bool) {
	for _, v := range opt.Values {
		if v.Name == name || v.ID == name {
			return v, true
		}
	}
	return model.OptionValue{}, false
}
