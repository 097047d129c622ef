package model

import (
	"fmt"
	"time"
)

// Currency 商品货币单位。
type Currency string

const (
	CurrencyCNY Currency = "CNY"
	CurrencyKRW Currency = "KRW"
)

// ProductRecord 表示从商品详情页提取出的结构化商品数据。
//
// SourceID 是商品在源平台的唯一标识（从详情页地址解析），用于去重。
// Title 与 TitleOriginal 初始值相同，后续翻译阶段可能替换 Title（翻译不在本核心范围内）。
type ProductRecord struct {
	SourceID       string          `json:"source_id"`
	SourceURL      string          `json:"source_url"`
	Title          string          `json:"title"`
	TitleOriginal  string          `json:"title_original"`
	Price          float64         `json:"price"`
	Currency       Currency        `json:"currency"`
	SellerName     string          `json:"seller_name,omitempty"`
	Images         []string        `json:"images"`             // 主图+画廊，绝对 HTTPS、去重、保持顺序
	DescriptionImages []string     `json:"description_images"` // 详情图，与 Images 不相交
	Specifications []Specification `json:"specifications"`
	Options        []Option        `json:"options"`
	Variants       []Variant       `json:"variants"`
	WeightKg       *float64        `json:"weight_kg,omitempty"`
	ExtractedAt    time.Time       `json:"extracted_at"`
}

// Specification 商品规格参数（名称/值对）。
type Specification struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Option 商品自定义维度（如颜色、尺码）。
// ID 在页面未提供稳定标识时默认等于 Name。
type Option struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Values []OptionValue `json:"values"`
}

// OptionValue 选项维度下的一个取值。
type OptionValue struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Variant 一个具体的 SKU：选项组合 + 价格/库存。
type Variant struct {
	SkuID            string            `json:"sku_id"`
	OptionSelections map[string]string `json:"option_selections"` // optionName -> optionValueName
	Price            float64           `json:"price"`
	Stock            int               `json:"stock"`
	Image            string            `json:"image,omitempty"`
}

// Validate 校验记录的内部一致性：
// 每个 Variant 的 OptionSelections 的键必须对应某个 Option.Name。
func (r *ProductRecord) Validate() error {
	names := make(map[string]struct{}, len(r.Options))
	for _, opt := range r.Options {
		names[opt.Name] = struct{}{}
	}
	for _, v := range r.Variants {
		for optName := range v.OptionSelections {
			if _, ok := names[optName]; !ok {
				return fmt.Errorf("variant %s references unknown option %q", v.SkuID, optName)
			}
		}
		if v.Stock < 0 {
			return fmt.Errorf("variant %s has negative stock", v.SkuID)
		}
	}
	return nil
}
