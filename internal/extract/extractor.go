package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/PuerkitoBio/goquery"
)

// ErrNoSourceID 页面地址里解析不出商品 ID。这是致命错误：
// 没有 source_id 的记录无法去重也无法回溯，整次提取失败。
var ErrNoSourceID = errors.New("extract: no source id in page url")

// offer 详情页路径里的商品 ID，如 /offer/612345678901.html。
var offerIDRe = regexp.MustCompile(`/offer/(\d+)\.html`)

// Snapshot 一次页面快照：最终地址加上解析好的文档。
// 提取器只读快照，不关心快照从哪来（无头浏览器或测试用的静态 HTML）。
type Snapshot struct {
	URL      string
	Document *goquery.Document
}

// DocumentExtractor 把页面快照提取为结构化商品记录。
//
// 除 ExtractedAt 外，提取是纯函数式的：同一快照重复提取，
// 结果逐字段一致。时钟可注入，便于测试比对完整记录。
type DocumentExtractor struct {
	logger       *slog.Logger
	variantCap   int
	defaultStock int
	now          func() time.Time
}

// NewDocumentExtractor 创建提取器。
// variantCap 限制合成变体的数量上限，defaultStock 是源站不报库存时的默认值。
func NewDocumentExtractor(logger *slog.Logger, variantCap, defaultStock int) *DocumentExtractor {
	if variantCap <= 0 {
		variantCap = 50
	}
	if defaultStock <= 0 {
		defaultStock = 999
	}
	return &DocumentExtractor{
		logger:       logger,
		variantCap:   variantCap,
		defaultStock: defaultStock,
		now:          time.Now,
	}
}

// Extract 对快照执行完整提取。
//
// source_id 是唯一的必要字段：解析不出整次提取失败。其余字段
// （标题、价格也不例外）缺失只降级为空值并记日志，照样给出记录。
func (e *DocumentExtractor) Extract(snap Snapshot) (*model.ProductRecord, error) {
	sourceID, err := parseSourceID(snap.URL)
	if err != nil {
		return nil, err
	}
	doc := snap.Document

	title, ok := extractTitle(doc)
	if !ok {
		e.logger.Warn("no title found", slog.String("source_id", sourceID))
	}
	price, ok := extractPrice(doc)
	if !ok {
		e.logger.Warn("no price found", slog.String("source_id", sourceID))
	}

	record := &model.ProductRecord{
		SourceID:      sourceID,
		SourceURL:     snap.URL,
		Title:         title,
		TitleOriginal: title,
		Price:         price,
		Currency:      model.CurrencyCNY,
		ExtractedAt:   e.now(),
	}

	if seller, ok := extractSeller(doc); ok {
		record.SellerName = seller
	}

	seen := make(map[string]struct{})
	if main, ok := extractMainImage(doc); ok {
		seen[main] = struct{}{}
		record.Images = append(record.Images, main)
	} else {
		e.logger.Warn("no main image found", slog.String("source_id", sourceID))
	}
	record.Images = append(record.Images, extractGalleryImages(doc, seen)...)
	record.DescriptionImages = extractDescriptionImages(doc, seen)

	record.Specifications = extractSpecifications(doc)
	record.WeightKg = extractWeightKg(doc, record.Specifications)

	e.extractSkus(doc, record)

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("extract offer %s: %w", sourceID, err)
	}

	e.logger.Info("product extracted",
		slog.String("source_id", sourceID),
		slog.String("title", record.Title),
		slog.Float64("price", record.Price),
		slog.Int("images", len(record.Images)),
		slog.Int("desc_images", len(record.DescriptionImages)),
		slog.Int("options", len(record.Options)),
		slog.Int("variants", len(record.Variants)),
	)
	return record, nil
}

// extractSkus 三层降级提取选项与变体，结果写入 record。
//
// DOM 层只有选项结构没有单 SKU 价格/库存，命中后直接合成变体；
// 脚本两层可能带 skuMap，优先用真实数据装配，装配不出再合成。
func (e *DocumentExtractor) extractSkus(doc *goquery.Document, record *model.ProductRecord) {
	if options := extractDOMOptions(doc); len(options) > 0 {
		record.Options = options
		record.Variants = synthesizeVariants(options, record.Price, e.defaultStock, e.variantCap)
		return
	}

	data, ok := scanGlobalData(doc, e.logger)
	if !ok {
		data, ok = scanScriptOptions(doc, e.logger)
	}
	if !ok {
		// 无选项商品：单一变体由下游按基准价格处理
		return
	}

	record.Options = data.Options
	if variants := buildVariantsFromSkuMap(data.Options, data.SkuMap, record.Price, e.defaultStock); len(variants) > 0 {
		if len(variants) > e.variantCap {
			variants = variants[:e.variantCap]
		}
		record.Variants = variants
		return
	}
	record.Variants = synthesizeVariants(data.Options, record.Price, e.defaultStock, e.variantCap)
}

// parseSourceID 从详情页地址解析商品 ID。
// 路径形态优先，查询参数 offerId/id 兜底。
func parseSourceID(raw string) (string, error) {
	if m := offerIDRe.FindStringSubmatch(raw); len(m) > 1 {
		return m[1], nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoSourceID, raw)
	}
	for _, key := range []string{"offerId", "id"} {
		if v := u.Query().Get(key); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoSourceID, raw)
}
