package extract

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func testExtractor() *DocumentExtractor {
	e := NewDocumentExtractor(testLogger(), 50, 999)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

const offerURL = "https://detail.1688.com/offer/612345678901.html"

func TestTitleFallback(t *testing.T) {
	// 前两个选择器不存在，第三个命中且带首尾空白
	doc := mustDoc(t, `<html><body>
		<h1 class="title"> Wireless Mouse </h1>
		<div class="price-content"><span class="price-text">¥ 35.00</span></div>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if record.Title != "Wireless Mouse" {
		t.Fatalf("title = %q, want %q", record.Title, "Wireless Mouse")
	}
	if record.Price != 35.00 {
		t.Fatalf("price = %v, want 35", record.Price)
	}
}

func TestExtractPartialWithoutTitleOrPrice(t *testing.T) {
	// 标题和价格都找不到也要给出部分记录：只有 source_id 是致命字段
	doc := mustDoc(t, `<html><body><div class="detail">货描内容</div></body></html>`)
	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if record.SourceID != "612345678901" {
		t.Fatalf("source id = %q", record.SourceID)
	}
	if record.Title != "" || record.TitleOriginal != "" {
		t.Fatalf("title = %q / %q, want empty", record.Title, record.TitleOriginal)
	}
	if record.Price != 0 {
		t.Fatalf("price = %v, want 0", record.Price)
	}
	if record.Currency != "CNY" {
		t.Fatalf("currency = %q", record.Currency)
	}
}

func TestExtractFailsWithoutSourceID(t *testing.T) {
	doc := mustDoc(t, `<html><body><h1>x</h1></body></html>`)
	_, err := testExtractor().Extract(Snapshot{URL: "https://detail.1688.com/page/about.html", Document: doc})
	if !errors.Is(err, ErrNoSourceID) {
		t.Fatalf("err = %v, want ErrNoSourceID", err)
	}
}

func TestPriceSkipsPlaceholderCandidate(t *testing.T) {
	// 第一个价格选择器命中无数字文案，应换下一个候选
	doc := mustDoc(t, `<html><body>
		<h1 class="title">商品</h1>
		<div class="price-content"><span class="price-text">价格面议</span></div>
		<div class="reference-price"><span class="value">¥ 12.80</span></div>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if record.Price != 12.80 {
		t.Fatalf("price = %v, want 12.80", record.Price)
	}
}

func TestParseSourceID(t *testing.T) {
	cases := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{"https://detail.1688.com/offer/612345678901.html", "612345678901", true},
		{"https://detail.1688.com/offer/612345678901.html?spm=a26.b3", "612345678901", true},
		{"https://m.1688.com/detail?offerId=777", "777", true},
		{"https://m.1688.com/detail?id=888", "888", true},
		{"https://detail.1688.com/page/index.html", "", false},
	}
	for _, tc := range cases {
		got, err := parseSourceID(tc.url)
		if tc.wantOK {
			if err != nil {
				t.Errorf("parseSourceID(%q): %v", tc.url, err)
				continue
			}
			if got != tc.want {
				t.Errorf("parseSourceID(%q) = %q, want %q", tc.url, got, tc.want)
			}
		} else if err == nil {
			t.Errorf("parseSourceID(%q) expected error", tc.url)
		}
	}
}

func TestRepeatedExtractionIsDeterministic(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<h1 class="title">保温杯 500ml</h1>
		<div class="price-content"><span class="price-text">¥ 25.50</span></div>
		<div class="preview-img"><img data-src="//img.alicdn.com/img/main.jpg_400x400.jpg"></div>
		<div class="sku-prop-module">
			<div class="prop-item">
				<div class="prop-name">颜色</div>
				<ul><li title="红色"></li><li title="蓝色"></li></ul>
			</div>
		</div>
	</body></html>`)

	e := testExtractor()
	first, err := e.Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("first extract: %v", err)
	}
	second, err := e.Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("second extract: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated extraction differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestSingleOptionSynthesis(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<h1 class="title">T恤</h1>
		<div class="price-content"><span class="price-text">¥ 19.90</span></div>
		<div class="sku-prop-module">
			<div class="prop-item">
				<div class="prop-name">尺码：</div>
				<ul><li title="M"></li><li title="L"></li></ul>
			</div>
		</div>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(record.Options) != 1 || record.Options[0].Name != "尺码" {
		t.Fatalf("options = %+v, want single 尺码", record.Options)
	}
	if len(record.Variants) != 2 {
		t.Fatalf("variants = %d, want 2", len(record.Variants))
	}
	for _, v := range record.Variants {
		if v.Price != 19.90 {
			t.Errorf("variant price = %v, want base 19.90", v.Price)
		}
		if v.Stock != 999 {
			t.Errorf("variant stock = %d, want default 999", v.Stock)
		}
	}
	if record.Variants[0].OptionSelections["尺码"] != "M" || record.Variants[1].OptionSelections["尺码"] != "L" {
		t.Fatalf("selections out of order: %+v", record.Variants)
	}
}

func TestTwoOptionCartesianSynthesis(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<h1 class="title">外套</h1>
		<div class="price-content"><span class="price-text">¥ 88</span></div>
		<div class="sku-prop-module">
			<div class="prop-item">
				<div class="prop-name">颜色</div>
				<ul><li title="黑"></li><li title="白"></li></ul>
			</div>
			<div class="prop-item">
				<div class="prop-name">尺码</div>
				<ul><li title="S"></li><li title="M"></li><li title="L"></li></ul>
			</div>
		</div>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(record.Variants) != 6 {
		t.Fatalf("variants = %d, want 2x3 = 6", len(record.Variants))
	}
	seen := make(map[string]bool)
	for _, v := range record.Variants {
		key := v.OptionSelections["颜色"] + "/" + v.OptionSelections["尺码"]
		if seen[key] {
			t.Fatalf("duplicate combination %q", key)
		}
		seen[key] = true
	}
}

func TestScriptSkuMapVariants(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<h1 class="title">数据线</h1>
		<div class="price-content"><span class="price-text">¥ 3.50</span></div>
		<script>
		var detailData = {"skuProps":[{"prop":"颜色","pid":1627207,"value":[
			{"name":"红色","imageUrl":"//img.alicdn.com/sku/red.jpg"},
			{"name":"蓝色"}]}],
		"skuMap":{"&gt;红色&gt;":{"skuId":41112,"price":"3.50","canBookCount":200},
			"&gt;蓝色&gt;":{"skuId":41113,"price":"3.80","canBookCount":0}}};
		</script>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(record.Options) != 1 || len(record.Variants) != 2 {
		t.Fatalf("options=%d variants=%d, want 1/2", len(record.Options), len(record.Variants))
	}
	byName := make(map[string]float64)
	byStock := make(map[string]int)
	for _, v := range record.Variants {
		byName[v.OptionSelections["颜色"]] = v.Price
		byStock[v.OptionSelections["颜色"]] = v.Stock
	}
	if byName["红色"] != 3.50 || byName["蓝色"] != 3.80 {
		t.Fatalf("sku prices = %+v", byName)
	}
	if byStock["红色"] != 200 || byStock["蓝色"] != 0 {
		t.Fatalf("sku stocks = %+v", byStock)
	}
}

func TestScriptFlatOptionMap(t *testing.T) {
	// 扁平形态：选项名直接映射取值列表，没有 prop/value 包装
	doc := mustDoc(t, `<html><body>
		<h1 class="title">帆布包</h1>
		<div class="price-content"><span class="price-text">¥ 15</span></div>
		<script>
		var detailData = {"skuProps":{"颜色":["红色","蓝色"],"尺码":["S","M"]}};
		</script>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(record.Options) != 2 {
		t.Fatalf("options = %+v, want 2", record.Options)
	}
	if record.Options[0].Name != "尺码" || record.Options[1].Name != "颜色" {
		t.Fatalf("option names = %q/%q, want sorted 尺码/颜色", record.Options[0].Name, record.Options[1].Name)
	}
	if len(record.Variants) != 4 {
		t.Fatalf("variants = %d, want 2x2 = 4", len(record.Variants))
	}
	for _, v := range record.Variants {
		if v.Price != 15 || v.Stock != 999 {
			t.Fatalf("variant = %+v, want base price and default stock", v)
		}
	}
}

func TestBrokenScriptCandidateIsSkipped(t *testing.T) {
	// 第一个脚本的候选不是合法 JSON，应跳过并继续扫后面的脚本
	doc := mustDoc(t, `<html><body>
		<h1 class="title">袜子</h1>
		<div class="price-content"><span class="price-text">¥ 5</span></div>
		<script>var a = {"skuProps": [{{broken</script>
		<script>var b = {"skuProps":[{"prop":"颜色","value":[{"name":"灰"}]}]};</script>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(record.Options) != 1 || record.Options[0].Values[0].Name != "灰" {
		t.Fatalf("options = %+v, want 颜色/灰 from second script", record.Options)
	}
}

func TestWeightFromSpecifications(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<h1 class="title">水壶</h1>
		<div class="price-content"><span class="price-text">¥ 30</span></div>
		<div class="offer-attr-list">
			<div class="offer-attr-item">
				<span class="offer-attr-item-name">毛重</span>
				<span class="offer-attr-item-value">500g</span>
			</div>
		</div>
	</body></html>`)

	record, err := testExtractor().Extract(Snapshot{URL: offerURL, Document: doc})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if record.WeightKg == nil || *record.WeightKg != 0.5 {
		t.Fatalf("weight = %v, want 0.5kg", record.WeightKg)
	}
	if len(record.Specifications) != 1 || record.Specifications[0].Name != "毛重" {
		t.Fatalf("specs = %+v", record.Specifications)
	}
}
