package extract

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/PuerkitoBio/goquery"
)

// 第二/三层 SKU 提取：内联 <script> 里的数据对象。
//
// 页面脚本是不可信输入：这里所有 JSON 解码都是逐候选防御式的，
// 单个候选解码失败只记日志并跳过，绝不让整次提取失败。
// 候选片段按括号配平截取且有长度上限，避免对整个脚本做解码。

// 全局数据对象赋值模式，如 window.__INIT_DATA = {...}。
var globalDataRes = []*regexp.Regexp{
	regexp.MustCompile(`window\.__INIT_DATA\s*=\s*`),
	regexp.MustCompile(`window\.__GLOBAL_DATA\s*=\s*`),
	regexp.MustCompile(`window\.context\s*=\s*`),
}

// 第三层脚本键名模式。键后面可能跟两种形态：
// 对象数组（prop/value 结构），或更扁的"选项名: 取值列表"映射。
var (
	skuPropsKeyRe = regexp.MustCompile(`"skuProps"\s*:\s*`)
	skuMapKeyRe   = regexp.MustCompile(`"skuMap"\s*:\s*`)
	propListKeyRe = regexp.MustCompile(`"propertyList"\s*:\s*`)
)

// 候选片段截取上限。超过说明命中的不是我们要的结构。
const maxCandidateBytes = 256 * 1024

// skuPropEntry 脚本数据里的选项组结构。
type skuPropEntry struct {
	Prop  string `json:"prop"`
	Name  string `json:"name"`
	PID   any    `json:"pid"`
	Value []struct {
		Name     string `json:"name"`
		Text     string `json:"text"`
		VID      any    `json:"vid"`
		ImageURL string `json:"imageUrl"`
		Image    string `json:"image"`
	} `json:"value"`
	Values []struct {
		Name     string `json:"name"`
		Text     string `json:"text"`
		VID      any    `json:"vid"`
		ImageURL string `json:"imageUrl"`
		Image    string `json:"image"`
	} `json:"values"`
}

// skuMapEntry 脚本数据里单个 SKU 组合的价格/库存。
// 不同版本字段名和类型（字符串/数字）都不稳定，统一用宽松类型接住。
type skuMapEntry struct {
	SkuID        any `json:"skuId"`
	Price        any `json:"price"`
	DiscountPr   any `json:"discountPrice"`
	CanBookCount any `json:"canBookCount"`
	SaleCount    any `json:"saleCount"`
	Stock        any `json:"stock"`
}

func (e skuMapEntry) skuID() string {
	return anyToString(e.SkuID)
}

func (e skuMapEntry) price() float64 {
	if v, ok := anyToFloat(e.DiscountPr); ok && v > 0 {
		return v
	}
	if v, ok := anyToFloat(e.Price); ok {
		return v
	}
	return 0
}

func (e skuMapEntry) stock() int {
	if v, ok := anyToFloat(e.CanBookCount); ok {
		return int(v)
	}
	if v, ok := anyToFloat(e.Stock); ok {
		return int(v)
	}
	return -1
}

// scriptOptionData 脚本层提取的汇总结果。
type scriptOptionData struct {
	Options []model.Option
	SkuMap  map[string]skuMapEntry
}

// scanGlobalData 第二层：在全局数据对象中找 SKU 结构。
//
// 找到赋值点后按括号配平截取对象字面量，再在片段内走第三层
// 同样的键名模式。全局对象通常就是脚本模式的超集，复用解析逻辑。
func scanGlobalData(doc *goquery.Document, logger *slog.Logger) (scriptOptionData, bool) {
	var result scriptOptionData
	found := false
	doc.Find("script").EachWithBreak(func(_ int, node *goquery.Selection) bool {
		text := node.Text()
		for _, re := range globalDataRes {
			loc := re.FindStringIndex(text)
			if loc == nil {
				continue
			}
			candidate, ok := balancedSlice(text[loc[1]:], '{', '}')
			if !ok {
				continue
			}
			data := parseOptionCandidates(candidate, logger)
			if len(data.Options) > 0 {
				result = data
				found = true
				return false
			}
		}
		return true
	})
	return result, found
}

// scanScriptOptions 第三层：对每个内联脚本按键名模式扫描。
func scanScriptOptions(doc *goquery.Document, logger *slog.Logger) (scriptOptionData, bool) {
	var result scriptOptionData
	found := false
	doc.Find("script").EachWithBreak(func(_ int, node *goquery.Selection) bool {
		data := parseOptionCandidates(node.Text(), logger)
		if len(data.Options) > 0 {
			result = data
			found = true
			return false
		}
		return true
	})
	return result, found
}

// parseOptionCandidates 在一段脚本文本里依次尝试已知键名模式。
func parseOptionCandidates(text string, logger *slog.Logger) scriptOptionData {
	var result scriptOptionData

	for _, keyRe := range []*regexp.Regexp{skuPropsKeyRe, propListKeyRe} {
		loc := keyRe.FindStringIndex(text)
		if loc == nil {
			continue
		}
		rest := text[loc[1]:]
		if candidate, ok := balancedSlice(rest, '[', ']'); ok {
			var entries []skuPropEntry
			if err := json.Unmarshal([]byte(candidate), &entries); err != nil {
				logger.Debug("skip sku props candidate", "err", err, "size", len(candidate))
				continue
			}
			if opts := propsToOptions(entries); len(opts) > 0 {
				result.Options = opts
				break
			}
			continue
		}
		// 扁平形态：键后面直接跟对象，选项名映射到取值字符串列表
		candidate, ok := balancedSlice(rest, '{', '}')
		if !ok {
			continue
		}
		var flat map[string][]string
		if err := json.Unmarshal([]byte(candidate), &flat); err != nil {
			logger.Debug("skip flat props candidate", "err", err, "size", len(candidate))
			continue
		}
		if opts := flatPropsToOptions(flat); len(opts) > 0 {
			result.Options = opts
			break
		}
	}
	if len(result.Options) == 0 {
		return result
	}

	if loc := skuMapKeyRe.FindStringIndex(text); loc != nil {
		if candidate, ok := balancedSlice(text[loc[1]:], '{', '}'); ok {
			var skuMap map[string]skuMapEntry
			if err := json.Unmarshal([]byte(candidate), &skuMap); err != nil {
				logger.Debug("skip sku map candidate", "err", err, "size", len(candidate))
			} else {
				result.SkuMap = skuMap
			}
		}
	}
	return result
}

// propsToOptions 把脚本选项结构规范化为领域模型。
func propsToOptions(entries []skuPropEntry) []model.Option {
	var options []model.Option
	for i, entry := range entries {
		name := entry.Prop
		if name == "" {
			name = entry.Name
		}
		if name == "" {
			continue
		}
		rawValues := entry.Value
		if len(rawValues) == 0 {
			rawValues = entry.Values
		}

		var values []model.OptionValue
		for j, rv := range rawValues {
			valueName := rv.Name
			if valueName == "" {
				valueName = rv.Text
			}
			if valueName == "" {
				continue
			}
			image := rv.ImageURL
			if image == "" {
				image = rv.Image
			}
			id := anyToString(rv.VID)
			if id == "" {
				id = strconv.Itoa(j + 1)
			}
			values = append(values, model.OptionValue{
				ID:    id,
				Name:  valueName,
				Image: normalizeImageURL(image),
			})
		}
		if len(values) == 0 {
			continue
		}

		id := anyToString(entry.PID)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		options = append(options, model.Option{ID: id, Name: name, Values: values})
	}
	return options
}

// flatPropsToOptions 把扁平的"选项名: 取值列表"映射规范化为领域模型。
// 映射没有稳定顺序，按选项名排序保证重复提取结果一致。
func flatPropsToOptions(flat map[string][]string) []model.Option {
	names := make([]string, 0, len(flat))
	for name := range flat {
		if strings.TrimSpace(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var options []model.Option
	for i, name := range names {
		var values []model.OptionValue
		for j, raw := range flat[name] {
			valueName := strings.TrimSpace(raw)
			if valueName == "" {
				continue
			}
			values = append(values, model.OptionValue{
				ID:   strconv.Itoa(j + 1),
				Name: valueName,
			})
		}
		if len(values) == 0 {
			continue
		}
		options = append(options, model.Option{
			ID:     strconv.Itoa(i + 1),
			Name:   strings.TrimSpace(name),
			Values: values,
		})
	}
	return options
}

// balancedSlice 从 text 开头截取一段括号配平的片段。
//
// 跳过前导空白后必须紧跟 open；字符串字面量内的括号与转义符
// 不参与配平。片段超过 maxCandidateBytes 视为失配。
func balancedSlice(text string, open, close byte) (string, bool) {
	i := 0
	for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
		i++
	}
	if i >= len(text) || text[i] != open {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	start := i
	limit := start + maxCandidateBytes
	if limit > len(text) {
		limit = len(text)
	}
	for ; i < limit; i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func anyToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		val, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		if err != nil {
			return 0, false
		}
		return val, true
	case json.Number:
		val, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return val, true
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]skuMapEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
