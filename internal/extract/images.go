package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// 图片 URL 处理相关的启发式规则。
//
// 源站图片地址经常带缩略图尺寸后缀（如 xxx.jpg_300x300.jpg），
// 提取时统一还原为原图；协议省略地址（//host/...）补全为 HTTPS。
var (
	// 缩略图尺寸后缀，如 .jpg_400x400.jpg / .png_100x100q75.jpg
	thumbSizeSuffixRe = regexp.MustCompile(`\.(jpe?g|png|webp)_\d+x\d+(?:q\d+)?\.(?:jpe?g|png|webp)$`)
	// 内嵌尺寸 token，如 xxx.220x220.jpg
	thumbSizeTokenRe = regexp.MustCompile(`\.\d+x\d+(\.(?:jpe?g|png|webp))$`)
)

// 主图选择器候选，按可信度排序。懒加载属性优先于 src，
// 因为页面加载过程中 src 可能还是占位图。
var mainImageSelectors = []string{
	`.preview-img img`,
	`.detail-gallery-img`,
	`.vertical-img img`,
	`img[class*="preview"]`,
	`.od-gallery-img`,
}

var lazyImageAttrs = []string{"data-src", "data-lazy-src", "src"}

// 画廊缩略图容器候选。
var galleryImageSelectors = []string{
	`.detail-gallery-turn-wrapper img`,
	`ul.det-img-list img`,
	`.thumb-list img`,
	`[class*="gallery"] li img`,
}

// 详情描述图容器候选，刻意排在画廊之后、选择器集合不同：
// 描述图与画廊图必须保持不相交。
var descriptionImageSelectors = []string{
	`#description img`,
	`.desc-root img`,
	`.detail-desc img`,
	`.offer-details-wrap img`,
	`[class*="desc-lazyload"] img`,
}

// 推荐/相似商品容器标记：画廊收集时排除这些祖先下的图片，
// 避免推荐位轮播混进商品自身的画廊。
var recommendedMarkers = []string{
	"recommend",
	"similar",
	"related",
	"also-like",
}

// 图标/占位图文件名特征：详情图收集时按子串过滤。
var iconURLHints = []string{
	"icon",
	"logo",
	"spacer",
	"blank",
	"loading",
	"placeholder",
	"grey.gif",
	"pixel.gif",
}

// normalizeImageURL 把图片地址规范为绝对 HTTPS 原图地址。
// 无法规范的（data:/blob:/相对路径）返回空串。
func normalizeImageURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "data:") || strings.HasPrefix(u, "blob:") {
		return ""
	}
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	if strings.HasPrefix(u, "http://") {
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasPrefix(u, "https://") {
		return ""
	}
	return upscaleThumbURL(u)
}

// upscaleThumbURL 把带尺寸 token 的缩略图地址改写为原图地址。
func upscaleThumbURL(u string) string {
	if m := thumbSizeSuffixRe.FindStringSubmatchIndex(u); m != nil {
		// 去掉 "_400x400.jpg" 这一段，保留原始扩展名
		return u[:m[3]+1]
	}
	return thumbSizeTokenRe.ReplaceAllString(u, "$1")
}

// isPlaceholderImageURL 判断是否为明显的占位图地址。
func isPlaceholderImageURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "blob:") ||
		strings.Contains(lower, "grey.gif") ||
		strings.Contains(lower, "blank.gif")
}

// isIconURL 按文件名子串判断是否为图标/装饰图。
func isIconURL(u string) bool {
	lower := strings.ToLower(u)
	for _, hint := range iconURLHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// underRecommendedBlock 判断节点的任一祖先是否带推荐位标记。
func underRecommendedBlock(sel *goquery.Selection) bool {
	found := false
	sel.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		class, _ := p.Attr("class")
		spm, _ := p.Attr("data-spm")
		haystack := strings.ToLower(class + " " + spm)
		for _, marker := range recommendedMarkers {
			if strings.Contains(haystack, marker) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// imageFromNode 从 img 节点取地址，懒加载属性优先。
func imageFromNode(sel *goquery.Selection) string {
	for _, attr := range lazyImageAttrs {
		if v, ok := sel.Attr(attr); ok {
			if normalized := normalizeImageURL(v); normalized != "" {
				return normalized
			}
		}
	}
	return ""
}

// extractMainImage 提取主图。
func extractMainImage(doc *goquery.Document) (string, bool) {
	raw, ok := firstMatch(doc, []Strategy[string]{
		attrBySelectors(mainImageSelectors, lazyImageAttrs...),
	})
	if !ok {
		return "", false
	}
	normalized := normalizeImageURL(raw)
	return normalized, normalized != ""
}

// extractGalleryImages 收集画廊图片。
//
// seen 用于与已收集图片（主图）去重；推荐位下的图片一律排除。
func extractGalleryImages(doc *goquery.Document, seen map[string]struct{}) []string {
	var images []string
	for _, sel := range galleryImageSelectors {
		doc.Find(sel).Each(func(_ int, node *goquery.Selection) {
			if underRecommendedBlock(node) {
				return
			}
			u := imageFromNode(node)
			if u == "" || isIconURL(u) {
				return
			}
			if _, dup := seen[u]; dup {
				return
			}
			seen[u] = struct{}{}
			images = append(images, u)
		})
		if len(images) > 0 {
			break
		}
	}
	return images
}

// extractDescriptionImages 收集详情描述图。
//
// gallerySeen 中已有的地址（主图/画廊）一律排除，保证两个集合不相交；
// 图标/占位图按文件名过滤。
func extractDescriptionImages(doc *goquery.Document, gallerySeen map[string]struct{}) []string {
	var images []string
	local := make(map[string]struct{})
	for _, sel := range descriptionImageSelectors {
		doc.Find(sel).Each(func(_ int, node *goquery.Selection) {
			u := imageFromNode(node)
			if u == "" || isIconURL(u) {
				return
			}
			if _, dup := gallerySeen[u]; dup {
				return
			}
			if _, dup := local[u]; dup {
				return
			}
			local[u] = struct{}{}
			images = append(images, u)
		})
		if len(images) > 0 {
			break
		}
	}
	return images
}
