package extract

import "testing"

func TestNormalizeImageURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"//img.alicdn.com/img/a.jpg", "https://img.alicdn.com/img/a.jpg"},
		{"http://img.alicdn.com/img/a.jpg", "https://img.alicdn.com/img/a.jpg"},
		{"https://img.alicdn.com/img/a.jpg_400x400.jpg", "https://img.alicdn.com/img/a.jpg"},
		{"https://img.alicdn.com/img/a.png_100x100q75.jpg", "https://img.alicdn.com/img/a.png"},
		{"https://img.alicdn.com/img/a.220x220.jpg", "https://img.alicdn.com/img/a.jpg"},
		{"data:image/gif;base64,R0lGOD", ""},
		{"blob:https://detail.1688.com/xxx", ""},
		{"/img/relative.jpg", ""},
		{"  ", ""},
	}
	for _, tc := range cases {
		if got := normalizeImageURL(tc.in); got != tc.want {
			t.Errorf("normalizeImageURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGalleryAndDescriptionDisjoint(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<div class="preview-img"><img data-src="//cdn.example.com/main.jpg"></div>
		<div class="detail-gallery-turn-wrapper">
			<img data-src="//cdn.example.com/main.jpg">
			<img data-src="//cdn.example.com/g1.jpg">
			<img data-src="//cdn.example.com/g2.jpg">
		</div>
		<div id="description">
			<img data-src="//cdn.example.com/g1.jpg">
			<img data-src="//cdn.example.com/d1.jpg">
			<img data-src="//cdn.example.com/shop-logo.png">
		</div>
	</body></html>`)

	seen := make(map[string]struct{})
	main, ok := extractMainImage(doc)
	if !ok {
		t.Fatal("no main image")
	}
	seen[main] = struct{}{}

	gallery := extractGalleryImages(doc, seen)
	// 主图在画廊里重复出现时去重
	if len(gallery) != 2 {
		t.Fatalf("gallery = %v, want 2 entries", gallery)
	}

	desc := extractDescriptionImages(doc, seen)
	if len(desc) != 1 || desc[0] != "https://cdn.example.com/d1.jpg" {
		t.Fatalf("description = %v, want only d1.jpg", desc)
	}
	for _, d := range desc {
		if _, dup := seen[d]; dup {
			t.Fatalf("description image %q also in gallery set", d)
		}
	}
}

func TestGallerySkipsRecommendedBlocks(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<div class="detail-gallery-turn-wrapper">
			<img data-src="//cdn.example.com/own.jpg">
		</div>
		<div class="recommend-offers">
			<ul class="det-img-list"><li><img data-src="//cdn.example.com/other-product.jpg"></li></ul>
		</div>
	</body></html>`)

	gallery := extractGalleryImages(doc, make(map[string]struct{}))
	if len(gallery) != 1 || gallery[0] != "https://cdn.example.com/own.jpg" {
		t.Fatalf("gallery = %v, recommended block should be excluded", gallery)
	}
}

func TestLazyAttrPreferredOverPlaceholderSrc(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<div class="preview-img"><img src="https://cdn.example.com/grey.gif" data-src="//cdn.example.com/real.jpg"></div>
	</body></html>`)

	main, ok := extractMainImage(doc)
	if !ok || main != "https://cdn.example.com/real.jpg" {
		t.Fatalf("main = %q ok=%v, want lazy attr value", main, ok)
	}
}
