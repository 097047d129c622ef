package extract

import (
	"fmt"
	"testing"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
)

func makeOption(name string, count int) model.Option {
	opt := model.Option{ID: name, Name: name}
	for i := 0; i < count; i++ {
		v := fmt.Sprintf("%s%d", name, i+1)
		opt.Values = append(opt.Values, model.OptionValue{ID: v, Name: v})
	}
	return opt
}

func TestSynthesizeVariantsCap(t *testing.T) {
	// 10x10 组合会爆到 100，必须截断到上限
	options := []model.Option{makeOption("颜色", 10), makeOption("尺码", 10)}
	variants := synthesizeVariants(options, 9.9, 999, 50)
	if len(variants) != 50 {
		t.Fatalf("variants = %d, want capped at 50", len(variants))
	}
	ids := make(map[string]bool)
	for _, v := range variants {
		if ids[v.SkuID] {
			t.Fatalf("duplicate sku id %q", v.SkuID)
		}
		ids[v.SkuID] = true
		if len(v.OptionSelections) != 2 {
			t.Fatalf("selections = %+v, want one per option", v.OptionSelections)
		}
	}
}

func TestSynthesizeVariantsInheritsImage(t *testing.T) {
	options := []model.Option{{
		ID:   "颜色",
		Name: "颜色",
		Values: []model.OptionValue{
			{ID: "红", Name: "红", Image: "https://cdn.example.com/red.jpg"},
			{ID: "蓝", Name: "蓝"},
		},
	}}
	variants := synthesizeVariants(options, 5, 999, 50)
	if len(variants) != 2 {
		t.Fatalf("variants = %d, want 2", len(variants))
	}
	if variants[0].Image != "https://cdn.example.com/red.jpg" {
		t.Fatalf("variant image = %q, want option value image", variants[0].Image)
	}
	if variants[1].Image != "" {
		t.Fatalf("variant image = %q, want empty for value without image", variants[1].Image)
	}
}

func TestBuildVariantsFromSkuMapSkipsUnmatchedKeys(t *testing.T) {
	options := []model.Option{makeOption("颜色", 2)}
	skuMap := map[string]skuMapEntry{
		"&gt;颜色1&gt;":  {SkuID: "1", Price: "2.5", CanBookCount: float64(10)},
		"&gt;已下架色&gt;": {SkuID: "2", Price: "9.9"},
	}
	variants := buildVariantsFromSkuMap(options, skuMap, 1.0, 999)
	if len(variants) != 1 {
		t.Fatalf("variants = %+v, want only the matched key", variants)
	}
	if variants[0].Price != 2.5 || variants[0].Stock != 10 {
		t.Fatalf("variant = %+v", variants[0])
	}
}

func TestBuildVariantsFromSkuMapDefaults(t *testing.T) {
	options := []model.Option{makeOption("颜色", 1)}
	skuMap := map[string]skuMapEntry{
		// 无价格无库存字段：回退基准价和默认库存
		">颜色1>": {SkuID: float64(77)},
	}
	variants := buildVariantsFromSkuMap(options, skuMap, 4.2, 999)
	if len(variants) != 1 {
		t.Fatalf("variants = %d, want 1", len(variants))
	}
	v := variants[0]
	if v.Price != 4.2 || v.Stock != 999 || v.SkuID != "77" {
		t.Fatalf("variant = %+v", v)
	}
}

func TestSplitSkuKey(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"&gt;红色&gt;XL&gt;", 2},
		{">红色>", 1},
		{"红色;XL", 2},
	}
	for _, tc := range cases {
		if got := splitSkuKey(tc.in); len(got) != tc.want {
			t.Errorf("splitSkuKey(%q) = %v, want %d parts", tc.in, got, tc.want)
		}
	}
}

func TestBalancedSlice(t *testing.T) {
	body, ok := balancedSlice(`{"a":{"b":"}"},"c":[1,2]} trailing`, '{', '}')
	if !ok {
		t.Fatal("expected balanced slice")
	}
	if body != `{"a":{"b":"}"},"c":[1,2]}` {
		t.Fatalf("body = %q", body)
	}

	if _, ok := balancedSlice(`{"never closed`, '{', '}'); ok {
		t.Fatal("unclosed candidate should fail")
	}
	if _, ok := balancedSlice(`  no bracket`, '{', '}'); ok {
		t.Fatal("non-bracket start should fail")
	}
}
