package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/extract"
	"github.com/Noah1206/BuyPilot-sub000/internal/store"

	"github.com/PuerkitoBio/goquery"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const pageHTML = `<html><body>
<div class="title-content"><div class="title-text">纯棉短袖T恤</div></div>
<div class="price-content"><span class="price-text">¥39.90</span></div>
</body></html>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func offerURL(n int) string {
	return fmt.Sprintf("https://detail.1688.com/offer/70000000000%d.html", n)
}

// fakeSource 返回固定 HTML 的快照源，可选阻塞以模拟慢页面。
type fakeSource struct {
	mu      sync.Mutex
	fetched []string
	block   chan struct{} // 非 nil 时 Fetch 阻塞到其关闭
	started chan struct{} // 非 nil 时 Fetch 开始后发信号
}

func (f *fakeSource) Fetch(_ context.Context, pageURL string) (*extract.Snapshot, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, pageURL)
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}
	return &extract.Snapshot{URL: pageURL, Document: doc}, nil
}

func (f *fakeSource) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func newTestStore(t *testing.T) *store.SlotStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st, err := store.NewSlotStoreWithRedis(rdb)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return st
}

func newTestTrigger(t *testing.T, st *store.SlotStore, source *fakeSource, debounce time.Duration) *Trigger {
	t.Helper()
	tr, err := New(Options{
		Logger:    testLogger(),
		Source:    source,
		Extractor: extract.NewDocumentExtractor(testLogger(), 0, 0),
		Store:     st,
		Debounce:  debounce,
	})
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	return tr
}

func TestTrigger_ExtractSavesSlots(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{}
	tr := newTestTrigger(t, st, source, time.Millisecond)

	ctx := context.Background()
	record, err := tr.Extract(ctx, offerURL(1))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if record.SourceID != "700000000001" {
		t.Fatalf("source id = %q", record.SourceID)
	}
	if record.Price != 39.90 {
		t.Fatalf("price = %v", record.Price)
	}

	saved, err := st.LoadCurrentProduct(ctx)
	if err != nil {
		t.Fatalf("load current product: %v", err)
	}
	if saved.SourceID != record.SourceID {
		t.Fatalf("saved source id = %q", saved.SourceID)
	}

	lastURL, err := st.LoadLastExtractedURL(ctx)
	if err != nil {
		t.Fatalf("load last url: %v", err)
	}
	if lastURL != offerURL(1) {
		t.Fatalf("last url = %q", lastURL)
	}
}

func TestTrigger_SkipsAlreadyExtractedURL(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{}
	tr := newTestTrigger(t, st, source, time.Millisecond)

	ctx := context.Background()
	if err := st.SaveLastExtractedURL(ctx, offerURL(1)); err != nil {
		t.Fatalf("seed last url: %v", err)
	}

	err := tr.trigger(ctx, offerURL(1))
	if err == nil || !strings.Contains(err.Error(), "already extracted") {
		t.Fatalf("err = %v, want already-extracted skip", err)
	}
	if len(source.urls()) != 0 {
		t.Fatalf("source fetched %v, want none", source.urls())
	}
}

func TestTrigger_InFlightDrop(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	tr := newTestTrigger(t, st, source, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	if err := tr.trigger(ctx, offerURL(1)); err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	// 等 worker 真正开始提取，保证后面的触发落在"进行中"窗口
	select {
	case <-source.started:
	case <-time.After(2 * time.Second):
		t.Fatal("extraction did not start")
	}

	// 进行中再来的触发必须被丢弃，不能排队等着稍后执行
	if err := tr.trigger(ctx, offerURL(2)); !errors.Is(err, ErrExtractInFlight) {
		t.Fatalf("err = %v, want ErrExtractInFlight", err)
	}

	close(source.block)

	// 等第一次提取落盘，确认被丢弃的地址从未被抓取
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lastURL, err := st.LoadLastExtractedURL(ctx); err == nil && lastURL == offerURL(1) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if urls := source.urls(); len(urls) != 1 || urls[0] != offerURL(1) {
		t.Fatalf("fetched urls = %v, want only %s", urls, offerURL(1))
	}

	// 上一轮结束后标记已释放，新地址可以正常触发
	if err := tr.trigger(ctx, offerURL(2)); err != nil {
		t.Fatalf("trigger after completion: %v", err)
	}
}

func TestTrigger_DebounceCoalesces(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{}
	tr := newTestTrigger(t, st, source, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	// 快速连续变化：只有最后一个地址应该被提取
	tr.OnURLChange(ctx, offerURL(1))
	tr.OnURLChange(ctx, offerURL(2))
	tr.OnURLChange(ctx, offerURL(3))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(source.urls()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	urls := source.urls()
	if len(urls) != 1 || urls[0] != offerURL(3) {
		t.Fatalf("fetched urls = %v, want only %s", urls, offerURL(3))
	}
}
