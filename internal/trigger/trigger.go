package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/extract"
	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/metrics"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/queue"
	"github.com/Noah1206/BuyPilot-sub000/internal/snapshot"
	"github.com/Noah1206/BuyPilot-sub000/internal/store"
	"github.com/Noah1206/BuyPilot-sub000/internal/translate"
)

// 提取触发器：决定什么时候对哪个地址跑一次提取。
//
// 规则：
//   - 地址变化先去抖，等页面稳定下来再动手。
//   - 同一地址不重复提取（对比 lastExtractedUrl 槽位）。
//   - 提取不并发：一次只跑一个，进行中再来的触发直接丢弃。

// ErrExtractInFlight 已有提取在进行，本次触发被丢弃。
var ErrExtractInFlight = errors.New("extraction already in flight")

// Trigger 管理提取的去抖、去重与单并发执行。
type Trigger struct {
	logger    *slog.Logger
	source    snapshot.Source
	extractor *extract.DocumentExtractor
	store     *store.SlotStore

	translator translate.Translator // 可为 nil：不翻译标题
	transFrom  string
	transTo    string

	// inFlight 置位期间的触发直接丢弃，不排队；work 只负责异步执行
	inFlight atomic.Bool
	work     *queue.Queue
	debounce time.Duration

	mu      sync.Mutex
	pending string
	timer   *time.Timer
}

// Options 组装 Trigger 的依赖。
type Options struct {
	Logger     *slog.Logger
	Source     snapshot.Source
	Extractor  *extract.DocumentExtractor
	Store      *store.SlotStore
	Translator translate.Translator
	TransFrom  string
	TransTo    string
	Debounce   time.Duration
}

// New 创建提取触发器。
func New(opts Options) (*Trigger, error) {
	if opts.Source == nil {
		return nil, errors.New("snapshot source is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 800 * time.Millisecond
	}
	return &Trigger{
		logger:     opts.Logger,
		source:     opts.Source,
		extractor:  opts.Extractor,
		store:      opts.Store,
		translator: opts.Translator,
		transFrom:  opts.TransFrom,
		transTo:    opts.TransTo,
		work:       queue.NewQueue(opts.Logger, 1, 1),
		debounce:   opts.Debounce,
	}, nil
}

// Start 启动提取 worker，直到 ctx 被取消。
func (t *Trigger) Start(ctx context.Context) {
	t.work.Start(ctx)
}

// OnURLChange 上报一次地址变化。
//
// 地址会先进入去抖窗口；窗口内再次变化就重置计时，
// 窗口结束后才真正触发提取。
func (t *Trigger) OnURLChange(ctx context.Context, pageURL string) {
	if pageURL == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = pageURL
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		target := t.pending
		t.mu.Unlock()
		if target == "" {
			return
		}
		if err := t.trigger(ctx, target); err != nil {
			t.logger.Debug("url change trigger skipped",
				slog.String("url", target),
				slog.String("reason", err.Error()))
		}
	})
}

// trigger 做去重检查后把提取任务排进 worker。
func (t *Trigger) trigger(ctx context.Context, pageURL string) error {
	lastURL, err := t.store.LoadLastExtractedURL(ctx)
	if err != nil && !errors.Is(err, store.ErrSlotEmpty) {
		return fmt.Errorf("load last extracted url: %w", err)
	}
	if lastURL == pageURL {
		return fmt.Errorf("url already extracted: %s", pageURL)
	}

	// 进行中丢弃：标记抢不到说明上一次提取还没结束
	if !t.inFlight.CompareAndSwap(false, true) {
		return ErrExtractInFlight
	}
	ok := t.work.Enqueue(func(jobCtx context.Context) error {
		defer t.inFlight.Store(false)
		_, err := t.Extract(jobCtx, pageURL)
		return err
	})
	if !ok {
		t.inFlight.Store(false)
		return ErrExtractInFlight
	}
	return nil
}

// Extract 对指定地址跑一次完整提取并写入当前商品槽位。
//
// 这是同步入口，API 的手动提取也走这里；去抖与去重由调用方负责。
func (t *Trigger) Extract(ctx context.Context, pageURL string) (*model.ProductRecord, error) {
	start := time.Now()

	snap, err := t.source.Fetch(ctx, pageURL)
	if err != nil {
		metrics.ExtractTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	record, err := t.extractor.Extract(*snap)
	if err != nil {
		metrics.ExtractTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("extract product: %w", err)
	}

	if t.translator != nil {
		record.Title = translate.OrOriginal(ctx, t.translator, t.logger, record.TitleOriginal, t.transFrom, t.transTo)
	}

	// 槽位写失败不影响提取结果本身，记日志继续
	if err := t.store.SaveCurrentProduct(ctx, record); err != nil {
		t.logger.Warn("save current product failed", slog.String("error", err.Error()))
	}
	if err := t.store.SaveLastExtractedURL(ctx, record.SourceURL); err != nil {
		t.logger.Warn("save last extracted url failed", slog.String("error", err.Error()))
	}

	metrics.ExtractTotal.WithLabelValues("ok").Inc()
	metrics.ExtractDuration.Observe(time.Since(start).Seconds())
	t.logger.Info("extraction finished",
		slog.String("source_id", record.SourceID),
		slog.String("url", record.SourceURL),
		slog.Int("variants", len(record.Variants)),
		slog.Duration("elapsed", time.Since(start)))
	return record, nil
}

// Shutdown 停止接收新触发并等待进行中的提取结束。
func (t *Trigger) Shutdown() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	t.work.Shutdown()
}
