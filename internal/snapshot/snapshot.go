package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/config"
	"github.com/Noah1206/BuyPilot-sub000/internal/extract"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/metrics"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// 页面快照：把商品详情页渲染成可供提取的 DOM 文档。
//
// 1688 详情页是脚本渲染的，SKU 数据要等页面执行完才会出现，
// 所以这里用真实浏览器取完整渲染后的 HTML。

const (
	pageCreateTimeout    = 10 * time.Second
	stealthScriptTimeout = 5 * time.Second
	defaultUA            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Source 提供指定地址的页面快照。
type Source interface {
	Fetch(ctx context.Context, pageURL string) (*extract.Snapshot, error)
}

// BrowserFetcher 基于无头浏览器的快照源。
type BrowserFetcher struct {
	browser     *rod.Browser
	logger      *slog.Logger
	pageTimeout time.Duration
	settleDelay time.Duration
}

// NewBrowserFetcher 启动浏览器并返回快照源。
//
// 针对 Docker/EC2 环境做了适配（NoSandbox、禁用 /dev/shm）。
func NewBrowserFetcher(ctx context.Context, cfg *config.BrowserConfig, logger *slog.Logger) (*BrowserFetcher, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		// 缓存与内存优化，减少磁盘写入压力
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("disable-application-cache", "true").
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", cfg.ProxyURL)
		}
		proxyServer := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			if pass, ok := parsed.User.Password(); ok {
				proxyPass = pass
			}
		}
		l = l.Proxy(proxyServer)
		logger.Info("using http proxy", slog.String("server", proxyServer))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}

	logger.Info("browser started", slog.String("bin", bin), slog.Bool("headless", cfg.Headless))
	return &BrowserFetcher{
		browser:     browser,
		logger:      logger,
		pageTimeout: cfg.PageTimeout,
		settleDelay: cfg.SettleDelay,
	}, nil
}

// Fetch 渲染页面并返回快照。
//
// 浏览器操作都可能卡死，所以每一步都用 channel + select 包一层超时。
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (*extract.Snapshot, error) {
	snap, err := f.fetch(ctx, pageURL)
	if err != nil {
		metrics.SnapshotFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SnapshotFetchTotal.WithLabelValues("ok").Inc()
	return snap, nil
}

func (f *BrowserFetcher) fetch(ctx context.Context, pageURL string) (*extract.Snapshot, error) {
	page, err := f.newStealthPage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	page = page.Timeout(f.pageTimeout)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: defaultUA}); err != nil {
		f.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}

	f.logger.Info("loading page", slog.String("url", pageURL))

	// 在 goroutine 中执行 Navigate，超时则强制返回
	navigateCtx, navigateCancel := context.WithTimeout(ctx, f.pageTimeout)
	defer navigateCancel()
	navigateErrCh := make(chan error, 1)
	go func() {
		navigateErrCh <- page.Navigate(pageURL)
	}()
	select {
	case navErr := <-navigateErrCh:
		if navErr != nil {
			return nil, fmt.Errorf("navigate: %w", navErr)
		}
	case <-navigateCtx.Done():
		return nil, fmt.Errorf("navigate timeout: %w", navigateCtx.Err())
	}

	// 等待页面加载完成（DOM + 资源）
	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	defer loadCancel()
	if err := page.Context(loadCtx).WaitLoad(); err != nil {
		f.logger.Warn("WaitLoad failed, continuing anyway", slog.String("error", err.Error()))
	}

	// 等待网络请求完成（SKU 数据由脚本异步加载）
	waitIdle := page.WaitRequestIdle(time.Second, nil, nil, nil)
	idleCtx, idleCancel := context.WithTimeout(ctx, 15*time.Second)
	defer idleCancel()
	idleDone := make(chan struct{})
	go func() {
		waitIdle()
		close(idleDone)
	}()
	select {
	case <-idleDone:
	case <-idleCtx.Done():
		f.logger.Debug("WaitRequestIdle timeout, continuing")
	}

	// 稳定等待：网络空闲后前端可能还在渲染价格与选项区
	if f.settleDelay > 0 {
		timer := time.NewTimer(f.settleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}

	actualURL := pageURL
	if info, err := page.Info(); err == nil && info.URL != "" {
		actualURL = info.URL
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	return &extract.Snapshot{URL: actualURL, Document: doc}, nil
}

// newStealthPage 创建带反检测脚本的空白页。
func (f *BrowserFetcher) newStealthPage(ctx context.Context) (*rod.Page, error) {
	pageTimer := time.NewTimer(pageCreateTimeout)
	defer pageTimer.Stop()

	type pageResult struct {
		page *rod.Page
		err  error
	}
	pageCh := make(chan pageResult, 1)
	go func() {
		p, err := f.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		pageCh <- pageResult{page: p, err: err}
	}()

	var page *rod.Page
	select {
	case res := <-pageCh:
		if res.err != nil {
			return nil, fmt.Errorf("create page: %w", res.err)
		}
		page = res.page
	case <-pageTimer.C:
		return nil, fmt.Errorf("create page timeout after %v", pageCreateTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled during page create: %w", ctx.Err())
	}

	stealthTimer := time.NewTimer(stealthScriptTimeout)
	defer stealthTimer.Stop()
	stealthDone := make(chan error, 1)
	go func() {
		_, evalErr := page.EvalOnNewDocument(stealth.JS)
		stealthDone <- evalErr
	}()
	select {
	case err := <-stealthDone:
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("apply stealth script: %w", err)
		}
	case <-stealthTimer.C:
		_ = page.Close()
		return nil, fmt.Errorf("apply stealth script timeout after %v", stealthScriptTimeout)
	case <-ctx.Done():
		_ = page.Close()
		return nil, fmt.Errorf("context cancelled during stealth script: %w", ctx.Err())
	}

	return page, nil
}

// Close 关闭浏览器。
func (f *BrowserFetcher) Close() error {
	if f == nil || f.browser == nil {
		return nil
	}
	return f.browser.Close()
}
