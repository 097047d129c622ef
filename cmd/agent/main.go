package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/api"
	"github.com/Noah1206/BuyPilot-sub000/internal/config"
	"github.com/Noah1206/BuyPilot-sub000/internal/extract"
	"github.com/Noah1206/BuyPilot-sub000/internal/importer"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/dedup"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/events"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/logger"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/notify"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/ratelimit"
	"github.com/Noah1206/BuyPilot-sub000/internal/snapshot"
	"github.com/Noah1206/BuyPilot-sub000/internal/store"
	"github.com/Noah1206/BuyPilot-sub000/internal/submit"
	"github.com/Noah1206/BuyPilot-sub000/internal/translate"
	"github.com/Noah1206/BuyPilot-sub000/internal/trigger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是采购助手本地代理的入口函数。
//
// 它负责：
// 1. 加载配置、初始化日志
// 2. 连接 Redis、启动无头浏览器
// 3. 恢复上次未完成的导入任务并启动导入处理协程
// 4. 启动 API 服务与 Metrics 服务
// 5. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	slotStore, err := store.NewSlotStoreWithRedis(rdb)
	if err != nil {
		appLogger.Error("init store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := slotStore.Ping(ctx); err != nil {
		appLogger.Error("redis unreachable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 配置里的后端地址写入槽位，作为初始值（槽位可在运行时被 API 覆盖）
	if cfg.App.BackendURL != "" {
		if err := slotStore.SaveBackendURL(ctx, cfg.App.BackendURL); err != nil {
			appLogger.Warn("seed backend url failed", slog.String("error", err.Error()))
		}
	}

	browserCtx, stopBrowser := context.WithCancel(ctx)
	defer stopBrowser()
	fetcher, err := snapshot.NewBrowserFetcher(browserCtx, &cfg.Browser, appLogger)
	if err != nil {
		appLogger.Error("start browser failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var translator translate.Translator
	if cfg.Translate.Endpoint != "" {
		translator = translate.NewHTTPTranslator(cfg.Translate.Endpoint, cfg.Translate.Timeout, appLogger)
	}

	extractor := extract.NewDocumentExtractor(appLogger, cfg.Extract.VariantCap, cfg.Extract.DefaultStock)
	trig, err := trigger.New(trigger.Options{
		Logger:     appLogger,
		Source:     fetcher,
		Extractor:  extractor,
		Store:      slotStore,
		Translator: translator,
		TransFrom:  cfg.Translate.From,
		TransTo:    cfg.Translate.To,
		Debounce:   cfg.Extract.Debounce,
	})
	if err != nil {
		appLogger.Error("init trigger failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var notifier notify.Notifier
	if cfg.Email.SMTPUser != "" && cfg.Email.ToEmail != "" {
		notifier = notify.NewEmailNotifier(&cfg.Email, appLogger)
	} else {
		notifier = notify.NewLogNotifier(appLogger)
	}

	var limiter *ratelimit.Limiter
	if cfg.Import.RateLimit > 0 {
		limiter = ratelimit.NewRedisLimiter(rdb, appLogger, "", cfg.Import.RateLimit, cfg.Import.RateBurst)
	}

	im, err := importer.New(importer.Options{
		Logger:    appLogger,
		Store:     slotStore,
		Client:    submit.NewClient(cfg.Import.SubmitTimeout, appLogger),
		Notifier:  notifier,
		Limiter:   limiter,
		Dedup:     dedup.NewDeduplicator(rdb, cfg.Import.DedupWindow),
		Publisher: events.NewPublisher(rdb, appLogger, events.DefaultStream),
		Pacing:    cfg.Import.Pacing,
	})
	if err != nil {
		appLogger.Error("init importer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 上次进程退出时没跑完的任务接着跑
	if recovered, err := im.Recover(ctx); err != nil {
		appLogger.Error("recover pending imports failed", slog.String("error", err.Error()))
	} else if recovered > 0 {
		appLogger.Info("resuming pending imports", slog.Int("count", recovered))
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	im.Start(workerCtx)
	trig.Start(workerCtx)

	server := api.NewServer(cfg, appLogger, slotStore, trig, im, translator)
	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: server.Router(),
	}
	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("api server stopped with error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	// 等待中断信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info("received os signal", slog.String("signal", sig.String()))

	appLogger.Info("shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. 先停 HTTP 入口，不再受理新请求
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("api shutdown error", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	// 2. 停提取，等进行中的提取结束
	trig.Shutdown()

	// 3. 等当前导入任务到终态；没处理完的留在持久化队列，下次启动恢复
	stopWorkers()
	if err := im.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("importer shutdown error", slog.String("error", err.Error()))
	}

	// 4. 最后关浏览器与 Redis
	if err := fetcher.Close(); err != nil {
		appLogger.Warn("browser close error", slog.String("error", err.Error()))
	}
	if err := slotStore.Close(); err != nil {
		appLogger.Warn("redis close error", slog.String("error", err.Error()))
	}

	appLogger.Info("agent stopped gracefully")
}
