package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/dedup"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/events"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/metrics"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/notify"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/ratelimit"
	"github.com/Noah1206/BuyPilot-sub000/internal/store"
	"github.com/Noah1206/BuyPilot-sub000/internal/submit"

	"github.com/google/uuid"
)

// 导入队列：FIFO、单飞行、落盘先行。
//
// 三条硬性规则：
//  1. 任何任务先写持久化队列，再进内存队列。进程在两步之间被杀，
//     重启恢复时任务仍在。
//  2. 同一时刻最多一个任务在提交（单处理协程），提交之间留间隔。
//  3. 持久化条目只在任务完成后移除，失败的条目留给重启恢复；
//     通知只在终态触发。

var (
	ErrDuplicateSource      = errors.New("source url already queued")
	ErrRecentlyImported     = errors.New("source url imported recently")
	ErrImporterClosed       = errors.New("importer is closed")
	errBackendNotConfigured = errors.New("backend url is not configured")
)

// Importer 管理导入队列与后台处理协程。
type Importer struct {
	logger    *slog.Logger
	store     *store.SlotStore
	client    *submit.Client
	notifier  notify.Notifier
	limiter   *ratelimit.Limiter
	dedup     *dedup.Deduplicator
	publisher *events.Publisher

	pacing time.Duration

	mu         sync.Mutex
	queue      []*model.ImportJob
	history    []*model.ImportJob // 终态任务，供查询接口回放
	processing bool
	closed     bool

	wake chan struct{}
	done chan struct{}
}

// Options 组装 Importer 的依赖。
type Options struct {
	Logger    *slog.Logger
	Store     *store.SlotStore
	Client    *submit.Client
	Notifier  notify.Notifier
	Limiter   *ratelimit.Limiter  // 可为 nil：不做跨实例限流
	Dedup     *dedup.Deduplicator // 可为 nil：不做近期导入去重
	Publisher *events.Publisher   // 可为 nil：不发布生命周期事件
	Pacing    time.Duration       // 相邻两次提交之间的最小间隔
}

// New 创建导入器。
func New(opts Options) (*Importer, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("submit client is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	if opts.Pacing <= 0 {
		opts.Pacing = 2 * time.Second
	}
	return &Importer{
		logger:    opts.Logger,
		store:     opts.Store,
		client:    opts.Client,
		notifier:  opts.Notifier,
		limiter:   opts.Limiter,
		dedup:     opts.Dedup,
		publisher: opts.Publisher,
		pacing:    opts.Pacing,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Enqueue 把商品记录排入导入队列。
//
// 顺序是固定的：先写持久化队列（同源已排队返回 ErrDuplicateSource），
// 成功后才进内存队列。近期导入过的来源返回 ErrRecentlyImported。
func (im *Importer) Enqueue(ctx context.Context, record *model.ProductRecord) (*model.ImportJob, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}

	im.mu.Lock()
	if im.closed {
		im.mu.Unlock()
		return nil, ErrImporterClosed
	}
	im.mu.Unlock()

	if im.dedup != nil {
		isDup, err := im.dedup.IsDuplicate(ctx, record.SourceURL)
		if err != nil {
			return nil, fmt.Errorf("dedup check: %w", err)
		}
		if isDup {
			metrics.ImportJobsTotal.WithLabelValues("skipped").Inc()
			return nil, ErrRecentlyImported
		}
	}

	job := &model.ImportJob{
		ID:         uuid.NewString(),
		Record:     record,
		Status:     model.JobStatusPending,
		EnqueuedAt: time.Now(),
	}

	// 落盘先行：这一步成功之前任务不存在
	if err := im.store.AppendPendingImport(ctx, job); err != nil {
		if errors.Is(err, store.ErrJobExists) {
			return nil, ErrDuplicateSource
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}

	im.mu.Lock()
	im.queue = append(im.queue, job)
	depth := len(im.queue)
	im.mu.Unlock()
	metrics.ImportQueueDepth.Set(float64(depth))

	im.publishEvent(ctx, job, "enqueued", "")
	im.logger.Info("import job enqueued",
		slog.String("job_id", job.ID),
		slog.String("source_url", record.SourceURL),
		slog.Int("queue_depth", depth))

	im.signal()
	return job, nil
}

// Recover 从持久化队列恢复上次未完成的任务（启动时调用一次）。
// 恢复顺序与原入队顺序一致，状态一律重置为 pending。
func (im *Importer) Recover(ctx context.Context) (int, error) {
	jobs, err := im.store.LoadPendingImports(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	for _, job := range jobs {
		job.Status = model.JobStatusPending
	}

	im.mu.Lock()
	im.queue = append(im.queue, jobs...)
	depth := len(im.queue)
	im.mu.Unlock()
	metrics.ImportQueueDepth.Set(float64(depth))

	im.logger.Info("recovered pending import jobs", slog.Int("count", len(jobs)))
	im.signal()
	return len(jobs), nil
}

// Start 启动单处理协程，直到 ctx 被取消。
func (im *Importer) Start(ctx context.Context) {
	go im.run(ctx)
}

func (im *Importer) run(ctx context.Context) {
	defer close(im.done)
	defer func() {
		if r := recover(); r != nil {
			im.logger.Error("PANIC in import processor",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	for {
		job := im.next()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-im.wake:
				continue
			}
		}

		im.process(ctx, job)
		im.finish()

		// 提交间隔：队列再长也不连发
		if !im.sleep(ctx, im.pacing) {
			return
		}
	}
}

// next 取队头任务并置处理标记。没有任务返回 nil。
func (im *Importer) next() *model.ImportJob {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.processing || len(im.queue) == 0 {
		return nil
	}
	job := im.queue[0]
	im.queue = im.queue[1:]
	im.processing = true
	metrics.ImportQueueDepth.Set(float64(len(im.queue)))
	return job
}

func (im *Importer) finish() {
	im.mu.Lock()
	im.processing = false
	remaining := len(im.queue)
	im.mu.Unlock()
	if remaining > 0 {
		im.signal()
	}
}

// process 处理单个任务直至终态。
func (im *Importer) process(ctx context.Context, job *model.ImportJob) {
	job.Status = model.JobStatusProcessing
	im.publishEvent(ctx, job, "processing", "")
	im.logger.Info("processing import job",
		slog.String("job_id", job.ID),
		slog.String("source_url", job.Record.SourceURL))

	err := im.submitJob(ctx, job)
	switch {
	case err == nil:
		job.Status = model.JobStatusCompleted
		metrics.ImportJobsTotal.WithLabelValues("completed").Inc()

	case errors.Is(err, submit.ErrAlreadyExists):
		// 后端已有同源商品：按完成处理，让队列继续前进
		job.Status = model.JobStatusCompleted
		job.Result = "already exists in backend"
		metrics.ImportJobsTotal.WithLabelValues("skipped").Inc()

	default:
		job.Status = model.JobStatusFailed
		job.Result = err.Error()
		metrics.ImportJobsTotal.WithLabelValues("failed").Inc()
		im.logger.Error("import job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		// 失败的来源允许立即重试
		if im.dedup != nil {
			if derr := im.dedup.Delete(ctx, job.Record.SourceURL); derr != nil {
				im.logger.Warn("clear dedup mark failed", slog.String("error", derr.Error()))
			}
		}
	}

	// 只有完成的任务才清掉持久化条目；失败的条目留给重启恢复，
	// 但释放来源占位，允许同源立即重新入队
	if job.Status == model.JobStatusCompleted {
		if rerr := im.store.RemovePendingImport(ctx, job); rerr != nil {
			im.logger.Error("remove persisted job failed",
				slog.String("job_id", job.ID),
				slog.String("error", rerr.Error()))
		}
	} else if job.Record != nil {
		if rerr := im.store.RemovePendingSource(ctx, job.Record.SourceURL); rerr != nil {
			im.logger.Warn("release pending source failed",
				slog.String("job_id", job.ID),
				slog.String("error", rerr.Error()))
		}
	}

	im.mu.Lock()
	im.history = append(im.history, job)
	if len(im.history) > 200 {
		im.history = im.history[len(im.history)-200:]
	}
	im.mu.Unlock()

	im.publishEvent(ctx, job, string(job.Status), job.Result)
	if nerr := im.notifier.Send(ctx, job); nerr != nil {
		im.logger.Warn("notification failed",
			slog.String("job_id", job.ID),
			slog.String("error", nerr.Error()))
	}
}

func (im *Importer) submitJob(ctx context.Context, job *model.ImportJob) error {
	if im.limiter != nil {
		if err := im.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	backendURL, err := im.store.LoadBackendURL(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSlotEmpty) {
			return errBackendNotConfigured
		}
		return fmt.Errorf("load backend url: %w", err)
	}

	result, err := im.client.Submit(ctx, backendURL, job.Record)
	if err != nil {
		return err
	}
	job.Result = result.ProductID
	return nil
}

// Jobs 返回队列中与近期终态任务的快照（查询接口用）。
func (im *Importer) Jobs() []*model.ImportJob {
	im.mu.Lock()
	defer im.mu.Unlock()
	out := make([]*model.ImportJob, 0, len(im.queue)+len(im.history))
	out = append(out, im.history...)
	out = append(out, im.queue...)
	return out
}

// QueueDepth 返回内存队列当前长度。
func (im *Importer) QueueDepth() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return len(im.queue)
}

// Shutdown 等待当前任务处理完毕。队列里未处理的任务留在持久化
// 存储中，下次启动由 Recover 接管。
func (im *Importer) Shutdown(ctx context.Context) error {
	im.mu.Lock()
	im.closed = true
	im.mu.Unlock()

	select {
	case <-im.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (im *Importer) signal() {
	select {
	case im.wake <- struct{}{}:
	default:
	}
}

func (im *Importer) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (im *Importer) publishEvent(ctx context.Context, job *model.ImportJob, stage, detail string) {
	if im.publisher == nil {
		return
	}
	sourceURL := ""
	if job.Record != nil {
		sourceURL = job.Record.SourceURL
	}
	if err := im.publisher.Publish(ctx, events.JobEvent{
		JobID:     job.ID,
		SourceURL: sourceURL,
		Stage:     stage,
		Detail:    detail,
	}); err != nil {
		im.logger.Warn("publish job event failed", slog.String("error", err.Error()))
	}
}
