package notify

import (
	"context"
	"log/slog"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
)

// Notifier 定义导入结果通知接口。
// 只在任务到达终态（completed / failed）时触发，中间状态不打扰。
type Notifier interface {
	// Send 发送通知。
	//
	// 参数:
	//   ctx: 上下文
	//   job: 到达终态的导入任务
	Send(ctx context.Context, job *model.ImportJob) error
}

// LogNotifier 把通知写进日志，未配置邮件时的默认实现。
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, job *model.ImportJob) error {
	if job == nil {
		return nil
	}
	title := ""
	sourceURL := ""
	if job.Record != nil {
		title = job.Record.Title
		sourceURL = job.Record.SourceURL
	}
	n.logger.Info("import job finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.String("title", title),
		slog.String("source_url", sourceURL),
		slog.String("result", job.Result))
	return nil
}
