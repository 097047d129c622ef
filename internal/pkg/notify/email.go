package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Noah1206/BuyPilot-sub000/internal/config"
	"github.com/Noah1206/BuyPilot-sub000/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send 发送导入结果邮件。
func (n *EmailNotifier) Send(ctx context.Context, job *model.ImportJob) error {
	if job == nil || job.Record == nil {
		return nil
	}
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(n.cfg.ToEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	subject := "[BuyPilot] ✅ 상품 등록 완료"
	if job.Status == model.JobStatusFailed {
		subject = "[BuyPilot] ❌ 상품 등록 실패"
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", n.buildHTMLBody(job))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email notification sent",
		slog.String("to", n.cfg.ToEmail),
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(job *model.ImportJob) string {
	record := job.Record

	statusLine := "등록이 완료되었습니다."
	statusColor := "#22c55e"
	if job.Status == model.JobStatusFailed {
		statusLine = "등록에 실패했습니다: " + job.Result
		statusColor = "#ef4444"
	}

	image := ""
	if len(record.Images) > 0 {
		image = record.Images[0]
	}

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .hero img { width: 100%%; max-width: 520px; display: block; margin: 0 auto 16px; border-radius: 8px; }
  .status { font-size: 16px; font-weight: bold; color: %s; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 16px; }
  .cta { display: inline-block; padding: 12px 20px; background: #3b82f6; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[BuyPilot] 상품 소싱 알림</div>
    <div class="content">
      <div class="hero"><img src="%s" alt="Product Image" /></div>
      <div class="status">%s</div>
      <div class="title">%s</div>
      <div style="text-align:center; margin-bottom: 12px;">
        <a class="cta" href="%s" target="_blank">원본 상품 보기</a>
      </div>
      <div class="footer">가격: ¥ %.2f · 옵션 %d개 · 변형 %d개</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template, statusColor, image, statusLine, record.Title, record.SourceURL,
		record.Price, len(record.Options), len(record.Variants))
}
