package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/metrics"
)

// 标题翻译（中文 -> 韩文）。翻译是锦上添花：服务不可用、超时、
// 返回异常时一律回退原文，绝不阻塞导入链路。

// Translator 定义翻译接口。
type Translator interface {
	// Translate 把 text 从 from 语言翻译到 to 语言。
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// HTTPTranslator 调用外部翻译服务的实现。
type HTTPTranslator struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPTranslator 创建 HTTP 翻译器。
func NewHTTPTranslator(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPTranslator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTranslator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type translateRequest struct {
	Text string `json:"text"`
	From string `json:"from"`
	To   string `json:"to"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// Translate 调用翻译服务。
func (t *HTTPTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if t.endpoint == "" {
		return "", fmt.Errorf("translate endpoint not configured")
	}
	if text == "" {
		return "", nil
	}

	body, err := json.Marshal(translateRequest{Text: text, From: from, To: to})
	if err != nil {
		return "", fmt.Errorf("marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("translate service returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read translate response: %w", err)
	}
	var parsed translateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal translate response: %w", err)
	}
	if parsed.TranslatedText == "" {
		return "", fmt.Errorf("translate service returned empty text")
	}
	return parsed.TranslatedText, nil
}

// OrOriginal 翻译失败时回退原文。
func OrOriginal(ctx context.Context, t Translator, logger *slog.Logger, text, from, to string) string {
	if t == nil || text == "" {
		return text
	}
	translated, err := t.Translate(ctx, text, from, to)
	if err != nil {
		logger.Warn("translate failed, using original text", slog.String("error", err.Error()))
		metrics.TranslateTotal.WithLabelValues("fallback").Inc()
		return text
	}
	metrics.TranslateTotal.WithLabelValues("ok").Inc()
	return translated
}
