package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/Noah1206/BuyPilot-sub000/internal/pkg/metrics"
)

// 后端导入接口客户端。
//
// 提取好的商品记录经这里提交到后端；"already_exists" 不算失败，
// 作为跳过处理，让队列继续前进。

const importPath = "/api/v1/products/import-from-extension"

// 错误响应体最多保留这么多字节，避免把整页 HTML 塞进日志。
const maxErrorBodyBytes = 500

// ErrAlreadyExists 后端已存在同源商品。
var ErrAlreadyExists = errors.New("product already exists in backend")

// Result 提交成功后的回执。
type Result struct {
	ProductID string `json:"product_id"`
}

// Client 后端提交客户端。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 创建提交客户端。
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type importResponse struct {
	Success       bool `json:"success"`
	AlreadyExists bool `json:"already_exists"`
	Data          struct {
		ProductID string `json:"product_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit 把商品记录提交到后端导入接口。
//
// backendURL 是后端服务根地址；同源商品已存在时返回 ErrAlreadyExists。
func (c *Client) Submit(ctx context.Context, backendURL string, record *model.ProductRecord) (*Result, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}
	if backendURL == "" {
		return nil, errors.New("backend url is not configured")
	}

	start := time.Now()
	defer func() {
		metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	endpoint := strings.TrimRight(backendURL, "/") + importPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build import request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("import request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read import response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 错误体可能不是 JSON（网关 HTML 之类），截断后原样带出
		var parsed importResponse
		if jsonErr := json.Unmarshal(data, &parsed); jsonErr == nil && parsed.Error.Code == "already_exists" {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(data, maxErrorBodyBytes))
	}

	var parsed importResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal import response: %w", err)
	}
	if !parsed.Success {
		if parsed.Error.Code == "already_exists" {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("backend rejected import: %s (%s)", parsed.Error.Message, parsed.Error.Code)
	}
	// 有的后端版本对重复来源返回 200 成功加标记，而不是错误码
	if parsed.AlreadyExists {
		return nil, ErrAlreadyExists
	}

	c.logger.Info("product submitted",
		slog.String("source_id", record.SourceID),
		slog.String("product_id", parsed.Data.ProductID))
	return &Result{ProductID: parsed.Data.ProductID}, nil
}

func truncate(data []byte, limit int) string {
	s := strings.TrimSpace(string(data))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
