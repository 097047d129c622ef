package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// 导入任务生命周期事件流，基于 Redis Streams。
//
// 下游（看板、对账脚本）通过 consumer group 订阅；本服务只负责发布。
// 事件发布失败不影响导入主流程，由调用方决定是否忽略。

const DefaultStream = "buypilot:events:import_jobs"

// JobEvent 表示一条任务生命周期事件。
type JobEvent struct {
	JobID     string    `json:"job_id"`
	SourceURL string    `json:"source_url"`
	Stage     string    `json:"stage"` // enqueued / processing / completed / failed / skipped
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher 把任务生命周期事件写入 Redis Stream。
type Publisher struct {
	rdb        *redis.Client
	logger     *slog.Logger
	streamName string
}

// NewPublisher 创建事件发布器。streamName 为空时使用默认流名。
func NewPublisher(rdb *redis.Client, logger *slog.Logger, streamName string) *Publisher {
	if streamName == "" {
		streamName = DefaultStream
	}
	return &Publisher{
		rdb:        rdb,
		logger:     logger,
		streamName: streamName,
	}
}

// Publish 发布一条事件。使用 XADD 追加到 Stream，长度有上限。
func (p *Publisher) Publish(ctx context.Context, event JobEvent) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msgID, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.streamName,
		MaxLen: 100000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	p.logger.Debug("job event published",
		slog.String("stream", p.streamName),
		slog.String("msg_id", msgID),
		slog.String("job_id", event.JobID),
		slog.String("stage", event.Stage))
	return nil
}

// CreateConsumerGroup 为下游创建消费者组，已存在时忽略。
func (p *Publisher) CreateConsumerGroup(ctx context.Context, groupName string) error {
	err := p.rdb.XGroupCreateMkStream(ctx, p.streamName, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}
	p.logger.Info("consumer group ready",
		slog.String("stream", p.streamName),
		slog.String("group", groupName))
	return nil
}

// StreamLength 返回事件流当前长度。
func (p *Publisher) StreamLength(ctx context.Context) (int64, error) {
	length, err := p.rdb.XLen(ctx, p.streamName).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}
