package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

// 持久化槽位与待导入队列。
//
// 进程可能在任何时刻被杀，导入队列必须先落盘再进内存：
// 这里是唯一的真相来源，重启后队列从这里恢复。

const (
	KeyCurrentProduct   = "buypilot:slot:current_product"
	KeyLastExtractedURL = "buypilot:slot:last_extracted_url"
	KeyBackendURL       = "buypilot:slot:backend_url"
	KeyPendingImports   = "buypilot:queue:pending_imports"
	KeyPendingSourceSet = "buypilot:queue:pending_sources" // 按 source_url 去重
)

var (
	ErrSlotEmpty = errors.New("slot is empty")
	ErrJobExists = errors.New("job for source url already pending") // 同一来源已在队列中
)

// SlotStore wraps Redis operations for durable slots and the pending import list.
type SlotStore struct {
	rdb *redis.Client
}

// NewSlotStore creates a slot store with address/password.
func NewSlotStore(addr, password string) *SlotStore {
	return &SlotStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
		}),
	}
}

// NewSlotStoreWithRedis creates a slot store from an existing redis.Client.
func NewSlotStoreWithRedis(rdb *redis.Client) (*SlotStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &SlotStore{rdb: rdb}, nil
}

// appendJobScript 原子性地执行 SADD + RPUSH，避免中间状态不一致。
// KEYS[1] = pending source set, KEYS[2] = pending import list
// ARGV[1] = source_url, ARGV[2] = job JSON
// 返回: 1 = 成功入队, 0 = 来源已在队列中
var appendJobScript = redis.NewScript(`
	local added = redis.call('SADD', KEYS[1], ARGV[1])
	if added == 0 then
		return 0
	end
	redis.call('RPUSH', KEYS[2], ARGV[2])
	return 1
`)

// AppendPendingImport 把导入任务追加到持久化队列尾部。
// 使用 Lua 脚本原子执行 SADD + RPUSH；同一 source_url 已在队列中
// 时返回 ErrJobExists。调用方必须在内存入队之前先调用这里。
func (s *SlotStore) AppendPendingImport(ctx context.Context, job *model.ImportJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if s == nil || s.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if job.Record == nil || job.Record.SourceURL == "" {
		return errors.New("job has no source url")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	result, err := appendJobScript.Run(ctx, s.rdb,
		[]string{KeyPendingSourceSet, KeyPendingImports},
		job.Record.SourceURL, string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("append job script: %w", err)
	}
	if result == 0 {
		return ErrJobExists
	}
	return nil
}

// removeJobScript 原子性地从队列中删除匹配 job id 的条目并清理去重集合。
// KEYS[1] = pending import list, KEYS[2] = pending source set
// ARGV[1] = job_id, ARGV[2] = source_url
// 返回: 删除的条目数量
var removeJobScript = redis.NewScript(`
	local jobs = redis.call('LRANGE', KEYS[1], 0, -1)
	local removed = 0
	for _, job in ipairs(jobs) do
		if string.find(job, '"id":"' .. ARGV[1] .. '"', 1, true) then
			redis.call('LREM', KEYS[1], 1, job)
			removed = removed + 1
			break
		end
	end
	redis.call('SREM', KEYS[2], ARGV[2])
	return removed
`)

// RemovePendingImport 任务到达终态后从持久化队列中移除。
// 按 job id 匹配而非完整 JSON，避免序列化差异导致匹配失败。
func (s *SlotStore) RemovePendingImport(ctx context.Context, job *model.ImportJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if s == nil || s.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	sourceURL := ""
	if job.Record != nil {
		sourceURL = job.Record.SourceURL
	}
	_, err := removeJobScript.Run(ctx, s.rdb,
		[]string{KeyPendingImports, KeyPendingSourceSet},
		job.ID, sourceURL,
	).Int()
	if err != nil {
		return fmt.Errorf("remove job script: %w", err)
	}
	return nil
}

// RemovePendingSource 只释放来源去重集合里的占位，持久化条目保留。
// 失败的任务走这里：条目留给重启恢复，同时允许同源立即重新入队。
func (s *SlotStore) RemovePendingSource(ctx context.Context, sourceURL string) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if sourceURL == "" {
		return nil
	}
	if err := s.rdb.SRem(ctx, KeyPendingSourceSet, sourceURL).Err(); err != nil {
		return fmt.Errorf("srem pending source: %w", err)
	}
	return nil
}

// LoadPendingImports 按入队顺序读出全部待导入任务（用于重启恢复）。
// 单条反序列化失败只跳过，不让整次恢复失败。
func (s *SlotStore) LoadPendingImports(ctx context.Context) ([]*model.ImportJob, error) {
	if s == nil || s.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	raws, err := s.rdb.LRange(ctx, KeyPendingImports, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange pending imports: %w", err)
	}
	jobs := make([]*model.ImportJob, 0, len(raws))
	for _, raw := range raws {
		var job model.ImportJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// PendingImportCount 返回持久化队列当前长度。
func (s *SlotStore) PendingImportCount(ctx context.Context) (int64, error) {
	if s == nil || s.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}
	n, err := s.rdb.LLen(ctx, KeyPendingImports).Result()
	if err != nil {
		return 0, fmt.Errorf("llen pending imports: %w", err)
	}
	return n, nil
}

// SaveCurrentProduct 保存最近一次提取的商品记录。
func (s *SlotStore) SaveCurrentProduct(ctx context.Context, record *model.ProductRecord) error {
	if record == nil {
		return errors.New("record is nil")
	}
	if s == nil || s.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.rdb.Set(ctx, KeyCurrentProduct, string(data), 0).Err(); err != nil {
		return fmt.Errorf("set current product: %w", err)
	}
	return nil
}

// LoadCurrentProduct 读取最近一次提取的商品记录。
func (s *SlotStore) LoadCurrentProduct(ctx context.Context) (*model.ProductRecord, error) {
	if s == nil || s.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	raw, err := s.rdb.Get(ctx, KeyCurrentProduct).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("get current product: %w", err)
	}
	var record model.ProductRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &record, nil
}

// SaveLastExtractedURL 记录最近一次成功提取的页面地址。
func (s *SlotStore) SaveLastExtractedURL(ctx context.Context, url string) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if err := s.rdb.Set(ctx, KeyLastExtractedURL, url, 0).Err(); err != nil {
		return fmt.Errorf("set last extracted url: %w", err)
	}
	return nil
}

// LoadLastExtractedURL 读取最近一次成功提取的页面地址。
func (s *SlotStore) LoadLastExtractedURL(ctx context.Context) (string, error) {
	if s == nil || s.rdb == nil {
		return "", errors.New("redis client is not initialized")
	}
	raw, err := s.rdb.Get(ctx, KeyLastExtractedURL).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSlotEmpty
	}
	if err != nil {
		return "", fmt.Errorf("get last extracted url: %w", err)
	}
	return raw, nil
}

// SaveBackendURL 保存后端服务地址。
func (s *SlotStore) SaveBackendURL(ctx context.Context, url string) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if url == "" {
		return errors.New("backend url is empty")
	}
	if err := s.rdb.Set(ctx, KeyBackendURL, url, 0).Err(); err != nil {
		return fmt.Errorf("set backend url: %w", err)
	}
	return nil
}

// LoadBackendURL 读取后端服务地址。未配置时返回 ErrSlotEmpty。
func (s *SlotStore) LoadBackendURL(ctx context.Context) (string, error) {
	if s == nil || s.rdb == nil {
		return "", errors.New("redis client is not initialized")
	}
	raw, err := s.rdb.Get(ctx, KeyBackendURL).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSlotEmpty
	}
	if err != nil {
		return "", fmt.Errorf("get backend url: %w", err)
	}
	return raw, nil
}

// Ping 健康检查。
func (s *SlotStore) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (s *SlotStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
