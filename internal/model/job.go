package model

import "time"

// JobStatus 导入任务的状态。
//
// 生命周期: Pending -> Processing -> Completed / Failed。
// 终态不可再变更，失败的任务由用户重新发起导入。
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal 返回状态是否为终态。
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ImportJob 一次向后端提交商品记录的排队请求。
//
// Record 在任务创建时完整持久化，进程重启后可直接恢复提交，无需重新提取。
type ImportJob struct {
	ID         string         `json:"id"`
	Record     *ProductRecord `json:"record"`
	Status     JobStatus      `json:"status"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Result     string         `json:"result,omitempty"`
}
