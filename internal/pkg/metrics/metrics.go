package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 提取与导入链路的核心指标。

var (
	// ExtractTotal 按结果统计提取次数。result: ok / no_title / no_price / no_source_id / error
	ExtractTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buypilot",
		Subsystem: "extract",
		Name:      "total",
		Help:      "Total number of extraction attempts by result.",
	}, []string{"result"})

	// ExtractDuration 单次提取耗时。
	ExtractDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "buypilot",
		Subsystem: "extract",
		Name:      "duration_seconds",
		Help:      "Time spent extracting a product record from a snapshot.",
		Buckets:   prometheus.DefBuckets,
	})

	// ImportJobsTotal 按终态统计导入任务。status: completed / failed / skipped
	ImportJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buypilot",
		Subsystem: "import",
		Name:      "jobs_total",
		Help:      "Total number of import jobs by terminal status.",
	}, []string{"status"})

	// ImportQueueDepth 内存队列当前深度。
	ImportQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buypilot",
		Subsystem: "import",
		Name:      "queue_depth",
		Help:      "Current number of jobs waiting in the import queue.",
	})

	// SubmitDuration 向后端提交一次导入的耗时。
	SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "buypilot",
		Subsystem: "import",
		Name:      "submit_duration_seconds",
		Help:      "Time spent submitting a product record to the backend.",
		Buckets:   prometheus.DefBuckets,
	})

	// RateLimitWaitDuration 提交节流等待耗时。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "buypilot",
		Subsystem: "ratelimit",
		Name:      "wait_duration_seconds",
		Help:      "Time spent waiting for a rate limit token.",
		Buckets:   prometheus.DefBuckets,
	})

	// RateLimitTimeoutTotal 节流等待被取消的次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buypilot",
		Subsystem: "ratelimit",
		Name:      "timeout_total",
		Help:      "Total number of rate limit waits cancelled by context.",
	})

	// TranslateTotal 按结果统计标题翻译。result: ok / fallback
	TranslateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buypilot",
		Subsystem: "translate",
		Name:      "total",
		Help:      "Total number of title translations by result.",
	}, []string{"result"})

	// SnapshotFetchTotal 按结果统计页面快照抓取。result: ok / error
	SnapshotFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buypilot",
		Subsystem: "snapshot",
		Name:      "fetch_total",
		Help:      "Total number of page snapshot fetches by result.",
	}, []string{"result"})
)
