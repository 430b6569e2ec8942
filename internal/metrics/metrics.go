package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 分区结果标签。
const (
	OutcomeCommitted         = "committed"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeConflict          = "conflict"
	OutcomeSkipped           = "skipped"
	OutcomeInvalid           = "invalid"
	OutcomeError             = "error"
)

// 镜像投递结果标签。
const (
	MirrorSent    = "sent"
	MirrorFailed  = "failed"
	MirrorDropped = "dropped"
)

// Recorder 汇总核心流程的 Prometheus 指标；nil 接收者安全。
type Recorder struct {
	partitions  *prometheus.CounterVec
	retries     prometheus.Counter
	mirror      *prometheus.CounterVec
	quarantined *prometheus.CounterVec
	feedDropped prometheus.Counter
}

// New 在给定 Registerer 上注册指标；reg 为 nil 时返回空记录器。
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return &Recorder{}
	}
	partitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_partitions_total",
		Help: "Checkout partitions by outcome.",
	}, []string{"outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_conflict_retries_total",
		Help: "Conditional writes retried after a version conflict.",
	})
	mirror := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_events_total",
		Help: "Mirror propagation events by type and result.",
	}, []string{"type", "result"})
	quarantined := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_records_quarantined_total",
		Help: "Mirror read records rejected by boundary validation.",
	}, []string{"action"})
	feedDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_changes_dropped_total",
		Help: "Live feed changes dropped because a subscriber buffer was full.",
	})
	reg.MustRegister(partitions, retries, mirror, quarantined, feedDropped)
	return &Recorder{
		partitions:  partitions,
		retries:     retries,
		mirror:      mirror,
		quarantined: quarantined,
		feedDropped: feedDropped,
	}
}

func (r *Recorder) Partition(outcome string) {
	if r == nil || r.partitions == nil {
		return
	}
	r.partitions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Retry() {
	if r == nil || r.retries == nil {
		return
	}
	r.retries.Inc()
}

func (r *Recorder) Mirror(eventType, result string) {
	if r == nil || r.mirror == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	r.mirror.WithLabelValues(eventType, result).Inc()
}

// MirrorCounter 返回单个镜像计数序列，便于测试读取。
func (r *Recorder) MirrorCounter(eventType, result string) prometheus.Counter {
	return r.mirror.WithLabelValues(eventType, result)
}

func (r *Recorder) Quarantined(action string, n int) {
	if r == nil || r.quarantined == nil || n <= 0 {
		return
	}
	r.quarantined.WithLabelValues(action).Add(float64(n))
}

func (r *Recorder) FeedDropped() {
	if r == nil || r.feedDropped == nil {
		return
	}
	r.feedDropped.Inc()
}
