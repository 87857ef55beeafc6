// Package metrics 提供抓取与缓存写入相关的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "asset_cache"

// 抓取结果标签。
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultBypass  = "bypass"
	ResultFailure = "failure"
)

// 缓存写入结果标签。
const (
	CommitCommitted   = "committed"
	CommitAbandoned   = "abandoned"
	CommitUnavailable = "unavailable"
)

// Recorder 汇总一个 Fetcher 实例的指标。nil Recorder 的所有方法均为空操作，
// 调用方无需判空。
type Recorder struct {
	fetchTotal  *prometheus.CounterVec
	commitTotal *prometheus.CounterVec
	bytesServed *prometheus.CounterVec
}

// NewRecorder 创建指标并注册到 reg；reg 为空时只创建不注册，便于测试。
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fetch",
				Name:      "total",
				Help:      "Total number of fetch calls by result",
			},
			[]string{"result"}, // hit, miss, bypass, failure
		),
		commitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "writes_total",
				Help:      "Total number of cache writes by outcome",
			},
			[]string{"outcome"}, // committed, abandoned, unavailable
		),
		bytesServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fetch",
				Name:      "bytes_total",
				Help:      "Total number of payload bytes handed to callers by source",
			},
			[]string{"source"}, // cache, network
		),
	}

	if reg == nil {
		return r, nil
	}
	for _, c := range []prometheus.Collector{r.fetchTotal, r.commitTotal, r.bytesServed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveFetch 记录一次抓取结果。
func (r *Recorder) ObserveFetch(result string) {
	if r == nil {
		return
	}
	r.fetchTotal.WithLabelValues(result).Inc()
}

// ObserveCommit 记录一次缓存写入的最终状态。
func (r *Recorder) ObserveCommit(outcome string) {
	if r == nil {
		return
	}
	r.commitTotal.WithLabelValues(outcome).Inc()
}

// ObserveBytes 累加交付给调用方的字节数。
func (r *Recorder) ObserveBytes(source string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesServed.WithLabelValues(source).Add(float64(n))
}

// FetchCount 返回指定结果的累计次数，供诊断与测试使用。
func (r *Recorder) FetchCount(result string) float64 {
	if r == nil {
		return 0
	}
	return counterValue(r.fetchTotal.WithLabelValues(result))
}

// CommitCount 返回指定写入结果的累计次数。
func (r *Recorder) CommitCount(outcome string) float64 {
	if r == nil {
		return 0
	}
	return counterValue(r.commitTotal.WithLabelValues(outcome))
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
