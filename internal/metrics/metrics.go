// Package metrics holds the Prometheus collectors for cache and fetch activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 抓取结果标签值。
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultTimeout = "timeout"
)

// Metrics 汇总所有指标。
type Metrics struct {
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CacheEvictions    prometheus.Counter
	CacheEntries      prometheus.Gauge
	Fetches           *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	FetchesInFlight   prometheus.Gauge
	CoalescedRequests prometheus.Counter
	Deliveries        *prometheus.CounterVec
}

// NewMetrics 创建并向 reg 注册全部指标。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jm2pdf_cache_hits_total",
			Help: "Requests served from the cache without spawning the renderer",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jm2pdf_cache_misses_total",
			Help: "Requests that required a renderer run",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jm2pdf_cache_evictions_total",
			Help: "Cache entries evicted to respect MaxCache",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jm2pdf_cache_entries",
			Help: "Entries currently held in the cache index",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jm2pdf_fetches_total",
			Help: "Renderer runs by result",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jm2pdf_fetch_duration_seconds",
			Help:    "Wall time of renderer runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		FetchesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jm2pdf_fetches_in_flight",
			Help: "Renderer processes currently running",
		}),
		CoalescedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jm2pdf_coalesced_requests_total",
			Help: "Requests that joined an in-flight fetch for the same id",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jm2pdf_deliveries_total",
			Help: "Documents delivered by format",
		}, []string{"format"}),
	}

	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.CacheEntries,
		m.Fetches,
		m.FetchDuration,
		m.FetchesInFlight,
		m.CoalescedRequests,
		m.Deliveries,
	)
	return m
}

// NewRegistry 返回带进程与 Go 运行时指标的独立注册表。
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ObserveFetch 记录一次渲染调用的结果与耗时。
func (m *Metrics) ObserveFetch(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
}
