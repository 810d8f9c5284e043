package source

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kapply_source_fetch_total",
		Help: "Total number of manifest source fetches",
	}, []string{"type", "status"})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kapply_source_fetch_duration_seconds",
		Help:    "Duration of manifest source fetches",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
	}, []string{"type", "status"})

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kapply_source_cache_hits_total",
		Help: "Total number of git content cache hits",
	})

	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kapply_source_cache_misses_total",
		Help: "Total number of git content cache misses",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kapply_source_cache_evictions_total",
		Help: "Total number of git content cache evictions",
	})
)

func init() {
	metrics.Registry.MustRegister(
		fetchTotal,
		fetchDuration,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
	)
}

func recordFetch(fetcherType string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	fetchTotal.WithLabelValues(fetcherType, status).Inc()
	fetchDuration.WithLabelValues(fetcherType, status).Observe(d.Seconds())
}
