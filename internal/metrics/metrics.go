// Package metrics records batch and document counters for a Prometheus
// node_exporter textfile collector. pagebind runs as a short-lived CLI, so
// instead of serving /metrics it rewrites a .prom file at the end of a run.
package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagebind"

// Recorder holds the pagebind metric set on its own registry.
type Recorder struct {
	once          sync.Once
	registry      *prom.Registry
	stageDuration *prom.HistogramVec
	batchDuration prom.Histogram
	documents     *prom.CounterVec
	pages         prom.Counter
	cacheResults  *prom.CounterVec
	lastSuccess   prom.Gauge
}

// New constructs a Recorder and registers its metrics on a fresh registry.
func New() *Recorder {
	r := &Recorder{registry: prom.NewRegistry()}
	r.once.Do(func() {
		r.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prom.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"})
		r.batchDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Total batch run duration",
			Buckets:   prom.ExponentialBuckets(30, 2, 10),
		})
		r.documents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents by variant and outcome",
		}, []string{"variant", "outcome"})
		r.pages = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pages_assembled_total",
			Help:      "Single-page PDFs produced",
		})
		r.cacheResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "batch_cache_results_total",
			Help:      "Batch cache lookups by result",
		}, []string{"result"})
		r.lastSuccess = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last batch that finished without failures",
		})
		r.registry.MustRegister(r.stageDuration, r.batchDuration, r.documents, r.pages, r.cacheResults, r.lastSuccess)
	})
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil || r.stageDuration == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) ObserveBatch(d time.Duration) {
	if r == nil || r.batchDuration == nil {
		return
	}
	r.batchDuration.Observe(d.Seconds())
}

func (r *Recorder) IncDocument(variant, outcome string) {
	if r == nil || r.documents == nil {
		return
	}
	r.documents.WithLabelValues(variant, outcome).Inc()
}

func (r *Recorder) AddPages(n int) {
	if r == nil || r.pages == nil || n <= 0 {
		return
	}
	r.pages.Add(float64(n))
}

// IncCache counts a cache lookup; hit is true when an existing entry was reused.
func (r *Recorder) IncCache(hit bool) {
	if r == nil || r.cacheResults == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheResults.WithLabelValues(result).Inc()
}

func (r *Recorder) MarkSuccess(at time.Time) {
	if r == nil || r.lastSuccess == nil {
		return
	}
	r.lastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile atomically writes the current metric values to path. An
// empty path disables the export.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prom.WriteToTextfile(path, r.registry)
}
