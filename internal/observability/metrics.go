// Package observability exposes process-wide Prometheus metrics for the
// memory pipeline. Registration is lazy so tests and library embedders
// that never scrape pay nothing.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	storeOpsTotal    *prometheus.CounterVec
	storeOpDuration  *prometheus.HistogramVec
	searchDuration   prometheus.Histogram
	documentsTotal   prometheus.Gauge
	chunksTotal      prometheus.Gauge
	embeddingTotal   *prometheus.CounterVec
	embeddingBatch   prometheus.Histogram
	indexOpsTotal    *prometheus.CounterVec
	orphanSweepTotal *prometheus.CounterVec
	orphansPending   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storeOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "umem_store_operations_total",
					Help: "Memory store write operations by op and status.",
				},
				[]string{"op", "status"},
			),
			storeOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "umem_store_operation_duration_seconds",
					Help:    "Memory store write duration in seconds by op.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "umem_search_duration_seconds",
					Help:    "Retrieval query duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			documentsTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "umem_documents_total",
					Help: "Documents currently stored across tenants.",
				},
			),
			chunksTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "umem_chunks_total",
					Help: "Chunks currently indexed across tenants.",
				},
			),
			embeddingTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "umem_embedding_batches_total",
					Help: "Embedding provider batches by status.",
				},
				[]string{"status"},
			),
			embeddingBatch: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "umem_embedding_batch_size",
					Help:    "Texts per embedding provider call.",
					Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
				},
			),
			indexOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "umem_index_operations_total",
					Help: "Vector index operations by op and status.",
				},
				[]string{"op", "status"},
			),
			orphanSweepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "umem_orphan_sweeps_total",
					Help: "Reconciliation sweep runs by status.",
				},
				[]string{"status"},
			),
			orphansPending: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "umem_orphan_vectors_pending",
					Help: "Orphaned vector ids awaiting reconciliation.",
				},
			),
		}

		prometheus.MustRegister(
			m.storeOpsTotal,
			m.storeOpDuration,
			m.searchDuration,
			m.documentsTotal,
			m.chunksTotal,
			m.embeddingTotal,
			m.embeddingBatch,
			m.indexOpsTotal,
			m.orphanSweepTotal,
			m.orphansPending,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordStoreOp(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.storeOpsTotal.WithLabelValues(op, statusLabel(success)).Inc()
	m.storeOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordSearch(duration time.Duration) {
	getMetrics().searchDuration.Observe(duration.Seconds())
}

func SetDocuments(total int) {
	getMetrics().documentsTotal.Set(float64(total))
}

func SetChunks(total int) {
	getMetrics().chunksTotal.Set(float64(total))
}

func RecordEmbedding(batchSize int, success bool) {
	m := getMetrics()
	m.embeddingTotal.WithLabelValues(statusLabel(success)).Inc()
	if success {
		m.embeddingBatch.Observe(float64(batchSize))
	}
}

func RecordIndexOp(op string, success bool) {
	getMetrics().indexOpsTotal.WithLabelValues(op, statusLabel(success)).Inc()
}

func RecordOrphanSweep(success bool) {
	getMetrics().orphanSweepTotal.WithLabelValues(statusLabel(success)).Inc()
}

func SetOrphansPending(total int) {
	getMetrics().orphansPending.Set(float64(total))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
