package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BulkMetrics holds all Prometheus metrics for the bulk import stages.
type BulkMetrics struct {
	// Row metrics
	RowsProcessedTotal *prometheus.CounterVec
	RowSeconds         *prometheus.HistogramVec
	RowErrorsTotal     *prometheus.CounterVec

	// Batch metrics
	BatchesTotal  *prometheus.CounterVec
	BatchRows     *prometheus.HistogramVec
	BatchProgress *prometheus.GaugeVec

	// AI metrics
	AIOperationsTotal *prometheus.CounterVec
	AILatencySeconds  *prometheus.HistogramVec

	// Emission metrics
	DocumentsEmittedTotal *prometheus.CounterVec
	DocumentBytes         prometheus.Histogram
}

// NewBulkMetrics creates a new set of bulk import metrics.
func NewBulkMetrics(reg prometheus.Registerer) *BulkMetrics {
	factory := promauto.With(reg)

	return &BulkMetrics{
		RowsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedoc_rows_processed_total",
				Help: "Total rows finished per stage and resulting status",
			},
			[]string{"stage", "status"},
		),
		RowSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradedoc_row_seconds",
				Help:    "Per-row processing latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		RowErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedoc_row_errors_total",
				Help: "Row-level failures by classified error code",
			},
			[]string{"stage", "error_code"},
		),

		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedoc_batches_total",
				Help: "Total batch runs per stage and outcome",
			},
			[]string{"stage", "status"},
		),
		BatchRows: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradedoc_batch_rows",
				Help:    "Rows per batch run",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"stage"},
		),
		BatchProgress: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradedoc_batch_progress_percent",
				Help: "Last reported progress of the running batch",
			},
			[]string{"stage"},
		),

		AIOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedoc_ai_operations_total",
				Help: "Total model calls",
			},
			[]string{"operation", "status"},
		),
		AILatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradedoc_ai_latency_seconds",
				Help:    "Model call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"operation"},
		),

		DocumentsEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedoc_documents_emitted_total",
				Help: "Invoice documents rendered and stored",
			},
			[]string{"status"},
		),
		DocumentBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradedoc_document_bytes",
				Help:    "Size of rendered invoice documents",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 8),
			},
		),
	}
}

// RecordRow records a finished row and its latency.
func (m *BulkMetrics) RecordRow(stage, status string, seconds float64) {
	m.RowsProcessedTotal.WithLabelValues(stage, status).Inc()
	m.RowSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordRowError records a classified row failure.
func (m *BulkMetrics) RecordRowError(stage, code string) {
	m.RowErrorsTotal.WithLabelValues(stage, code).Inc()
}

// RecordBatch records a finished batch run.
func (m *BulkMetrics) RecordBatch(stage, status string, rows int) {
	m.BatchesTotal.WithLabelValues(stage, status).Inc()
	m.BatchRows.WithLabelValues(stage).Observe(float64(rows))
}

// SetProgress sets the progress gauge for a stage.
func (m *BulkMetrics) SetProgress(stage string, percent int) {
	m.BatchProgress.WithLabelValues(stage).Set(float64(percent))
}

// RecordAIOperation records a model call.
func (m *BulkMetrics) RecordAIOperation(operation, status string, seconds float64) {
	m.AIOperationsTotal.WithLabelValues(operation, status).Inc()
	m.AILatencySeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordDocument records a rendered document.
func (m *BulkMetrics) RecordDocument(status string, size int) {
	m.DocumentsEmittedTotal.WithLabelValues(status).Inc()
	if size > 0 {
		m.DocumentBytes.Observe(float64(size))
	}
}
