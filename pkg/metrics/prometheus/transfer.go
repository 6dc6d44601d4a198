package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/polystore/polystore/pkg/metrics"
)

// transferMetrics is the Prometheus implementation of metrics.TransferMetrics.
type transferMetrics struct {
	transfersTotal   *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	skipsTotal       *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
}

// NewTransferMetrics creates a Prometheus-backed TransferMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewTransferMetrics() metrics.TransferMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopTransferMetrics()
	}

	reg := metrics.GetRegistry()

	return &transferMetrics{
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "polystore_transfers_total",
				Help: "Total number of completed transfers by backend type and direction",
			},
			[]string{"backend", "direction"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polystore_transfer_duration_seconds",
				Help:    "Transfer duration by backend type and direction",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"backend", "direction"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "polystore_transfer_bytes_total",
				Help: "Total bytes transferred by backend type and direction",
			},
			[]string{"backend", "direction"},
		),
		skipsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "polystore_transfer_skips_total",
				Help: "Transfers avoided by the skip-if-unchanged policy",
			},
			[]string{"backend"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "polystore_transfer_errors_total",
				Help: "Failed transfers by backend type and direction",
			},
			[]string{"backend", "direction"},
		),
	}
}

func (m *transferMetrics) RecordTransfer(backendType, direction string, bytes int64, duration time.Duration) {
	m.transfersTotal.WithLabelValues(backendType, direction).Inc()
	m.transferDuration.WithLabelValues(backendType, direction).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytesTransferred.WithLabelValues(backendType, direction).Add(float64(bytes))
	}
}

func (m *transferMetrics) RecordSkip(backendType string) {
	m.skipsTotal.WithLabelValues(backendType).Inc()
}

func (m *transferMetrics) RecordError(backendType, direction string) {
	m.errorsTotal.WithLabelValues(backendType, direction).Inc()
}
