// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3keeper_gateway_operations_total",
			Help: "Total number of gateway operations by action and status",
		},
		[]string{"action", "status"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3keeper_gateway_operation_duration_seconds",
			Help:    "Duration of gateway operations in seconds, including credential resolution",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action"},
	)

	activeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "s3keeper_backend_clients_active",
		Help: "Number of backend clients currently acquired and not yet released",
	})

	auditWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3keeper_audit_written_total",
			Help: "Audit entries persisted by the writer, by result",
		},
		[]string{"result"},
	)

	// AuditDropped counts entries dropped because the audit queue stayed full.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "s3keeper_audit_dropped_total",
		Help: "Total number of audit entries dropped due to queue overflow",
	})

	auditPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "s3keeper_audit_purged_total",
		Help: "Audit entries removed by retention purges",
	})

	analyticsCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3keeper_analytics_cache_requests_total",
			Help: "Analytics requests by cache result (hit|miss)",
		},
		[]string{"result"},
	)

	analyticsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "s3keeper_analytics_objects_scanned_total",
		Help: "Objects visited by analytics scans",
	})
)

// ObserveOperation records one gateway operation.
func ObserveOperation(action, status string, started time.Time) {
	gatewayOps.WithLabelValues(action, status).Inc()
	gatewayDuration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

func ClientAcquired() { activeClients.Inc() }
func ClientReleased() { activeClients.Dec() }

func AuditWritten(ok bool) {
	if ok {
		auditWritten.WithLabelValues("ok").Inc()
		return
	}
	auditWritten.WithLabelValues("error").Inc()
}

func AuditPurged(n int64) { auditPurged.Add(float64(n)) }

func AnalyticsCache(hit bool) {
	if hit {
		analyticsCache.WithLabelValues("hit").Inc()
		return
	}
	analyticsCache.WithLabelValues("miss").Inc()
}

func ObjectsScanned(n int) { analyticsScanned.Add(float64(n)) }
