// Package metrics holds the Prometheus collectors of the application.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SidecarRefreshes counts recomputations of local novel statistics, by
	// reason ("mutation" or "migration").
	SidecarRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "novelist",
		Name:      "sidecar_refreshes_total",
		Help:      "Number of local novel metadata recomputations.",
	}, []string{"reason"})

	// RemoteRequests counts remote store operations by operation and outcome.
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "novelist",
		Name:      "remote_requests_total",
		Help:      "Number of remote store operations.",
	}, []string{"op", "result"})

	// RemoteDuration observes the latency of remote store operations.
	RemoteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "novelist",
		Name:      "remote_request_duration_seconds",
		Help:      "Latency of remote store operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// BackupDuration observes backup creation and restore time.
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "novelist",
		Name:      "backup_duration_seconds",
		Help:      "Duration of backup operations.",
		Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
	}, []string{"op", "result"})

	// BackupBytes is the size of the last created backup.
	BackupBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "novelist",
		Name:      "backup_last_size_bytes",
		Help:      "Size of the most recent backup archive.",
	})
)

// Result returns the outcome label for err.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
