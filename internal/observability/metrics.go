package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stridesync",
		Subsystem: "sync",
		Name:      "attempts_total",
		Help:      "Workout sync attempts by outcome.",
	}, []string{"result"})
	quotaRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stridesync",
		Subsystem: "fitbit",
		Name:      "quota_rejected_total",
		Help:      "Requests rejected locally by the hourly quota window.",
	})
	tokenRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stridesync",
		Subsystem: "fitbit",
		Name:      "token_refreshes_total",
		Help:      "Successful OAuth token refreshes.",
	})
	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stridesync",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful workout sync.",
	})
)

func init() {
	prometheus.MustRegister(syncAttempts, quotaRejected, tokenRefreshes, lastSyncGauge)
}

// RecordSyncAttempt counts one completed sync attempt. result is "success",
// "validation", "auth", "quota", "invalid", or "transport".
func RecordSyncAttempt(result string) {
	syncAttempts.WithLabelValues(result).Inc()
}

// RecordQuotaRejected counts a request turned away by the local rate window.
func RecordQuotaRejected() {
	quotaRejected.Inc()
}

// RecordTokenRefresh counts a successful token refresh.
func RecordTokenRefresh() {
	tokenRefreshes.Inc()
}

// RecordSyncSuccess updates the last-success watermark gauge.
func RecordSyncSuccess(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}
